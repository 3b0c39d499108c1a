package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/a3tai/taxdoc-client/internal/config"
	"github.com/a3tai/taxdoc-client/internal/pdf/pdftest"
	"github.com/a3tai/taxdoc-client/internal/taxapi"
)

type fakeAPI struct {
	mu           sync.Mutex
	forms        []string
	resp         *taxapi.ProcessingResponse
	processErr   error
	processDocs  []taxapi.Document
	processCalls int
	pdf          []byte
	genErr       error
	genCalls     int
	health       *taxapi.HealthStatus
	healthErr    error
}

func (f *fakeAPI) AvailableForms(ctx context.Context) ([]string, error) {
	return f.forms, nil
}

func (f *fakeAPI) ProcessDocuments(ctx context.Context, docs []taxapi.Document) (*taxapi.ProcessingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processCalls++
	f.processDocs = docs
	return f.resp, f.processErr
}

func (f *fakeAPI) GenerateFilledPDF(ctx context.Context, data taxapi.CalculatedTaxData) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genCalls++
	return f.pdf, f.genErr
}

func (f *fakeAPI) Health(ctx context.Context) (*taxapi.HealthStatus, error) {
	return f.health, f.healthErr
}

func float(v float64) *float64 { return &v }

func successResponse() *taxapi.ProcessingResponse {
	return &taxapi.ProcessingResponse{
		Results: []taxapi.ProcessingResult{
			{
				Filename:          "w2.pdf",
				Status:            taxapi.StatusSuccess,
				IdentifiedForm:    "w2",
				SimilarityScore:   float(0.91),
				ExtractedFields:   2,
				AverageConfidence: float(0.9),
				FormData:          map[string]string{"wages": "50000", "employer": ""},
				ConfidenceData:    map[string]float64{"wages": 0.95},
			},
			{
				Filename: "scan.pdf",
				Status:   taxapi.StatusWarning,
				Message:  "low quality scan",
			},
		},
		ProcessedForms:    []string{"w2"},
		CalculatedTaxData: taxapi.CalculatedTaxData(`{"total_income": 50000}`),
	}
}

func newTestServer(t *testing.T, api *fakeAPI) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeStdio
	cfg.PDFDirectory = dir
	cfg.MaxFileSize = 1024 * 1024

	server, err := NewServer(cfg, api, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(server.Close)
	return server, dir
}

func writePDF(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), pdftest.Pages(2), 0o644); err != nil {
		t.Fatalf("failed to create test file %s: %v", name, err)
	}
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestNewServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PDFDirectory = t.TempDir()

	if _, err := NewServer(cfg, nil, nil); err == nil {
		t.Error("expected error for nil api")
	}

	cfg.PDFDirectory = filepath.Join(t.TempDir(), "missing")
	if _, err := NewServer(cfg, &fakeAPI{}, nil); err == nil {
		t.Error("expected error for missing directory")
	}

	server, _ := newTestServer(t, &fakeAPI{})
	if server.mcpServer == nil {
		t.Error("mcpServer should be initialized")
	}
	if server.workspace == nil {
		t.Error("workspace should be initialized")
	}
}

func TestServer_HandleAvailableForms(t *testing.T) {
	server, _ := newTestServer(t, &fakeAPI{forms: []string{"w2", "1099_int"}})

	result, err := server.handleAvailableForms(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	text := extractTextFromResult(result)
	for _, want := range []string{"Supported Forms: 2", "W2 (w2)", "1099 INT (1099_int)"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %s", want, text)
		}
	}
}

func TestServer_HandleListDocuments(t *testing.T) {
	server, dir := newTestServer(t, &fakeAPI{})

	result, err := server.handleListDocuments(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if text := extractTextFromResult(result); !strings.Contains(text, "No PDF files found") {
		t.Errorf("unexpected result for empty directory: %s", text)
	}

	writePDF(t, dir, "w2.pdf")
	result, err = server.handleListDocuments(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	text := extractTextFromResult(result)
	if !strings.Contains(text, "Found 1 PDF file(s)") || !strings.Contains(text, "Pages: 2") {
		t.Errorf("unexpected listing: %s", text)
	}
}

func TestServer_HandleProcessDocuments(t *testing.T) {
	api := &fakeAPI{resp: successResponse()}
	server, dir := newTestServer(t, api)
	writePDF(t, dir, "w2.pdf")
	writePDF(t, dir, "scan.pdf")

	result, err := server.handleProcessDocuments(context.Background(), callRequest(map[string]interface{}{
		"paths": []interface{}{"w2.pdf", filepath.Join(dir, "scan.pdf")},
	}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", extractTextFromResult(result))
	}

	text := extractTextFromResult(result)
	for _, want := range []string{
		"Documents: 2, successful: 1",
		"Processed forms: W2",
		"1. w2.pdf [SUCCESS]",
		"Similarity: 91.0%",
		"wages: 50000 (95.0%)",
		"employer: N/A",
		"2. scan.pdf [WARNING]",
		"Warning: low quality scan",
		ToolGenerateFilledPDF,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, text)
		}
	}

	if len(api.processDocs) != 2 || api.processDocs[0].Filename != "w2.pdf" {
		t.Errorf("unexpected submitted documents: %+v", api.processDocs)
	}
	if server.currentResults() == nil {
		t.Error("results should be mounted after processing")
	}
}

func TestServer_HandleProcessDocuments_Rejected(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{name: "missing paths", args: map[string]interface{}{}, want: "required argument"},
		{name: "wrong type", args: map[string]interface{}{"paths": "w2.pdf"}, want: "array of strings"},
		{name: "empty list", args: map[string]interface{}{"paths": []interface{}{}}, want: "No files to process"},
		{name: "not a pdf", args: map[string]interface{}{"paths": []interface{}{"notes.txt"}}, want: "Please select only PDF files"},
		{name: "outside directory", args: map[string]interface{}{"paths": []interface{}{"../w2.pdf"}}, want: "outside the document directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{resp: successResponse()}
			server, dir := newTestServer(t, api)
			if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
				t.Fatal(err)
			}

			result, err := server.handleProcessDocuments(context.Background(), callRequest(tt.args))
			if err != nil {
				t.Fatalf("handler failed: %v", err)
			}
			if !result.IsError {
				t.Error("expected error result")
			}
			if text := extractTextFromResult(result); !strings.Contains(text, tt.want) {
				t.Errorf("expected %q, got: %s", tt.want, text)
			}
			if api.processCalls != 0 {
				t.Errorf("no request expected, got %d", api.processCalls)
			}
		})
	}
}

func TestServer_HandleProcessDocuments_APIError(t *testing.T) {
	api := &fakeAPI{processErr: errors.New("HTTP 500: boom")}
	server, dir := newTestServer(t, api)
	writePDF(t, dir, "w2.pdf")

	result, err := server.handleProcessDocuments(context.Background(), callRequest(map[string]interface{}{
		"paths": []interface{}{"w2.pdf"},
	}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	text := extractTextFromResult(result)
	if !result.IsError || !strings.Contains(text, "Error processing files") || !strings.Contains(text, "boom") {
		t.Errorf("unexpected result: %s", text)
	}
	if server.currentResults() != nil {
		t.Error("no results should be mounted after a failure")
	}
}

func TestServer_HandleGenerateFilledPDF(t *testing.T) {
	api := &fakeAPI{resp: successResponse(), pdf: pdftest.Build(2, 3)}
	server, dir := newTestServer(t, api)
	writePDF(t, dir, "w2.pdf")

	result, err := server.handleGenerateFilledPDF(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if !result.IsError || !strings.Contains(extractTextFromResult(result), ToolProcessDocuments) {
		t.Errorf("expected a hint to process first, got: %s", extractTextFromResult(result))
	}

	if _, err := server.handleProcessDocuments(context.Background(), callRequest(map[string]interface{}{
		"paths": []interface{}{"w2.pdf"},
	})); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	result, err = server.handleGenerateFilledPDF(context.Background(), callRequest(map[string]interface{}{
		"output": "out/form.pdf",
	}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	text := extractTextFromResult(result)
	if result.IsError {
		t.Fatalf("unexpected error result: %s", text)
	}
	for _, want := range []string{"Completed Form 1040", "Pages: 2", "Form fields: 3"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, text)
		}
	}

	saved, err := os.ReadFile(filepath.Join(dir, "out", "form.pdf"))
	if err != nil {
		t.Fatalf("generated file not written: %v", err)
	}
	if string(saved) != string(api.pdf) {
		t.Error("saved file differs from the generated PDF")
	}

	// Generation runs once per processing result; a second call only
	// writes another copy.
	result, err = server.handleGenerateFilledPDF(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", extractTextFromResult(result))
	}
	if !strings.Contains(extractTextFromResult(result), "completed_form_1040_") {
		t.Errorf("expected default file name, got: %s", extractTextFromResult(result))
	}
	if api.genCalls != 1 {
		t.Errorf("expected one generate request, got %d", api.genCalls)
	}

	result, err = server.handleGenerateFilledPDF(context.Background(), callRequest(map[string]interface{}{
		"output": "out/form.pdf",
	}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if !result.IsError || !strings.Contains(extractTextFromResult(result), "Error saving PDF") {
		t.Errorf("existing files must not be overwritten, got: %s", extractTextFromResult(result))
	}
}

func TestServer_HandleGenerateFilledPDF_Failures(t *testing.T) {
	tests := []struct {
		name string
		resp   func() *taxapi.ProcessingResponse
		genErr error
		want   string
	}{
		{
			name: "calculation error",
			resp: func() *taxapi.ProcessingResponse {
				r := successResponse()
				r.CalculatedTaxData = taxapi.CalculatedTaxData(`{"error": "missing W-2"}`)
				return r
			},
			want: "Tax calculation error: missing W-2",
		},
		{
			name: "no calculated data",
			resp: func() *taxapi.ProcessingResponse {
				r := successResponse()
				r.CalculatedTaxData = nil
				return r
			},
			want: "no calculated tax data",
		},
		{
			name: "generation fails",
			resp: successResponse,
			genErr: errors.New("HTTP 502"),
			want:   "Error generating PDF: HTTP 502",
		},
		{
			name: "empty pdf",
			resp: successResponse,
			want: "Error generating PDF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{resp: tt.resp(), genErr: tt.genErr}
			server, dir := newTestServer(t, api)
			writePDF(t, dir, "w2.pdf")

			if _, err := server.handleProcessDocuments(context.Background(), callRequest(map[string]interface{}{
				"paths": []interface{}{"w2.pdf"},
			})); err != nil {
				t.Fatalf("handler failed: %v", err)
			}

			result, err := server.handleGenerateFilledPDF(context.Background(), callRequest(nil))
			if err != nil {
				t.Fatalf("handler failed: %v", err)
			}
			if !result.IsError {
				t.Error("expected error result")
			}
			if text := extractTextFromResult(result); !strings.Contains(text, tt.want) {
				t.Errorf("expected %q, got: %s", tt.want, text)
			}
		})
	}
}

func TestServer_HandleAPIHealth(t *testing.T) {
	server, _ := newTestServer(t, &fakeAPI{health: &taxapi.HealthStatus{
		Status:   "healthy",
		Message:  "Tax Document Processing API is running",
		Features: []string{"classification", "extraction"},
	}})

	result, err := server.handleAPIHealth(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	text := extractTextFromResult(result)
	if !strings.Contains(text, "status: healthy") || !strings.Contains(text, "classification, extraction") {
		t.Errorf("unexpected result: %s", text)
	}

	server, _ = newTestServer(t, &fakeAPI{healthErr: errors.New("connection refused")})
	result, err = server.handleAPIHealth(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if !result.IsError || !strings.Contains(extractTextFromResult(result), "connection refused") {
		t.Errorf("unexpected result: %s", extractTextFromResult(result))
	}
}

func TestServer_ProcessingReplacesResults(t *testing.T) {
	api := &fakeAPI{resp: successResponse(), pdf: pdftest.Pages(1)}
	server, dir := newTestServer(t, api)
	writePDF(t, dir, "w2.pdf")

	process := func() {
		t.Helper()
		if _, err := server.handleProcessDocuments(context.Background(), callRequest(map[string]interface{}{
			"paths": []interface{}{"w2.pdf"},
		})); err != nil {
			t.Fatalf("handler failed: %v", err)
		}
	}

	process()
	first := server.currentResults()
	process()
	second := server.currentResults()

	if first == second {
		t.Fatal("expected a new results view")
	}
	if first.Trigger() {
		t.Error("previous results should be closed")
	}
}

// Helper function to extract text from a CallToolResult
func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
		// Handle pointer to TextContent as well
		if textContentPtr, ok := content.(*mcp.TextContent); ok {
			return textContentPtr.Text
		}
	}

	return ""
}
