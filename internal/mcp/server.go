package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/taxdoc-client/internal/blob"
	"github.com/a3tai/taxdoc-client/internal/config"
	"github.com/a3tai/taxdoc-client/internal/pdf"
	"github.com/a3tai/taxdoc-client/internal/results"
	"github.com/a3tai/taxdoc-client/internal/taxapi"
	"github.com/a3tai/taxdoc-client/internal/upload"
	"github.com/a3tai/taxdoc-client/internal/workspace"
)

// Tool names
const (
	ToolAvailableForms    = "tax_available_forms"
	ToolListDocuments     = "tax_list_documents"
	ToolProcessDocuments  = "tax_process_documents"
	ToolGenerateFilledPDF = "tax_generate_filled_pdf"
	ToolAPIHealth         = "tax_api_health"
)

// API is the processing API as used by the tools
type API interface {
	upload.API
	results.Generator
	Health(ctx context.Context) (*taxapi.HealthStatus, error)
}

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	api       API
	inspector *pdf.Inspector
	workspace *workspace.Workspace
	blobs     *blob.Registry
	logger    *slog.Logger
	mcpServer *server.MCPServer

	// results holds the screen mounted by the last successful processing
	// call; generation runs against it
	mu      sync.Mutex
	results *results.View
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, api API, logger *slog.Logger) (*Server, error) {
	if api == nil {
		return nil, errors.New("api cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	inspector := pdf.NewInspector(cfg.MaxFileSize)
	ws, err := workspace.New(cfg.PDFDirectory, inspector)
	if err != nil {
		return nil, err
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		api:       api,
		inspector: inspector,
		workspace: ws,
		blobs:     blob.NewRegistry(),
		logger:    logger.With("component", "mcp"),
		mcpServer: mcpServer,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		ToolAvailableForms,
		mcp.WithDescription("List the tax form types the processing API can identify"),
	), s.handleAvailableForms)

	s.mcpServer.AddTool(mcp.NewTool(
		ToolListDocuments,
		mcp.WithDescription("List the PDF files in the document directory with their size and page count"),
	), s.handleListDocuments)

	s.mcpServer.AddTool(mcp.NewTool(
		ToolProcessDocuments,
		mcp.WithDescription("Submit tax document PDFs for form identification, field extraction and tax calculation. "+
			"Replaces any earlier processing results."),
		mcp.WithArray("paths",
			mcp.Required(),
			mcp.Description("PDF paths, absolute or relative to the document directory"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.handleProcessDocuments)

	s.mcpServer.AddTool(mcp.NewTool(
		ToolGenerateFilledPDF,
		mcp.WithDescription("Generate the filled Form 1040 from the last processing results and save it in the document directory"),
		mcp.WithString("output",
			mcp.Description("Output file name (defaults to completed_form_1040_<timestamp>.pdf)"),
		),
	), s.handleGenerateFilledPDF)

	s.mcpServer.AddTool(mcp.NewTool(
		ToolAPIHealth,
		mcp.WithDescription("Check that the tax document processing API is reachable"),
	), s.handleAPIHealth)
}

func (s *Server) handleAvailableForms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	forms, err := s.api.AvailableForms(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error fetching available forms: %v", err)), nil
	}

	text := fmt.Sprintf("Supported Forms: %d\n", len(forms))
	for _, form := range forms {
		text += fmt.Sprintf("- %s (%s)\n", taxapi.FormLabel(form), form)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.workspace.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No PDF files found in directory: %s", s.workspace.Root())), nil
	}

	text := fmt.Sprintf("Found %d PDF file(s) in directory: %s\n\n", len(entries), s.workspace.Root())
	for i, e := range entries {
		text += fmt.Sprintf("%d. %s\n", i+1, e.Path)
		text += fmt.Sprintf("   Size: %d bytes\n", e.Size)
		if e.Pages > 0 {
			text += fmt.Sprintf("   Pages: %d\n", e.Pages)
		}
		text += fmt.Sprintf("   Modified: %s\n", e.ModTime.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleProcessDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, err := stringSlice(request.GetArguments(), "paths")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(paths) == 0 {
		return mcp.NewToolResultError("No files to process"), nil
	}

	candidates := make([]upload.Candidate, 0, len(paths))
	for _, p := range paths {
		c, err := s.workspace.ReadDocument(p)
		if err != nil {
			if errors.Is(err, pdf.ErrNotPDF) {
				return mcp.NewToolResultError(fmt.Sprintf("Please select only PDF files: %v", err)), nil
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
		candidates = append(candidates, c)
	}

	view := upload.NewView(s.api, s.inspector, s.logger)
	if err := view.SelectFiles(candidates); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := view.SubmitBatch(ctx)
	if err != nil {
		if errors.Is(err, upload.ErrNoFiles) {
			return mcp.NewToolResultError("No files to process"), nil
		}
		return mcp.NewToolResultError(view.Snapshot().Error), nil
	}

	v := results.New(resp, results.Deps{
		Generator: s.api,
		Blobs:     s.blobs,
		Inspector: s.inspector,
		Logger:    s.logger,
	})
	s.navigate(v)

	return mcp.NewToolResultText(formatProcessingResults(v.Snapshot(), resp)), nil
}

func (s *Server) handleGenerateFilledPDF(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view := s.currentResults()
	if view == nil {
		return mcp.NewToolResultError(fmt.Sprintf("No processing results were found. Run %s first.", ToolProcessDocuments)), nil
	}

	snap := view.Snapshot()
	if snap.CalculationError != "" {
		return mcp.NewToolResultError(fmt.Sprintf("Tax calculation error: %s", snap.CalculationError)), nil
	}

	view.Trigger()
	state, err := view.Wait(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Waiting for PDF generation: %v", err)), nil
	}

	switch state {
	case results.StateIdle:
		return mcp.NewToolResultError("The processing results carry no calculated tax data"), nil
	case results.StateFailed:
		return mcp.NewToolResultError(fmt.Sprintf("Error generating PDF: %s", view.Snapshot().Error)), nil
	}

	data, name, err := view.Download()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()
	if output, ok := args["output"].(string); ok && strings.TrimSpace(output) != "" {
		name = strings.TrimSpace(output)
	}

	path, err := s.workspace.WriteOutput(name, data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error saving PDF: %v", err)), nil
	}
	s.logger.Info("Filled PDF saved", "path", path, "bytes", len(data))

	text := "Completed Form 1040 (with the available fields from the uploaded documents)\n"
	text += fmt.Sprintf("Saved to: %s\n", path)
	text += fmt.Sprintf("Size: %d bytes\n", len(data))
	if a := view.Snapshot().Artifact; a != nil && a.Info != nil {
		text += fmt.Sprintf("Pages: %d\n", a.Info.Pages)
		text += fmt.Sprintf("Form fields: %d\n", a.Info.FormFields)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleAPIHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.api.Health(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Processing API unreachable: %v", err)), nil
	}

	text := fmt.Sprintf("Processing API status: %s\n", status.Status)
	if status.Message != "" {
		text += fmt.Sprintf("Message: %s\n", status.Message)
	}
	if len(status.Features) > 0 {
		text += fmt.Sprintf("Features: %s\n", strings.Join(status.Features, ", "))
	}
	return mcp.NewToolResultText(text), nil
}

// navigate mounts v as the current results, closing the previous ones
func (s *Server) navigate(v *results.View) {
	s.mu.Lock()
	prev := s.results
	s.results = v
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

func (s *Server) currentResults() *results.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// formatProcessingResults renders the per document cards as text
func formatProcessingResults(snap results.Snapshot, resp *taxapi.ProcessingResponse) string {
	text := "Document AI Processing Results\n"
	text += fmt.Sprintf("Documents: %d, successful: %d\n", snap.TotalFiles, snap.SuccessfulResults)
	if len(resp.ProcessedForms) > 0 {
		labels := make([]string, len(resp.ProcessedForms))
		for i, f := range resp.ProcessedForms {
			labels[i] = taxapi.FormLabel(f)
		}
		text += fmt.Sprintf("Processed forms: %s\n", strings.Join(labels, ", "))
	}

	for i, r := range snap.Results {
		text += fmt.Sprintf("\n%d. %s [%s]\n", i+1, r.Filename, strings.ToUpper(string(r.Status)))
		if r.IdentifiedForm != "" {
			text += fmt.Sprintf("   Form: %s", taxapi.FormLabel(r.IdentifiedForm))
			if r.SimilarityScore != nil && *r.SimilarityScore != 0 {
				text += fmt.Sprintf(" (Similarity: %s)", taxapi.FormatConfidence(*r.SimilarityScore))
			}
			text += "\n"
		}

		switch r.Status {
		case taxapi.StatusWarning:
			if r.Message != "" {
				text += fmt.Sprintf("   Warning: %s\n", r.Message)
			}
		case taxapi.StatusError:
			if r.Error != "" {
				text += fmt.Sprintf("   Error: %s\n", r.Error)
			}
		}

		if !r.HasDetails() {
			continue
		}
		var avg float64
		if r.AverageConfidence != nil {
			avg = *r.AverageConfidence
		}
		text += fmt.Sprintf("   Necessary fields: %d, avg confidence: %s\n", r.ExtractedFields, taxapi.FormatConfidence(avg))
		for _, f := range r.Fields() {
			value := f.Value
			if value == "" {
				value = "N/A"
			}
			if f.HasConfidence && f.Confidence != 0 {
				text += fmt.Sprintf("   - %s: %s (%s)\n", f.Name, value, taxapi.FormatConfidence(f.Confidence))
			} else {
				text += fmt.Sprintf("   - %s: %s\n", f.Name, value)
			}
		}
	}

	switch {
	case snap.CalculationError != "":
		text += fmt.Sprintf("\nTax calculation error: %s\n", snap.CalculationError)
	case resp.CalculatedTaxData.Present():
		text += fmt.Sprintf("\nCalculated tax data is available. Use %s to produce the filled Form 1040.\n", ToolGenerateFilledPDF)
	}
	return text
}

// stringSlice reads a required string array argument
func stringSlice(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("required argument %q not found", key)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an array of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be an array of strings", key)
		}
		out = append(out, str)
	}
	return out, nil
}

// Run serves the tools over stdin/stdout until ctx is cancelled or the
// input closes
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves the tools over the given streams
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	defer s.Close()

	s.logger.Info("Starting tax document MCP server", "directory", s.workspace.Root(), "api", s.config.APIBaseURL)

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "mcp: ", log.LstdFlags))
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// Close tears down the mounted results
func (s *Server) Close() {
	s.navigate(nil)
}
