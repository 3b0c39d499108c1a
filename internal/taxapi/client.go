// Package taxapi is the HTTP boundary to the tax document processing API.
//
// The API does all of the substantive work: form identification, field
// extraction, tax calculation and filled PDF generation. This package only
// shapes requests and validates responses.
package taxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const (
	pathAvailableForms    = "/api/available-forms"
	pathProcessDocuments  = "/api/process-tax-documents"
	pathGenerateFilledPDF = "/api/generate-filled-pdf"
	pathHealth            = "/api/health"

	// FieldPDFs is the multipart field repeated once per submitted file
	FieldPDFs = "pdfs"

	// ContentTypePDF is the only media type accepted for generated PDFs
	ContentTypePDF = "application/pdf"

	maxErrorBody = 4 << 10
)

var (
	// ErrNoDocuments is returned when ProcessDocuments is called without files
	ErrNoDocuments = errors.New("no documents to process")

	// ErrInvalidPDFResponse is returned when the generate call answers with
	// an empty body or a non-PDF content type
	ErrInvalidPDFResponse = errors.New("received invalid PDF response")
)

// HTTPError reports a non-2xx answer from the API
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP error! status: %d - %s", e.StatusCode, e.Body)
}

// Options configures a Client
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each request; zero leaves requests unbounded
	Timeout  time.Duration
	Username string
	Password string
	Logger   *slog.Logger
}

// Client talks to the processing API
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	timeout  time.Duration
	username string
	password string
	logger   *slog.Logger
}

// NewClient creates a client for the API rooted at opts.BaseURL
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must use http or https: %s", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:  base,
		http:     httpClient,
		timeout:  opts.Timeout,
		username: opts.Username,
		password: opts.Password,
		logger:   logger.With("component", "taxapi"),
	}, nil
}

// BaseURL returns the configured API root
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// AvailableForms lists the form identifiers the API can recognise
func (c *Client) AvailableForms(ctx context.Context) ([]string, error) {
	var out AvailableFormsResponse
	if err := c.getJSON(ctx, pathAvailableForms, &out); err != nil {
		return nil, err
	}
	return out.AvailableForms, nil
}

// Health queries the API health endpoint
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, pathHealth, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessDocuments submits the whole batch in a single multipart request
func (c *Client) ProcessDocuments(ctx context.Context, docs []Document) (*ProcessingResponse, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, doc := range docs {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			FieldPDFs, escapeQuotes(doc.Filename)))
		header.Set("Content-Type", ContentTypePDF)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("create form part for %s: %w", doc.Filename, err)
		}
		if _, err := part.Write(doc.Data); err != nil {
			return nil, fmt.Errorf("write form part for %s: %w", doc.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	c.logger.Info("processing documents", "count", len(docs), "bytes", body.Len())

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, pathProcessDocuments, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ProcessingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode processing response: %w", err)
	}

	for _, r := range out.Results {
		for _, problem := range r.Validate() {
			c.logger.Warn("processing result contract", "filename", r.Filename, "problem", problem)
		}
	}
	c.logger.Info("documents processed", "results", len(out.Results),
		"calculated", out.CalculatedTaxData.Present())
	return &out, nil
}

// GenerateFilledPDF asks the API to merge the calculated data into the form
// template and returns the PDF bytes
func (c *Client) GenerateFilledPDF(ctx context.Context, data CalculatedTaxData) ([]byte, error) {
	payload, err := json.Marshal(struct {
		CalculatedData CalculatedTaxData `json:"calculated_data"`
	}{CalculatedData: data})
	if err != nil {
		return nil, fmt.Errorf("encode calculated data: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, pathGenerateFilledPDF, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	pdfBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read filled PDF: %w", err)
	}
	if len(pdfBytes) == 0 || !isPDFContentType(resp.Header.Get("Content-Type")) {
		c.logger.Warn("rejected filled PDF response",
			"content_type", resp.Header.Get("Content-Type"), "bytes", len(pdfBytes))
		return nil, ErrInvalidPDFResponse
	}
	return pdfBytes, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// do sends req and converts non-2xx answers into a *HTTPError
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(text)),
		}
	}
	return resp, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func isPDFContentType(value string) bool {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return mediaType == ContentTypePDF
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
