// Package upload holds the state behind the upload screen: the selected
// PDFs, the preview cursor and the batch submission.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a3tai/taxdoc-client/internal/pdf"
	"github.com/a3tai/taxdoc-client/internal/taxapi"
)

// supportedFormsShown is how many form badges the upload screen lists
const supportedFormsShown = 7

var (
	// ErrNotPDF rejects a whole selection containing any non-PDF file
	ErrNotPDF = errors.New("please select only PDF files")

	// ErrNoFiles is returned when submitting an empty list
	ErrNoFiles = errors.New("no files to process")

	// ErrSubmissionInFlight is returned while a submission is running
	ErrSubmissionInFlight = errors.New("a submission is already in progress")

	// ErrNoSuchFile is returned for out-of-range file indexes
	ErrNoSuchFile = errors.New("no such file")
)

// API is the part of the processing API the upload screen uses
type API interface {
	AvailableForms(ctx context.Context) ([]string, error)
	ProcessDocuments(ctx context.Context, docs []taxapi.Document) (*taxapi.ProcessingResponse, error)
}

// Candidate is a file offered by the picker
type Candidate struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadedFile is a file held in the upload list
type UploadedFile struct {
	ID          int
	Name        string
	ContentType string
	Size        int64
	Pages       int
	Data        []byte
}

// SizeMB renders the size the way the file list shows it
func (f UploadedFile) SizeMB() string {
	return fmt.Sprintf("%.2f MB", float64(f.Size)/1024/1024)
}

// Snapshot is a consistent copy of the view state for rendering
type Snapshot struct {
	Files          []UploadedFile
	Preview        *UploadedFile
	PreviewIndex   int
	Page           int
	NumPages       int
	Processing     bool
	AvailableForms []string
	Error          string
}

// CanPrev reports whether the preview can move back a page
func (s Snapshot) CanPrev() bool { return s.Page > 1 }

// CanNext reports whether the preview can move forward a page
func (s Snapshot) CanNext() bool { return s.Page < s.NumPages }

// SupportedForms returns the badge labels for the first few available forms
func (s Snapshot) SupportedForms() []string {
	n := len(s.AvailableForms)
	if n > supportedFormsShown {
		n = supportedFormsShown
	}
	labels := make([]string, 0, n)
	for _, form := range s.AvailableForms[:n] {
		labels = append(labels, taxapi.FormLabel(form))
	}
	return labels
}

// View is the upload screen state. All methods are safe for concurrent use.
type View struct {
	api       API
	inspector *pdf.Inspector
	logger    *slog.Logger

	mu             sync.Mutex
	files          []UploadedFile
	nextID         int
	previewID      int
	page           int
	processing     bool
	availableForms []string
	lastError      string
}

// NewView creates an empty upload screen
func NewView(api API, inspector *pdf.Inspector, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	return &View{
		api:       api,
		inspector: inspector,
		logger:    logger.With("view", "upload"),
		page:      1,
	}
}

// LoadAvailableForms fetches the supported form identifiers. Failure is
// logged and leaves the list empty.
func (v *View) LoadAvailableForms(ctx context.Context) {
	forms, err := v.api.AvailableForms(ctx)
	if err != nil {
		v.logger.Error("Error fetching available forms", "error", err)
		return
	}

	v.mu.Lock()
	v.availableForms = forms
	v.mu.Unlock()
}

// SelectFiles appends a picker selection. The selection is accepted
// whole or not at all.
func (v *View) SelectFiles(candidates []Candidate) error {
	accepted := make([]UploadedFile, 0, len(candidates))
	for _, c := range candidates {
		if !pdf.IsPDFMediaType(c.ContentType) {
			return ErrNotPDF
		}
	}
	for _, c := range candidates {
		info, err := v.inspector.InspectUpload(c.Name, c.ContentType, c.Data)
		if err != nil {
			return err
		}
		accepted = append(accepted, UploadedFile{
			Name:        c.Name,
			ContentType: c.ContentType,
			Size:        info.Size,
			Pages:       info.Pages,
			Data:        c.Data,
		})
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, f := range accepted {
		v.nextID++
		f.ID = v.nextID
		v.files = append(v.files, f)
	}
	v.lastError = ""
	return nil
}

// RemoveFile drops the file at index, clearing the preview if it showed
// that file
func (v *View) RemoveFile(index int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if index < 0 || index >= len(v.files) {
		return ErrNoSuchFile
	}
	if v.files[index].ID == v.previewID {
		v.previewID = 0
	}
	v.files = append(v.files[:index:index], v.files[index+1:]...)
	return nil
}

// PreviewFile shows the file at index from its first page
func (v *View) PreviewFile(index int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if index < 0 || index >= len(v.files) {
		return ErrNoSuchFile
	}
	v.previewID = v.files[index].ID
	v.page = 1
	return nil
}

// PrevPage moves the preview back one page, stopping at the first
func (v *View) PrevPage() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.page > 1 {
		v.page--
	}
	return v.page
}

// NextPage moves the preview forward one page, stopping at the last
func (v *View) NextPage() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if f := v.previewLocked(); f != nil && v.page < f.Pages {
		v.page++
	}
	return v.page
}

// File returns the file at index
func (v *View) File(index int) (UploadedFile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if index < 0 || index >= len(v.files) {
		return UploadedFile{}, ErrNoSuchFile
	}
	return v.files[index], nil
}

// SubmitBatch sends every selected file in one request. On success the
// parsed response is returned for handing to the results screen; on
// failure the file list is kept for a retry.
func (v *View) SubmitBatch(ctx context.Context) (*taxapi.ProcessingResponse, error) {
	v.mu.Lock()
	if len(v.files) == 0 {
		v.mu.Unlock()
		return nil, ErrNoFiles
	}
	if v.processing {
		v.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	v.processing = true
	v.lastError = ""
	docs := make([]taxapi.Document, len(v.files))
	for i, f := range v.files {
		docs[i] = taxapi.Document{Filename: f.Name, Data: f.Data}
	}
	v.mu.Unlock()

	v.logger.Info("Processing files with Document AI", "count", len(docs))
	resp, err := v.api.ProcessDocuments(ctx, docs)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.processing = false
	if err != nil {
		v.lastError = fmt.Sprintf("Error processing files: %v", err)
		v.logger.Error("Error processing files", "error", err)
		return nil, fmt.Errorf("process documents: %w", err)
	}
	return resp, nil
}

// Reset empties the file list and preview after the batch has been handed
// to the results screen. The form list is kept.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.files = nil
	v.previewID = 0
	v.page = 1
	v.lastError = ""
}

// Snapshot returns a copy of the current state
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Snapshot{
		Files:          append([]UploadedFile(nil), v.files...),
		PreviewIndex:   -1,
		Page:           v.page,
		Processing:     v.processing,
		AvailableForms: append([]string(nil), v.availableForms...),
		Error:          v.lastError,
	}
	for i := range s.Files {
		if s.Files[i].ID == v.previewID && v.previewID != 0 {
			f := s.Files[i]
			s.Preview = &f
			s.PreviewIndex = i
			s.NumPages = f.Pages
		}
	}
	return s
}

func (v *View) previewLocked() *UploadedFile {
	if v.previewID == 0 {
		return nil
	}
	for i := range v.files {
		if v.files[i].ID == v.previewID {
			return &v.files[i]
		}
	}
	return nil
}
