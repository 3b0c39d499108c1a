package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MediaType is the only MIME type accepted for uploads
const MediaType = "application/pdf"

var (
	// ErrNotPDF is returned for files whose declared type is not application/pdf
	ErrNotPDF = errors.New("file is not a PDF")

	// ErrEmptyFile is returned for zero-length uploads
	ErrEmptyFile = errors.New("file is empty")

	// ErrTooLarge is returned for uploads above the configured limit
	ErrTooLarge = errors.New("file too large")
)

// UploadInfo describes an accepted upload
type UploadInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	// Pages is zero when the page tree could not be read; previews then
	// have no pagination
	Pages int `json:"pages"`
}

// ArtifactInfo summarises a generated filled PDF
type ArtifactInfo struct {
	Size       int64 `json:"size"`
	Pages      int   `json:"pages"`
	FormFields int   `json:"form_fields"`
}

// Inspector performs the light-weight checks the client needs on PDFs it
// handles. It never extracts content.
type Inspector struct {
	maxFileSize int64
}

// NewInspector creates an inspector with the given upload size limit
func NewInspector(maxFileSize int64) *Inspector {
	return &Inspector{maxFileSize: maxFileSize}
}

// MaxFileSize returns the configured upload limit
func (i *Inspector) MaxFileSize() int64 {
	return i.maxFileSize
}

// IsPDFMediaType reports whether a declared content type is application/pdf.
// Parameters are ignored.
func IsPDFMediaType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return false
	}
	return mediaType == MediaType
}

// CheckUpload applies the MIME and size gates to a single file without
// reading its content
func (i *Inspector) CheckUpload(name, contentType string, size int64) error {
	if !IsPDFMediaType(contentType) {
		return fmt.Errorf("%w: %s (%s)", ErrNotPDF, name, contentType)
	}
	if size == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFile, name)
	}
	if i.maxFileSize > 0 && size > i.maxFileSize {
		return fmt.Errorf("%w: %s is %d bytes (max: %d bytes)", ErrTooLarge, name, size, i.maxFileSize)
	}
	return nil
}

// InspectUpload gates an upload and counts its pages for preview
// pagination. An unreadable page tree is not an error.
func (i *Inspector) InspectUpload(name, contentType string, data []byte) (*UploadInfo, error) {
	if err := i.CheckUpload(name, contentType, int64(len(data))); err != nil {
		return nil, err
	}

	info := &UploadInfo{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	if pages, err := CountPages(data); err == nil {
		info.Pages = pages
	}
	return info, nil
}

// CountPages opens data as a PDF and returns its page count
func CountPages(data []byte) (pages int, err error) {
	defer func() {
		// malformed page trees can panic inside the reader
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("invalid PDF file: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PDF file: %w", err)
	}
	return r.NumPage(), nil
}

// InspectArtifact reads a generated PDF with pdfcpu and reports its page and
// top-level form field counts
func (i *Inspector) InspectArtifact(data []byte) (*ArtifactInfo, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}

	fields, err := countFormFields(ctx)
	if err != nil {
		return nil, err
	}

	return &ArtifactInfo{
		Size:       int64(len(data)),
		Pages:      ctx.PageCount,
		FormFields: fields,
	}, nil
}

func countFormFields(ctx *model.Context) (int, error) {
	rootDict, err := ctx.Catalog()
	if err != nil {
		return 0, fmt.Errorf("failed to get catalog: %w", err)
	}

	acroFormObj, found := rootDict.Find("AcroForm")
	if !found {
		return 0, nil
	}
	acroFormDict, err := ctx.DereferenceDict(acroFormObj)
	if err != nil {
		return 0, fmt.Errorf("failed to dereference AcroForm: %w", err)
	}
	if acroFormDict == nil {
		return 0, nil
	}

	fieldsObj, found := acroFormDict.Find("Fields")
	if !found {
		return 0, nil
	}
	fieldsArray, err := ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return 0, fmt.Errorf("failed to dereference Fields array: %w", err)
	}
	return len(fieldsArray), nil
}
