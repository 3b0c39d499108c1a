package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/a3tai/taxdoc-client/internal/pdf"
	"github.com/a3tai/taxdoc-client/internal/results"
	"github.com/a3tai/taxdoc-client/internal/upload"
)

// FieldFiles is the multipart field the file picker posts
const FieldFiles = "files"

// Index renders the upload screen.
func (h *Handler) Index(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, UploadTemplate, newUploadPage(s.Upload.Snapshot(), s.TakeFlash()))
}

// SelectFiles appends a picker selection to the file list.
func (h *Handler) SelectFiles(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		s.SetFlash("Invalid upload")
		redirect(c, "/")
		return
	}

	headers := form.File[FieldFiles]
	candidates := make([]upload.Candidate, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.logger.Error("Error opening uploaded file", "file", fh.Filename, "error", err)
			s.SetFlash("Invalid upload")
			redirect(c, "/")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			h.logger.Error("Error reading uploaded file", "file", fh.Filename, "error", err)
			s.SetFlash("Invalid upload")
			redirect(c, "/")
			return
		}
		candidates = append(candidates, upload.Candidate{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	if err := s.Upload.SelectFiles(candidates); err != nil {
		s.SetFlash(selectionMessage(err))
	}
	redirect(c, "/")
}

func selectionMessage(err error) string {
	switch {
	case errors.Is(err, upload.ErrNotPDF), errors.Is(err, pdf.ErrNotPDF):
		return "Please select only PDF files"
	case errors.Is(err, pdf.ErrTooLarge), errors.Is(err, pdf.ErrEmptyFile):
		return fmt.Sprintf("File rejected: %v", err)
	default:
		return "Invalid upload"
	}
}

// RemoveFile drops one file from the list.
func (h *Handler) RemoveFile(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if i, valid := indexParam(c); valid {
		if err := s.Upload.RemoveFile(i); err != nil {
			s.SetFlash("No such file")
		}
	}
	redirect(c, "/")
}

// PreviewFile selects one file for the preview pane.
func (h *Handler) PreviewFile(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if i, valid := indexParam(c); valid {
		if err := s.Upload.PreviewFile(i); err != nil {
			s.SetFlash("No such file")
		}
	}
	redirect(c, "/")
}

// RawFile serves the bytes of a selected file to the preview pane.
func (h *Handler) RawFile(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	i, valid := indexParam(c)
	if !valid {
		c.String(http.StatusNotFound, "not found")
		return
	}
	f, err := s.Upload.File(i)
	if err != nil {
		c.String(http.StatusNotFound, "not found")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", f.Name))
	c.Data(http.StatusOK, pdf.MediaType, f.Data)
}

// PrevPage moves the preview back one page.
func (h *Handler) PrevPage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Upload.PrevPage()
	redirect(c, "/")
}

// NextPage moves the preview forward one page.
func (h *Handler) NextPage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Upload.NextPage()
	redirect(c, "/")
}

// Submit sends the batch to the processing API and, on success, mounts
// the results screen with the response.
func (h *Handler) Submit(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	resp, err := s.Upload.SubmitBatch(c.Request.Context())
	switch {
	case errors.Is(err, upload.ErrNoFiles):
		s.SetFlash("No files to process")
		redirect(c, "/")
		return
	case errors.Is(err, upload.ErrSubmissionInFlight):
		s.SetFlash("Processing is already in progress")
		redirect(c, "/")
		return
	case err != nil:
		redirect(c, "/")
		return
	}

	s.Navigate(results.New(resp, results.Deps{
		Generator: h.api,
		Blobs:     h.blobs,
		Inspector: h.inspector,
		Logger:    h.logger,
		Now:       h.now,
	}))
	s.Upload.Reset()
	redirect(c, "/result")
}
