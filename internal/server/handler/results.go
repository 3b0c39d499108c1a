package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/a3tai/taxdoc-client/internal/pdf"
	"github.com/a3tai/taxdoc-client/internal/results"
)

// Results renders the results screen. Rendering is what starts the filled
// PDF generation; the view guarantees it runs at most once.
func (h *Handler) Results(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	view := s.Results()
	if view == nil {
		c.HTML(http.StatusOK, ResultsTemplate, resultsPage{Empty: true})
		return
	}

	if view.Trigger() {
		h.logger.Info("Filled PDF generation started", "session", s.ID)
	}
	c.HTML(http.StatusOK, ResultsTemplate, newResultsPage(view.Snapshot(), h.refreshSeconds))
}

// ToggleDetail expands or collapses one result's extracted fields.
func (h *Handler) ToggleDetail(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	i, valid := indexParam(c)
	if view := s.Results(); view != nil && valid {
		view.ToggleDetail(i)
		redirect(c, fmt.Sprintf("/result#result-%d", i))
		return
	}
	redirect(c, "/result")
}

// Download sends the generated filled PDF as an attachment.
func (h *Handler) Download(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	view := s.Results()
	if view == nil {
		c.String(http.StatusNotFound, results.ErrNotReady.Error())
		return
	}

	data, name, err := view.Download()
	if err != nil {
		c.String(http.StatusNotFound, err.Error())
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, pdf.MediaType, data)
}

// StartOver tears down the results screen and returns to upload.
func (h *Handler) StartOver(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.CloseResults()
	redirect(c, "/")
}
