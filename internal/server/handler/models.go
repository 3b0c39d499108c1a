package handler

import (
	"strings"

	"github.com/a3tai/taxdoc-client/internal/results"
	"github.com/a3tai/taxdoc-client/internal/taxapi"
	"github.com/a3tai/taxdoc-client/internal/upload"
)

// uploadPage is the template data of the upload screen
type uploadPage struct {
	Flash          string
	Snapshot       upload.Snapshot
	FormsCount     int
	SupportedForms []string
	SubmitLabel    string
}

func newUploadPage(snap upload.Snapshot, flash string) uploadPage {
	label := "Process 1 Document"
	if n := len(snap.Files); n != 1 {
		label = "Process " + itoa(n) + " Documents"
	}
	return uploadPage{
		Flash:          flash,
		Snapshot:       snap,
		FormsCount:     len(snap.AvailableForms),
		SupportedForms: snap.SupportedForms(),
		SubmitLabel:    label,
	}
}

// resultsPage is the template data of the results screen
type resultsPage struct {
	Empty            bool
	Cards            []resultCard
	Generating       bool
	Ready            bool
	PDFError         string
	CalculationError string
	BlobURL          string
	PageCount        int
	FormFields       int
	RefreshSeconds   int
}

type resultCard struct {
	Index           int
	Anchor          string
	Filename        string
	Status          string
	StatusLabel     string
	Icon            string
	FormLabel       string
	Similarity      string
	ShowDetails     bool
	ExtractedFields int
	AvgConfidence   string
	AvgLevel        string
	Expanded        bool
	Fields          []fieldCell
	Warning         string
	Error           string
}

type fieldCell struct {
	Name       string
	Value      string
	Confidence string
	Level      string
}

func newResultsPage(snap results.Snapshot, refreshSeconds int) resultsPage {
	page := resultsPage{
		Empty:            snap.Empty,
		Generating:       snap.State == results.StateGenerating,
		Ready:            snap.State == results.StateReady && snap.Artifact != nil,
		PDFError:         snap.Error,
		CalculationError: snap.CalculationError,
		RefreshSeconds:   refreshSeconds,
	}
	if page.Ready {
		page.BlobURL = "/blob/" + string(snap.Artifact.Handle)
		if info := snap.Artifact.Info; info != nil {
			page.PageCount = info.Pages
			page.FormFields = info.FormFields
		}
	}
	for i, r := range snap.Results {
		page.Cards = append(page.Cards, newResultCard(i, r, snap.Expanded[i]))
	}
	return page
}

func newResultCard(index int, r taxapi.ProcessingResult, expanded bool) resultCard {
	card := resultCard{
		Index:       index,
		Anchor:      "result-" + itoa(index),
		Filename:    r.Filename,
		Status:      string(r.Status),
		StatusLabel: strings.ToUpper(string(r.Status)),
		Expanded:    expanded,
	}

	switch r.Status {
	case taxapi.StatusSuccess:
		card.Icon = "✅"
	case taxapi.StatusWarning:
		card.Icon = "⚠️"
		card.Warning = r.Message
	default:
		card.Icon = "❌"
		card.Status = string(taxapi.StatusError)
		card.Error = r.Error
	}

	if r.IdentifiedForm != "" {
		card.FormLabel = taxapi.FormLabel(r.IdentifiedForm)
		if r.SimilarityScore != nil && *r.SimilarityScore != 0 {
			card.Similarity = taxapi.FormatConfidence(*r.SimilarityScore)
		}
	}

	if r.HasDetails() {
		card.ShowDetails = true
		card.ExtractedFields = r.ExtractedFields
		var avg float64
		if r.AverageConfidence != nil {
			avg = *r.AverageConfidence
		}
		card.AvgConfidence = taxapi.FormatConfidence(avg)
		card.AvgLevel = taxapi.ConfidenceLevel(avg)

		if expanded {
			for _, f := range r.Fields() {
				cell := fieldCell{Name: f.Name, Value: f.Value}
				if cell.Value == "" {
					cell.Value = "N/A"
				}
				if f.HasConfidence && f.Confidence != 0 {
					cell.Confidence = taxapi.FormatConfidence(f.Confidence)
					cell.Level = taxapi.ConfidenceLevel(f.Confidence)
				}
				card.Fields = append(card.Fields, cell)
			}
		}
	}
	return card
}
