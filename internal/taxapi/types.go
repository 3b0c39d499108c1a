package taxapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Status is the per-document outcome reported by the processing API
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusWarning, StatusError:
		return true
	}
	return false
}

// AvailableFormsResponse is the body of GET /api/available-forms
type AvailableFormsResponse struct {
	AvailableForms []string `json:"available_forms"`
}

// HealthStatus is the body of GET /api/health
type HealthStatus struct {
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Features []string `json:"features,omitempty"`
}

// Document is a single PDF submitted for processing
type Document struct {
	Filename string
	Data     []byte
}

// ProcessingResponse is the body of POST /api/process-tax-documents
type ProcessingResponse struct {
	Results               []ProcessingResult           `json:"results"`
	CalculatedTaxData     CalculatedTaxData            `json:"calculated_tax_data,omitempty"`
	TotalFiles            int                          `json:"total_files,omitempty"`
	SuccessfulExtractions int                          `json:"successful_extractions,omitempty"`
	ProcessedForms        []string                     `json:"processed_forms,omitempty"`
	FormsData             map[string]map[string]string `json:"forms_data,omitempty"`
}

// ProcessingResult describes one submitted document
type ProcessingResult struct {
	Filename          string             `json:"filename"`
	Status            Status             `json:"status"`
	IdentifiedForm    string             `json:"identified_form,omitempty"`
	SimilarityScore   *float64           `json:"similarity_score,omitempty"`
	ExtractedFields   int                `json:"extracted_fields,omitempty"`
	AverageConfidence *float64           `json:"average_confidence,omitempty"`
	FormData          map[string]string  `json:"form_data,omitempty"`
	ConfidenceData    map[string]float64 `json:"confidence_data,omitempty"`
	Message           string             `json:"message,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// ExtractedField is a single (name, value, confidence) triple
type ExtractedField struct {
	Name          string
	Value         string
	Confidence    float64
	HasConfidence bool
}

// Fields returns the extracted form data sorted by field name. Confidence
// values are paired by key only; a field without one is left unscored.
func (r ProcessingResult) Fields() []ExtractedField {
	fields := make([]ExtractedField, 0, len(r.FormData))
	for name, value := range r.FormData {
		f := ExtractedField{Name: name, Value: value}
		if c, ok := r.ConfidenceData[name]; ok {
			f.Confidence = c
			f.HasConfidence = true
		}
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

// HasDetails reports whether the result carries an extracted field grid
func (r ProcessingResult) HasDetails() bool {
	return r.Status == StatusSuccess && r.FormData != nil
}

// Validate reports advisory contract violations between the status and the
// optional fields. The API does not guarantee these, so callers log them
// rather than reject the result.
func (r ProcessingResult) Validate() []string {
	var problems []string
	if !r.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", r.Status))
	}
	switch r.Status {
	case StatusWarning:
		if r.Message == "" {
			problems = append(problems, "warning result without message")
		}
	case StatusError:
		if r.Error == "" {
			problems = append(problems, "error result without error text")
		}
	case StatusSuccess:
		if r.FormData == nil {
			problems = append(problems, "success result without form data")
		}
	}
	return problems
}

// CalculatedTaxData is the opaque calculation payload. It is passed through
// to the filled PDF call unmodified; only the error marker is inspected.
type CalculatedTaxData json.RawMessage

// MarshalJSON emits the raw payload, or null when empty
func (c CalculatedTaxData) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return []byte(c), nil
}

// UnmarshalJSON keeps a copy of the raw payload
func (c *CalculatedTaxData) UnmarshalJSON(data []byte) error {
	if c == nil {
		return fmt.Errorf("taxapi: UnmarshalJSON on nil pointer")
	}
	*c = append((*c)[:0], data...)
	return nil
}

// Present reports whether a non-null object payload was returned
func (c CalculatedTaxData) Present() bool {
	trimmed := bytes.TrimSpace(c)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// ErrorMessage returns the payload's error marker, if any. Any error key
// counts as an error, including an empty or null one.
func (c CalculatedTaxData) ErrorMessage() (string, bool) {
	if !c.Present() {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(c, &fields); err != nil {
		return "", false
	}
	raw, ok := fields["error"]
	if !ok {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return string(raw), true
	}
	return msg, true
}

// Usable reports whether the payload may be sent for PDF generation
func (c CalculatedTaxData) Usable() bool {
	if !c.Present() {
		return false
	}
	_, failed := c.ErrorMessage()
	return !failed
}

// FormLabel renders a form identifier the way the UI badges show it:
// the first underscore becomes a space and the result is upper-cased.
func FormLabel(form string) string {
	return strings.ToUpper(strings.Replace(form, "_", " ", 1))
}

// FormatConfidence renders a [0,1] confidence as a one-decimal percentage
func FormatConfidence(confidence float64) string {
	return fmt.Sprintf("%.1f%%", confidence*100)
}

// ConfidenceLevel buckets a confidence for display
func ConfidenceLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.6:
		return "medium"
	default:
		return "low"
	}
}
