// Package results holds the state behind the results screen: the per
// document extraction cards and the one-shot filled PDF generation.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a3tai/taxdoc-client/internal/blob"
	"github.com/a3tai/taxdoc-client/internal/pdf"
	"github.com/a3tai/taxdoc-client/internal/taxapi"
)

// State is the filled PDF generation state of a view
type State int

const (
	StateIdle State = iota
	StateGenerating
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

var (
	// ErrNotReady is returned when downloading before a PDF exists
	ErrNotReady = errors.New("filled PDF is not available")

	// ErrClosed is recorded when the view is torn down mid-generation
	ErrClosed = errors.New("results view closed")

	errInvalidPDF = errors.New("received invalid PDF response")
)

// unknownCalculationError is shown for an error marker without text
const unknownCalculationError = "unknown calculation error"

// Generator produces the filled PDF for calculated tax data
type Generator interface {
	GenerateFilledPDF(ctx context.Context, data taxapi.CalculatedTaxData) ([]byte, error)
}

// Deps are the collaborators of a View
type Deps struct {
	Generator Generator
	Blobs     *blob.Registry
	Inspector *pdf.Inspector
	Logger    *slog.Logger
	Now       func() time.Time
}

// Artifact is the generated PDF as exposed to the screen
type Artifact struct {
	Handle blob.Handle
	Size   int
	// Info is nil when the PDF could not be inspected
	Info *pdf.ArtifactInfo
}

// Snapshot is a consistent copy of the view state for rendering
type Snapshot struct {
	Empty             bool
	Results           []taxapi.ProcessingResult
	Expanded          map[int]bool
	State             State
	Artifact          *Artifact
	Error             string
	CalculationError  string
	TotalFiles        int
	SuccessfulResults int
}

// View is one mounted results screen. Its generation runs at most once;
// a new batch needs a new View.
type View struct {
	payload *taxapi.ProcessingResponse
	deps    Deps
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	expanded map[int]bool
	state    State
	artifact *Artifact
	data     []byte
	errMsg   string
	closed   bool
	done     chan struct{}
}

// New mounts a results screen for payload. A nil payload gives the empty
// "no results" screen.
func New(payload *taxapi.ProcessingResponse, deps Deps) *View {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Blobs == nil {
		deps.Blobs = blob.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		payload:  payload,
		deps:     deps,
		logger:   deps.Logger.With("view", "results"),
		ctx:      ctx,
		cancel:   cancel,
		expanded: make(map[int]bool),
	}
}

// Empty reports whether the screen was mounted without a payload
func (v *View) Empty() bool {
	return v.payload == nil
}

// Payload returns the processing response the view was mounted with
func (v *View) Payload() *taxapi.ProcessingResponse {
	return v.payload
}

// ToggleDetail flips the extracted field grid of one result
func (v *View) ToggleDetail(index int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.expanded[index] = !v.expanded[index]
	return v.expanded[index]
}

// Trigger starts filled PDF generation if the payload carries usable
// calculated data and nothing has been started yet. It may be called any
// number of times; it reports whether this call started the generation.
func (v *View) Trigger() bool {
	if v.payload == nil || !v.payload.CalculatedTaxData.Usable() || v.deps.Generator == nil {
		return false
	}

	v.mu.Lock()
	if v.closed || v.state != StateIdle {
		v.mu.Unlock()
		return false
	}
	v.state = StateGenerating
	v.errMsg = ""
	v.done = make(chan struct{})
	v.mu.Unlock()

	go v.generate()
	return true
}

func (v *View) generate() {
	v.logger.Info("Generating filled PDF")
	data, err := v.deps.Generator.GenerateFilledPDF(v.ctx, v.payload.CalculatedTaxData)
	if err == nil && len(data) == 0 {
		err = errInvalidPDF
	}

	var info *pdf.ArtifactInfo
	if err == nil && v.deps.Inspector != nil {
		var inspectErr error
		info, inspectErr = v.deps.Inspector.InspectArtifact(data)
		if inspectErr != nil {
			v.logger.Warn("Could not inspect filled PDF", "error", inspectErr)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	defer close(v.done)

	switch {
	case v.closed:
		v.state = StateFailed
		v.errMsg = ErrClosed.Error()
	case err != nil:
		v.state = StateFailed
		v.errMsg = err.Error()
		if v.errMsg == "" {
			v.errMsg = "PDF generation failed"
		}
		v.logger.Error("Error generating PDF", "error", err)
	default:
		v.data = data
		v.artifact = &Artifact{
			Handle: v.deps.Blobs.Create(data, taxapi.ContentTypePDF),
			Size:   len(data),
			Info:   info,
		}
		v.state = StateReady
		v.logger.Info("Filled PDF ready", "bytes", len(data))
	}
}

// Wait blocks until a started generation settles or ctx ends, then returns
// the state at that point
func (v *View) Wait(ctx context.Context) (State, error) {
	v.mu.Lock()
	done := v.done
	v.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return v.State(), ctx.Err()
		}
	}
	return v.State(), nil
}

// State returns the current generation state
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Download returns the generated PDF bytes under a timestamped filename.
// No request is made.
func (v *View) Download() ([]byte, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateReady || v.closed {
		return nil, "", ErrNotReady
	}
	name := fmt.Sprintf("completed_form_1040_%d.pdf", v.deps.Now().UnixMilli())
	return v.data, name, nil
}

// Close tears the view down: an in-flight generation is cancelled and the
// artifact handle is revoked. Close is idempotent.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true
	v.cancel()
	if v.artifact != nil {
		v.deps.Blobs.Revoke(v.artifact.Handle)
	}
	v.data = nil
}

// Snapshot returns a copy of the current state
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Snapshot{
		Empty:    v.payload == nil,
		Expanded: make(map[int]bool, len(v.expanded)),
		State:    v.state,
		Error:    v.errMsg,
	}
	for k, open := range v.expanded {
		s.Expanded[k] = open
	}
	if v.artifact != nil && !v.closed {
		a := *v.artifact
		s.Artifact = &a
	}
	if v.payload != nil {
		s.Results = v.payload.Results
		s.TotalFiles = len(v.payload.Results)
		for _, r := range v.payload.Results {
			if r.Status == taxapi.StatusSuccess {
				s.SuccessfulResults++
			}
		}
		if msg, failed := v.payload.CalculatedTaxData.ErrorMessage(); failed {
			if msg == "" {
				msg = unknownCalculationError
			}
			s.CalculationError = msg
		}
	}
	return s
}
