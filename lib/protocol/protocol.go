// Package protocol fixes the ordered, stateful step sequence every county
// land-records site requires before a parcel's tax data is reachable:
// session acquisition, a consent/guest-login gate, parcel search, property
// id resolution, tax-view navigation, extraction. Site variants implement
// Driver; Runner owns the state machine and refuses out-of-order
// transitions, so the only way through is the fixed sequence.
package protocol

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/protocol")

// Step names one transition of the workflow state machine.
type Step int

const (
	StepAcquireSession Step = iota
	StepCompleteGate
	StepSubmitSearch
	StepResolvePropertyID
	StepNavigateToTaxView
	StepExtract
)

func (s Step) String() string {
	switch s {
	case StepAcquireSession:
		return "acquire_session"
	case StepCompleteGate:
		return "complete_gate"
	case StepSubmitSearch:
		return "submit_search"
	case StepResolvePropertyID:
		return "resolve_property_id"
	case StepNavigateToTaxView:
		return "navigate_to_tax_view"
	case StepExtract:
		return "extract"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ChannelSetup reports whether the step establishes the scraping channels
// themselves rather than working one parcel. A failure here means later
// parcels would hit the same broken transport, so it should end the run
// instead of marking a single parcel.
func (s Step) ChannelSetup() bool {
	return s == StepAcquireSession || s == StepCompleteGate
}

// StepError reports which step of the workflow failed. It is fatal to the
// current parcel only; the orchestrator decides whether to continue.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("protocol step %s failed: %s", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ErrOutOfOrder is returned when a transition is attempted without the
// previous step's state.
var ErrOutOfOrder = errors.New("protocol step attempted out of order")

// Driver is one site variant's implementation of the workflow. All methods
// are invoked by Runner in the fixed order above; AcquireSession and
// CompleteGate must be idempotent, since the runner re-walks the full
// sequence for every parcel while the underlying session persists.
//
// Tokens captured from any response must be merged into the driver's session
// (new values overwrite, absent ones survive) before the next outbound
// request, and cookie state acquired on one channel must be copied to the
// other before either channel runs the next step.
type Driver interface {
	// AcquireSession performs the initial exchange that captures cookies
	// and any embedded tokens.
	AcquireSession(ctx context.Context) error
	// CompleteGate submits the consent or guest-login action standing
	// between the session and the search surface.
	CompleteGate(ctx context.Context) error
	// SubmitSearch posts the parcel search and retains the raw result
	// payload for extraction.
	SubmitSearch(ctx context.Context, parcelID string) error
	// ResolvePropertyID derives the site-internal secondary identifier the
	// tax view requires; parcel number alone does not reach it.
	ResolvePropertyID(ctx context.Context) (string, error)
	// NavigateToTaxView brings the channel(s) to the page or endpoint that
	// exposes the parcel's tax data.
	NavigateToTaxView(ctx context.Context) error
	// Extract returns the raw search payload and tax payload for the
	// normalization pipeline.
	Extract(ctx context.Context) (searchData, taxData any, err error)
	// Close releases channel resources. It must be safe on every exit path.
	Close(ctx context.Context) error
}

type state int

const (
	stateUninitialized state = iota
	stateSessionEstablished
	stateAuthorized
	stateSearchExecuted
	statePropertyResolved
	stateTaxViewReached
	stateDone
	stateFailed
)

// Result is the raw outcome of one parcel's workflow run.
type Result struct {
	ParcelID   string
	PropertyID string
	SearchData any
	TaxData    any
}

// Runner drives a Driver through the state machine. It exposes the
// transitions only in their required order: each method checks that the
// previous step's state is present and fails with ErrOutOfOrder otherwise.
type Runner struct {
	driver Driver
	state  state
}

func NewRunner(d Driver) *Runner {
	return &Runner{driver: d}
}

func (r *Runner) transition(ctx context.Context, step Step, from, to state, fn func(context.Context) error) error {
	if r.state != from {
		return &StepError{Step: step, Err: ErrOutOfOrder}
	}
	ctx, span := tracer.Start(ctx, step.String())
	defer span.End()

	err := fn(ctx)
	if err != nil {
		r.state = stateFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")
		return &StepError{Step: step, Err: err}
	}
	r.state = to
	return nil
}

func (r *Runner) AcquireSession(ctx context.Context) error {
	return r.transition(ctx, StepAcquireSession, stateUninitialized, stateSessionEstablished,
		r.driver.AcquireSession)
}

func (r *Runner) CompleteGate(ctx context.Context) error {
	return r.transition(ctx, StepCompleteGate, stateSessionEstablished, stateAuthorized,
		r.driver.CompleteGate)
}

func (r *Runner) SubmitSearch(ctx context.Context, parcelID string) error {
	return r.transition(ctx, StepSubmitSearch, stateAuthorized, stateSearchExecuted,
		func(ctx context.Context) error {
			return r.driver.SubmitSearch(ctx, parcelID)
		})
}

func (r *Runner) ResolvePropertyID(ctx context.Context) (string, error) {
	var propertyID string
	err := r.transition(ctx, StepResolvePropertyID, stateSearchExecuted, statePropertyResolved,
		func(ctx context.Context) error {
			var err error
			propertyID, err = r.driver.ResolvePropertyID(ctx)
			return err
		})
	return propertyID, err
}

func (r *Runner) NavigateToTaxView(ctx context.Context) error {
	return r.transition(ctx, StepNavigateToTaxView, statePropertyResolved, stateTaxViewReached,
		r.driver.NavigateToTaxView)
}

func (r *Runner) Extract(ctx context.Context) (any, any, error) {
	var searchData, taxData any
	err := r.transition(ctx, StepExtract, stateTaxViewReached, stateDone,
		func(ctx context.Context) error {
			var err error
			searchData, taxData, err = r.driver.Extract(ctx)
			return err
		})
	return searchData, taxData, err
}

// Run walks one parcel through the entire sequence. The runner is reset
// first so a prior parcel's terminal state (done or failed) never blocks the
// next; the driver's own session persists across parcels.
func (r *Runner) Run(ctx context.Context, parcelID string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.String("parcel_id", parcelID))

	r.state = stateUninitialized
	res := Result{ParcelID: parcelID}

	if err := r.AcquireSession(ctx); err != nil {
		return res, err
	}
	if err := r.CompleteGate(ctx); err != nil {
		return res, err
	}
	if err := r.SubmitSearch(ctx, parcelID); err != nil {
		return res, err
	}
	propertyID, err := r.ResolvePropertyID(ctx)
	if err != nil {
		return res, err
	}
	res.PropertyID = propertyID
	if err := r.NavigateToTaxView(ctx); err != nil {
		return res, err
	}
	res.SearchData, res.TaxData, err = r.Extract(ctx)
	if err != nil {
		return res, err
	}
	return res, nil
}
