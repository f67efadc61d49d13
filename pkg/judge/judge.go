// Package judge serves the audit decision endpoint. It owns the request
// lifecycle around a Decider: decode, validate, decide, encode. The decision
// itself is injected.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ironwill/pkg/contract"
	"ironwill/pkg/httpx"
	"ironwill/pkg/metrics"
	"ironwill/pkg/telemetry"
)

const tracerName = "ironwill/judge"

// Decider produces a judgement for one validated request. Implementations
// must not retain req after returning.
type Decider interface {
	Decide(ctx context.Context, req contract.AuditRequest) (contract.AuditResponse, error)
}

type DeciderFunc func(ctx context.Context, req contract.AuditRequest) (contract.AuditResponse, error)

func (f DeciderFunc) Decide(ctx context.Context, req contract.AuditRequest) (contract.AuditResponse, error) {
	return f(ctx, req)
}

// PlaceholderDecider returns the fixed placeholder judgement for every request.
type PlaceholderDecider struct{}

func (PlaceholderDecider) Decide(context.Context, contract.AuditRequest) (contract.AuditResponse, error) {
	return contract.Placeholder(), nil
}

var errDecisionPanic = errors.New("decision panicked")

type Handler struct {
	decider Decider
	metrics *metrics.Registry
	tracer  trace.Tracer
	logf    func(format string, args ...any)
}

type Option func(*Handler)

func WithMetrics(reg *metrics.Registry) Option {
	return func(h *Handler) { h.metrics = reg }
}

func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

func WithLogger(logf func(format string, args ...any)) Option {
	return func(h *Handler) { h.logf = logf }
}

// NewHandler builds the audit handler. A nil decider serves the placeholder.
func NewHandler(decider Decider, opts ...Option) *Handler {
	if decider == nil {
		decider = PlaceholderDecider{}
	}
	h := &Handler{
		decider: decider,
		tracer:  telemetry.Tracer(tracerName),
		logf:    log.Printf,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.NewRegistry()
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(r)
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		h.metrics.IncOutcome(metrics.OutcomeBodyTooLarge)
		httpx.Detail(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	if err != nil {
		h.metrics.IncOutcome(metrics.OutcomeValidationError)
		writeValidation(w, &contract.ValidationError{Errors: []contract.FieldError{{
			Loc:  []string{"body"},
			Msg:  "request body could not be read",
			Type: contract.ErrTypeJSONDecode,
		}}})
		return
	}

	req, err := contract.DecodeRequest(body)
	if err != nil {
		var ve *contract.ValidationError
		if errors.As(err, &ve) {
			h.metrics.IncOutcome(metrics.OutcomeValidationError)
			writeValidation(w, ve)
			return
		}
		h.fail(w, r, "", fmt.Errorf("decode request: %w", err))
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "judge.decide", trace.WithAttributes(
		attribute.String("ironwill.request_id", req.RequestID),
		attribute.String("ironwill.goal_id", req.GoalID),
		attribute.String("ironwill.criteria.metric", req.Criteria.Metric),
	))
	start := time.Now()
	resp, err := h.decide(ctx, req)
	h.metrics.ObserveDecision(time.Since(start))
	var raw []byte
	if err == nil {
		raw, err = contract.EncodeResponse(resp)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		span.End()
		h.fail(w, r, req.RequestID, err)
		return
	}
	span.SetAttributes(attribute.String("ironwill.verdict", resp.Verdict))
	span.End()

	h.metrics.IncOutcome(metrics.OutcomeOK)
	h.metrics.IncVerdict(resp.Verdict)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// decide runs the decider, turning a panic into an error.
func (h *Handler) decide(ctx context.Context, req contract.AuditRequest) (resp contract.AuditResponse, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v\n%s", errDecisionPanic, rec, debug.Stack())
		}
	}()
	return h.decider.Decide(ctx, req)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, auditID string, err error) {
	h.metrics.IncOutcome(metrics.OutcomeInternalError)
	h.logf("judge: audit failed request_id=%s trace_request_id=%s: %v",
		auditID, httpx.RequestIDFromContext(r.Context()), err)
	httpx.Detail(w, http.StatusInternalServerError, "Internal Server Error")
}

func writeValidation(w http.ResponseWriter, ve *contract.ValidationError) {
	detail := ve.Errors
	if detail == nil {
		detail = []contract.FieldError{}
	}
	httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": detail})
}
