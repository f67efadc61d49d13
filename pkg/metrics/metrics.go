package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Judge outcomes.
const (
	OutcomeOK              = "ok"
	OutcomeValidationError = "validation_error"
	OutcomeInternalError   = "internal_error"
	OutcomeBodyTooLarge    = "body_too_large"
)

const decisionHistogram = "judge_decision"

type Registry struct {
	mu         sync.RWMutex
	endpoint   map[string]*EndpointStat
	verdict    map[string]int64
	outcome    map[string]int64
	Histograms *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	Verdicts    map[string]int64        `json:"verdicts"`
	Outcomes    map[string]int64        `json:"outcomes"`
	Histograms  []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:   map[string]*EndpointStat{},
		verdict:    map[string]int64{},
		outcome:    map[string]int64{},
		Histograms: NewHistogramRegistry(),
	}
}

func (r *Registry) Observe(endpoint string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	stat, ok := r.endpoint[endpoint]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[endpoint] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
	r.mu.Unlock()
	r.Histograms.ObserveDuration(endpoint, d)
}

// IncVerdict counts a verdict the decision function produced. Verdicts are
// open strings, so they are normalised to upper case before counting.
func (r *Registry) IncVerdict(verdict string) {
	verdict = strings.ToUpper(strings.TrimSpace(verdict))
	if verdict == "" {
		return
	}
	r.mu.Lock()
	r.verdict[verdict]++
	r.mu.Unlock()
}

func (r *Registry) IncOutcome(outcome string) {
	if outcome == "" {
		return
	}
	r.mu.Lock()
	r.outcome[outcome]++
	r.mu.Unlock()
}

func (r *Registry) ObserveDecision(d time.Duration) {
	r.Histograms.ObserveDuration(decisionHistogram, d)
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	out := Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   make(map[string]EndpointStat, len(r.endpoint)),
		Verdicts:    make(map[string]int64, len(r.verdict)),
		Outcomes:    make(map[string]int64, len(r.outcome)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.verdict {
		out.Verdicts[k] = v
	}
	for k, v := range r.outcome {
		out.Outcomes[k] = v
	}
	r.mu.RUnlock()
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(r.Snapshot())
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP ironwill_http_requests_total requests by endpoint\n")
		b.WriteString("# TYPE ironwill_http_requests_total counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "ironwill_http_requests_total{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP ironwill_http_errors_total responses with status >= 400 by endpoint\n")
		b.WriteString("# TYPE ironwill_http_errors_total counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "ironwill_http_errors_total{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP ironwill_judge_verdict_total judgements by verdict\n")
		b.WriteString("# TYPE ironwill_judge_verdict_total counter\n")
		for _, v := range SortedKeys(snap.Verdicts) {
			fmt.Fprintf(b, "ironwill_judge_verdict_total{verdict=%q} %d\n", v, snap.Verdicts[v])
		}
		b.WriteString("# HELP ironwill_judge_outcome_total audit requests by outcome\n")
		b.WriteString("# TYPE ironwill_judge_outcome_total counter\n")
		for _, o := range SortedKeys(snap.Outcomes) {
			fmt.Fprintf(b, "ironwill_judge_outcome_total{outcome=%q} %d\n", o, snap.Outcomes[o])
		}
		b.WriteString("# HELP ironwill_latency_seconds latency histogram\n")
		b.WriteString("# TYPE ironwill_latency_seconds histogram\n")
		for _, h := range snap.Histograms {
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "ironwill_latency_seconds_bucket{name=%q,le=\"%g\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "ironwill_latency_seconds_bucket{name=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "ironwill_latency_seconds_sum{name=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "ironwill_latency_seconds_count{name=%q} %d\n", h.Name, h.Count)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

// Middleware records status and latency per route, labelled by chi route
// pattern. Requests that match no route share the "unmatched" label.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, req)
		route := req.URL.Path
		if rc := chi.RouteContext(req.Context()); rc != nil {
			route = rc.RoutePattern()
			if route == "" {
				route = "unmatched"
			}
		}
		r.Observe(req.Method+" "+route, rec.code, time.Since(start))
	})
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
