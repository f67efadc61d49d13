// Package contract defines the payloads exchanged on the audit endpoint and
// the rules an inbound request and an outbound judgement must satisfy.
package contract

// Verdicts the pipeline is expected to produce. The wire contract keeps the
// verdict an open string; these are conventions, not an enumeration.
const (
	VerdictPass                = "PASS"
	VerdictFail                = "FAIL"
	VerdictTechnicalDifficulty = "TECHNICAL_DIFFICULTY"
)

// Criteria is the single success condition a proof is judged against.
type Criteria struct {
	Metric   string `json:"metric"`
	Operator string `json:"operator"`
	Target   Target `json:"target"`
}

type GoalContext struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

// AuditRequest is one proof submission. Identifiers are opaque; correlation
// across retries is the caller's concern.
type AuditRequest struct {
	RequestID          string      `json:"request_id"`
	UserID             string      `json:"user_id"`
	GoalID             string      `json:"goal_id"`
	Timezone           string      `json:"timezone"`
	ProofURL           string      `json:"proof_url"`
	Criteria           Criteria    `json:"criteria"`
	GoalContext        GoalContext `json:"goal_context"`
	UserContextSummary *string     `json:"user_context_summary"`
	CurrentTimeLocal   *string     `json:"current_time_local,omitempty"`
}

// ExtractedMetrics is the evidence found in a proof. Every field may be
// absent because extraction can partially fail.
type ExtractedMetrics struct {
	PrimaryValue  *float64 `json:"primary_value"`
	AppName       *string  `json:"app_name"`
	DateDetected  *string  `json:"date_detected"`
	SecondaryText *string  `json:"secondary_text"`
	IsFraudulent  *bool    `json:"is_fraudulent"`
}

type AuditResponse struct {
	Verdict          string           `json:"verdict"`
	Remarks          string           `json:"remarks"`
	ExtractedMetrics ExtractedMetrics `json:"extracted_metrics"`
	ScoreImpact      float64          `json:"score_impact"`
	Confidence       *float64         `json:"confidence"`
	ProcessingTimeMS *int64           `json:"processing_time_ms"`
}

// Placeholder is the fixed judgement served until the evaluation pipeline
// is wired in.
func Placeholder() AuditResponse {
	return AuditResponse{
		Verdict:          VerdictPass,
		Remarks:          "Placeholder judgement (pipeline not yet wired).",
		ExtractedMetrics: ExtractedMetrics{},
		ScoreImpact:      0,
		Confidence:       Ptr(1.0),
		ProcessingTimeMS: Ptr(int64(0)),
	}
}

func Ptr[T any](v T) *T {
	return &v
}
