package comparator

// Cause labels for the differential discriminators. Primary is always one of
// these; Secondary may additionally be CausePlanCache.
const (
	CauseDataVolume     = "data-volume change"
	CauseBackendLatency = "backend-storage latency change"
	CauseEnvironment    = "execution-environment change"
	CausePlanCache      = "plan-cache miss"
	CauseUndetermined   = "undetermined"
)

// MetricDelta is the side-by-side view of one metric across the pair. Delta
// and Ratio are only meaningful when both sides reported the metric.
type MetricDelta struct {
	Name  string  `json:"name"`
	A     *int64  `json:"a"`
	B     *int64  `json:"b"`
	Delta int64   `json:"delta"`
	Ratio float64 `json:"ratio,omitempty"`
}

// Result of comparing two runs of the same statement.
type Result struct {
	Comparable bool   `json:"comparable"`
	Reason     string `json:"reason,omitempty"`

	Primary   string `json:"primaryCause,omitempty"`
	Secondary string `json:"secondaryCause,omitempty"`

	DurationDeltaMs int64         `json:"durationDeltaMs"`
	Metrics         []MetricDelta `json:"metrics,omitempty"`
}
