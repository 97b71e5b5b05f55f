package model

// Metric is a single normalized number plus its presence flag. Formatting
// (rounding, percentages, durations) is the client's job; the view model
// always carries the raw value.
type Metric struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// CategorySummary is one per-category block of the analysis result
// (steps, cadence, ENMO, bouts, wear). A category absent from the raw
// response yields Present=false with nil Values, distinguishable from a
// present-but-zero summary.
type CategorySummary struct {
	Present bool           `json:"present"`
	Values  map[string]any `json:"values,omitempty"`
}

// ResultView is the normalized, null-safe analysis output.
type ResultView struct {
	Message        string `json:"message"`
	ProcessingTime Metric `json:"processing_time"`

	TotalSteps          Metric `json:"total_steps"`
	TotalWalkingMinutes Metric `json:"total_walking_minutes"`
	AverageDailySteps   Metric `json:"average_daily_steps"`
	SampleRate          Metric `json:"sample_rate"`
	DataDurationHours   Metric `json:"data_duration_hours"`

	Steps           CategorySummary `json:"steps_summary"`
	StepsAdjusted   CategorySummary `json:"steps_summary_adjusted"`
	Cadence         CategorySummary `json:"cadence_summary"`
	CadenceAdjusted CategorySummary `json:"cadence_summary_adjusted"`
	Enmo            CategorySummary `json:"enmo_summary"`
	EnmoAdjusted    CategorySummary `json:"enmo_summary_adjusted"`
	Bouts           CategorySummary `json:"bouts_summary"`
	Wear            CategorySummary `json:"wear_stats"`

	OutputFiles map[string]string `json:"output_files,omitempty"`
}
