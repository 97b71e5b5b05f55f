// Package result normalizes the analysis service's loosely-typed response
// into the null-safe view model. Pure functions, no I/O.
package result

import (
	"encoding/json"
	"fmt"

	"stepcount-be/internal/model"
	"stepcount-be/pkg/faults"
)

// Normalize validates the raw response envelope and maps every category to
// an explicit present/absent summary. An absent category is not an error;
// a payload that is not an object or lacks the mandatory success/results
// keys is ErrResultMalformed.
func Normalize(raw []byte) (*model.ResultView, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object", faults.ErrResultMalformed)
	}

	successRaw, ok := top["success"]
	if !ok {
		return nil, fmt.Errorf("%w: missing success key", faults.ErrResultMalformed)
	}
	var success bool
	if err := json.Unmarshal(successRaw, &success); err != nil {
		return nil, fmt.Errorf("%w: success is not a bool", faults.ErrResultMalformed)
	}
	resultsRaw, ok := top["results"]
	if !ok {
		return nil, fmt.Errorf("%w: missing results key", faults.ErrResultMalformed)
	}

	view := &model.ResultView{
		Message:        stringField(top, "message"),
		ProcessingTime: metricFromRaw(top["processing_time"]),
	}
	if filesRaw, ok := top["output_files"]; ok {
		var files map[string]string
		if err := json.Unmarshal(filesRaw, &files); err == nil {
			view.OutputFiles = files
		}
	}

	// results may be null on a failed run; every category then reports
	// "no data" rather than raising.
	var results map[string]json.RawMessage
	if err := json.Unmarshal(resultsRaw, &results); err != nil && !isNull(resultsRaw) {
		return nil, fmt.Errorf("%w: results is not an object", faults.ErrResultMalformed)
	}

	view.Steps = category(results, "steps_summary")
	view.StepsAdjusted = category(results, "steps_summary_adjusted")
	view.Cadence = category(results, "cadence_summary")
	view.CadenceAdjusted = category(results, "cadence_summary_adjusted")
	view.Enmo = category(results, "enmo_summary")
	view.EnmoAdjusted = category(results, "enmo_summary_adjusted")
	view.Bouts = category(results, "bouts_summary")
	view.Wear = category(results, "wear_stats")

	view.TotalSteps = metricFromRaw(results["total_steps"])
	view.TotalWalkingMinutes = metricFromRaw(results["total_walking_minutes"])
	view.AverageDailySteps = metricFromRaw(results["average_daily_steps"])
	view.SampleRate = metricFromRaw(results["sample_rate"])
	view.DataDurationHours = metricFromRaw(results["data_duration_hours"])

	return view, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 4 && string(raw) == "null"
}

func stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// metricFromRaw keeps the raw numeric value and flags absence; a missing or
// non-numeric field is Valid=false, distinguishable from present-but-zero.
func metricFromRaw(raw json.RawMessage) model.Metric {
	if raw == nil || isNull(raw) {
		return model.Metric{}
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.Metric{}
	}
	return model.Metric{Value: v, Valid: true}
}

func category(results map[string]json.RawMessage, key string) model.CategorySummary {
	raw, ok := results[key]
	if !ok || isNull(raw) {
		return model.CategorySummary{}
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return model.CategorySummary{}
	}
	return model.CategorySummary{Present: true, Values: values}
}
