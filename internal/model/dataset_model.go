package model

import "time"

// Sample is one tri-axial accelerometer reading.
type Sample struct {
	Time time.Time `json:"time"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Z    float64   `json:"z"`
}

// Dataset is an extracted recording. Samples are in strictly increasing
// timestamp order; once a dataset has been handed out by the extraction
// controller it is never mutated.
type Dataset struct {
	ID             string   `json:"id"`
	SourceDeviceID string   `json:"source_device_id"`
	SampleRate     float64  `json:"sample_rate"`
	Samples        []Sample `json:"-"`
}

// Empty reports whether the dataset has no samples. Empty datasets are not
// eligible for submission.
func (d *Dataset) Empty() bool {
	return d == nil || len(d.Samples) == 0
}

// Duration spans first to last sample.
func (d *Dataset) Duration() time.Duration {
	if d.Empty() {
		return 0
	}
	return d.Samples[len(d.Samples)-1].Time.Sub(d.Samples[0].Time)
}
