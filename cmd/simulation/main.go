package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/fatih/color"
)

const (
	baseURL    = "http://localhost:3000/api"
	operatorID = "sim-operator"
	patientID  = "PAT-0001"
)

// Simplified DTOs for the script
type workflowSnapshot struct {
	ID            string  `json:"id"`
	State         string  `json:"state"`
	PatientName   string  `json:"patient_name"`
	DeviceID      string  `json:"device_id"`
	SampleCount   int     `json:"sample_count"`
	SampleRate    float64 `json:"sample_rate"`
	JobID         string  `json:"job_id"`
	FailureReason string  `json:"failure_reason"`
}

type resultView struct {
	TotalSteps          any     `json:"total_steps"`
	TotalWalkingMinutes any     `json:"total_walking_minutes"`
	AverageDailySteps   any     `json:"average_daily_steps"`
	DataDurationHours   any     `json:"data_duration_hours"`
	ProcessingTime      float64 `json:"processing_time"`
	Message             string  `json:"message"`
}

var (
	stepColor = color.New(color.FgCyan, color.Bold)
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed, color.Bold)
)

func main() {
	fmt.Println("=== Step-Count Acquisition Simulation Client ===")
	fmt.Printf("Operator: %s  Patient: %s\n", operatorID, patientID)

	var snap workflowSnapshot
	if err := post("/workflow/start", map[string]string{"operator_id": operatorID}, &snap); err != nil {
		log.Fatalf("Failed to start workflow: %v", err)
	}
	okColor.Printf("Workflow created: %s (state=%s)\n", snap.ID, snap.State)
	wfID := snap.ID

	steps := []struct {
		name string
		path string
		body any
	}{
		{"Bind patient", "/workflow/" + wfID + "/bind-patient", map[string]string{"patient_id": patientID}},
		{"Configure device", "/workflow/" + wfID + "/configure-device", map[string]string{}},
		{"Extract dataset", "/workflow/" + wfID + "/extract", nil},
		{"Submit for analysis", "/workflow/" + wfID + "/submit", map[string]string{"model_type": "rf"}},
	}

	for _, s := range steps {
		stepColor.Printf("\n>> %s\n", s.name)
		start := time.Now()
		if err := post(s.path, s.body, &snap); err != nil {
			errColor.Printf("   failed: %v\n", err)
			return
		}
		okColor.Printf("   state=%s", snap.State)
		if snap.DeviceID != "" {
			fmt.Printf("  device=%s", snap.DeviceID)
		}
		if snap.SampleCount > 0 {
			fmt.Printf("  samples=%d @ %.0f Hz", snap.SampleCount, snap.SampleRate)
		}
		if snap.JobID != "" {
			fmt.Printf("  job=%s", snap.JobID)
		}
		fmt.Printf("  (%s)\n", time.Since(start).Round(time.Millisecond))
	}

	stepColor.Println("\n>> Awaiting analysis result")
	deadline := time.Now().Add(6 * time.Minute)
	for {
		if err := get("/workflow/"+wfID, &snap); err != nil {
			log.Fatalf("Poll failed: %v", err)
		}
		if snap.State == "completed" {
			break
		}
		if snap.State == "failed" {
			errColor.Printf("Workflow failed: %s\n", snap.FailureReason)
			return
		}
		if time.Now().After(deadline) {
			errColor.Println("Timed out waiting for completion")
			return
		}
		time.Sleep(2 * time.Second)
	}

	var res resultView
	if err := get("/workflow/"+wfID+"/result", &res); err != nil {
		log.Fatalf("Failed to fetch result: %v", err)
	}
	okColor.Println("\n=== Analysis Complete ===")
	fmt.Printf("Total steps:          %v\n", res.TotalSteps)
	fmt.Printf("Walking minutes:      %v\n", res.TotalWalkingMinutes)
	fmt.Printf("Average daily steps:  %v\n", res.AverageDailySteps)
	fmt.Printf("Data duration (h):    %v\n", res.DataDurationHours)
	fmt.Printf("Processing time (s):  %.2f\n", res.ProcessingTime)
}

func post(path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, out)
}

func get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
