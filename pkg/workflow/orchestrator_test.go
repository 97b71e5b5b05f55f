package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepcount-be/internal/model"
	"stepcount-be/internal/pkg/logger"
	"stepcount-be/pkg/device"
	"stepcount-be/pkg/extraction"
	"stepcount-be/pkg/faults"
	"stepcount-be/pkg/patientdir"
	"stepcount-be/pkg/processing"
	"stepcount-be/pkg/transport"
)

type fixture struct {
	orch     *Orchestrator
	devices  *device.Manager
	analysis *httptest.Server
	patients *httptest.Server
}

// newFixture wires a full in-process pipeline: simulated transport, real
// device manager and extraction controller, and httptest stand-ins for the
// analysis service and the patient directory.
func newFixture(t *testing.T, simCfg transport.SimulatedConfig, analysisHandler http.HandlerFunc) *fixture {
	t.Helper()
	log := logger.NewNopLogger()

	analysis := httptest.NewServer(analysisHandler)
	t.Cleanup(analysis.Close)

	patients := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/patients/PAT-404":
			http.NotFound(w, r)
		case len(r.URL.Path) > len("/patients/") && r.URL.Path[:10] == "/patients/":
			id := r.URL.Path[10:]
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id": %q, "nom": "Durand", "prenom": "Claire", "age": 67, "sexe": "F"}`, id)
		case r.URL.Path == "/accelerometer/configure":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id": "ACC-CFG-1", "patient_id": "PAT-1", "status": "configured"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(patients.Close)

	mgr := device.NewManager(transport.NewSimulated(simCfg), log)
	extractor := extraction.NewController(extraction.Config{ChunkSize: 8 * 1024, ChunkDeadline: time.Second}, log)
	policy := processing.RetryPolicy{MaxAttempts: 2, WaitTime: 10 * time.Millisecond, MaxWaitTime: 20 * time.Millisecond, RequestTimeout: 2 * time.Second}
	processor := processing.NewClient(analysis.URL, policy, nil, log)
	patientsClient := patientdir.NewClient(patients.URL, time.Second, log)

	return &fixture{
		orch:     NewOrchestrator(mgr, extractor, processor, patientsClient, nil, log),
		devices:  mgr,
		analysis: analysis,
		patients: patients,
	}
}

func okAnalysis(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"success": true, "message": "ok", "processing_time": 0.5,
		"results": {"total_steps": 777, "steps_summary": {"total": 777}, "wear_stats": {"wear_hours": 10}}}`)
}

func runToSubmitted(t *testing.T, f *fixture) *Snapshot {
	t.Helper()
	ctx := context.Background()

	snap := f.orch.Start("op-1")
	require.Equal(t, model.WorkflowIdle, snap.State)

	snap, err := f.orch.BindPatient(ctx, snap.ID, "PAT-1")
	require.NoError(t, err)
	require.Equal(t, model.WorkflowPatientBound, snap.State)
	assert.Equal(t, "Claire Durand", snap.PatientName)

	snap, err = f.orch.ConfigureDevice(ctx, snap.ID, "")
	require.NoError(t, err)
	require.Equal(t, model.WorkflowDeviceConfigured, snap.State)
	assert.Equal(t, "SIM-ACC-001", snap.DeviceID)
	assert.Equal(t, "ACC-CFG-1", snap.AccelerometerID)

	snap, err = f.orch.Extract(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkflowExtracted, snap.State)
	assert.NotZero(t, snap.SampleCount)

	snap, err = f.orch.Submit(ctx, snap.ID, processing.ModelRandomForest, processing.SubmitOptions{})
	require.NoError(t, err)
	require.Equal(t, model.WorkflowSubmitted, snap.State)
	require.NotEmpty(t, snap.JobID)
	return snap
}

func awaitState(t *testing.T, o *Orchestrator, contextID string, want model.WorkflowState) *Snapshot {
	t.Helper()
	var snap *Snapshot
	require.Eventually(t, func() bool {
		s, err := o.Get(contextID)
		if err != nil {
			return false
		}
		snap = s
		return s.State == want
	}, 5*time.Second, 20*time.Millisecond, "workflow never reached %s", want)
	return snap
}

func TestWorkflowHappyPath(t *testing.T) {
	simCfg := transport.DefaultSimulatedConfig()
	simCfg.SampleCount = 200
	f := newFixture(t, simCfg, okAnalysis)

	snap := runToSubmitted(t, f)
	snap = awaitState(t, f.orch, snap.ID, model.WorkflowCompleted)
	assert.Empty(t, snap.FailureReason)

	view, err := f.orch.Result(snap.ID)
	require.NoError(t, err)
	assert.True(t, view.TotalSteps.Valid)
	assert.Equal(t, float64(777), view.TotalSteps.Value)
	assert.True(t, view.Wear.Present)
	assert.False(t, view.Cadence.Present)

	// Completion released the device: it can be claimed again.
	devices, err := f.devices.Discover(context.Background())
	require.NoError(t, err)
	sess, err := f.devices.Open(context.Background(), devices[0].Descriptor)
	require.NoError(t, err)
	sess.Close()
}

func TestWorkflowStepOrderEnforced(t *testing.T) {
	f := newFixture(t, transport.DefaultSimulatedConfig(), okAnalysis)
	ctx := context.Background()

	snap := f.orch.Start("op-1")

	_, err := f.orch.Extract(ctx, snap.ID)
	assert.ErrorIs(t, err, faults.ErrInvalidTransition)

	_, err = f.orch.Submit(ctx, snap.ID, processing.ModelRandomForest, processing.SubmitOptions{})
	assert.ErrorIs(t, err, faults.ErrInvalidTransition)

	_, err = f.orch.Result(snap.ID)
	assert.ErrorIs(t, err, faults.ErrInvalidTransition)

	// Guard rejections are not failures: the context stays where it was.
	got, err := f.orch.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowIdle, got.State)
}

func TestWorkflowUnknownPatientFails(t *testing.T) {
	f := newFixture(t, transport.DefaultSimulatedConfig(), okAnalysis)

	snap := f.orch.Start("op-1")
	_, err := f.orch.BindPatient(context.Background(), snap.ID, "PAT-404")
	require.ErrorIs(t, err, faults.ErrPatientNotFound)

	got, err := f.orch.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowFailed, got.State)
	assert.Contains(t, got.FailureReason, "patient not found")
}

func TestWorkflowExtractionFailureReleasesDevice(t *testing.T) {
	simCfg := transport.DefaultSimulatedConfig()
	simCfg.SampleCount = 100
	simCfg.CorruptRecordAt = 40
	f := newFixture(t, simCfg, okAnalysis)
	ctx := context.Background()

	snap := f.orch.Start("op-1")
	snap, err := f.orch.BindPatient(ctx, snap.ID, "PAT-1")
	require.NoError(t, err)
	snap, err = f.orch.ConfigureDevice(ctx, snap.ID, "")
	require.NoError(t, err)

	_, err = f.orch.Extract(ctx, snap.ID)
	require.ErrorIs(t, err, faults.ErrProtocolError)

	got, err := f.orch.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowFailed, got.State)

	// The failed workflow must not keep the device claimed.
	devices, err := f.devices.Discover(ctx)
	require.NoError(t, err)
	sess, err := f.devices.Open(ctx, devices[0].Descriptor)
	require.NoError(t, err)
	sess.Close()
}

func TestWorkflowRemoteFailure(t *testing.T) {
	simCfg := transport.DefaultSimulatedConfig()
	simCfg.SampleCount = 100
	f := newFixture(t, simCfg, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success": false, "message": "No valid accelerometer data found", "results": null}`)
	})

	snap := runToSubmitted(t, f)
	snap = awaitState(t, f.orch, snap.ID, model.WorkflowFailed)
	assert.Contains(t, snap.FailureReason, "No valid accelerometer data found")
}

func TestWorkflowMalformedResultFails(t *testing.T) {
	simCfg := transport.DefaultSimulatedConfig()
	simCfg.SampleCount = 100
	f := newFixture(t, simCfg, func(w http.ResponseWriter, r *http.Request) {
		// success with no results key: schema violation at the boundary.
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success": true}`)
	})

	snap := runToSubmitted(t, f)
	snap = awaitState(t, f.orch, snap.ID, model.WorkflowFailed)
	assert.Contains(t, snap.FailureReason, "malformed analysis response")
}

func TestWorkflowCancel(t *testing.T) {
	release := make(chan struct{})
	simCfg := transport.DefaultSimulatedConfig()
	simCfg.SampleCount = 100
	f := newFixture(t, simCfg, func(w http.ResponseWriter, r *http.Request) {
		<-release
		okAnalysis(w, r)
	})
	t.Cleanup(func() { close(release) })

	snap := runToSubmitted(t, f)

	snap, err := f.orch.Cancel(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowFailed, snap.State)
	assert.Equal(t, faults.ErrUserCancelled.Error(), snap.FailureReason)

	// A second cancel of an already-cancelled workflow is idempotent.
	again, err := f.orch.Cancel(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowFailed, again.State)

	// Cancellation released the device.
	devices, err := f.devices.Discover(context.Background())
	require.NoError(t, err)
	sess, err := f.devices.Open(context.Background(), devices[0].Descriptor)
	require.NoError(t, err)
	sess.Close()
}

func TestWorkflowCancelDuringExtraction(t *testing.T) {
	simCfg := transport.DefaultSimulatedConfig()
	simCfg.SampleCount = 100
	simCfg.StallAfterChunks = 1
	f := newFixture(t, simCfg, okAnalysis)
	ctx := context.Background()

	snap := f.orch.Start("op-1")
	snap, err := f.orch.BindPatient(ctx, snap.ID, "PAT-1")
	require.NoError(t, err)
	snap, err = f.orch.ConfigureDevice(ctx, snap.ID, "")
	require.NoError(t, err)

	extractErr := make(chan error, 1)
	go func() {
		_, err := f.orch.Extract(ctx, snap.ID)
		extractErr <- err
	}()
	time.Sleep(100 * time.Millisecond) // let the extraction reach the stall

	// Cancel must not wait out the stalled read's deadline.
	start := time.Now()
	got, err := f.orch.Cancel(snap.ID)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, model.WorkflowFailed, got.State)
	assert.Equal(t, faults.ErrUserCancelled.Error(), got.FailureReason)

	select {
	case err := <-extractErr:
		assert.ErrorIs(t, err, faults.ErrUserCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("extraction never unwound after cancel")
	}

	// Cancellation released the device claim.
	devices, err := f.devices.Discover(ctx)
	require.NoError(t, err)
	sess, err := f.devices.Open(ctx, devices[0].Descriptor)
	require.NoError(t, err)
	sess.Close()
}

func TestWorkflowReset(t *testing.T) {
	simCfg := transport.DefaultSimulatedConfig()
	simCfg.SampleCount = 100
	f := newFixture(t, simCfg, okAnalysis)

	snap := runToSubmitted(t, f)
	snap = awaitState(t, f.orch, snap.ID, model.WorkflowCompleted)

	// Completed is terminal for cancellation purposes too.
	_, err := f.orch.Cancel(snap.ID)
	assert.ErrorIs(t, err, faults.ErrInvalidTransition)

	// Reset requires a terminal state; completed qualifies.
	snap, err = f.orch.Reset(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowIdle, snap.State)
	assert.Empty(t, snap.PatientID)
	assert.Empty(t, snap.DatasetID)
	assert.Empty(t, snap.JobID)
	assert.Empty(t, snap.FailureReason)

	// The reset context runs the whole pipeline again.
	ctx := context.Background()
	snap, err = f.orch.BindPatient(ctx, snap.ID, "PAT-2")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowPatientBound, snap.State)
}

func TestWorkflowResetRequiresTerminal(t *testing.T) {
	f := newFixture(t, transport.DefaultSimulatedConfig(), okAnalysis)
	snap := f.orch.Start("op-1")

	_, err := f.orch.Reset(snap.ID)
	assert.ErrorIs(t, err, faults.ErrInvalidTransition)
}

func TestWorkflowOperatorReplacement(t *testing.T) {
	simCfg := transport.DefaultSimulatedConfig()
	simCfg.SampleCount = 100
	f := newFixture(t, simCfg, okAnalysis)
	ctx := context.Background()

	first := f.orch.Start("op-1")
	_, err := f.orch.BindPatient(ctx, first.ID, "PAT-1")
	require.NoError(t, err)
	_, err = f.orch.ConfigureDevice(ctx, first.ID, "")
	require.NoError(t, err)

	// Starting again for the same operator tears the old context down,
	// including its device claim.
	second := f.orch.Start("op-1")
	assert.NotEqual(t, first.ID, second.ID)

	_, err = f.orch.Get(first.ID)
	assert.Error(t, err, "replaced context must be gone")

	devices, err := f.devices.Discover(ctx)
	require.NoError(t, err)
	sess, err := f.devices.Open(ctx, devices[0].Descriptor)
	require.NoError(t, err, "replaced context must have released the device")
	sess.Close()
}

func TestWorkflowUnknownDevice(t *testing.T) {
	f := newFixture(t, transport.DefaultSimulatedConfig(), okAnalysis)
	ctx := context.Background()

	snap := f.orch.Start("op-1")
	snap, err := f.orch.BindPatient(ctx, snap.ID, "PAT-1")
	require.NoError(t, err)

	_, err = f.orch.ConfigureDevice(ctx, snap.ID, "GHOST-99")
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrDeviceNotFound))
}

func TestWorkflowUnknownContext(t *testing.T) {
	f := newFixture(t, transport.DefaultSimulatedConfig(), okAnalysis)
	_, err := f.orch.Get("nope")
	assert.Error(t, err)
}
