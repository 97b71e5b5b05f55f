package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"stepcount-be/internal/model"
	"stepcount-be/internal/pkg/logger"
	"stepcount-be/pkg/device"
	"stepcount-be/pkg/extraction"
	"stepcount-be/pkg/faults"
	"stepcount-be/pkg/patientdir"
	"stepcount-be/pkg/processing"
	"stepcount-be/pkg/result"
	"stepcount-be/pkg/transport"
)

type IOrchestrator interface {
	Start(operatorID string) *Snapshot
	Get(contextID string) (*Snapshot, error)
	BindPatient(ctx context.Context, contextID, patientID string) (*Snapshot, error)
	ConfigureDevice(ctx context.Context, contextID, deviceID string) (*Snapshot, error)
	Extract(ctx context.Context, contextID string) (*Snapshot, error)
	Submit(ctx context.Context, contextID, modelType string, opts processing.SubmitOptions) (*Snapshot, error)
	Result(contextID string) (*model.ResultView, error)
	Cancel(contextID string) (*Snapshot, error)
	Reset(contextID string) (*Snapshot, error)
}

// Orchestrator sequences patient binding, device configuration, extraction,
// submission and completion. It owns every live WorkflowContext; steps for
// one context run strictly sequentially, and every failure releases the
// device before the state goes to failed.
type Orchestrator struct {
	devices   device.IManager
	extractor extraction.IController
	processor processing.IClient
	patients  patientdir.IClient
	pubSub    *gochannel.GoChannel
	log       logger.ILogger

	mu         sync.Mutex
	byID       map[string]*entry
	byOperator map[string]*entry
}

type entry struct {
	mu  sync.Mutex // serializes steps for this context
	ctx *Context
}

func NewOrchestrator(
	devices device.IManager,
	extractor extraction.IController,
	processor processing.IClient,
	patients patientdir.IClient,
	pubSub *gochannel.GoChannel,
	log logger.ILogger,
) *Orchestrator {
	return &Orchestrator{
		devices:    devices,
		extractor:  extractor,
		processor:  processor,
		patients:   patients,
		pubSub:     pubSub,
		log:        log,
		byID:       make(map[string]*entry),
		byOperator: make(map[string]*entry),
	}
}

// Start creates the operator's workflow context. An operator has exactly
// one live context: starting again cancels and replaces the previous one.
func (o *Orchestrator) Start(operatorID string) *Snapshot {
	o.mu.Lock()
	prev := o.byOperator[operatorID]
	o.mu.Unlock()
	if prev != nil {
		o.teardown(prev)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Context{
		ID:         uuid.NewString(),
		OperatorID: operatorID,
		State:      model.WorkflowIdle,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		runCtx:     runCtx,
		cancel:     cancel,
	}
	e := &entry{ctx: c}

	o.mu.Lock()
	o.byID[c.ID] = e
	o.byOperator[operatorID] = e
	o.mu.Unlock()

	o.log.Info("Workflow", "Context started", map[string]interface{}{
		"context_id": c.ID, "operator_id": operatorID,
	})
	o.publish(Event{ContextID: c.ID, State: c.State})
	return c.snapshot()
}

func (o *Orchestrator) lookup(contextID string) (*entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.byID[contextID]
	if !ok {
		return nil, fmt.Errorf("unknown workflow context %s", contextID)
	}
	return e, nil
}

func (o *Orchestrator) Get(contextID string) (*Snapshot, error) {
	e, err := o.lookup(contextID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx.snapshot(), nil
}

// BindPatient: idle -> patient_bound.
func (o *Orchestrator) BindPatient(ctx context.Context, contextID, patientID string) (*Snapshot, error) {
	return o.step(ctx, contextID, model.WorkflowIdle, model.WorkflowPatientBound, func(ctx context.Context, c *Context) error {
		patient, err := o.patients.GetPatient(ctx, patientID)
		if err != nil {
			return err
		}
		c.Patient = patient
		return nil
	})
}

// ConfigureDevice: patient_bound -> device_configured. Requires a bound
// patient; discovers (or authorizes) the device, opens the exclusive
// session and registers the configuration with the patient directory.
func (o *Orchestrator) ConfigureDevice(ctx context.Context, contextID, deviceID string) (*Snapshot, error) {
	return o.step(ctx, contextID, model.WorkflowPatientBound, model.WorkflowDeviceConfigured, func(ctx context.Context, c *Context) error {
		desc, err := o.resolveDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		sess, err := o.devices.Open(ctx, desc)
		if err != nil {
			return err
		}
		cfg, err := o.patients.ConfigureAccelerometer(ctx, c.Patient.ID)
		if err != nil {
			sess.Close()
			return err
		}
		c.session = sess
		c.AccelerometerID = cfg.ID
		return nil
	})
}

func (o *Orchestrator) resolveDevice(ctx context.Context, deviceID string) (model.DeviceDescriptor, error) {
	devices, err := o.devices.Discover(ctx)
	if err != nil {
		return model.DeviceDescriptor{}, err
	}
	if deviceID == "" {
		if len(devices) > 0 {
			return devices[0].Descriptor, nil
		}
		// Nothing previously authorized: fall back to the explicit grant.
		return o.devices.Authorize(ctx, transport.Filter{})
	}
	for _, d := range devices {
		if d.Descriptor.ID == deviceID {
			return d.Descriptor, nil
		}
	}
	return model.DeviceDescriptor{}, fmt.Errorf("%w: %s", faults.ErrDeviceNotFound, deviceID)
}

// Extract: device_configured -> extracted. Requires the open handle.
func (o *Orchestrator) Extract(ctx context.Context, contextID string) (*Snapshot, error) {
	return o.step(ctx, contextID, model.WorkflowDeviceConfigured, model.WorkflowExtracted, func(ctx context.Context, c *Context) error {
		if c.session == nil || c.session.Handle() == nil {
			return fmt.Errorf("%w: no open device session", faults.ErrDeviceNotFound)
		}
		id := c.ID
		ds, err := o.extractor.ExtractWithProgress(ctx, c.session, func(samples int) {
			o.publish(Event{ContextID: id, State: model.WorkflowDeviceConfigured, Detail: "extracting", SampleCount: samples})
		})
		if err != nil {
			return err
		}
		c.Dataset = ds
		return nil
	})
}

// Submit: extracted -> submitted. Requires a non-empty dataset. The job
// then runs detached; a watcher drives submitted -> completed/failed.
func (o *Orchestrator) Submit(ctx context.Context, contextID, modelType string, opts processing.SubmitOptions) (*Snapshot, error) {
	snap, err := o.step(ctx, contextID, model.WorkflowExtracted, model.WorkflowSubmitted, func(ctx context.Context, c *Context) error {
		if c.Dataset.Empty() {
			return fmt.Errorf("%w: dataset is empty", faults.ErrValidationError)
		}
		job, err := o.processor.Submit(ctx, c.Dataset, modelType, opts)
		if err != nil {
			return err
		}
		c.JobID = job.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	e, lerr := o.lookup(contextID)
	if lerr == nil {
		go o.watch(e)
	}
	return snap, nil
}

// watch awaits the job's terminal state and finishes the workflow. Runs on
// the context's cancellation token, not a request context.
func (o *Orchestrator) watch(e *entry) {
	e.mu.Lock()
	c := e.ctx
	jobID := c.JobID
	e.mu.Unlock()

	job, err := o.processor.AwaitCompletion(c.token(), jobID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if c.State != model.WorkflowSubmitted || c.JobID != jobID {
		// Cancelled or reset while waiting; nothing left to finish.
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
		// The token tripped while waiting; record the cancellation so a
		// racing Cancel call sees its own outcome.
		o.fail(c, faults.ErrUserCancelled)
	case err != nil:
		o.fail(c, fmt.Errorf("awaiting job %s: %w", jobID, err))
	case job.Status == model.JobStatusCompleted:
		view, nerr := result.Normalize(job.RawResponse)
		if nerr != nil {
			o.fail(c, nerr)
			return
		}
		c.view = view
		c.State = model.WorkflowCompleted
		c.UpdatedAt = time.Now()
		c.releaseDevice()
		o.log.Info("Workflow", "Workflow completed", map[string]interface{}{
			"context_id": c.ID, "job_id": jobID,
		})
		ev := Event{ContextID: c.ID, State: c.State, JobID: jobID, TotalSteps: view.TotalSteps.Value}
		if c.Patient != nil {
			ev.PatientID = c.Patient.ID
		}
		o.publish(ev)
	default:
		o.fail(c, errors.New(job.Error))
	}
}

// Result returns the normalized view model; completed contexts only.
func (o *Orchestrator) Result(contextID string) (*model.ResultView, error) {
	e, err := o.lookup(contextID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.State != model.WorkflowCompleted {
		return nil, fmt.Errorf("%w: workflow is %s, not completed", faults.ErrInvalidTransition, e.ctx.State)
	}
	return e.ctx.view, nil
}

// Cancel is accepted in any non-terminal state. It releases the device and
// drops in-flight job tracking without waiting for the remote request.
func (o *Orchestrator) Cancel(contextID string) (*Snapshot, error) {
	e, err := o.lookup(contextID)
	if err != nil {
		return nil, err
	}

	// Trip the token before taking the entry lock: an in-flight step holds
	// that lock until its suspension point unwinds, and unwinding is
	// exactly what the token triggers.
	e.ctx.cancelRun()

	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.ctx
	if c.State.Terminal() {
		if c.State == model.WorkflowFailed && c.FailureReason == faults.ErrUserCancelled.Error() {
			// The step we interrupted already failed the workflow on our
			// behalf; report success rather than a bogus transition error.
			return c.snapshot(), nil
		}
		return nil, fmt.Errorf("%w: cannot cancel a %s workflow", faults.ErrInvalidTransition, c.State)
	}
	if c.Dataset != nil {
		o.processor.Forget(c.Dataset.ID)
	}
	o.fail(c, faults.ErrUserCancelled)
	return c.snapshot(), nil
}

// Reset returns a terminal context to idle, discarding everything the
// session accumulated.
func (o *Orchestrator) Reset(contextID string) (*Snapshot, error) {
	e, err := o.lookup(contextID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.ctx
	if !c.State.Terminal() {
		return nil, fmt.Errorf("%w: reset requires a terminal state, got %s", faults.ErrInvalidTransition, c.State)
	}
	c.releaseDevice()
	c.renewToken()
	c.Patient = nil
	c.AccelerometerID = ""
	c.Dataset = nil
	c.JobID = ""
	c.view = nil
	c.FailureReason = ""
	c.State = model.WorkflowIdle
	c.UpdatedAt = time.Now()
	o.publish(Event{ContextID: c.ID, State: c.State})
	return c.snapshot(), nil
}

// step runs one guarded transition. The entry lock is held for the whole
// step, so steps for one context never overlap; the suspension point runs
// on a context that ends when either the caller gives up or the workflow
// token is cancelled.
func (o *Orchestrator) step(
	ctx context.Context,
	contextID string,
	from, to model.WorkflowState,
	fn func(ctx context.Context, c *Context) error,
) (*Snapshot, error) {
	e, err := o.lookup(contextID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.ctx

	run := c.token()
	if run.Err() != nil {
		return nil, fmt.Errorf("workflow cancelled: %w", faults.ErrUserCancelled)
	}
	if c.State != from {
		return nil, fmt.Errorf("%w: %s requires state %s, got %s", faults.ErrInvalidTransition, to, from, c.State)
	}

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(run, cancel)
	defer stop()

	if err := fn(stepCtx, c); err != nil {
		if run.Err() != nil {
			// The token interrupted the step; report the cancellation, not
			// whatever error the aborted suspension point surfaced.
			err = faults.ErrUserCancelled
		}
		o.fail(c, err)
		return nil, err
	}

	c.State = to
	c.UpdatedAt = time.Now()
	o.publish(Event{ContextID: c.ID, State: c.State})
	return c.snapshot(), nil
}

// fail releases resources and records the original cause verbatim. The
// orchestrator never translates errors, it only cleans up and transitions.
func (o *Orchestrator) fail(c *Context, cause error) {
	c.releaseDevice()
	c.State = model.WorkflowFailed
	c.FailureReason = cause.Error()
	c.UpdatedAt = time.Now()
	o.log.Warn("Workflow", "Workflow failed", map[string]interface{}{
		"context_id": c.ID, "reason": c.FailureReason,
	})
	o.publish(Event{ContextID: c.ID, State: c.State, Detail: c.FailureReason})
}

func (o *Orchestrator) teardown(e *entry) {
	e.ctx.cancelRun()

	e.mu.Lock()
	c := e.ctx
	c.releaseDevice()
	if c.Dataset != nil {
		o.processor.Forget(c.Dataset.ID)
	}
	e.mu.Unlock()

	o.mu.Lock()
	delete(o.byID, c.ID)
	if cur, ok := o.byOperator[c.OperatorID]; ok && cur == e {
		delete(o.byOperator, c.OperatorID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) publish(ev Event) {
	if o.pubSub == nil {
		return
	}
	if err := o.pubSub.Publish(TopicWorkflowEvents, newEventMessage(ev)); err != nil {
		o.log.Error("Workflow", "Failed to publish event", map[string]interface{}{
			"context_id": ev.ContextID, "error": err.Error(),
		})
	}
}
