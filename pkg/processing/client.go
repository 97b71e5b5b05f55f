package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"stepcount-be/internal/model"
	"stepcount-be/internal/pkg/logger"
	"stepcount-be/pkg/faults"
)

// Model types the analysis service accepts.
const (
	ModelRandomForest = "rf"
	ModelSSL          = "ssl"
)

// SubmitOptions are the analysis tuning parameters. Zero values mean "use
// the service default"; only overrides go on the wire.
type SubmitOptions struct {
	SampleRate       int     `json:"sample_rate,omitempty"`
	MinWearPerDay    float64 `json:"min_wear_per_day,omitempty"`
	MinWearPerHour   float64 `json:"min_wear_per_hour,omitempty"`
	MinWearPerMinute float64 `json:"min_wear_per_minute,omitempty"`
	MinWalkPerDay    float64 `json:"min_walk_per_day,omitempty"`
	BoutsMinWalk     float64 `json:"bouts_min_walk,omitempty"`
	BoutsMaxIdle     int     `json:"bouts_max_idle,omitempty"`
	StartTime        string  `json:"start_time,omitempty"`
	EndTime          string  `json:"end_time,omitempty"`
}

// processingResponse is the remote envelope, schema-checked at the boundary.
type processingResponse struct {
	Success        bool              `json:"success"`
	Message        string            `json:"message"`
	ProcessingTime float64           `json:"processing_time"`
	Results        json.RawMessage   `json:"results"`
	OutputFiles    map[string]string `json:"output_files"`
}

type IClient interface {
	Submit(ctx context.Context, dataset *model.Dataset, modelType string, opts SubmitOptions) (*model.ProcessingJob, error)
	Job(id string) (*model.ProcessingJob, bool)
	AwaitCompletion(ctx context.Context, jobID string) (*model.ProcessingJob, error)
	Forget(datasetID string)
	Healthy(ctx context.Context) bool
}

// Client submits datasets to the remote step-counting service with a single
// in-flight job per dataset, an extended timeout and bounded retry on
// transport failure only. Every job transition is published on the
// in-process bus.
type Client struct {
	http   *resty.Client
	policy RetryPolicy
	pubSub *gochannel.GoChannel
	log    logger.ILogger

	mu        sync.Mutex
	jobs      map[string]*jobEntry // by job id
	byDataset map[string]*jobEntry
}

type jobEntry struct {
	job  *model.ProcessingJob
	done chan struct{}
}

func NewClient(baseURL string, policy RetryPolicy, pubSub *gochannel.GoChannel, log logger.ILogger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(policy.RequestTimeout)

	return &Client{
		http:      httpClient,
		policy:    policy,
		pubSub:    pubSub,
		log:       log,
		jobs:      make(map[string]*jobEntry),
		byDataset: make(map[string]*jobEntry),
	}
}

// Submit registers a job for the dataset and starts the remote call. A
// second Submit for a dataset whose job is still pending or submitted is
// idempotent: the existing job is returned and no second request goes out.
func (c *Client) Submit(ctx context.Context, dataset *model.Dataset, modelType string, opts SubmitOptions) (*model.ProcessingJob, error) {
	if dataset.Empty() {
		return nil, fmt.Errorf("%w: empty dataset", faults.ErrValidationError)
	}
	if modelType != ModelRandomForest && modelType != ModelSSL {
		return nil, fmt.Errorf("%w: unknown model type %q", faults.ErrValidationError, modelType)
	}

	c.mu.Lock()
	if e, ok := c.byDataset[dataset.ID]; ok && !e.job.IsDone() {
		job := snapshot(e.job)
		c.mu.Unlock()
		return job, nil
	}
	entry := &jobEntry{
		job: &model.ProcessingJob{
			ID:          uuid.NewString(),
			DatasetID:   dataset.ID,
			ModelType:   modelType,
			Status:      model.JobStatusPending,
			SubmittedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	c.jobs[entry.job.ID] = entry
	c.byDataset[dataset.ID] = entry
	c.mu.Unlock()

	c.publish(entry.job)

	// The remote call runs detached from the workflow context: cancelling
	// the workflow only stops watching, the server-side computation is not
	// guaranteed cancelled either way.
	go c.run(entry, dataset, modelType, opts)

	return snapshot(entry.job), nil
}

func (c *Client) run(entry *jobEntry, dataset *model.Dataset, modelType string, opts SubmitOptions) {
	c.transition(entry, model.JobStatusSubmitted, "", nil)

	payload := renderCSV(dataset)
	form := map[string]string{"model_type": modelType}
	addOptions(form, opts)

	start := time.Now()
	c.log.Info("Processing", "Submitting dataset", map[string]interface{}{
		"job_id":     entry.job.ID,
		"dataset_id": dataset.ID,
		"model_type": modelType,
		"samples":    len(dataset.Samples),
		"bytes":      payload.Len(),
	})

	// The attempt loop lives here, not in resty's built-in retry: each
	// attempt needs a fresh body reader, or a retried request would carry
	// an already-exhausted multipart stream.
	var (
		envelope processingResponse
		resp     *resty.Response
		err      error
	)
	wait := c.policy.WaitTime
	for attempt := 1; ; attempt++ {
		envelope = processingResponse{}
		resp, err = c.http.R().
			SetFileReader("file", "dataset.csv", bytes.NewReader(payload.Bytes())).
			SetFormData(form).
			SetResult(&envelope).
			SetError(&envelope).
			Post("/upload-csv")

		// Retry only when no response arrived at all. A remote answer,
		// even an error one, is authoritative and never replayed.
		gotResponse := resp != nil && resp.RawResponse != nil
		if err == nil || gotResponse || attempt >= c.policy.MaxAttempts {
			break
		}
		c.log.Warn("Processing", "Transport failure, retrying", map[string]interface{}{
			"job_id":  entry.job.ID,
			"attempt": attempt,
			"error":   err.Error(),
		})
		time.Sleep(wait)
		wait *= 2
		if wait > c.policy.MaxWaitTime {
			wait = c.policy.MaxWaitTime
		}
	}

	switch {
	case err != nil:
		// Transport failure after the bounded retries were exhausted.
		reason := fmt.Errorf("%w: %v", faults.ErrNetworkError, err)
		c.transition(entry, model.JobStatusFailed, reason.Error(), nil)
	case resp.StatusCode() >= 400:
		reason := fmt.Errorf("%w: %s", faults.ErrValidationError, bodyMessage(resp, &envelope))
		c.transition(entry, model.JobStatusFailed, reason.Error(), nil)
	case !envelope.Success:
		reason := faults.ProcessingFailure(envelope.Message)
		c.transition(entry, model.JobStatusFailed, reason.Error(), resp.Body())
	default:
		c.log.Info("Processing", "Job completed", map[string]interface{}{
			"job_id":          entry.job.ID,
			"elapsed_s":       time.Since(start).Seconds(),
			"processing_time": envelope.ProcessingTime,
		})
		c.transition(entry, model.JobStatusCompleted, "", resp.Body())
	}
}

func bodyMessage(resp *resty.Response, envelope *processingResponse) string {
	if envelope.Message != "" {
		return envelope.Message
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode())
}

// transition applies a monotonic status change and notifies observers.
// Terminal states are never revisited.
func (c *Client) transition(entry *jobEntry, status model.JobStatus, errMsg string, raw []byte) {
	c.mu.Lock()
	job := entry.job
	if job.IsDone() {
		c.mu.Unlock()
		return
	}
	job.Status = status
	job.Error = errMsg
	if raw != nil {
		job.RawResponse = append([]byte(nil), raw...)
	}
	if job.IsDone() {
		now := time.Now()
		job.CompletedAt = &now
		close(entry.done)
	}
	published := snapshot(job)
	c.mu.Unlock()

	if errMsg != "" {
		c.log.Warn("Processing", "Job transition", map[string]interface{}{
			"job_id": published.ID, "status": string(status), "error": errMsg,
		})
	}
	c.publish(published)
}

func (c *Client) publish(job *model.ProcessingJob) {
	if c.pubSub == nil {
		return
	}
	if err := c.pubSub.Publish(TopicJobEvents, newJobMessage(job)); err != nil {
		c.log.Error("Processing", "Failed to publish job event", map[string]interface{}{
			"job_id": job.ID, "error": err.Error(),
		})
	}
}

// Job returns a snapshot of the tracked job.
func (c *Client) Job(id string) (*model.ProcessingJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[id]
	if !ok {
		return nil, false
	}
	return snapshot(e.job), true
}

// AwaitCompletion blocks until the job reaches a terminal state or the
// context ends. It watches in-process state, never the network.
func (c *Client) AwaitCompletion(ctx context.Context, jobID string) (*model.ProcessingJob, error) {
	c.mu.Lock()
	e, ok := c.jobs[jobID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown job %s", jobID)
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(e.job), nil
}

// Forget drops in-flight tracking for a dataset. Used by workflow
// cancellation; the remote request is left to finish on its own.
func (c *Client) Forget(datasetID string) {
	c.mu.Lock()
	delete(c.byDataset, datasetID)
	c.mu.Unlock()
}

// Healthy pings the analysis service health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	return err == nil && resp.StatusCode() == 200
}

func snapshot(j *model.ProcessingJob) *model.ProcessingJob {
	cp := *j
	return &cp
}

// renderCSV writes the canonical extracted record format.
func renderCSV(dataset *model.Dataset) *bytes.Buffer {
	var buf bytes.Buffer
	buf.Grow(len(dataset.Samples) * 48)
	buf.WriteString("time,x,y,z\n")
	for _, s := range dataset.Samples {
		buf.WriteString(s.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(s.X, 'f', -1, 64))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(s.Y, 'f', -1, 64))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(s.Z, 'f', -1, 64))
		buf.WriteByte('\n')
	}
	return &buf
}

func addOptions(form map[string]string, opts SubmitOptions) {
	if opts.SampleRate > 0 {
		form["sample_rate"] = strconv.Itoa(opts.SampleRate)
	}
	if opts.MinWearPerDay > 0 {
		form["min_wear_per_day"] = strconv.FormatFloat(opts.MinWearPerDay, 'f', -1, 64)
	}
	if opts.MinWearPerHour > 0 {
		form["min_wear_per_hour"] = strconv.FormatFloat(opts.MinWearPerHour, 'f', -1, 64)
	}
	if opts.MinWearPerMinute > 0 {
		form["min_wear_per_minute"] = strconv.FormatFloat(opts.MinWearPerMinute, 'f', -1, 64)
	}
	if opts.MinWalkPerDay > 0 {
		form["min_walk_per_day"] = strconv.FormatFloat(opts.MinWalkPerDay, 'f', -1, 64)
	}
	if opts.BoutsMinWalk > 0 {
		form["bouts_min_walk"] = strconv.FormatFloat(opts.BoutsMinWalk, 'f', -1, 64)
	}
	if opts.BoutsMaxIdle > 0 {
		form["bouts_max_idle"] = strconv.Itoa(opts.BoutsMaxIdle)
	}
	if opts.StartTime != "" {
		form["start_time"] = opts.StartTime
	}
	if opts.EndTime != "" {
		form["end_time"] = opts.EndTime
	}
}
