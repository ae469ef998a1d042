package kiroku

import (
	"context"
	"time"
)

// ActiveRun is an explicit handle on a run in progress. It carries the run ID
// so call sites never depend on ambient global state; close it with End or
// Fail when the work completes.
type ActiveRun struct {
	client *Client
	info   RunInfo
}

// StartRun creates a run in the given experiment and returns a handle for
// logging against it. An empty experimentID targets the default experiment;
// an empty name lets the server generate one.
func (c *Client) StartRun(ctx context.Context, experimentID, name string) (*ActiveRun, error) {
	run, err := c.CreateRun(ctx, CreateRunRequest{
		ExperimentID: experimentID,
		RunName:      name,
	})
	if err != nil {
		return nil, err
	}
	return &ActiveRun{client: c, info: run.Info}, nil
}

// ResumeRun returns a handle on an existing run for continued logging.
func (c *Client) ResumeRun(ctx context.Context, runID string) (*ActiveRun, error) {
	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &ActiveRun{client: c, info: run.Info}, nil
}

// ID returns the run's 32-character hex ID.
func (r *ActiveRun) ID() string { return r.info.RunID }

// Name returns the run's display name.
func (r *ActiveRun) Name() string { return r.info.RunName }

// ExperimentID returns the experiment the run belongs to.
func (r *ActiveRun) ExperimentID() string { return r.info.ExperimentID }

// ArtifactURI returns the run's artifact storage location.
func (r *ActiveRun) ArtifactURI() string { return r.info.ArtifactURI }

// LogMetric appends one metric point, timestamped now.
func (r *ActiveRun) LogMetric(ctx context.Context, key string, value float64, step int64) error {
	return r.client.LogMetric(ctx, r.info.RunID, Metric{
		Key:       key,
		Value:     Float(value),
		Timestamp: time.Now().UnixMilli(),
		Step:      step,
	})
}

// LogParam records an immutable parameter on the run.
func (r *ActiveRun) LogParam(ctx context.Context, key, value string) error {
	return r.client.LogParam(ctx, r.info.RunID, key, value)
}

// SetTag sets or overwrites a tag on the run.
func (r *ActiveRun) SetTag(ctx context.Context, key, value string) error {
	return r.client.SetTag(ctx, r.info.RunID, key, value)
}

// LogBatch logs metrics, params, and tags against the run in one call.
func (r *ActiveRun) LogBatch(ctx context.Context, metrics []Metric, params []Param, tags []RunTag) error {
	return r.client.LogBatch(ctx, LogBatchRequest{
		RunID:   r.info.RunID,
		Metrics: metrics,
		Params:  params,
		Tags:    tags,
	})
}

// UploadArtifact stores a file under the run's artifact root.
func (r *ActiveRun) UploadArtifact(ctx context.Context, path string, content []byte) error {
	return r.client.UploadRunArtifact(ctx, r.info.RunID, path, content)
}

// End marks the run finished with the current time.
func (r *ActiveRun) End(ctx context.Context) error {
	return r.end(ctx, RunStatusFinished)
}

// Fail marks the run failed with the current time.
func (r *ActiveRun) Fail(ctx context.Context) error {
	return r.end(ctx, RunStatusFailed)
}

func (r *ActiveRun) end(ctx context.Context, status string) error {
	info, err := r.client.UpdateRun(ctx, UpdateRunRequest{
		RunID:   r.info.RunID,
		Status:  status,
		EndTime: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	r.info = *info
	return nil
}

// RunIterator walks SearchRuns results across page tokens.
type RunIterator struct {
	client *Client
	req    SearchRunsRequest
	page   []Run
	idx    int
	done   bool
	cur    *Run
	err    error
}

// SearchRunsIter returns an iterator over all runs matching the request,
// fetching pages transparently.
func (c *Client) SearchRunsIter(req SearchRunsRequest) *RunIterator {
	return &RunIterator{client: c, req: req}
}

// Next advances to the next run. It returns false when the result set is
// exhausted or an error occurred; check Err after the loop.
func (it *RunIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for it.idx >= len(it.page) {
		if it.done {
			return false
		}
		resp, err := it.client.SearchRuns(ctx, it.req)
		if err != nil {
			it.err = err
			return false
		}
		it.page = resp.Runs
		it.idx = 0
		if resp.NextPageToken == "" {
			it.done = true
		} else {
			it.req.PageToken = resp.NextPageToken
		}
		if len(it.page) == 0 && it.done {
			return false
		}
	}
	it.cur = &it.page[it.idx]
	it.idx++
	return true
}

// Run returns the run the iterator is positioned on.
func (it *RunIterator) Run() *Run { return it.cur }

// Err returns the first error encountered while iterating, if any.
func (it *RunIterator) Err() error { return it.err }
