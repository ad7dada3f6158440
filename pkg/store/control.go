package store

import (
	"context"
	"sync"
	"time"

	"github.com/rvlink-network/rvlink/pkg/broadcast"
	"github.com/rvlink-network/rvlink/pkg/encode"
	"github.com/rvlink-network/rvlink/pkg/metrics"
	"github.com/rvlink-network/rvlink/pkg/util"
)

const (
	// DefaultCommandTimeout bounds one command, encode through transmit.
	DefaultCommandTimeout = 5 * time.Second
	// DefaultBulkTimeout bounds an entire bulk call.
	DefaultBulkTimeout = 30 * time.Second
	// MaxBulkTimeout caps caller-supplied bulk deadlines.
	MaxBulkTimeout = 5 * time.Minute
	// DefaultBulkParallelism is the bulk per-entity concurrency limit.
	DefaultBulkParallelism = 16
)

// Command statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// OperationResult is the outcome of one entity command.
type OperationResult struct {
	EntityID string        `json:"entity_id"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"` // wire error code
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// BulkOptions controls bulk command execution. A zero Timeout means
// DefaultBulkTimeout; anything above MaxBulkTimeout is clamped.
type BulkOptions struct {
	IgnoreErrors bool          `json:"ignore_errors"`
	Parallelism  int           `json:"parallelism,omitempty"`
	Timeout      time.Duration `json:"-"`
}

// BulkResult is the outcome of a bulk command: per-entity results in input
// order plus the aggregate wall time.
type BulkResult struct {
	Results            []OperationResult `json:"results"`
	TotalExecutionTime time.Duration     `json:"total_execution_time"`
}

// Succeeded counts successful per-entity results.
func (r BulkResult) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// Control executes one command against one entity: snapshot read, encode,
// transmit. CAN writes are not acknowledged, so success means the frames
// were handed to the transmit queue of the binding's interface.
func (s *Store) Control(ctx context.Context, entityID string, cmd encode.Command) (OperationResult, error) {
	start := time.Now()
	err := s.control(ctx, entityID, cmd)
	elapsed := time.Since(start)
	metrics.CommandDuration.Observe(elapsed.Seconds())

	res := OperationResult{EntityID: entityID, Status: StatusSuccess, Duration: elapsed}
	if err != nil {
		res.Status = StatusError
		res.Error = util.ErrorCode(err)
		res.Message = err.Error()
	}
	return res, err
}

func (s *Store) control(ctx context.Context, entityID string, cmd encode.Command) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultCommandTimeout)
	defer cancel()

	binding, ok := s.mapping.ByEntityID(entityID)
	if !ok {
		return &util.CommandError{EntityID: entityID, Command: cmd.Kind, Err: util.ErrUnknownEntity}
	}

	snap, err := s.Get(ctx, entityID)
	if err != nil {
		return &util.CommandError{EntityID: entityID, Command: cmd.Kind, Err: err}
	}

	frames, err := s.encoder.Encode(binding, currentFrom(snap), cmd)
	if err != nil {
		return &util.CommandError{EntityID: entityID, Command: cmd.Kind, Err: err}
	}

	if err := s.submitter.Submit(ctx, binding.Interface, frames); err != nil {
		return &util.CommandError{EntityID: entityID, Command: cmd.Kind, Err: err}
	}
	util.WithEntity(entityID).Debugf("command %s transmitted (%d frame(s))", cmd.Kind, len(frames))
	return nil
}

// ApplyBulk runs one command against many entities with bounded parallelism.
// Results come back in input order. Without IgnoreErrors the first failure
// stops scheduling; already-started submissions are not rolled back.
func (s *Store) ApplyBulk(ctx context.Context, entityIDs []string, cmd encode.Command, opts BulkOptions) BulkResult {
	start := time.Now()

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultBulkParallelism
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultBulkTimeout
	}
	if timeout > MaxBulkTimeout {
		timeout = MaxBulkTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]OperationResult, len(entityIDs))
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false

	for i, id := range entityIDs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = OperationResult{EntityID: id, Status: StatusSkipped}
			continue
		}

		// Re-checked after the semaphore so a failure observed while
		// waiting still stops the remaining entities.
		mu.Lock()
		stop := failed && !opts.IgnoreErrors
		mu.Unlock()
		if stop || ctx.Err() != nil {
			<-sem
			results[i] = OperationResult{EntityID: id, Status: StatusSkipped}
			continue
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := s.Control(ctx, id, cmd)
			results[i] = res
			if err != nil {
				mu.Lock()
				failed = true
				mu.Unlock()
			}
		}(i, id)
	}
	wg.Wait()

	total := time.Since(start)
	result := BulkResult{Results: results, TotalExecutionTime: total}
	if s.broadcaster != nil {
		s.broadcaster.Publish(broadcast.SystemEvent{
			Name: broadcast.SystemBulkComplete,
			Detail: map[string]interface{}{
				"entities":  len(entityIDs),
				"succeeded": result.Succeeded(),
				"duration":  total.String(),
			},
			Timestamp: time.Now(),
		})
	}
	return result
}

// currentFrom projects an entity snapshot into the encoder's read model.
func currentFrom(snap Snapshot) encode.Current {
	cur := encode.Current{Available: snap.Available}
	if state, ok := snap.State["state"].(string); ok {
		cur.On = state == "on"
	}
	if b, ok := snap.State["brightness"].(float64); ok {
		cur.Brightness = b
		cur.HasBrightness = true
	}
	if locked, ok := snap.State["locked"].(string); ok {
		cur.Locked = locked == "locked"
	}
	return cur
}
