// internal/pipeline/controller.go
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/history"
	"github.com/xkilldash9x/moodlens/internal/observability"
)

const recordTimeout = 5 * time.Second

// Controller owns the PipelineState and is the only thing that mutates it.
// Transitions: Idle -> Analyzing -> {Success, Error}; Success and Error may
// start a new attempt. At most one attempt is in flight at any time.
type Controller struct {
	analyzer        schemas.Analyzer
	recorder        schemas.ResultStore
	mimeType        string
	analysisTimeout time.Duration
	logger          *zap.Logger

	mu            sync.Mutex
	history       *history.Buffer
	current       *schemas.ExpressionResult
	status        schemas.AnalysisStatus
	continuous    bool
	lastError     string
	lastErrorKind schemas.ErrorKind
	lastTimestamp int64
	inflight      *attempt
	idle          chan struct{}
	closed        bool
	subs          map[uint64]chan schemas.PipelineState
	nextSub       uint64
}

// attempt is one capture-analyze cycle.
type attempt struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	prevStatus schemas.AnalysisStatus
	started    time.Time
	done       chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder persists every successful result. Persistence failures are
// logged and never change the pipeline status.
func WithRecorder(store schemas.ResultStore) Option {
	return func(c *Controller) { c.recorder = store }
}

// NewController creates a controller in the Idle state with an empty history.
func NewController(analyzer schemas.Analyzer, cfg config.PipelineConfig, logger *zap.Logger, opts ...Option) *Controller {
	idle := make(chan struct{})
	close(idle)

	mimeType := cfg.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	c := &Controller{
		analyzer:        analyzer,
		mimeType:        mimeType,
		analysisTimeout: cfg.AnalysisTimeout,
		logger:          logger.Named("pipeline"),
		history:         history.New(cfg.HistorySize),
		status:          schemas.StatusIdle,
		idle:            idle,
		subs:            make(map[uint64]chan schemas.PipelineState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// -- State access --

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot() schemas.PipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Status returns the current status without copying the history.
func (c *Controller) Status() schemas.AnalysisStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) snapshotLocked() schemas.PipelineState {
	return schemas.PipelineState{
		CurrentResult:  c.current.Clone(),
		History:        c.history.Snapshot(),
		Status:         c.status,
		ContinuousMode: c.continuous,
		LastError:      c.lastError,
		LastErrorKind:  c.lastErrorKind,
	}
}

// Subscribe returns a channel that receives a snapshot after every state
// change, and a function that ends the subscription. Delivery never blocks the
// controller: a slow reader only sees the latest snapshot.
func (c *Controller) Subscribe() (<-chan schemas.PipelineState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan schemas.PipelineState, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// publishLocked fans the current snapshot out to subscribers, latest wins.
func (c *Controller) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	state := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- state:
		default:
		}
	}
}

// -- Transitions --

// ToggleContinuousMode flips the continuous flag. It is legal in any state and
// never changes the status.
func (c *Controller) ToggleContinuousMode() schemas.PipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.continuous = !c.continuous
	c.logger.Info("Continuous mode toggled", zap.Bool("continuous", c.continuous))
	c.publishLocked()
	return c.snapshotLocked()
}

// RequestCapture starts analyzing frame in the background. It returns false,
// with no side effect, while another attempt is in flight or after Close.
func (c *Controller) RequestCapture(ctx context.Context, frame schemas.Frame) bool {
	a, ok := c.begin(ctx)
	if !ok {
		return false
	}
	go func() {
		defer close(a.done)
		defer a.cancel()
		c.analyze(a, frame)
	}()
	return true
}

// CaptureFrom takes one frame from src and analyzes it in the background. The
// device is acquired and released within the attempt; a camera failure ends
// the attempt in the Error state before the analyzer is called.
func (c *Controller) CaptureFrom(ctx context.Context, src schemas.FrameSource) bool {
	a, ok := c.begin(ctx)
	if !ok {
		return false
	}
	go func() {
		defer close(a.done)
		defer a.cancel()
		frame, err := CaptureFrame(a.ctx, src, c.mimeType, c.logger)
		if err != nil {
			c.finish(a, nil, err)
			return
		}
		c.analyze(a, frame)
	}()
	return true
}

// Wait blocks until no attempt is in flight.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.idle
	c.mu.Unlock()
	<-done
}

// Restore seeds the history with records, newest first, typically loaded from
// a ResultStore at startup. The current result stays empty.
func (c *Controller) Restore(records []schemas.ExpressionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.Reset(records)
	for _, r := range records {
		if r.Timestamp > c.lastTimestamp {
			c.lastTimestamp = r.Timestamp
		}
	}
	c.logger.Info("History restored", zap.Int("records", c.history.Len()))
	c.publishLocked()
}

// Close cancels the in-flight attempt, discards its result, waits for it to
// exit and ends all subscriptions. Later captures are rejected.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.inflight != nil {
		c.inflight.cancel()
	}
	done := c.idle
	c.mu.Unlock()

	<-done

	c.mu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
}

// begin claims the single in-flight slot.
func (c *Controller) begin(ctx context.Context) (*attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	if !c.status.CanCapture() {
		c.logger.Debug("Capture ignored; analysis already in flight", zap.String("attempt_id", c.inflight.id))
		return nil, false
	}

	// The attempt outlives the caller's request, so it keeps the caller's
	// values but not its cancellation. Close cancels it.
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if c.analysisTimeout > 0 {
		var tcancel context.CancelFunc
		actx, tcancel = context.WithTimeout(actx, c.analysisTimeout)
		parent := cancel
		cancel = func() { tcancel(); parent() }
	}

	a := &attempt{
		id:         uuid.NewString(),
		ctx:        actx,
		cancel:     cancel,
		prevStatus: c.status,
		started:    time.Now(),
		done:       make(chan struct{}),
	}
	c.inflight = a
	c.idle = a.done
	c.status = schemas.StatusAnalyzing
	c.lastError = ""
	c.lastErrorKind = schemas.KindNone
	c.logger.Debug("Capture accepted", zap.String("attempt_id", a.id))
	c.publishLocked()
	return a, true
}

func (c *Controller) analyze(a *attempt, frame schemas.Frame) {
	mimeType := frame.MIMEType
	if mimeType == "" {
		mimeType = c.mimeType
	}
	result, err := c.analyzer.Analyze(a.ctx, frame.Data, mimeType)
	if err == nil && result == nil {
		err = schemas.ErrResponseEmpty
	}
	if stored := c.finish(a, result, err); stored != nil && c.recorder != nil {
		c.record(a, *stored)
	}
}

// finish applies the outcome of a, returning the stored result on success.
func (c *Controller) finish(a *attempt, result *schemas.ExpressionResult, err error) *schemas.ExpressionResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight = nil
	duration := time.Since(a.started)

	if c.closed {
		c.status = a.prevStatus
		c.logger.Info("Analysis discarded on shutdown", zap.String("attempt_id", a.id))
		return nil
	}

	if err != nil {
		kind := schemas.KindOf(err)
		c.status = schemas.StatusError
		c.lastErrorKind = kind
		c.lastError = DisplayMessage(kind)
		c.continuous = false

		fields := append([]zap.Field{zap.String("attempt_id", a.id), zap.Duration("duration", duration)}, observability.ErrorFields(err)...)
		if kind.IsCamera() {
			c.logger.Error("Frame capture failed", fields...)
		} else {
			c.logger.Error("Analysis failed", fields...)
		}
		c.publishLocked()
		return nil
	}

	stored := result.Clone()
	if stored.Timestamp < c.lastTimestamp {
		stored.Timestamp = c.lastTimestamp
	}
	c.lastTimestamp = stored.Timestamp
	c.current = stored
	c.history.Push(*stored)
	c.status = schemas.StatusSuccess

	c.logger.Info("Analysis succeeded",
		zap.String("attempt_id", a.id),
		zap.String("primary_emotion", stored.PrimaryEmotion),
		zap.Float64("confidence", stored.Confidence),
		zap.Duration("duration", duration),
		zap.Int("history_len", c.history.Len()),
	)
	c.publishLocked()
	return stored.Clone()
}

func (c *Controller) record(a *attempt, r schemas.ExpressionResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), recordTimeout)
	defer cancel()
	if err := c.recorder.SaveResult(ctx, r); err != nil {
		c.logger.Warn("Failed to persist analysis result", zap.String("attempt_id", a.id), zap.Error(err))
	}
}
