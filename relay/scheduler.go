package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/globalworming/low-tech-ai-pocs/delivery"
	"github.com/globalworming/low-tech-ai-pocs/slots"
	"github.com/globalworming/low-tech-ai-pocs/telemetry"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// Deliverer sends one snapshot to the remote endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, snap slots.Snapshot) error
}

// Outcome is the result of one flush cycle.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// Result summarizes one flush cycle.
type Result struct {
	Outcome  Outcome
	CorrID   string
	Entries  int // entries in the snapshot
	Cleared  int // entries removed after delivery
	Err      error
	At       time.Time
	Duration time.Duration
}

// Scheduler runs flush cycles against a store.
type Scheduler struct {
	Store     *slots.Store
	Deliverer Deliverer
	Interval  time.Duration
	Timeout   time.Duration
	// OnResult, if set, is called after every cycle.
	OnResult func(Result)

	cycleMu sync.Mutex // one cycle at a time

	mu          sync.RWMutex
	last        Result
	lastSuccess time.Time
}

// NewScheduler returns a scheduler; non-positive durations take the defaults.
func NewScheduler(store *slots.Store, d Deliverer, interval, timeout time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scheduler{Store: store, Deliverer: d, Interval: interval, Timeout: timeout}
}

// Run blocks until ctx is canceled, flushing once per interval measured from
// the end of the previous cycle. On cancellation it makes one final bounded
// flush attempt.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.Interval)
	defer timer.Stop()
	slog.Info("flush scheduler started", slog.String("component", "relay"), slog.Duration("interval", s.Interval), slog.Duration("timeout", s.Timeout))
	for {
		select {
		case <-ctx.Done():
			res := s.FlushOnce(context.WithoutCancel(ctx))
			slog.Info("flush scheduler stopped", slog.String("component", "relay"), slog.String("final_outcome", string(res.Outcome)))
			return
		case <-timer.C:
		}
		s.FlushOnce(ctx)
		timer.Reset(s.Interval)
	}
}

// FlushOnce runs a single cycle: snapshot, deliver unless empty, and remove
// the delivered entries on success. It never returns an error; failures are
// reported in the Result and leave the buffer intact.
func (s *Scheduler) FlushOnce(ctx context.Context) Result {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()
	res := Result{CorrID: uuid.NewString(), At: start.UTC()}
	ctx = telemetry.WithCorrelation(ctx, res.CorrID)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "relay"))

	snap := s.Store.Snapshot()
	res.Entries = snap.Len()
	if snap.Empty() {
		res.Outcome = OutcomeSkipped
		log.Debug("no messages to post")
		return s.finish(res, start)
	}

	ctx, span := telemetry.StartSpan(ctx, "relay", "flush", telemetry.SlotAttrs(len(snap.P1), len(snap.P2))...)
	defer span.End()

	dctx, cancel := context.WithTimeout(ctx, s.Timeout)
	err := s.Deliverer.Deliver(dctx, snap)
	cancel()
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		span.SetAttributes(telemetry.AttrOutcome.String(string(res.Outcome)), telemetry.AttrFailureKind.String(string(delivery.KindOf(err))))
		telemetry.RecordError(span, err)
		log.Warn("delivery failed; keeping buffer for next cycle",
			slog.Any("err", err),
			slog.String("kind", string(delivery.KindOf(err))),
			slog.String("class", delivery.Classify(err).String()),
			slog.Int("entries", res.Entries),
		)
		return s.finish(res, start)
	}

	res.Outcome = OutcomeDelivered
	res.Cleared = s.Store.ClearDelivered(snap)
	span.SetAttributes(telemetry.AttrOutcome.String(string(res.Outcome)), attribute.Int("relay.cleared", res.Cleared))
	telemetry.SetSpanSuccess(span)
	telemetry.MarkFlushSuccess(time.Now())
	log.Info("messages delivered and cleared", slog.Int("entries", res.Entries), slog.Int("cleared", res.Cleared))
	return s.finish(res, start)
}

func (s *Scheduler) finish(res Result, start time.Time) Result {
	res.Duration = time.Since(start)
	telemetry.IncFlushCycle(string(res.Outcome))
	telemetry.SetBuffered(s.Store.Counts())

	s.mu.Lock()
	s.last = res
	if res.Outcome == OutcomeDelivered {
		s.lastSuccess = res.At
	}
	s.mu.Unlock()

	if s.OnResult != nil {
		s.OnResult(res)
	}
	return res
}

// Last returns the most recent cycle result and the time of the last
// successful delivery (zero if none).
func (s *Scheduler) Last() (Result, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastSuccess
}
