// Package poller fetches live door telemetry on a fixed interval and
// substitutes stale or fallback data whenever a fetch fails.
//
// Each Start returns a Handle that owns one loop goroutine. The loop is the
// only place consumer callbacks run, so once Stop has returned nothing more
// is delivered. Fetches run concurrently with the loop and carry a sequence
// number; a result older than the last one applied is dropped.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"door-monitor/internal/logger"
	"door-monitor/internal/model"
	"github.com/google/uuid"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 3 * time.Second
)

var errOffline = errors.New("offline session")

type Fetcher interface {
	LatestStatus(ctx context.Context, token string) (model.TelemetrySnapshot, error)
	History(ctx context.Context, token string) ([]model.HistoryEntry, error)
}

// Consumer receives emissions from the handle's loop goroutine. Callbacks
// must not call Stop on the handle that invoked them.
type Consumer interface {
	OnSnapshot(snap model.TelemetrySnapshot)
	OnHistory(entries []model.HistoryEntry, stale bool)
}

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Poller struct {
	fetcher Fetcher
	opts    Options
	now     func() time.Time
}

func New(fetcher Fetcher, opts Options) *Poller {
	return NewWithNow(fetcher, opts, time.Now)
}

func NewWithNow(fetcher Fetcher, opts Options, now func() time.Time) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Poller{fetcher: fetcher, opts: opts, now: now}
}

// FallbackSnapshot is served when no live reading has been seen yet.
func FallbackSnapshot(at time.Time) model.TelemetrySnapshot {
	return model.TelemetrySnapshot{
		DoorState:      model.DoorClosed,
		TemperatureC:   21.5,
		BatteryPercent: 100,
		Timestamp:      at,
		IsStale:        true,
	}
}

type State int32

const (
	StateIdle State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	}
	return "idle"
}

type resultKind int

const (
	kindStatus resultKind = iota
	kindHistory
)

type result struct {
	kind    resultKind
	seq     uint64
	snap    model.TelemetrySnapshot
	history []model.HistoryEntry
	err     error
}

type Handle struct {
	ID string

	poller   *Poller
	session  model.Session
	consumer Consumer

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	results chan result
	refresh chan struct{}
	fetches sync.WaitGroup
	stop    sync.Once
	state   atomic.Int32

	// Owned by the loop goroutine.
	statusSeq      uint64
	appliedStatus  uint64
	historySeq     uint64
	appliedHistory uint64
	lastGood       *model.TelemetrySnapshot
	lastHistory    []model.HistoryEntry
}

// Start fetches immediately and then on every interval until the handle is
// stopped. Demo sessions never reach the network and always get stale data.
func (p *Poller) Start(session model.Session, consumer Consumer) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ID:       uuid.NewString(),
		poller:   p,
		session:  session,
		consumer: consumer,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		results:  make(chan result),
		refresh:  make(chan struct{}, 1),
	}
	h.state.Store(int32(StatePolling))
	logger.Debugf("poller %s: start (interval=%s timeout=%s demo=%t)", h.ID, p.opts.Interval, p.opts.Timeout, session.IsDemo)
	go h.run()
	return h
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

// Stop cancels the timer and any in-flight fetch, then waits for the loop to
// exit. It is safe to call more than once.
func (h *Handle) Stop() {
	h.stop.Do(func() {
		h.state.Store(int32(StateStopped))
		h.cancel()
		<-h.done
		h.fetches.Wait()
		logger.Debugf("poller %s: stopped", h.ID)
	})
}

// RefreshHistory asks the loop for a new history fetch. It never blocks.
func (h *Handle) RefreshHistory() {
	if h.State() != StatePolling {
		return
	}
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

func (h *Handle) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.poller.opts.Interval)
	defer ticker.Stop()

	h.fetchStatus()
	h.fetchHistory()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.fetchStatus()
		case <-h.refresh:
			h.fetchHistory()
		case res := <-h.results:
			h.apply(res)
		}
	}
}

func (h *Handle) fetchStatus() {
	h.statusSeq++
	seq := h.statusSeq
	if h.session.IsDemo {
		h.apply(result{kind: kindStatus, seq: seq, err: errOffline})
		return
	}

	h.fetches.Add(1)
	go func() {
		defer h.fetches.Done()
		snap, err := withTimeout(h.ctx, h.poller.opts.Timeout, func(ctx context.Context) (model.TelemetrySnapshot, error) {
			return h.poller.fetcher.LatestStatus(ctx, h.session.Token)
		})
		h.deliver(result{kind: kindStatus, seq: seq, snap: snap, err: err})
	}()
}

func (h *Handle) fetchHistory() {
	h.historySeq++
	seq := h.historySeq
	if h.session.IsDemo {
		h.apply(result{kind: kindHistory, seq: seq, err: errOffline})
		return
	}

	h.fetches.Add(1)
	go func() {
		defer h.fetches.Done()
		entries, err := withTimeout(h.ctx, h.poller.opts.Timeout, func(ctx context.Context) ([]model.HistoryEntry, error) {
			return h.poller.fetcher.History(ctx, h.session.Token)
		})
		h.deliver(result{kind: kindHistory, seq: seq, history: entries, err: err})
	}()
}

func (h *Handle) deliver(res result) {
	select {
	case h.results <- res:
	case <-h.ctx.Done():
	}
}

func (h *Handle) apply(res result) {
	if h.ctx.Err() != nil {
		return
	}

	switch res.kind {
	case kindStatus:
		if res.seq <= h.appliedStatus {
			logger.Debugf("poller %s: dropping late status #%d (applied #%d)", h.ID, res.seq, h.appliedStatus)
			return
		}
		h.appliedStatus = res.seq
		h.consumer.OnSnapshot(h.statusOrFallback(res))
	case kindHistory:
		if res.seq <= h.appliedHistory {
			logger.Debugf("poller %s: dropping late history #%d (applied #%d)", h.ID, res.seq, h.appliedHistory)
			return
		}
		h.appliedHistory = res.seq
		entries, stale := h.historyOrFallback(res)
		h.consumer.OnHistory(entries, stale)
	}
}

func (h *Handle) statusOrFallback(res result) model.TelemetrySnapshot {
	if res.err == nil {
		snap := res.snap
		snap.IsStale = false
		h.lastGood = &snap
		return snap
	}
	if res.err != errOffline {
		logger.Infof("poller %s: status fetch failed, serving stale data: %v", h.ID, res.err)
	}
	if h.lastGood != nil {
		snap := *h.lastGood
		snap.IsStale = true
		return snap
	}
	return FallbackSnapshot(h.poller.now().UTC())
}

func (h *Handle) historyOrFallback(res result) ([]model.HistoryEntry, bool) {
	if res.err == nil {
		h.lastHistory = res.history
		return copyHistory(res.history), false
	}
	if res.err != errOffline {
		logger.Infof("poller %s: history fetch failed, serving stale data: %v", h.ID, res.err)
	}
	if h.lastHistory != nil {
		return copyHistory(h.lastHistory), true
	}
	fb := FallbackSnapshot(h.poller.now().UTC())
	return []model.HistoryEntry{{
		DoorState:      fb.DoorState,
		TemperatureC:   fb.TemperatureC,
		BatteryPercent: fb.BatteryPercent,
		Timestamp:      fb.Timestamp,
	}}, true
}

func copyHistory(in []model.HistoryEntry) []model.HistoryEntry {
	out := make([]model.HistoryEntry, len(in))
	copy(out, in)
	return out
}

// withTimeout bounds fn even when it ignores its context.
func withTimeout[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{val: v, err: err}
	}()

	select {
	case o := <-ch:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
