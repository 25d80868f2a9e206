package trading

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"paperTrading/internal/metrics"
	"paperTrading/internal/quote"
)

// StateReader issues one bundle of live reads. *Reader satisfies it.
type StateReader interface {
	Read(ctx context.Context, account common.Address) Reads
}

// Snapshot is an applied state with the sequence number of its refresh.
type Snapshot struct {
	Seq   uint64
	State TradingState
}

// Poller keeps one account's TradingState current. Every refresh takes the
// next sequence number; a result is applied only if no later refresh has
// been applied already, so overlapping polls never roll the state back.
type Poller struct {
	account  common.Address
	reader   StateReader
	quotes   quote.Provider
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	nextSeq uint64
	applied uint64
	current *TradingState
	subs    map[int]chan Snapshot
	nextSub int
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	force  chan struct{}
	wg     sync.WaitGroup
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

func WithQuotes(q quote.Provider) PollerOption { return func(p *Poller) { p.quotes = q } }

func WithInterval(d time.Duration) PollerOption { return func(p *Poller) { p.interval = d } }

func WithPollerMetrics(m *metrics.Metrics) PollerOption { return func(p *Poller) { p.metrics = m } }

func WithPollerLogger(l *zap.Logger) PollerOption { return func(p *Poller) { p.logger = l } }

// NewPoller builds a poller for account. It does nothing until Start.
func NewPoller(account common.Address, reader StateReader, opts ...PollerOption) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		account:  account,
		reader:   reader,
		interval: 10 * time.Second,
		logger:   zap.NewNop(),
		subs:     make(map[int]chan Snapshot),
		ctx:      ctx,
		cancel:   cancel,
		force:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start refreshes immediately and then on every interval tick or forced
// refresh until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.spawn()
		for {
			select {
			case <-ctx.Done():
				p.Stop()
				return
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.spawn()
			case <-p.force:
				p.spawn()
			}
		}
	}()
}

// spawn runs a refresh without blocking the schedule, so a slow read can
// overlap the next tick.
func (p *Poller) spawn() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Refresh(p.ctx)
	}()
}

// ForceRefresh schedules a refresh now, e.g. after a confirmed transaction.
func (p *Poller) ForceRefresh() {
	select {
	case p.force <- struct{}{}:
	default:
	}
}

// Refresh reads once and applies the result unless it is stale. The
// returned bool reports whether the result was applied.
func (p *Poller) Refresh(ctx context.Context) (Snapshot, bool) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return Snapshot{}, false
	}
	p.nextSeq++
	seq := p.nextSeq
	p.mu.Unlock()

	reads := p.reader.Read(ctx, p.account)
	var spot *quote.Result[quote.Spot]
	if p.quotes != nil {
		if result, err := p.quotes.Spot(ctx); err == nil {
			spot = &result
		}
	}
	return p.apply(seq, reads, spot)
}

func (p *Poller) apply(seq uint64, reads Reads, spot *quote.Result[quote.Spot]) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.logger.Debug("poll result after stop discarded", zap.Uint64("seq", seq))
		return Snapshot{}, false
	}
	if seq <= p.applied {
		p.metrics.RecordStaleDiscarded()
		p.logger.Debug("stale poll result discarded", zap.Uint64("seq", seq), zap.Uint64("applied", p.applied))
		return Snapshot{}, false
	}

	state := ComputeState(p.account, reads, spot, p.current)
	p.current = &state
	p.applied = seq

	switch failed := len(state.FailedReads); {
	case failed == 0:
		p.metrics.RecordPoll("ok")
	case failed == len(Fields):
		p.metrics.RecordPoll("failed")
	default:
		p.metrics.RecordPoll("partial")
	}
	if state.TransientError {
		p.logger.Warn("live reads failed",
			zap.String("account", p.account.Hex()),
			zap.Uint64("seq", seq),
			zap.Any("fields", state.FailedReads),
		)
	}

	snap := Snapshot{Seq: seq, State: state}
	for _, ch := range p.subs {
		// Subscribers only need the latest snapshot.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	return snap, true
}

// Current returns the last applied snapshot.
func (p *Poller) Current() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Snapshot{}, false
	}
	return Snapshot{Seq: p.applied, State: *p.current}, true
}

// Subscribe returns a channel of applied snapshots and a cancel func. The
// channel holds at most the latest snapshot and is closed on Stop.
func (p *Poller) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if p.stopped {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
}

// Stop cancels the schedule and in-flight reads. Results that arrive later
// are discarded. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.mu.Unlock()
	p.cancel()
}

// Wait blocks until the schedule and every spawned refresh have returned.
func (p *Poller) Wait() {
	p.wg.Wait()
}
