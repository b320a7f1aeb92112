package trade

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounce is the minimum quiet period after the last amount change
// before a quote request is issued.
const DefaultDebounce = 300 * time.Millisecond

// QuoteFunc fetches a quote; usually Client.Quote.
type QuoteFunc func(ctx context.Context, req QuoteRequest) (Quote, error)

// Result is a completed debounced fetch.
type Result struct {
	Quote Quote
	Err   error
}

// Debouncer coalesces rapid amount-change events into a single quote request.
// Last write wins: each Request supersedes any pending or in-flight one, and a
// superseded fetch's result is discarded even if it arrives late.
type Debouncer struct {
	fetch   QuoteFunc
	delay   time.Duration
	results chan Result

	mu     sync.Mutex
	gen    uint64
	timer  *time.Timer
	cancel context.CancelFunc
}

// NewDebouncer creates a debouncer delivering results on Results(). A delay
// below the default window is raised to it.
func NewDebouncer(fetch QuoteFunc, delay time.Duration) *Debouncer {
	if delay < DefaultDebounce {
		delay = DefaultDebounce
	}
	return &Debouncer{
		fetch:   fetch,
		delay:   delay,
		results: make(chan Result, 1),
	}
}

// Results delivers the outcome of the most recent surviving request.
func (d *Debouncer) Results() <-chan Result { return d.results }

// Request schedules a quote fetch for req after the quiet period. Any pending
// or in-flight request is superseded.
func (d *Debouncer) Request(ctx context.Context, req QuoteRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen

	if d.timer != nil {
		d.timer.Stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.fire(ctx, gen, req)
	})
}

// Stop cancels any pending or in-flight request.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Debouncer) fire(ctx context.Context, gen uint64, req QuoteRequest) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	q, err := d.fetch(fetchCtx, req)
	cancel()

	d.mu.Lock()
	stale := gen != d.gen
	d.mu.Unlock()
	if stale {
		return
	}

	// Drop an undelivered older result so the channel always holds the latest.
	select {
	case <-d.results:
	default:
	}
	d.results <- Result{Quote: q, Err: err}
}
