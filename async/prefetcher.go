// Package async overlaps batch loading with computation.
package async

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tsawler/go-palette/diffusion"
)

// Prefetcher reads batches from a source on one background goroutine and
// hands them out in source order through a bounded channel. It implements
// diffusion.BatchSource.
type Prefetcher struct {
	source diffusion.BatchSource
	depth  int
	parent context.Context

	mu         sync.Mutex
	cancel     context.CancelFunc
	results    chan result
	running    bool
	closed     bool
	generation uint64
	produced   atomic.Uint64
}

type result struct {
	batch *diffusion.Batch
	err   error
}

// Config holds configuration for the prefetcher
type Config struct {
	Depth int // Number of batches to prefetch (default: 2)
}

// NewPrefetcher wraps source. Prefetching starts on the first Reset and
// stops when ctx is cancelled or Close is called.
func NewPrefetcher(ctx context.Context, source diffusion.BatchSource, config Config) (*Prefetcher, error) {
	if source == nil {
		return nil, fmt.Errorf("data source cannot be nil")
	}
	if config.Depth <= 0 {
		config.Depth = 2
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Prefetcher{source: source, depth: config.Depth, parent: ctx}, nil
}

// Len returns the source's batches per epoch.
func (p *Prefetcher) Len() int {
	return p.source.Len()
}

// Reset stops any running pass, resets the source and starts prefetching
// the next epoch.
func (p *Prefetcher) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("prefetcher is closed")
	}
	p.stopLocked()
	if err := p.source.Reset(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(p.parent)
	p.cancel = cancel
	p.results = make(chan result, p.depth)
	p.running = true
	p.generation++
	go p.worker(ctx, p.results)
	return nil
}

// Next returns the next batch, io.EOF at the end of the epoch, or the
// source's error. A cancelled context surfaces as its error.
func (p *Prefetcher) Next() (*diffusion.Batch, error) {
	p.mu.Lock()
	results, running := p.results, p.running
	p.mu.Unlock()

	if !running {
		return nil, fmt.Errorf("prefetcher is not running; call Reset first")
	}
	r, ok := <-results
	if !ok {
		if err := p.parent.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return r.batch, r.err
}

// Close stops prefetching. Further calls to Reset fail.
func (p *Prefetcher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.closed = true
	return nil
}

func (p *Prefetcher) stopLocked() {
	if !p.running {
		return
	}
	p.cancel()
	for range p.results {
		// drain until the worker closes the channel
	}
	p.running = false
}

func (p *Prefetcher) worker(ctx context.Context, out chan<- result) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}
		b, err := p.source.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case out <- result{batch: b, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
		p.produced.Add(1)
	}
}

// Stats returns statistics about the prefetcher
func (p *Prefetcher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		IsRunning:       p.running,
		BatchesProduced: p.produced.Load(),
		QueueCapacity:   p.depth,
		Generation:      p.generation,
	}
	if p.results != nil {
		s.QueuedBatches = len(p.results)
	}
	return s
}

// Stats provides statistics about the prefetcher
type Stats struct {
	IsRunning       bool
	BatchesProduced uint64
	QueuedBatches   int
	QueueCapacity   int
	Generation      uint64
}
