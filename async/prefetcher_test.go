package async

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tsawler/go-palette/diffusion"
	"github.com/tsawler/go-palette/tensor"
)

// countingSource yields n batches whose ground truth holds the batch number
type countingSource struct {
	mu      sync.Mutex
	n       int
	pos     int
	resets  int
	failAt  int
	delay   time.Duration
}

func (s *countingSource) Len() int { return s.n }

func (s *countingSource) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.resets++
	return nil
}

func (s *countingSource) Next() (*diffusion.Batch, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= s.n {
		return nil, io.EOF
	}
	if s.pos == s.failAt {
		return nil, errors.New("corrupt batch")
	}
	gt, _ := tensor.Full([]int{1, 1, 1, 1}, float32(s.pos))
	s.pos++
	return &diffusion.Batch{GroundTruth: gt, Cond: gt, Mask: gt}, nil
}

func collect(t *testing.T, p *Prefetcher) []float32 {
	t.Helper()
	var out []float32
	for {
		b, err := p.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, b.GroundTruth.Data[0])
	}
}

func TestPrefetcherPreservesOrder(t *testing.T) {
	src := &countingSource{n: 10, failAt: -1}
	p, err := NewPrefetcher(context.Background(), src, Config{Depth: 3})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if _, err := p.Next(); err == nil {
		t.Error("Next before Reset should fail")
	}

	for epoch := 0; epoch < 2; epoch++ {
		if err := p.Reset(); err != nil {
			t.Fatal(err)
		}
		got := collect(t, p)
		if len(got) != 10 {
			t.Fatalf("epoch %d: expected 10 batches, got %d", epoch, len(got))
		}
		for i, v := range got {
			if v != float32(i) {
				t.Fatalf("epoch %d: batch %d out of order: %v", epoch, i, got)
			}
		}
	}

	s := p.Stats()
	if s.Generation != 2 || s.BatchesProduced != 20 || s.QueueCapacity != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
	if p.Len() != 10 || src.resets != 2 {
		t.Errorf("Len %d, resets %d", p.Len(), src.resets)
	}
}

func TestPrefetcherResetMidEpoch(t *testing.T) {
	src := &countingSource{n: 50, failAt: -1}
	p, _ := NewPrefetcher(context.Background(), src, Config{Depth: 2})
	defer p.Close()

	if err := p.Reset(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := p.Next(); err != nil {
			t.Fatal(err)
		}
	}
	// abandoning an epoch must not leak batches into the next one
	if err := p.Reset(); err != nil {
		t.Fatal(err)
	}
	b, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if b.GroundTruth.Data[0] != 0 {
		t.Errorf("first batch after Reset is %v, want 0", b.GroundTruth.Data[0])
	}
}

func TestPrefetcherError(t *testing.T) {
	src := &countingSource{n: 5, failAt: 2}
	p, _ := NewPrefetcher(context.Background(), src, Config{})
	defer p.Close()
	if err := p.Reset(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := p.Next(); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}
	if _, err := p.Next(); err == nil || err.Error() != "corrupt batch" {
		t.Errorf("expected source error, got %v", err)
	}
	if _, err := p.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after an error, got %v", err)
	}
}

func TestPrefetcherCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &countingSource{n: 1000, failAt: -1, delay: time.Millisecond}
	p, _ := NewPrefetcher(ctx, src, Config{Depth: 1})
	defer p.Close()
	if err := p.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Next(); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("prefetcher did not stop after cancellation")
		default:
		}
		_, err := p.Next()
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}
}

func TestPrefetcherClose(t *testing.T) {
	p, err := NewPrefetcher(context.Background(), &countingSource{n: 3, failAt: -1}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if p.Stats().IsRunning {
		t.Error("Close should stop the worker")
	}
	if err := p.Reset(); err == nil {
		t.Error("Reset after Close should fail")
	}
	if _, err := NewPrefetcher(context.Background(), nil, Config{}); err == nil {
		t.Error("expected error for nil source")
	}
}
