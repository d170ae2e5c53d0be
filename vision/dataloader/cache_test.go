package dataloader

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/tsawler/go-palette/vision/dataset"
)

func TestCacheManagerBasicOperations(t *testing.T) {
	cm := NewCacheManager(3)
	s := &dataset.Sample{}

	if _, ok := cm.Get("missing"); ok {
		t.Error("Expected miss on empty cache")
	}
	cm.Put("a", s)
	got, ok := cm.Get("a")
	if !ok || got != s {
		t.Errorf("Expected cached sample, got %v, %v", got, ok)
	}

	stats := cm.Stats()
	if stats.Size != 1 || stats.Hits != 1 || stats.Misses != 1 || stats.HitRate != 50 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestCacheManagerLRUEviction(t *testing.T) {
	cm := NewCacheManager(2)
	for _, k := range []string{"a", "b"} {
		cm.Put(k, &dataset.Sample{})
	}
	cm.Get("a") // b is now least recently used
	cm.Put("c", &dataset.Sample{})

	tests := []struct {
		key  string
		want bool
	}{
		{"a", true},
		{"b", false},
		{"c", true},
	}
	for _, tt := range tests {
		if _, ok := cm.Get(tt.key); ok != tt.want {
			t.Errorf("key %s: present=%v, want %v", tt.key, ok, tt.want)
		}
	}
	if cm.Stats().Size != 2 {
		t.Errorf("Expected size 2, got %d", cm.Stats().Size)
	}
}

func TestCacheManagerPutExisting(t *testing.T) {
	cm := NewCacheManager(2)
	first := &dataset.Sample{}
	cm.Put("a", first)
	cm.Put("a", &dataset.Sample{})
	if got, _ := cm.Get("a"); got != first {
		t.Error("Put on an existing key should keep the original sample")
	}
	if cm.Stats().Size != 1 {
		t.Errorf("Expected size 1, got %d", cm.Stats().Size)
	}
}

func TestCacheManagerClearAndResetStats(t *testing.T) {
	cm := NewCacheManager(4)
	cm.Put("a", &dataset.Sample{})
	cm.Get("a")
	cm.Clear()
	if _, ok := cm.Get("a"); ok {
		t.Error("Expected miss after Clear")
	}
	if s := cm.Stats(); s.Size != 0 || s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Clear should keep cumulative stats, got %+v", s)
	}
	cm.ResetStats()
	if s := cm.Stats(); s.Hits != 0 || s.Misses != 0 || s.HitRate != 0 {
		t.Errorf("ResetStats left %+v", s)
	}
}

func TestCacheManagerConcurrency(t *testing.T) {
	cm := NewCacheManager(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("%d-%d", g, i%20)
				if _, ok := cm.Get(key); !ok {
					cm.Put(key, &dataset.Sample{})
				}
			}
		}(g)
	}
	wg.Wait()
	if s := cm.Stats(); s.Size > 50 || s.Hits+s.Misses != 800 {
		t.Errorf("Unexpected stats after concurrent use: %+v", s)
	}
}

func TestCacheStatsString(t *testing.T) {
	s := CacheStats{Size: 2, MaxSize: 10, Hits: 3, Misses: 1, HitRate: 75}
	want := "Cache: 2/10 items, Hits: 3, Misses: 1, Hit Rate: 75.0%"
	if got := s.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !strings.Contains(NewCacheManager(1).Stats().String(), "0/1") {
		t.Error("empty stats should show 0/1")
	}
}
