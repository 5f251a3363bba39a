package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/romarket/internal/model"
	"github.com/rickgao/romarket/internal/refresh"
)

type mockRefresher struct {
	mu       sync.Mutex
	tops     []refresh.TopRequest
	searches []refresh.SearchRequest
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	fail     string
}

func (m *mockRefresher) FetchTop(ctx context.Context, req refresh.TopRequest) (refresh.TopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tops = append(m.tops, req)
	return refresh.TopResult{}, nil
}

func (m *mockRefresher) Search(ctx context.Context, req refresh.SearchRequest) (model.SearchResult, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	m.mu.Lock()
	m.searches = append(m.searches, req)
	m.mu.Unlock()

	if req.Name == m.fail {
		return model.SearchResult{}, errors.New("boom")
	}
	return model.SearchResult{TotalCount: 2}, nil
}

func (m *mockRefresher) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tops), len(m.searches)
}

type mockSweeper struct {
	sweeps atomic.Int32
}

func (m *mockSweeper) SweepExpired() int {
	m.sweeps.Add(1)
	return 1
}

func TestPoller_RefreshAll(t *testing.T) {
	r := &mockRefresher{fail: "c"}
	cfg := Config{
		Interval:    time.Hour, // Long interval, we'll trigger manually.
		Items:       []string{"a", "b", "c", "d", "e"},
		Concurrency: 2,
	}
	p := New(cfg, r, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.ctx = ctx

	p.refreshAll()

	tops, searches := r.counts()
	if tops != 1 || searches != 5 {
		t.Errorf("tops = %d, searches = %d; want 1, 5", tops, searches)
	}
	if !r.tops[0].ForceRefresh {
		t.Error("top refresh was not forced")
	}
	for _, s := range r.searches {
		if !s.ForceRefresh || s.ServerID != model.AllServers || s.Page != 1 {
			t.Errorf("search request = %+v", s)
		}
	}
	if got := r.maxSeen.Load(); got > 2 {
		t.Errorf("max concurrent searches = %d, want <= 2", got)
	}
}

func TestPoller_StartStop(t *testing.T) {
	r := &mockRefresher{}
	sw := &mockSweeper{}
	p := New(Config{
		Interval:      20 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, r, sw, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	tops, _ := r.counts()
	if tops < 2 {
		t.Errorf("top refreshes = %d, want >= 2", tops)
	}
	if sw.sweeps.Load() < 2 {
		t.Errorf("sweeps = %d, want >= 2", sw.sweeps.Load())
	}

	// No further work after Stop.
	after, _ := r.counts()
	time.Sleep(50 * time.Millisecond)
	if now, _ := r.counts(); now != after {
		t.Errorf("poller kept running after Stop: %d -> %d", after, now)
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, &mockRefresher{}, nil, nil)
	if p.cfg.Interval != 5*time.Minute || p.cfg.SweepInterval != time.Minute || p.cfg.Concurrency != 2 {
		t.Errorf("cfg = %+v", p.cfg)
	}
}
