package gnjoy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"

	"github.com/rickgao/romarket/internal/model"
)

const topFixture = `[
	{"ErrorCode": 0, "ErrorMessage": "", "NowDate": "2025-01-15"},
	{"data": [{"equipment": "W"}, {"rankNumber": 1, "itemID": 1213, "itemName": "나이프", "itemCnt": "120", "rankState": "up"}]},
	{"data": [{"equipment": "D"}, {"rankNumber": "1", "itemID": "2301", "itemName": "코튼 셔츠", "itemCnt": 45}]},
	{"data": [{"equipment": "C"}, {"rankNumber": 1, "itemID": 501, "itemName": "빨간 포션", "itemCnt": 300, "rankState": "-"}, {"rankNumber": "x"}]},
	{"data": []}
]`

func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("")

		if c.baseURL != DefaultBaseURL {
			t.Errorf("baseURL = %q, want %q", c.baseURL, DefaultBaseURL)
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", c.httpClient.Timeout)
		}
		if c.limiter.Limit() != rate.Limit(1) || c.limiter.Burst() != 1 {
			t.Errorf("limiter = %v/%d, want 1/1", c.limiter.Limit(), c.limiter.Burst())
		}
		if c.userAgent != DefaultUserAgent {
			t.Errorf("userAgent = %q", c.userAgent)
		}
	})

	t.Run("trailing slash trimmed", func(t *testing.T) {
		c := NewClient("http://example.com/itemDeal/")
		if c.baseURL != "http://example.com/itemDeal" {
			t.Errorf("baseURL = %q", c.baseURL)
		}
	})

	t.Run("options", func(t *testing.T) {
		c := NewClient("http://x",
			WithTimeout(5*time.Second),
			WithRateLimit(4, 2),
			WithUserAgent("romarket-test"),
		)
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", c.httpClient.Timeout)
		}
		if c.limiter.Limit() != rate.Limit(4) || c.limiter.Burst() != 2 {
			t.Errorf("limiter = %v/%d, want 4/2", c.limiter.Limit(), c.limiter.Burst())
		}
		if c.userAgent != "romarket-test" {
			t.Errorf("userAgent = %q", c.userAgent)
		}
	})

	t.Run("rate limit disabled", func(t *testing.T) {
		c := NewClient("http://x", WithRateLimit(0, 0))
		if c.limiter.Limit() != rate.Inf {
			t.Errorf("limiter = %v, want Inf", c.limiter.Limit())
		}
	})
}

func TestClient_Top(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/itemTop5BestView.asp" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(topFixture))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	got, err := c.Top(context.Background())
	if err != nil {
		t.Fatalf("Top: %v", err)
	}

	want := model.TopItems{
		Date: "2025-01-15",
		Weapons: []model.TopItem{
			{RankNumber: 1, ItemID: 1213, ItemName: "나이프", ItemCount: 120, RankState: "up", Category: model.CategoryWeapon},
		},
		Defenses: []model.TopItem{
			{RankNumber: 1, ItemID: 2301, ItemName: "코튼 셔츠", ItemCount: 45, RankState: "-", Category: model.CategoryDefense},
		},
		Consumables: []model.TopItem{
			{RankNumber: 1, ItemID: 501, ItemName: "빨간 포션", ItemCount: 300, RankState: "-", Category: model.CategoryConsumable},
		},
		Etcs: []model.TopItem{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Top mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_TopErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "http error",
			status: http.StatusBadGateway,
			body:   "bad gateway",
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
					t.Errorf("err = %v, want APIError 502", err)
				}
			},
		},
		{
			name:   "upstream error code",
			status: http.StatusOK,
			body:   `[{"ErrorCode":"99","ErrorMessage":"maintenance"},{},{},{},{}]`,
			check: func(t *testing.T, err error) {
				var up *UpstreamError
				if !errors.As(err, &up) || up.Code != "99" || up.Message != "maintenance" {
					t.Errorf("err = %v, want UpstreamError 99", err)
				}
			},
		},
		{
			name:   "short array",
			status: http.StatusOK,
			body:   `[{"ErrorCode":"0"}]`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnexpectedPayload) {
					t.Errorf("err = %v, want ErrUnexpectedPayload", err)
				}
			},
		},
		{
			name:   "not an array",
			status: http.StatusOK,
			body:   `{"ErrorCode":"0"}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnexpectedPayload) {
					t.Errorf("err = %v, want ErrUnexpectedPayload", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL).Top(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

func TestClient_SearchDeals(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if r.URL.Path != "/itemDealList.asp" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if q.Get("svrID") != "2" || q.Get("itemFullName") != "엘루" || q.Get("itemOrder") != "regdate" || q.Get("curpage") != "3" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(dealFixture))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(0, 0))
	items, err := c.SearchDeals(context.Background(), "엘루", 2, 3)
	if err != nil {
		t.Fatalf("SearchDeals: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestClient_SearchDealsRateLimitCancelled(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", WithRateLimit(0.001, 1))
	c.limiter.Allow() // drain the single token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.SearchDeals(ctx, "x", -1, 1); err == nil {
		t.Fatal("expected rate limit error")
	}
}

func TestSource_CollapsesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	src := NewSource(NewClient(server.URL, WithRateLimit(0, 0)), nil)

	if _, ok := src.FetchTop(context.Background()); ok {
		t.Error("FetchTop ok = true on server error")
	}
	if items := src.SearchDeals(context.Background(), "x", -1, 1); len(items) != 0 {
		t.Errorf("SearchDeals returned %d items on server error", len(items))
	}
}
