package gnjoy

import (
	"context"
	"log/slog"

	"github.com/rickgao/romarket/internal/model"
)

// Source adapts Client for the refresh pipeline: failures are logged and reported
// as missing data.
type Source struct {
	client *Client
	logger *slog.Logger
}

// NewSource wraps client.
func NewSource(client *Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{client: client, logger: logger}
}

// FetchTop returns the current top items, or false if they could not be fetched.
func (s *Source) FetchTop(ctx context.Context) (model.TopItems, bool) {
	items, err := s.client.Top(ctx)
	if err != nil {
		s.logger.Error("failed to fetch top items", "error", err)
		return model.TopItems{}, false
	}
	s.logger.Debug("fetched top items", "date", items.Date, "count", items.Count())
	return items, true
}

// SearchDeals returns the deals for name, or nil if nothing was found or the request failed.
func (s *Source) SearchDeals(ctx context.Context, name string, serverID, page int) []model.DealItem {
	items, err := s.client.SearchDeals(ctx, name, serverID, page)
	if err != nil {
		s.logger.Error("failed to search deals", "item", name, "server_id", serverID, "error", err)
		return nil
	}
	return items
}
