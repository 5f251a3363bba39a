package gnjoy

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rickgao/romarket/internal/model"
)

const dealListPath = "/itemDealList.asp"

// SearchDeals lists open deals for itemName on serverID (-1 for every server).
// Requests are throttled by the client's rate limiter.
func (c *Client) SearchDeals(ctx context.Context, itemName string, serverID, page int) ([]model.DealItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	query := url.Values{}
	query.Set("svrID", strconv.Itoa(serverID))
	query.Set("itemFullName", itemName)
	query.Set("itemOrder", "regdate")
	query.Set("curpage", strconv.Itoa(page))

	body, err := c.doRequest(ctx, dealListPath, query)
	if err != nil {
		return nil, fmt.Errorf("search deals: %w", err)
	}

	items, err := ParseDealList(strings.ToValidUTF8(string(body), "�"), serverID, c.now())
	if err != nil {
		return nil, err
	}

	c.logger.Info("searched deals", "item", itemName, "server_id", serverID, "page", page, "found", len(items))
	return items, nil
}
