package gnjoy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rickgao/romarket/internal/model"
)

const topPath = "/itemTop5BestView.asp"

// Top fetches the most viewed items per category.
//
// The payload is [header, W, D, C, E]. A header ErrorCode other than "0" is returned
// as *UpstreamError; a malformed array as ErrUnexpectedPayload.
func (c *Client) Top(ctx context.Context) (model.TopItems, error) {
	body, err := c.doRequest(ctx, topPath, nil)
	if err != nil {
		return model.TopItems{}, fmt.Errorf("fetch top items: %w", err)
	}
	return c.decodeTop(body)
}

func (c *Client) decodeTop(body []byte) (model.TopItems, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return model.TopItems{}, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}
	if len(parts) < 1+len(model.Categories) {
		return model.TopItems{}, fmt.Errorf("%w: %d elements", ErrUnexpectedPayload, len(parts))
	}

	var header topHeader
	if err := json.Unmarshal(parts[0], &header); err != nil {
		return model.TopItems{}, fmt.Errorf("%w: header: %v", ErrUnexpectedPayload, err)
	}
	if header.ErrorCode != "0" {
		return model.TopItems{}, &UpstreamError{Code: string(header.ErrorCode), Message: header.ErrorMessage}
	}

	sections := make([][]model.TopItem, len(model.Categories))
	for i, cat := range model.Categories {
		var sec topSection
		if err := json.Unmarshal(parts[i+1], &sec); err != nil {
			return model.TopItems{}, fmt.Errorf("%w: section %s: %v", ErrUnexpectedPayload, cat, err)
		}
		sections[i] = c.decodeEntries(sec.Data, cat)
	}

	items := model.TopItems{
		Date:        header.NowDate,
		Weapons:     sections[0],
		Defenses:    sections[1],
		Consumables: sections[2],
		Etcs:        sections[3],
	}

	c.logger.Info("fetched top items",
		"weapons", len(items.Weapons),
		"defenses", len(items.Defenses),
		"consumables", len(items.Consumables),
		"etcs", len(items.Etcs),
	)
	return items, nil
}

func (c *Client) decodeEntries(raw []json.RawMessage, cat model.Category) []model.TopItem {
	items := make([]model.TopItem, 0, len(raw))
	for _, r := range raw {
		var e topEntry
		if err := json.Unmarshal(r, &e); err != nil {
			c.logger.Debug("skipping invalid top entry", "category", cat, "error", err)
			continue
		}
		if len(e.Equipment) > 0 {
			continue
		}

		state := "-"
		if e.RankState != nil {
			state = *e.RankState
		}
		items = append(items, model.TopItem{
			RankNumber: int(e.RankNumber),
			ItemID:     int(e.ItemID),
			ItemName:   e.ItemName,
			ItemCount:  int(e.ItemCount),
			RankState:  state,
			Category:   cat,
		})
	}
	return items
}
