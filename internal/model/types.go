package model

import (
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Top-N Types
// -----------------------------------------------------------------------------

// Category is a top-N item category code as used by GNJOY.
type Category string

const (
	CategoryWeapon     Category = "W"
	CategoryDefense    Category = "D"
	CategoryConsumable Category = "C"
	CategoryEtc        Category = "E"
)

// Categories lists every category in the fixed layout order.
var Categories = []Category{CategoryWeapon, CategoryDefense, CategoryConsumable, CategoryEtc}

// ParseCategory normalizes a user-supplied category code ("w" -> "W").
// The second return value is false for codes outside the fixed layout.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return c, false
}

// DisplayName returns the Korean label shown on the market site.
func (c Category) DisplayName() string {
	switch c {
	case CategoryWeapon:
		return "무기"
	case CategoryDefense:
		return "방어구"
	case CategoryConsumable:
		return "소비"
	case CategoryEtc:
		return "기타"
	}
	return "Unknown"
}

// TopItem is one ranked entry of the most-viewed items list.
type TopItem struct {
	RankNumber int      `json:"rankNumber"`
	ItemID     int      `json:"itemID"`
	ItemName   string   `json:"itemName"`
	ItemCount  int      `json:"itemCnt"`
	RankState  string   `json:"rankState"`
	Category   Category `json:"category,omitempty"`
}

// TopItems is the categorized result of a single top-N fetch.
type TopItems struct {
	Date        string // Upstream "NowDate"
	Weapons     []TopItem
	Defenses    []TopItem
	Consumables []TopItem
	Etcs        []TopItem
}

// Count returns the number of items across all categories.
func (t TopItems) Count() int {
	return len(t.Weapons) + len(t.Defenses) + len(t.Consumables) + len(t.Etcs)
}

// TopSnapshot is the normalized top-N payload in the fixed W/D/C/E layout.
// It is what gets cached and broadcast; treat it as immutable once built.
type TopSnapshot struct {
	Date string    `json:"date"`
	W    []TopItem `json:"W"`
	D    []TopItem `json:"D"`
	C    []TopItem `json:"C"`
	E    []TopItem `json:"E"`
}

// NewTopSnapshot normalizes a fetch result, stamping each item with its category.
func NewTopSnapshot(t TopItems) TopSnapshot {
	return TopSnapshot{
		Date: t.Date,
		W:    withCategory(t.Weapons, CategoryWeapon),
		D:    withCategory(t.Defenses, CategoryDefense),
		C:    withCategory(t.Consumables, CategoryConsumable),
		E:    withCategory(t.Etcs, CategoryEtc),
	}
}

func withCategory(items []TopItem, c Category) []TopItem {
	out := make([]TopItem, len(items))
	for i, it := range items {
		it.Category = c
		out[i] = it
	}
	return out
}

// Category returns one category's slice. Unknown codes yield an empty list.
func (s TopSnapshot) Category(c Category) []TopItem {
	var items []TopItem
	switch c {
	case CategoryWeapon:
		items = s.W
	case CategoryDefense:
		items = s.D
	case CategoryConsumable:
		items = s.C
	case CategoryEtc:
		items = s.E
	}
	if items == nil {
		return []TopItem{}
	}
	return items
}

// TopItemRecord is a row of the last-known top-N snapshot kept by the history store.
type TopItemRecord struct {
	ItemID    int      `json:"item_id"`
	ItemName  string   `json:"item_name"`
	Category  Category `json:"category"`
	Rank      int      `json:"rank"`
	DealCount int      `json:"deal_count"`
	UpdatedAt int64    `json:"updated_at"` // µs since epoch
}

// -----------------------------------------------------------------------------
// Deal Types
// -----------------------------------------------------------------------------

// DealItem is one listing from the item deal search.
type DealItem struct {
	ServerID       int       `json:"serverId"`
	ServerName     string    `json:"serverName"`
	ItemID         *int      `json:"itemId"`
	ItemName       string    `json:"itemName"`
	DisplayName    string    `json:"displayName"`
	ItemImageURL   string    `json:"itemImageUrl,omitempty"`
	Refine         *int      `json:"refine"`
	Grade          string    `json:"grade,omitempty"` // UNIQUE, RARE, ...
	CardSlots      string    `json:"cardSlots,omitempty"`
	Quantity       int       `json:"quantity"`
	Price          int       `json:"price"`
	PriceFormatted string    `json:"priceFormatted"`
	DealType       string    `json:"dealType,omitempty"` // "buy" or "sale"
	ShopName       string    `json:"shopName"`
	MapName        string    `json:"mapName,omitempty"`
	CrawledAt      time.Time `json:"crawledAt"`
}

// Normalize fills the derived display fields when the parser left them empty.
func (d *DealItem) Normalize() {
	if d.PriceFormatted == "" {
		d.PriceFormatted = FormatThousands(d.Price)
	}
	if d.DisplayName == "" {
		var b strings.Builder
		if d.Grade != "" {
			b.WriteString("[" + d.Grade + "]")
		}
		if d.Refine != nil && *d.Refine > 0 {
			b.WriteString("+" + strconv.Itoa(*d.Refine))
		}
		b.WriteString(d.ItemName)
		if d.CardSlots != "" {
			b.WriteString("[" + d.CardSlots + "]")
		}
		d.DisplayName = b.String()
	}
}

// FormatThousands renders n with comma separators: 1234567 -> "1,234,567".
func FormatThousands(n int) string {
	digits := strconv.Itoa(n)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SearchResult is the response of an item deal search.
type SearchResult struct {
	Items      []DealItem `json:"items"`
	TotalCount int        `json:"totalCount"`
	Page       int        `json:"page"`
	HasMore    bool       `json:"hasMore"`
}

// -----------------------------------------------------------------------------
// History Types
// -----------------------------------------------------------------------------

// PriceRecord is a price observation for a searched item.
type PriceRecord struct {
	ID         int64  `json:"id"`
	ItemID     *int   `json:"itemId"`
	ItemName   string `json:"itemName"`
	ServerID   int    `json:"serverId"`
	Price      int    `json:"price"`
	Quantity   int    `json:"quantity"`
	ShopName   string `json:"shopName"`
	RecordedAt int64  `json:"recordedAt"` // µs since epoch
}

// RankRecord is a rank observation for a top-N item.
type RankRecord struct {
	ID         int64    `json:"id"`
	ItemID     int      `json:"item_id"`
	ItemName   string   `json:"item_name"`
	Category   Category `json:"category"`
	Rank       int      `json:"rank"`
	DealCount  int      `json:"deal_count"`
	RecordedAt int64    `json:"recorded_at"` // µs since epoch
}
