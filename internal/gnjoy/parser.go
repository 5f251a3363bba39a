package gnjoy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/rickgao/romarket/internal/model"
)

var (
	headerPattern = regexp.MustCompile(`서버|아이템|가격`)
	itemIDPattern = regexp.MustCompile(`CallItemDealView\(\d+,(\d+),`)
	gradePattern  = regexp.MustCompile(`(?i)\[(UNIQUE|RARE|EPIC|LEGEND|MYTHIC)\]\s*`)
	refinePattern = regexp.MustCompile(`\+(\d+)\s*`)
	cardsPattern  = regexp.MustCompile(`\[([^\]]+)\]|\(([^\)]+)\)`)
	digitsPattern = regexp.MustCompile(`\d+`)
	nonDigits     = regexp.MustCompile(`[^\d]`)
)

// ParseDealList extracts deals from an itemDealList.asp page.
//
// Expected columns: server, item, quantity, price, shop (class buy/sale), optional map.
// Rows with fewer than five cells are skipped. A page without a deal table yields no items.
func ParseDealList(html string, defaultServer int, now time.Time) ([]model.DealItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse deal list: %w", err)
	}

	table := findDealTable(doc)
	if table == nil {
		return nil, nil
	}

	var items []model.DealItem
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		items = append(items, parseRow(cells, defaultServer, now))
	})
	return items, nil
}

func findDealTable(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"table.dealList", "table.tbl_deal", "table#dealList"} {
		if t := doc.Find(sel).First(); t.Length() > 0 {
			return t
		}
	}

	t := doc.Find("table").FilterFunction(func(_ int, t *goquery.Selection) bool {
		return t.Find("th").FilterFunction(func(_ int, th *goquery.Selection) bool {
			return headerPattern.MatchString(th.Text())
		}).Length() > 0
	}).First()
	if t.Length() == 0 {
		return nil
	}
	return t
}

func parseRow(cells *goquery.Selection, defaultServer int, now time.Time) model.DealItem {
	serverText := strippedText(cells.Eq(0))
	serverID := parseServer(serverText, defaultServer)
	serverName, ok := model.ServerName(serverID)
	if !ok {
		serverName = serverText
	}

	itemCell := cells.Eq(1)
	name, grade, refine, cards := parseItemName(strippedText(itemCell))

	var itemID *int
	if onclick, ok := itemCell.Find("a[onclick]").First().Attr("onclick"); ok {
		if m := itemIDPattern.FindStringSubmatch(onclick); m != nil {
			if id, err := strconv.Atoi(m[1]); err == nil {
				itemID = &id
			}
		}
	}
	image, _ := itemCell.Find("img").First().Attr("src")

	priceText := strippedText(cells.Eq(3))
	price := parseNumber(priceText)
	priceFormatted := strings.ReplaceAll(priceText, " ", "")
	if priceFormatted == "0" {
		priceFormatted = ""
	}

	shopCell := cells.Eq(4)
	var dealType string
	switch {
	case shopCell.HasClass("buy"):
		dealType = "buy"
	case shopCell.HasClass("sale"):
		dealType = "sale"
	}

	var mapName string
	if cells.Length() > 5 {
		mapName = strippedText(cells.Eq(5))
	}

	item := model.DealItem{
		ServerID:       serverID,
		ServerName:     serverName,
		ItemID:         itemID,
		ItemName:       name,
		ItemImageURL:   image,
		Refine:         refine,
		Grade:          grade,
		CardSlots:      cards,
		Quantity:       parseNumber(strippedText(cells.Eq(2))),
		Price:          price,
		PriceFormatted: priceFormatted,
		DealType:       dealType,
		ShopName:       strippedText(shopCell),
		MapName:        mapName,
		CrawledAt:      now,
	}
	item.Normalize()
	return item
}

// parseItemName splits "[RARE]+7 Sword[2]" into name, grade, refine and card slots.
// Grade is removed before card slots so a grade tag is never read as a card list.
func parseItemName(text string) (name, grade string, refine *int, cards string) {
	if m := gradePattern.FindStringSubmatch(text); m != nil {
		grade = strings.ToUpper(m[1])
		text = gradePattern.ReplaceAllString(text, "")
	}

	if m := refinePattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			refine = &n
		}
		text = refinePattern.ReplaceAllString(text, "")
	}

	if m := cardsPattern.FindStringSubmatch(text); m != nil {
		cards = m[1]
		if cards == "" {
			cards = m[2]
		}
		text = cardsPattern.ReplaceAllString(text, "")
	}

	return strings.TrimSpace(text), grade, refine, cards
}

// parseServer resolves a server cell to an ID: name match first, then the first number,
// then defaultServer.
func parseServer(text string, defaultServer int) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return defaultServer
	}

	for _, s := range model.Servers {
		if strings.Contains(text, s.Name) || strings.Contains(s.Name, text) {
			return s.ID
		}
	}

	if m := digitsPattern.FindString(text); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n
		}
	}
	return defaultServer
}

// parseNumber keeps only the digits of text ("1,500,000 z" -> 1500000).
func parseNumber(text string) int {
	clean := nonDigits.ReplaceAllString(text, "")
	if clean == "" {
		return 0
	}
	n, err := strconv.Atoi(clean)
	if err != nil {
		return 0
	}
	return n
}

// strippedText concatenates every descendant text node with surrounding whitespace trimmed.
func strippedText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				b.WriteString(strings.TrimSpace(c.Text()))
				return
			}
			walk(c)
		})
	}
	walk(s)
	return b.String()
}
