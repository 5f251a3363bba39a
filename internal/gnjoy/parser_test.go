package gnjoy

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rickgao/romarket/internal/model"
)

const dealFixture = `<html><body>
<table class="listTypeOfDefault dealList">
  <tr><th>서버</th><th>아이템</th><th>수량</th><th>가격</th><th>상점</th></tr>
  <tr>
    <td>바포메트</td>
    <td><a href="#" onclick="CallItemDealView(129,985,'x',1)"><img src="https://img.example/985.png"> 엘루</a></td>
    <td>10</td>
    <td class="priceLv1">1,500 z</td>
    <td class="sale">엘루상점</td>
  </tr>
  <tr>
    <td>이그드라실</td>
    <td><a onclick="CallItemDealView(229,1213,'x',1)">[RARE] +7 나이프 [포링 카드]</a></td>
    <td>1</td>
    <td>25,000,000</td>
    <td class="buy">삽니다</td>
    <td>prontera</td>
  </tr>
  <tr><td colspan="5">광고</td></tr>
  <tr>
    <td>529</td>
    <td>오리데오콘(3)</td>
    <td>2</td>
    <td>0</td>
    <td>상점</td>
  </tr>
</table>
</body></html>`

func intPtr(n int) *int { return &n }

func TestParseDealList(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	got, err := ParseDealList(dealFixture, -1, now)
	if err != nil {
		t.Fatalf("ParseDealList: %v", err)
	}

	want := []model.DealItem{
		{
			ServerID:       1,
			ServerName:     "바포메트",
			ItemID:         intPtr(985),
			ItemName:       "엘루",
			DisplayName:    "엘루",
			ItemImageURL:   "https://img.example/985.png",
			Quantity:       10,
			Price:          1500,
			PriceFormatted: "1,500z",
			DealType:       "sale",
			ShopName:       "엘루상점",
			CrawledAt:      now,
		},
		{
			ServerID:       2,
			ServerName:     "이그드라실",
			ItemID:         intPtr(1213),
			ItemName:       "나이프",
			DisplayName:    "[RARE]+7나이프[포링 카드]",
			Refine:         intPtr(7),
			Grade:          "RARE",
			CardSlots:      "포링 카드",
			Quantity:       1,
			Price:          25000000,
			PriceFormatted: "25,000,000",
			DealType:       "buy",
			ShopName:       "삽니다",
			MapName:        "prontera",
			CrawledAt:      now,
		},
		{
			ServerID:       529,
			ServerName:     "다크로드",
			ItemName:       "오리데오콘",
			DisplayName:    "오리데오콘[3]",
			CardSlots:      "3",
			Quantity:       2,
			Price:          0,
			PriceFormatted: "0",
			ShopName:       "상점",
			CrawledAt:      now,
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseDealList mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDealList_FallbackTable(t *testing.T) {
	html := `<table><tr><td>nav</td></tr></table>
<table><tr><th>가격</th></tr><tr><td>다크로드</td><td>젤로피</td><td>5</td><td>100</td><td>가게</td></tr></table>`

	got, err := ParseDealList(html, -1, time.Time{})
	if err != nil {
		t.Fatalf("ParseDealList: %v", err)
	}
	if len(got) != 1 || got[0].ServerID != 3 || got[0].ItemName != "젤로피" {
		t.Errorf("got %+v", got)
	}
}

func TestParseDealList_NoTable(t *testing.T) {
	got, err := ParseDealList(`<html><body><p>검색 결과가 없습니다</p></body></html>`, -1, time.Time{})
	if err != nil {
		t.Fatalf("ParseDealList: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d items, want 0", len(got))
	}
}

func TestParseItemName(t *testing.T) {
	tests := []struct {
		in     string
		name   string
		grade  string
		refine *int
		cards  string
	}{
		{"엘루", "엘루", "", nil, ""},
		{"+10 나이프", "나이프", "", intPtr(10), ""},
		{"[unique]나이프[2]", "나이프", "UNIQUE", nil, "2"},
		{"나이프(포링 카드)", "나이프", "", nil, "포링 카드"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, grade, refine, cards := parseItemName(tt.in)
			if name != tt.name || grade != tt.grade || cards != tt.cards {
				t.Errorf("parseItemName(%q) = %q, %q, %q", tt.in, name, grade, cards)
			}
			if diff := cmp.Diff(tt.refine, refine); diff != "" {
				t.Errorf("refine (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseServer(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"바포메트", 1},
		{"이프리트 서버", 4},
		{"729", 729},
		{"", -1},
		{"unknown", -1},
	}

	for _, tt := range tests {
		if got := parseServer(tt.in, -1); got != tt.want {
			t.Errorf("parseServer(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := map[string]int{
		"1,500,000 z": 1500000,
		"":            0,
		"없음":          0,
		"12개":         12,
	}
	for in, want := range tests {
		if got := parseNumber(in); got != want {
			t.Errorf("parseNumber(%q) = %d, want %d", in, got, want)
		}
	}
}
