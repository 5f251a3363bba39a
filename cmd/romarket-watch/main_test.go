package main

import (
	"testing"

	"github.com/rickgao/romarket/internal/connection"
)

func TestParseWatch(t *testing.T) {
	tests := []struct {
		in      string
		want    connection.Watch
		wantErr bool
	}{
		{"엘더윌로우카드", connection.Watch{ItemName: "엘더윌로우카드", ServerID: -1}, false},
		{"포션@2", connection.Watch{ItemName: "포션", ServerID: 2}, false},
		{"a@b@3", connection.Watch{ItemName: "a@b", ServerID: 3}, false},
		{"@1", connection.Watch{}, true},
		{"포션@x", connection.Watch{}, true},
	}

	for _, tt := range tests {
		got, err := parseWatch(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseWatch(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseWatch(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
