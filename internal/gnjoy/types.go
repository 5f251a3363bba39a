package gnjoy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnexpectedPayload is returned when the top-N response is not the expected array.
var ErrUnexpectedPayload = errors.New("unexpected gnjoy payload")

// UpstreamError is a non-zero ErrorCode in the top-N response header.
type UpstreamError struct {
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gnjoy error %s: %s", e.Code, e.Message)
}

// flexInt decodes a JSON number or a numeric string. Empty strings decode to 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse int %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

// flexString decodes a JSON string or number into its text form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

// topHeader is element 0 of the top-N array.
type topHeader struct {
	ErrorCode    flexString `json:"ErrorCode"`
	ErrorMessage string     `json:"ErrorMessage"`
	NowDate      string     `json:"NowDate"`
}

// topSection is elements 1..4 of the top-N array.
type topSection struct {
	Data []json.RawMessage `json:"data"`
}

// topEntry is one item in a section. Entries with "equipment" set are category headers.
type topEntry struct {
	Equipment  json.RawMessage `json:"equipment"`
	RankNumber flexInt         `json:"rankNumber"`
	ItemID     flexInt         `json:"itemID"`
	ItemName   string          `json:"itemName"`
	ItemCount  flexInt         `json:"itemCnt"`
	RankState  *string         `json:"rankState"`
}
