package records

import (
	"bytes"
	"errors"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

type DatasetKey string

const (
	DatasetEW    DatasetKey = "EW"
	DatasetED    DatasetKey = "ED"
	DatasetTop10 DatasetKey = "TOP10"
)

var aliases = map[string]DatasetKey{
	"EW":    DatasetEW,
	"ЕВ":    DatasetEW,
	"ED":    DatasetED,
	"ЕД":    DatasetED,
	"TOP10": DatasetTop10,
	"ТОП10": DatasetTop10,
}

// ParseDatasetKey accepts the ASCII keys used in callback payloads and the
// Cyrillic spellings users type in chat.
func ParseDatasetKey(s string) (DatasetKey, bool) {
	k, ok := aliases[strings.ToUpper(strings.TrimSpace(s))]
	return k, ok
}

// Paged reports whether the dataset is shown page by page with photos.
func (k DatasetKey) Paged() bool {
	return k != DatasetTop10
}

// Record is one ranked member as stored in the dataset JSON files.
type Record struct {
	DisplayName     string
	ProfileRef      string
	GuildLabel      string
	Delta           int64
	AvatarRef       string
	LastActiveLabel string
	Initial         string
	Current         string
}

type rawRecord struct {
	Display    string          `json:"display"`
	Norm       string          `json:"norm"`
	Profile    string          `json:"profile"`
	Guild      string          `json:"guild"`
	Diff       json.RawMessage `json:"diff"`
	Avatar     string          `json:"avatar"`
	LastActive string          `json:"last_active_human"`
	Initial    json.RawMessage `json:"initial"`
	Current    json.RawMessage `json:"current"`
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw rawRecord
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	name := raw.Display
	if name == "" {
		name = raw.Norm
	}
	*r = Record{
		DisplayName:     name,
		ProfileRef:      raw.Profile,
		GuildLabel:      raw.Guild,
		Delta:           parseDelta(raw.Diff),
		AvatarRef:       raw.Avatar,
		LastActiveLabel: raw.LastActive,
		Initial:         rawText(raw.Initial),
		Current:         rawText(raw.Current),
	}
	return nil
}

// parseDelta accepts numbers and numeric strings ("1 200", "1,200");
// anything else is zero. Values outside the int64 range saturate.
func parseDelta(raw json.RawMessage) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	s := string(raw)
	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0
		}
		s = strings.NewReplacer(" ", "", ",", "", "\u00a0", "").Replace(strings.TrimSpace(str))
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) || math.IsNaN(f) {
		return 0
	}
	switch f = math.Round(f); {
	case f >= 1<<63:
		return math.MaxInt64
	case f < -(1 << 63):
		return math.MinInt64
	}
	return int64(f)
}

func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
