package scene

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// Trend is the externally computed direction of a holding's value.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ParseTrend accepts the canonical names and a few feed aliases; anything else
// is stable.
func ParseTrend(raw string) Trend {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "increasing", "up", "rising":
		return TrendIncreasing
	case "decreasing", "down", "falling":
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// Descriptor is one ranked holding as delivered by the data pipeline.
type Descriptor struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Icon  string  `json:"icon,omitempty"`
	Value float64 `json:"value"`
	Trend Trend   `json:"trend"`
	Skin  string  `json:"skin"`
	Rank  int     `json:"rank"`
}

// normalizeSnapshot copies snapshot, drops descriptors without an identifier,
// keeps only the first descriptor per identifier and canonicalises trends.
func normalizeSnapshot(snapshot []Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))
	for _, d := range snapshot {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			continue
		}
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		d.Trend = ParseTrend(string(d.Trend))
		d.Skin = strings.TrimSpace(d.Skin)
		out = append(out, d)
	}
	return out
}

type snapshotEnvelope struct {
	Holdings []Descriptor `json:"holdings"`
}

// DecodeSnapshot accepts either a bare JSON array of descriptors or an object
// with a "holdings" array.
func DecodeSnapshot(payload []byte) ([]Descriptor, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("empty snapshot payload")
	}
	if trimmed[0] == '[' {
		var snapshot []Descriptor
		if err := json.Unmarshal(trimmed, &snapshot); err != nil {
			return nil, errors.Wrap(err, "decode snapshot array")
		}
		return snapshot, nil
	}
	var env snapshotEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, errors.Wrap(err, "decode snapshot envelope")
	}
	if env.Holdings == nil {
		return nil, errors.New("snapshot envelope has no holdings")
	}
	return env.Holdings, nil
}
