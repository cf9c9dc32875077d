package influx

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestNewPointCarriesEveryCounter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	point := newPoint(map[string]uint64{"reconciliations": 3, "entities": 12}, map[string]string{"host": "a"}, now)
	if point == nil {
		t.Fatalf("expected a point")
	}
	if point.Name() != measurement {
		t.Fatalf("expected measurement %q, got %q", measurement, point.Name())
	}
	if len(point.FieldList()) != 2 {
		t.Fatalf("expected two fields, got %d", len(point.FieldList()))
	}
	line := write.PointToLineProtocol(point, time.Second)
	for _, want := range []string{"host=a", "reconciliations=3", "entities=12"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in line protocol %q", want, line)
		}
	}
}

func TestNewPointSkipsEmptySnapshot(t *testing.T) {
	if point := newPoint(nil, nil, time.Now()); point != nil {
		t.Fatalf("expected no point for an empty snapshot")
	}
}
