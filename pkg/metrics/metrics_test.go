package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.RecordChunkWrite("node")
	m.RecordChunkRead(true)
	m.RecordCommit(true, time.Millisecond)
	m.RecordCompaction(false, time.Millisecond)
	m.SetTreeKeys("t", 5)
}

func TestRecordChunkWriteIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordChunkWrite("node")
	m.RecordChunkWrite("node")
	m.RecordChunkWrite("value")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := counterValue(t, families, "rootsdb_chunk_writes_total", "kind", "node")
	if got != 2 {
		t.Fatalf("chunk writes (node) = %v, want 2", got)
	}
}

func counterValue(t *testing.T, families []*dto.MetricFamily, name, label, value string) float64 {
	t.Helper()
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%s} not found", name, label, value)
	return 0
}
