package audit

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m.observeSubmission("log", "Success")
	m.observeVerdict("membership_proof", VerdictPass)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := make(map[string]bool)
	for _, family := range families {
		found[family.GetName()] = true
	}
	for _, name := range []string{MetricSubmissionsTotal, MetricVerificationsTotal} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestMetrics_ObserveSubmission(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m.observeSubmission("log", "Success")
	m.observeSubmission("log", "Success")
	m.observeSubmission("search", "")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	counts := make(map[string]float64)
	for _, family := range families {
		if family.GetName() != MetricSubmissionsTotal {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string)
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			counts[labels["operation"]+"/"+labels["status"]] = metric.GetCounter().GetValue()
		}
	}

	if counts["log/Success"] != 2 {
		t.Errorf("log/Success = %v, want 2", counts["log/Success"])
	}
	// Empty status is recorded as a transport error
	if counts["search/transport_error"] != 1 {
		t.Errorf("search/transport_error = %v, want 1", counts["search/transport_error"])
	}
}

func TestMetrics_ObserveVerdict(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m.observeVerdict("hash", VerdictPass)
	m.observeVerdict("signature", VerdictFail)
	m.observeVerdict("consistency_proof", VerdictNone)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var metrics []*dto.Metric
	for _, family := range families {
		if family.GetName() == MetricVerificationsTotal {
			metrics = family.GetMetric()
		}
	}

	// Skipped checks must not produce a series
	if len(metrics) != 2 {
		t.Fatalf("expected 2 verification series, got %d", len(metrics))
	}
	for _, metric := range metrics {
		for _, l := range metric.GetLabel() {
			if l.GetName() == "check" && l.GetValue() == "consistency_proof" {
				t.Error("skipped verdict should not be counted")
			}
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	// Must not panic when the client runs without metrics
	m.observeSubmission("log", "Success")
	m.observeVerdict("hash", VerdictPass)
}
