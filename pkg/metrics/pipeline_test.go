package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPipelineMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPipelineMetrics(reg)

	metrics.IncPublished("success")
	metrics.IncPublished("failure")
	metrics.IncPublishRetry()
	metrics.AddUploadBytes(1024)
	metrics.IncGenerated("success")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "notes_published_total", "outcome", "success"); err != nil {
		t.Fatalf("fetch published: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "generated_notes_total", "outcome", "success"); err != nil {
		t.Fatalf("fetch generated: %v", err)
	} else if got != 1 {
		t.Fatalf("expected generated=1, got %f", got)
	}

	if mf := findMetricFamily(mfs, "upload_bytes_total"); mf == nil {
		t.Fatal("upload_bytes_total not registered")
	} else if mf.GetMetric()[0].GetCounter().GetValue() != 1024 {
		t.Fatalf("expected 1024 upload bytes, got %f", mf.GetMetric()[0].GetCounter().GetValue())
	}
}

func TestPipelineMetricsNilRegistererIsNoop(t *testing.T) {
	metrics := NewPipelineMetrics(nil)
	metrics.IncPublished("success")
	metrics.AddUploadBytes(10)
	metrics.IncPublishRetry()
}
