package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveRecordsSuccessAndError(t *testing.T) {
	before := counterValue(t, OperationsTotal.WithLabelValues("file", "stat", "success"))
	Observe("file", "stat", time.Now(), nil)
	after := counterValue(t, OperationsTotal.WithLabelValues("file", "stat", "success"))
	if after != before+1 {
		t.Fatalf("success counter = %v, want %v", after, before+1)
	}

	beforeErr := counterValue(t, OperationsTotal.WithLabelValues("file", "stat", "error"))
	Observe("file", "stat", time.Now(), errors.New("boom"))
	afterErr := counterValue(t, OperationsTotal.WithLabelValues("file", "stat", "error"))
	if afterErr != beforeErr+1 {
		t.Fatalf("error counter = %v, want %v", afterErr, beforeErr+1)
	}
}

func TestObserveBytesIgnoresNonPositive(t *testing.T) {
	before := counterValue(t, BytesTransferred.WithLabelValues("s3", "write"))
	ObserveBytes("s3", "write", 0)
	ObserveBytes("s3", "write", -5)
	after := counterValue(t, BytesTransferred.WithLabelValues("s3", "write"))
	if after != before {
		t.Fatalf("bytes counter changed for non-positive input: before=%v after=%v", before, after)
	}
	ObserveBytes("s3", "write", 128)
	final := counterValue(t, BytesTransferred.WithLabelValues("s3", "write"))
	if final != before+128 {
		t.Fatalf("bytes counter = %v, want %v", final, before+128)
	}
}
