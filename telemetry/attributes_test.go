package telemetry

import (
	"os"
	"testing"
)

func TestStaticAttributes(t *testing.T) {
	attrs := StaticAttributes{"region": "us-east-1"}.Attributes()
	if len(attrs) != 1 || string(attrs[0].Key) != "region" || attrs[0].Value.AsString() != "us-east-1" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestHostAttributesEmptyKey(t *testing.T) {
	if attrs := (HostAttributes{}).Attributes(); attrs != nil {
		t.Fatalf("expected no attributes for empty key, got %v", attrs)
	}
}

func TestHostAttributesReportsHostname(t *testing.T) {
	attrs := HostAttributes{Key: "host.name"}.Attributes()
	if len(attrs) != 1 {
		t.Fatalf("expected exactly one attribute, got %v", attrs)
	}
	want, _ := os.Hostname()
	if attrs[0].Value.AsString() != want {
		t.Fatalf("hostname = %q, want %q", attrs[0].Value.AsString(), want)
	}
}

func TestProcessAttributesReportsPID(t *testing.T) {
	attrs := ProcessAttributes{Key: "process.pid"}.Attributes()
	if len(attrs) != 1 || attrs[0].Value.AsInt64() != int64(os.Getpid()) {
		t.Fatalf("unexpected pid attribute: %v", attrs)
	}
}

func TestEnvAttributesSkipsUnsetVars(t *testing.T) {
	t.Setenv("MSC_TEST_ATTR", "present")
	attrs := EnvAttributes{"seen": "MSC_TEST_ATTR", "missing": "MSC_TEST_ATTR_UNSET"}.Attributes()
	if len(attrs) != 1 || string(attrs[0].Key) != "seen" || attrs[0].Value.AsString() != "present" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestCollectLastProviderWins(t *testing.T) {
	attrs := Collect([]Provider{
		StaticAttributes{"tier": "a"},
		StaticAttributes{"tier": "b"},
	})
	if len(attrs) != 1 || attrs[0].Value.AsString() != "b" {
		t.Fatalf("expected last provider to win, got %v", attrs)
	}
}
