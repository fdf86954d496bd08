package telemetry

import (
	"os"

	"go.opentelemetry.io/otel/attribute"
)

// Provider contributes resource attributes to the metrics pipeline. Setup
// merges every configured Provider's attributes into the OTel resource
// alongside the service name, so a deployment can tag its own metrics with
// hostname, pid, or fixed operator-supplied labels without this module
// needing to know about any specific one.
type Provider interface {
	Attributes() []attribute.KeyValue
}

// Collect merges attributes from multiple providers. Later providers win on
// key collision, matching a last-write-wins override order (e.g. a static
// operator label overriding an auto-detected host attribute).
func Collect(providers []Provider) []attribute.KeyValue {
	merged := make(map[string]attribute.KeyValue)
	for _, p := range providers {
		for _, attr := range p.Attributes() {
			merged[string(attr.Key)] = attr
		}
	}
	out := make([]attribute.KeyValue, 0, len(merged))
	for _, attr := range merged {
		out = append(out, attr)
	}
	return out
}

// StaticAttributes is a Provider that always returns a fixed set of
// key-value pairs, for operator-supplied labels (region, cluster, tier).
type StaticAttributes map[string]string

func (s StaticAttributes) Attributes() []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(s))
	for k, v := range s {
		out = append(out, attribute.String(k, v))
	}
	return out
}

// HostAttributes is a Provider that reports the process's hostname under
// the given attribute key.
type HostAttributes struct {
	Key string
}

func (h HostAttributes) Attributes() []attribute.KeyValue {
	if h.Key == "" {
		return nil
	}
	name, err := os.Hostname()
	if err != nil {
		return nil
	}
	return []attribute.KeyValue{attribute.String(h.Key, name)}
}

// ProcessAttributes is a Provider that reports the current process ID under
// the given attribute key.
type ProcessAttributes struct {
	Key string
}

func (p ProcessAttributes) Attributes() []attribute.KeyValue {
	if p.Key == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.Int(p.Key, os.Getpid())}
}

// EnvAttributes is a Provider that maps attribute keys to environment
// variable names, reporting only the variables that are actually set.
type EnvAttributes map[string]string

func (e EnvAttributes) Attributes() []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(e))
	for attrKey, envVar := range e {
		if v, ok := os.LookupEnv(envVar); ok {
			out = append(out, attribute.String(attrKey, v))
		}
	}
	return out
}
