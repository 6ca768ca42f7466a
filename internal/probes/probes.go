// Package probes wraps the host security-posture producers. Collectors are
// opaque to the rest of the system: the stream and REST layers invoke them on
// a schedule and forward whatever JSON they emit.
package probes

import (
	"context"
	"encoding/json"
	"time"
)

// Collector gathers one category of telemetry. Implementations own their own
// timeouts; callers may assume Collect returns within a bounded time.
type Collector interface {
	Name() string
	Collect(ctx context.Context) (json.RawMessage, error)
}

// execTimeout bounds every external command a collector shells out to.
const execTimeout = 10 * time.Second

// Registry maps channel names to their collectors.
type Registry map[string]Collector

func NewRegistry() Registry {
	return Registry{
		"security": NewSecurityCollector(),
		"network":  NewNetworkCollector(),
		"logs":     NewLogsCollector(50),
	}
}

func (r Registry) Get(name string) (Collector, bool) {
	c, ok := r[name]
	return c, ok
}
