// Package registry lets spacelink servers advertise themselves and clients find them.
package registry

import (
	"context"
	"errors"
)

var ErrNoInstances = errors.New("registry: no instances")

// ServiceInstance is one reachable server. Addr is the WebSocket URL a client dials.
type ServiceInstance struct {
	Addr    string            `json:"addr"`
	Weight  int               `json:"weight"` // Weight for load balancing
	Version string            `json:"version,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx ends.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
