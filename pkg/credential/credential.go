// Package credential holds the readiness signal that gates scanning. It is
// set by whatever validates the signature aggregator key; the orchestrator
// only reads it.
package credential

import (
	"context"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// Signal is a concurrency-safe readiness flag.
type Signal struct {
	ready atomic.Bool
}

func NewSignal(ready bool) *Signal {
	s := &Signal{}
	s.ready.Store(ready)
	return s
}

func (s *Signal) Set(ready bool) { s.ready.Store(ready) }

func (s *Signal) Ready() bool { return s.ready.Load() }

// Key holds an API key that can be replaced while the process runs.
type Key struct {
	v atomic.Value
}

func NewKey(key string) *Key {
	k := &Key{}
	k.Set(key)
	return k
}

func (k *Key) Set(key string) { k.v.Store(key) }

// Get returns the current key. It is meant to be passed as a func() string
// to clients that read the key on every request.
func (k *Key) Get() string {
	s, _ := k.v.Load().(string)
	return s
}

// Validator checks a credential against its service.
type Validator interface {
	ValidateKey(ctx context.Context) (bool, error)
}

// Refresh validates the credential and records the outcome on s. A
// validation error leaves the signal unready.
func Refresh(ctx context.Context, v Validator, s *Signal, logger logr.Logger) bool {
	ok, err := v.ValidateKey(ctx)
	if err != nil {
		logger.Error(err, "Credential validation failed")
		ok = false
	}
	s.Set(ok)
	logger.Info("Credential readiness updated", "ready", ok)
	return ok
}
