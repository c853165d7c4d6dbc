// Package scan coordinates reputation providers for navigations. Every
// provider of a run is dispatched before any is awaited, so a fast provider
// can raise an early alert while a slow one is still analysing.
package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/censys/url-reputation/pkg/alert"
	"github.com/censys/url-reputation/pkg/cache"
	"github.com/censys/url-reputation/pkg/provider"
	"github.com/censys/url-reputation/pkg/storage"
)

// DefaultGrace is how long a resolved navigation stays registered to absorb
// late duplicate navigation events.
const DefaultGrace = 60 * time.Second

// Navigation is a navigation event presented for scanning.
type Navigation struct {
	URL string `json:"url"`
	// Surface identifies the UI surface (tab, window) alerts belong to.
	Surface string `json:"surface,omitempty"`
}

// Result describes how a navigation was handled.
type Result struct {
	Phase  Phase               `json:"phase"`
	URL    string              `json:"url"`
	Reason string              `json:"reason,omitempty"`
	Record *storage.ScanRecord `json:"record,omitempty"`
	Alerts []alert.Event       `json:"alerts,omitempty"`
}

// Readiness reports whether scanning is enabled.
type Readiness interface {
	Ready() bool
}

// Alerter delivers alert events.
type Alerter interface {
	Deliver(ctx context.Context, ev alert.Event) error
}

// VerdictCache is the cache contract the orchestrator relies on.
type VerdictCache interface {
	Lookup(ctx context.Context, url string) (cache.Outcome, error)
	Store(ctx context.Context, record storage.ScanRecord) error
}

// Orchestrator owns the registry of in-flight navigations.
type Orchestrator struct {
	cache     VerdictCache
	providers []provider.Client
	alerts    Alerter
	ready     Readiness
	filter    *Filter
	grace     time.Duration
	now       func() time.Time
	logger    logr.Logger

	mu       sync.Mutex
	inflight map[string]*navigationState
}

type Option func(*Orchestrator)

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.grace = d
		}
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithFilter replaces the default filter, which trusts no domains.
func WithFilter(f *Filter) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.filter = f
		}
	}
}

func New(c VerdictCache, providers []provider.Client, alerts Alerter, ready Readiness, logger logr.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cache:     c,
		providers: providers,
		alerts:    alerts,
		ready:     ready,
		filter:    &Filter{},
		grace:     DefaultGrace,
		now:       time.Now,
		logger:    logger,
		inflight:  make(map[string]*navigationState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InFlight returns the number of registered navigations, including those in
// their grace period.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// Navigate scans nav.URL unless scanning is gated, the URL is excluded, a
// scan for it is already registered, or a fresh verdict is cached. It blocks
// until every provider answered. Only an unparseable URL is an error.
func (o *Orchestrator) Navigate(ctx context.Context, nav Navigation) (Result, error) {
	if !o.ready.Ready() {
		return Result{Phase: Gated, URL: nav.URL}, nil
	}

	url, reason, err := o.filter.Admit(nav.URL)
	if err != nil {
		return Result{}, fmt.Errorf("navigate: %w", err)
	}
	if reason != "" {
		o.logger.V(1).Info("Skipping navigation", "url", url, "reason", reason)
		return Result{Phase: Excluded, URL: url, Reason: reason}, nil
	}

	if o.registered(url) {
		return o.duplicate(url), nil
	}

	out, err := o.cache.Lookup(ctx, url)
	if err != nil {
		o.logger.Error(err, "Cache lookup failed, scanning anyway", "url", url)
		out = cache.Outcome{Kind: cache.Miss}
	}
	if out.Kind == cache.Fresh {
		return o.serveCached(ctx, nav.Surface, out.Record), nil
	}

	state := o.register(url, nav.Surface)
	if state == nil {
		return o.duplicate(url), nil
	}
	return o.run(ctx, state), nil
}

func (o *Orchestrator) duplicate(url string) Result {
	o.logger.V(1).Info("Dropping duplicate navigation", "url", url)
	return Result{Phase: Duplicate, URL: url}
}

// serveCached re-alerts a fresh malicious verdict without querying providers;
// a fresh safe verdict only refreshes passive state.
func (o *Orchestrator) serveCached(ctx context.Context, surface string, rec storage.ScanRecord) Result {
	var ev alert.Event
	if rec.IsMalicious {
		ev = alert.NewFinal(surface, rec, false, true)
	} else {
		ev = alert.NewSafe(surface, rec, true)
	}
	o.deliver(ctx, ev)
	return Result{Phase: CachedFresh, URL: rec.URL, Record: &rec, Alerts: []alert.Event{ev}}
}

func (o *Orchestrator) registered(url string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[url]
	return ok
}

// register creates the state for url, or returns nil when one already exists.
func (o *Orchestrator) register(url, surface string) *navigationState {
	names := make([]storage.Provider, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inflight[url]; ok {
		return nil
	}
	s := newNavigationState(url, surface, names)
	o.inflight[url] = s
	return s
}

func (o *Orchestrator) expire(s *navigationState) {
	time.AfterFunc(o.grace, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.inflight[s.url] == s {
			delete(o.inflight, s.url)
		}
	})
}

// release unregisters s immediately so the URL can be scanned again.
func (o *Orchestrator) release(s *navigationState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[s.url] == s {
		delete(o.inflight, s.url)
	}
}

func (o *Orchestrator) run(ctx context.Context, s *navigationState) Result {
	o.logger.V(1).Info("Scanning", "url", s.url, "providers", len(o.providers))
	res := Result{URL: s.url}

	completions := make(chan ProviderResolved, len(o.providers))
	for _, p := range o.providers {
		go func(p provider.Client) {
			completions <- ProviderResolved{URL: s.url, Provider: p.Name(), Result: p.Query(ctx, s.url)}
		}(p)
	}

	for !s.done() {
		msg := <-completions
		o.logger.V(1).Info("Provider resolved",
			"url", s.url,
			"provider", msg.Provider,
			"malicious", msg.Result.IsMalicious,
			"succeeded", msg.Result.Succeeded)
		for _, ev := range s.apply(msg) {
			o.deliver(ctx, ev)
			res.Alerts = append(res.Alerts, ev)
		}
	}

	if ctx.Err() != nil {
		// Results gathered after cancellation are not a verdict. Nothing is
		// stored, so a retry must not be dropped as a duplicate.
		o.release(s)
		s.phase = Cancelled
		o.logger.Info("Navigation cancelled before resolution", "url", s.url)
		res.Phase = Cancelled
		return res
	}

	rec, ev := s.resolve(o.now())
	defer o.expire(s)

	if err := o.cache.Store(ctx, rec); err != nil {
		o.logger.Error(err, "Storing scan record failed", "url", s.url)
	}
	o.deliver(ctx, ev)
	res.Alerts = append(res.Alerts, ev)

	o.logger.Info("Scan resolved",
		"url", s.url,
		"malicious", rec.IsMalicious,
		"succeeded", rec.ScanSucceeded,
		"detectors", rec.Detectors(),
		"order", s.order)

	res.Phase = Resolved
	res.Record = &rec
	return res
}

// deliver hands ev to the gateway. Failures were already logged there and
// never abort the orchestration.
func (o *Orchestrator) deliver(ctx context.Context, ev alert.Event) {
	_ = o.alerts.Deliver(ctx, ev)
}
