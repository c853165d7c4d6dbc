package scan

import (
	"time"

	"github.com/censys/url-reputation/pkg/alert"
	"github.com/censys/url-reputation/pkg/storage"
)

// Phase is where a navigation stands in its scan lifecycle.
type Phase string

const (
	Gated             Phase = "gated"
	Excluded          Phase = "excluded"
	Duplicate         Phase = "duplicate"
	CachedFresh       Phase = "cached"
	Admissible        Phase = "admissible"
	Querying          Phase = "querying"
	PartiallyResolved Phase = "partially_resolved"
	Resolved          Phase = "resolved"
	Cancelled         Phase = "cancelled"
	Expired           Phase = "expired"
)

// ProviderResolved is posted once per provider when its query returns.
type ProviderResolved struct {
	URL      string
	Provider storage.Provider
	Result   storage.ProviderResult
}

// navigationState tracks one in-flight orchestration. Only the goroutine
// running the orchestration mutates it.
type navigationState struct {
	url        string
	surface    string
	phase      Phase
	pending    map[storage.Provider]bool
	results    map[storage.Provider]storage.ProviderResult
	order      []storage.Provider
	alertFired bool
	resolvedAt time.Time
}

func newNavigationState(url, surface string, providers []storage.Provider) *navigationState {
	s := &navigationState{
		url:     url,
		surface: surface,
		phase:   Querying,
		pending: make(map[storage.Provider]bool, len(providers)),
		results: make(map[storage.Provider]storage.ProviderResult, len(providers)),
	}
	for _, p := range providers {
		s.pending[p] = true
	}
	return s
}

// apply merges one provider completion and returns the events it triggers.
// At most one early alert fires per state; completions for providers that
// were not dispatched, or that already answered, are ignored.
func (s *navigationState) apply(msg ProviderResolved) []alert.Event {
	if msg.URL != s.url || !s.pending[msg.Provider] {
		return nil
	}
	delete(s.pending, msg.Provider)
	s.results[msg.Provider] = msg.Result
	s.order = append(s.order, msg.Provider)
	s.phase = PartiallyResolved

	var events []alert.Event
	if msg.Result.IsMalicious && !s.alertFired {
		s.alertFired = true
		events = append(events, alert.NewEarly(s.url, s.surface, msg.Result))
	}
	return events
}

// done reports whether every dispatched provider answered.
func (s *navigationState) done() bool {
	return len(s.pending) == 0
}

// resolve builds the combined record and the closing event.
func (s *navigationState) resolve(now time.Time) (storage.ScanRecord, alert.Event) {
	s.phase = Resolved
	s.resolvedAt = now
	rec := storage.NewScanRecord(s.url, now, s.results)
	if !rec.IsMalicious {
		return rec, alert.NewSafe(s.surface, rec, false)
	}
	return rec, alert.NewFinal(s.surface, rec, s.alertFired, false)
}
