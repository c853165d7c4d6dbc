package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/censys/url-reputation/pkg/storage"
)

// Kind is the type of an alert event.
type Kind string

const (
	// EarlyAlert fires as soon as one provider confirms malice.
	EarlyAlert Kind = "early_alert"
	// FinalAlert carries the combined record. When an early alert already
	// fired for the run, Upgrade is set and the event replaces it.
	FinalAlert Kind = "final_alert"
	// SafeSignal updates passive UI state for a URL found not malicious.
	SafeSignal Kind = "safe_signal"
)

// Event is delivered to the UI surface that owns a navigation.
type Event struct {
	ID        string              `json:"id"`
	Kind      Kind                `json:"kind"`
	URL       string              `json:"url"`
	Surface   string              `json:"surface,omitempty"`
	Provider  storage.Provider    `json:"provider,omitempty"`
	Message   string              `json:"message,omitempty"`
	Detectors []storage.Provider  `json:"detectors,omitempty"`
	Record    *storage.ScanRecord `json:"record,omitempty"`
	Cached    bool                `json:"cached,omitempty"`
	Upgrade   bool                `json:"upgrade,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
}

func newEvent(kind Kind, url, surface string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		URL:       url,
		Surface:   surface,
		CreatedAt: time.Now().UTC(),
	}
}

// NewEarly builds the alert for the first malicious provider result.
func NewEarly(url, surface string, res storage.ProviderResult) Event {
	ev := newEvent(EarlyAlert, url, surface)
	ev.Provider = res.Provider
	ev.Detectors = []storage.Provider{res.Provider}
	ev.Message = "Flagged by " + Describe(res)
	return ev
}

// NewFinal builds the alert for a malicious combined record.
func NewFinal(surface string, rec storage.ScanRecord, upgrade, cached bool) Event {
	ev := newEvent(FinalAlert, rec.URL, surface)
	ev.Detectors = rec.Detectors()
	ev.Message = CombinedMessage(rec)
	ev.Record = &rec
	ev.Upgrade = upgrade
	ev.Cached = cached
	return ev
}

// NewSafe builds the signal for a record that is not malicious.
func NewSafe(surface string, rec storage.ScanRecord, cached bool) Event {
	ev := newEvent(SafeSignal, rec.URL, surface)
	ev.Record = &rec
	ev.Cached = cached
	if rec.ScanSucceeded {
		ev.Message = "No threats detected"
	} else {
		ev.Message = "No provider could scan this site"
	}
	return ev
}

// Describe renders one provider's finding, e.g. "SignatureAggregator (3
// vendors)" or "LocalClassifier (87% confidence)".
func Describe(res storage.ProviderResult) string {
	switch {
	case res.Stats != nil:
		n := res.Stats.Malicious
		if n == 0 {
			n = res.Stats.Suspicious
		}
		unit := "vendors"
		if n == 1 {
			unit = "vendor"
		}
		return fmt.Sprintf("%s (%d %s)", res.Provider, n, unit)
	case res.Classification != nil:
		return fmt.Sprintf("%s (%.0f%% confidence)", res.Provider, res.Classification.Confidence*100)
	default:
		return string(res.Provider)
	}
}

// CombinedMessage lists every detector of rec in canonical provider order.
func CombinedMessage(rec storage.ScanRecord) string {
	var parts []string
	for _, p := range rec.Detectors() {
		parts = append(parts, Describe(rec.Results[p]))
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return "Flagged by " + parts[0]
	default:
		return "Flagged by " + strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
