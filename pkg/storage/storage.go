package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Provider identifies a reputation provider.
type Provider string

const (
	SignatureAggregator Provider = "SignatureAggregator"
	LocalClassifier     Provider = "LocalClassifier"
)

// Providers lists every provider in canonical order. Combined alert messages
// and detector lists follow this order.
var Providers = []Provider{SignatureAggregator, LocalClassifier}

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// Stats is the vendor tally reported by the signature aggregator.
type Stats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

// Classification is the local classifier's verdict. Confidence is always on
// a 0..1 scale.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ProviderResult is one provider's normalized opinion about a URL.
type ProviderResult struct {
	Provider       Provider        `json:"provider"`
	IsMalicious    bool            `json:"isMalicious"`
	Succeeded      bool            `json:"succeeded"`
	ErrorReason    string          `json:"errorReason,omitempty"`
	Stats          *Stats          `json:"stats,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	AnalysisID     string          `json:"analysisId,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// ScanRecord is the combined verdict persisted after every provider answered.
type ScanRecord struct {
	URL           string                      `json:"url"`
	ScanTime      time.Time                   `json:"scanTime"`
	Results       map[Provider]ProviderResult `json:"results"`
	IsMalicious   bool                        `json:"isMalicious"`
	ScanSucceeded bool                        `json:"scanSucceeded"`
}

// NewScanRecord combines provider results into a record. IsMalicious and
// ScanSucceeded are ORed over the results that are present.
func NewScanRecord(url string, scanTime time.Time, results map[Provider]ProviderResult) ScanRecord {
	rec := ScanRecord{
		URL:      url,
		ScanTime: scanTime.UTC(),
		Results:  make(map[Provider]ProviderResult, len(results)),
	}
	for p, res := range results {
		rec.Results[p] = res
		rec.IsMalicious = rec.IsMalicious || res.IsMalicious
		rec.ScanSucceeded = rec.ScanSucceeded || res.Succeeded
	}
	return rec
}

// Detectors returns the providers that flagged the URL, in canonical order.
func (r ScanRecord) Detectors() []Provider {
	var out []Provider
	for _, p := range Providers {
		if res, ok := r.Results[p]; ok && res.IsMalicious {
			out = append(out, p)
		}
	}
	return out
}

// HistoryEntry is the ledger projection of a ScanRecord.
type HistoryEntry struct {
	URL           string    `json:"url"`
	ScanTime      time.Time `json:"scanTime"`
	IsMalicious   bool      `json:"isMalicious"`
	ScanSucceeded bool      `json:"scanSucceeded"`
	HasSignature  bool      `json:"hasSignature"`
	HasClassifier bool      `json:"hasClassifier"`
}

// EntryFromRecord projects a record into a history entry.
func EntryFromRecord(r ScanRecord) HistoryEntry {
	_, sig := r.Results[SignatureAggregator]
	_, cls := r.Results[LocalClassifier]
	return HistoryEntry{
		URL:           r.URL,
		ScanTime:      r.ScanTime,
		IsMalicious:   r.IsMalicious,
		ScanSucceeded: r.ScanSucceeded,
		HasSignature:  sig,
		HasClassifier: cls,
	}
}

// Repository defines persistence operations for scan records and the history
// ledger. Record writes replace the whole record; the last write wins.
type Repository interface {
	Get(ctx context.Context, url string) (ScanRecord, bool, error)
	UpsertLatest(ctx context.Context, record ScanRecord) error
	Delete(ctx context.Context, urls ...string) error

	// UpsertHistory inserts or replaces the entry for its URL and keeps only
	// the limit most recent entries.
	UpsertHistory(ctx context.Context, entry HistoryEntry, limit int) error
	// ListHistory returns entries by scan time, newest first.
	ListHistory(ctx context.Context) ([]HistoryEntry, error)
	// ClearHistory removes every entry and returns the URLs it held.
	ClearHistory(ctx context.Context) ([]string, error)
}
