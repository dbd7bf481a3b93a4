package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

// Type classifies the transition an Alert describes.
type Type string

const (
	TypeRestock       Type = "restock"
	TypeNewListing    Type = "new_listing"
	TypePriceDrop     Type = "price_drop"
	TypePriceChange   Type = "price_change"
	TypeEventNew      Type = "event_new"
	TypeEventUpdated  Type = "event_updated"
	TypeVendorSpotted Type = "vendor_spotted"
)

// Severity ranks how urgently an Alert should be treated.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityNormal   Severity = "normal"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Details carries the structured before/after values behind an Alert.
type Details struct {
	Field string `json:"field"`
	Old   string `json:"old,omitempty"`
	New   string `json:"new,omitempty"`
}

// Alert is an outward-facing notification payload. It is immutable once
// built; dispatch retries deliver the same value, never a regenerated one.
type Alert struct {
	ID        string
	Type      Type
	EntityKey string
	Kind      signal.Kind
	Summary   string
	Details   Details
	Severity  Severity
	DedupKey  string
	Title     string
	URL       string
	CreatedAt time.Time
}

// New builds an Alert for one classified transition.
func New(t Type, sig signal.Signal, details Details, at time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      t,
		EntityKey: sig.EntityKey,
		Kind:      sig.Kind,
		Summary:   summarize(t, sig, details),
		Details:   details,
		Severity:  severityFor(t),
		DedupKey:  DedupKey(sig.EntityKey, t, at),
		Title:     sig.Attributes.Title,
		URL:       sig.Attributes.URL,
		CreatedAt: at,
	}
}

// DedupKey coarsens the alert identity to an hourly bucket so replays and
// near-simultaneous duplicates collapse to one key.
func DedupKey(entityKey string, t Type, at time.Time) string {
	return fmt.Sprintf("%s|%s|%s", entityKey, t, at.UTC().Truncate(time.Hour).Format("2006-01-02T15"))
}

func severityFor(t Type) Severity {
	switch t {
	case TypeRestock:
		return SeverityCritical
	case TypePriceDrop, TypeVendorSpotted:
		return SeverityHigh
	case TypeNewListing, TypeEventNew, TypeEventUpdated:
		return SeverityNormal
	default:
		return SeverityInfo
	}
}

func summarize(t Type, sig signal.Signal, d Details) string {
	name := sig.Attributes.Title
	if name == "" {
		name = sig.EntityKey
	}

	switch t {
	case TypeRestock:
		return fmt.Sprintf("Back in stock: %s", name)
	case TypeNewListing:
		return fmt.Sprintf("New listing: %s", name)
	case TypePriceDrop:
		return fmt.Sprintf("Price drop: %s (%s -> %s)", name, d.Old, d.New)
	case TypePriceChange:
		return fmt.Sprintf("Price changed: %s (%s -> %s)", name, d.Old, d.New)
	case TypeEventNew:
		return fmt.Sprintf("New event: %s", name)
	case TypeEventUpdated:
		return fmt.Sprintf("Event updated: %s (%s: %s -> %s)", name, d.Field, d.Old, d.New)
	case TypeVendorSpotted:
		return fmt.Sprintf("Vendor spotted at %s: %s", name, d.New)
	default:
		return name
	}
}

// RenderText formats the Alert as a plain-text notification message. The
// wording is stable per dedup key so a duplicate delivery reads as a
// duplicate rather than a fresh alert.
func (a Alert) RenderText() string {
	b := strings.Builder{}
	b.WriteString("[TCG Sentinel] ")
	b.WriteString(a.Summary)
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Type: %s (%s)\n", a.Type, a.Severity))
	if a.Details.Field != "" {
		b.WriteString(fmt.Sprintf("%s: %s -> %s\n", a.Details.Field, a.Details.Old, a.Details.New))
	}
	if a.URL != "" {
		b.WriteString(a.URL)
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("Seen: %s UTC", a.CreatedAt.UTC().Format(time.RFC3339)))
	return b.String()
}
