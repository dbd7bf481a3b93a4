package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/config"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

// RawObservation is the boundary contract with collectors: one scraped item
// as loosely-typed fields plus provenance.
type RawObservation struct {
	SourceName  string
	Kind        signal.Kind
	Fields      map[string]string
	CollectedAt time.Time
}

// ValidationError reports a malformed or incomplete observation. The
// observation is dropped; the pipeline continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid observation: field %q %s", e.Field, e.Reason)
}

// ErrFilteredOut marks a deliberate drop by keyword or location rules. It
// is not a failure; callers count it separately from validation errors.
var ErrFilteredOut = errors.New("observation filtered out")

// Normalizer turns raw collector output into Signals. It is pure: the same
// observation and config always yield the same Signal.
type Normalizer struct {
	sources map[string]config.Source
	filters config.FilterConfig
}

// New builds a Normalizer over the configured sources and filter rules.
func New(sources []config.Source, filters config.FilterConfig) *Normalizer {
	byName := make(map[string]config.Source, len(sources))
	for _, src := range sources {
		byName[src.Name] = src
	}
	return &Normalizer{sources: byName, filters: filters}
}

// Normalize validates, filters, and canonicalizes one raw observation.
func (n *Normalizer) Normalize(raw RawObservation) (signal.Signal, error) {
	src, ok := n.sources[raw.SourceName]
	if !ok {
		return signal.Signal{}, &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", raw.SourceName)}
	}
	if !raw.Kind.Valid() {
		return signal.Signal{}, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", raw.Kind)}
	}
	if raw.CollectedAt.IsZero() {
		return signal.Signal{}, &ValidationError{Field: "collected_at", Reason: "is missing"}
	}

	attrs, err := n.parseAttributes(raw)
	if err != nil {
		return signal.Signal{}, err
	}

	if err := n.applyFilters(raw.Kind, attrs); err != nil {
		return signal.Signal{}, err
	}

	identity := identityFields(src, raw.Fields)
	if len(identity) == 0 {
		return signal.Signal{}, &ValidationError{Field: "identity", Reason: "has no usable identity fields"}
	}

	sig := signal.Signal{
		EntityKey:  signal.EntityKey(src.Name, raw.Kind, identity),
		Source:     src.Name,
		Kind:       raw.Kind,
		Attributes: attrs,
		ObservedAt: raw.CollectedAt.UTC(),
	}
	sig.ContentHash = sig.Attributes.Hash()
	return sig, nil
}

func (n *Normalizer) parseAttributes(raw RawObservation) (signal.Attributes, error) {
	attrs := signal.Attributes{
		Title: strings.TrimSpace(raw.Fields["title"]),
		URL:   strings.TrimSpace(raw.Fields["url"]),
	}

	if v, ok := raw.Fields["available"]; ok {
		avail, err := parseAvailability(v)
		if err != nil {
			return attrs, &ValidationError{Field: "available", Reason: err.Error()}
		}
		attrs.Available = &avail
	}

	if v, ok := raw.Fields["price"]; ok {
		price, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return attrs, &ValidationError{Field: "price", Reason: "is not a number"}
		}
		if price.IsNegative() {
			return attrs, &ValidationError{Field: "price", Reason: "is negative"}
		}
		attrs.Price = &price
		attrs.Currency = strings.ToUpper(strings.TrimSpace(raw.Fields["currency"]))
	}

	if v, ok := raw.Fields["quantity"]; ok {
		qty, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || qty < 0 {
			return attrs, &ValidationError{Field: "quantity", Reason: "is not a non-negative integer"}
		}
		attrs.Quantity = &qty
	}

	if v, ok := raw.Fields["date"]; ok {
		date, err := parseDate(v)
		if err != nil {
			return attrs, &ValidationError{Field: "date", Reason: "is not a parseable date"}
		}
		attrs.EventDate = &date
	}

	attrs.Location = strings.TrimSpace(raw.Fields["location"])

	if v, ok := raw.Fields["vendors"]; ok {
		for _, vendor := range strings.Split(v, ";") {
			vendor = strings.TrimSpace(vendor)
			if vendor != "" {
				attrs.Vendors = append(attrs.Vendors, vendor)
			}
		}
	}

	switch raw.Kind {
	case signal.KindStock:
		if attrs.Available == nil {
			return attrs, &ValidationError{Field: "available", Reason: "is required for stock observations"}
		}
	case signal.KindPrice:
		if attrs.Price == nil {
			return attrs, &ValidationError{Field: "price", Reason: "is required for price observations"}
		}
	case signal.KindEvent, signal.KindVendor:
		if attrs.EventDate == nil {
			return attrs, &ValidationError{Field: "date", Reason: "is required for event observations"}
		}
	}
	if attrs.Title == "" {
		return attrs, &ValidationError{Field: "title", Reason: "is required"}
	}

	return attrs, nil
}

// applyFilters enforces keyword allow/block lists on the title and, for
// events, the location allowlist. Original rule set: lowercase substring
// match, blocklist wins over allowlist.
func (n *Normalizer) applyFilters(kind signal.Kind, attrs signal.Attributes) error {
	title := strings.ToLower(attrs.Title)

	for _, blocked := range n.filters.Blocklist {
		if blocked != "" && strings.Contains(title, strings.ToLower(blocked)) {
			return ErrFilteredOut
		}
	}

	if len(n.filters.Allowlist) > 0 {
		matched := false
		for _, allowed := range n.filters.Allowlist {
			if allowed != "" && strings.Contains(title, strings.ToLower(allowed)) {
				matched = true
				break
			}
		}
		if !matched {
			return ErrFilteredOut
		}
	}

	if (kind == signal.KindEvent || kind == signal.KindVendor) && len(n.filters.AllowedLocations) > 0 {
		location := strings.ToLower(attrs.Location)
		matched := false
		for _, allowed := range n.filters.AllowedLocations {
			if allowed != "" && strings.Contains(location, strings.ToLower(allowed)) {
				matched = true
				break
			}
		}
		if !matched {
			return ErrFilteredOut
		}
	}

	return nil
}

// identityFields selects the configured identity fields for key derivation,
// falling back to sku/id/title so a source without explicit config still
// gets deterministic keys.
func identityFields(src config.Source, fields map[string]string) map[string]string {
	names := src.IdentityFields
	if len(names) == 0 {
		names = []string{"sku", "id", "title"}
	}

	identity := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) != "" {
			identity[name] = v
		}
	}
	return identity
}

func parseAvailability(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1", "in stock", "in_stock", "available":
		return true, nil
	case "false", "no", "0", "out of stock", "out_of_stock", "unavailable", "sold out":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized availability %q", v)
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006",
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", v)
}
