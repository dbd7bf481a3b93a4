package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which tracked series a Signal belongs to.
type Kind string

const (
	KindStock   Kind = "stock"
	KindPrice   Kind = "price"
	KindListing Kind = "listing"
	KindEvent   Kind = "event"
	KindVendor  Kind = "vendor"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindStock, KindPrice, KindListing, KindEvent, KindVendor:
		return true
	}
	return false
}

// Attributes holds the normalized, kind-dependent fields of one observation.
// Title and URL are cosmetic: they are carried for alert text but excluded
// from the content hash so display tweaks never register as changes.
type Attributes struct {
	Title     string           `json:"title,omitempty"`
	URL       string           `json:"url,omitempty"`
	Available *bool            `json:"available,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Currency  string           `json:"currency,omitempty"`
	Quantity  *int             `json:"quantity,omitempty"`
	EventDate *time.Time       `json:"event_date,omitempty"`
	Location  string           `json:"location,omitempty"`
	Vendors   []string         `json:"vendors,omitempty"`
}

// Signal is one normalized observation of a trackable item.
type Signal struct {
	EntityKey   string
	Source      string
	Kind        Kind
	Attributes  Attributes
	ObservedAt  time.Time
	ContentHash string
}

// EntityKey derives the stable identity for a tracked item. Only the
// configured identity fields participate, so the same physical item maps
// to the same key even when display text changes.
func EntityKey(source string, kind Kind, identity map[string]string) string {
	keys := make([]string, 0, len(identity))
	for k := range identity {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(source)
	b.WriteByte('|')
	b.WriteString(string(kind))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canonField(identity[k]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s:%s", source, hex.EncodeToString(sum[:8]))
}

// Hash digests the alert-relevant attributes. Two observations hash equal
// iff no field that could trigger an alert differs.
func (a Attributes) Hash() string {
	parts := make([]string, 0, 8)

	if a.Available != nil {
		parts = append(parts, fmt.Sprintf("available=%t", *a.Available))
	}
	if a.Price != nil {
		parts = append(parts, "price="+a.Price.String())
	}
	if a.Currency != "" {
		parts = append(parts, "currency="+canonField(a.Currency))
	}
	if a.Quantity != nil {
		parts = append(parts, fmt.Sprintf("quantity=%d", *a.Quantity))
	}
	if a.EventDate != nil {
		parts = append(parts, "event_date="+a.EventDate.UTC().Format(time.RFC3339))
	}
	if a.Location != "" {
		parts = append(parts, "location="+canonField(a.Location))
	}
	if len(a.Vendors) > 0 {
		vendors := make([]string, len(a.Vendors))
		for i, v := range a.Vendors {
			vendors[i] = canonField(v)
		}
		sort.Strings(vendors)
		parts = append(parts, "vendors="+strings.Join(vendors, ","))
	}

	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

// HasVendor reports whether name is in the vendor list, case-insensitively.
func (a Attributes) HasVendor(name string) bool {
	for _, v := range a.Vendors {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func canonField(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
