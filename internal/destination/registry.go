package destination

import (
	"strings"
	"unicode"
)

// Destination is a named transfer target.
// An empty PhoneNumber means the destination is not configured.
type Destination struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Description string `json:"description,omitempty"`
}

// Registry resolves department names to dialable transfer targets.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	order     []string // keys in insertion order
	byKey     map[string]Destination
	defaultID string
}

// DefaultDestinations returns the destinations a session gets when no transfer
// configuration is supplied. None of them has a number, so transfers are disabled.
func DefaultDestinations() []Destination {
	return []Destination{
		{ID: "support", Name: "Support", Description: "Customer support team"},
		{ID: "sales", Name: "Sales", Description: "Sales department"},
		{ID: "billing", Name: "Billing", Description: "Billing inquiries"},
	}
}

// NewRegistry builds a Registry. Destinations are keyed by lower-cased ID, or by
// lower-cased name when the ID is empty. A repeated key replaces the earlier
// record but keeps its position.
func NewRegistry(dests []Destination, defaultID string) *Registry {
	r := &Registry{
		byKey:     make(map[string]Destination, len(dests)),
		defaultID: normalize(defaultID),
	}
	for _, d := range dests {
		key := keyFor(d)
		if key == "" {
			continue
		}
		if _, exists := r.byKey[key]; !exists {
			r.order = append(r.order, key)
		}
		d.PhoneNumber = strings.TrimSpace(d.PhoneNumber)
		r.byKey[key] = d
	}
	return r
}

// DefaultID returns the normalized default destination id.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// Lookup returns the destination registered under the given name.
func (r *Registry) Lookup(department string) (Destination, bool) {
	d, ok := r.byKey[normalize(department)]
	return d, ok
}

// Resolve returns the phone target for a department. Unknown departments and
// departments without a number fall back to the default destination.
// Returns false when the default has no number either.
func (r *Registry) Resolve(department string) (string, bool) {
	if d, ok := r.byKey[normalize(department)]; ok && d.PhoneNumber != "" {
		return d.PhoneNumber, true
	}
	if d, ok := r.byKey[r.defaultID]; ok && d.PhoneNumber != "" {
		return d.PhoneNumber, true
	}
	return "", false
}

// AvailableDepartments lists the display names of destinations that have a
// phone number, in registry order.
func (r *Registry) AvailableDepartments() []string {
	var names []string
	for _, key := range r.order {
		d := r.byKey[key]
		if d.PhoneNumber == "" {
			continue
		}
		name := d.Name
		if name == "" {
			name = d.ID
		}
		names = append(names, name)
	}
	return names
}

// TransfersEnabled reports whether any destination can be dialed.
func (r *Registry) TransfersEnabled() bool {
	for _, d := range r.byKey {
		if d.PhoneNumber != "" {
			return true
		}
	}
	return false
}

// Destinations returns all destinations in registry order.
func (r *Registry) Destinations() []Destination {
	out := make([]Destination, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}

// FormatTarget normalizes a raw phone string into a tel: URI.
// Inputs already prefixed with tel: or sip: are returned unchanged. Ten-digit
// numbers are treated as US national numbers and get a leading 1. Returns ""
// when the input has no digits.
func FormatTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "tel:") || strings.HasPrefix(lower, "sip:") {
		return raw
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return ""
	}
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return "tel:+" + digits
}

func keyFor(d Destination) string {
	if key := normalize(d.ID); key != "" {
		return key
	}
	return normalize(d.Name)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimFunc(s, unicode.IsSpace))
}
