package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Mode describes how an offering is billed.
type Mode string

const (
	// ModeOneTime is a single charge.
	ModeOneTime Mode = "one_time"
	// ModeRecurring is a subscription.
	ModeRecurring Mode = "recurring"
)

// PlaceholderPriceRef is the sentinel shipped in deployment templates. An
// offering carrying it is treated as unconfigured and never served.
const PlaceholderPriceRef = "price_REPLACE_WITH_REAL_ID"

var (
	// ErrUnknownOffering is returned when the identifier is not in the registry.
	ErrUnknownOffering = errors.New("catalog: unknown offering")
	// ErrNotConfigured is returned for offerings whose provider price
	// reference failed validation at startup.
	ErrNotConfigured = errors.New("catalog: offering price reference not configured")
)

// Offering is a sellable item. Price references are resolved at configuration
// time; a caller-supplied string is never treated as a price reference.
type Offering struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	UnitAmount    int64    `json:"unitAmount"`
	Currency      string   `json:"currency"`
	Mode          Mode     `json:"mode"`
	BillingPeriod string   `json:"billingPeriod,omitempty"`
	Features      []string `json:"features,omitempty"`
	// PriceRef is the provider-side price identifier. Never serialised to
	// storefront responses.
	PriceRef string `json:"-"`
}

// Registry is an immutable set of offerings validated at construction.
type Registry struct {
	offerings map[string]Offering
	invalid   map[string]string
}

// NewRegistry validates the provided offerings and builds the registry.
// Offerings with an unusable price reference stay listed as invalid so
// Resolve can fail closed with a configuration error instead of an unknown-id
// error.
func NewRegistry(offerings []Offering) (*Registry, error) {
	reg := &Registry{
		offerings: make(map[string]Offering, len(offerings)),
		invalid:   map[string]string{},
	}
	for _, off := range offerings {
		id := strings.TrimSpace(off.ID)
		if id == "" {
			return nil, errors.New("catalog: offering with empty id")
		}
		if _, dup := reg.offerings[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate offering %q", id)
		}
		if _, dup := reg.invalid[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate offering %q", id)
		}
		if off.Mode != ModeOneTime && off.Mode != ModeRecurring {
			return nil, fmt.Errorf("catalog: offering %q has invalid mode %q", id, off.Mode)
		}
		if reason := validatePriceRef(off.PriceRef); reason != "" {
			reg.invalid[id] = reason
			continue
		}
		reg.offerings[id] = off
	}
	return reg, nil
}

// Resolve maps an offering identifier to its configured offering.
func (r *Registry) Resolve(id string) (Offering, error) {
	if r == nil {
		return Offering{}, ErrUnknownOffering
	}
	id = strings.TrimSpace(id)
	if off, ok := r.offerings[id]; ok {
		return off, nil
	}
	if _, ok := r.invalid[id]; ok {
		return Offering{}, ErrNotConfigured
	}
	return Offering{}, ErrUnknownOffering
}

// List returns the servable offerings sorted by identifier.
func (r *Registry) List() []Offering {
	if r == nil {
		return nil
	}
	out := make([]Offering, 0, len(r.offerings))
	for _, off := range r.offerings {
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Unservable reports offerings rejected at construction with the reason.
// Used for startup logging so misconfiguration is visible before traffic.
func (r *Registry) Unservable() map[string]string {
	if r == nil {
		return nil
	}
	out := make(map[string]string, len(r.invalid))
	for id, reason := range r.invalid {
		out[id] = reason
	}
	return out
}

func validatePriceRef(ref string) string {
	trimmed := strings.TrimSpace(ref)
	switch {
	case trimmed == "":
		return "price reference is empty"
	case trimmed == PlaceholderPriceRef:
		return "price reference is the deployment placeholder"
	case !strings.HasPrefix(trimmed, "price_"):
		return "price reference is not a provider price identifier"
	default:
		return ""
	}
}

// ParseOfferingsJSON decodes a JSON array of offerings, used to replace the
// built-in catalog via configuration.
func ParseOfferingsJSON(raw string) ([]Offering, error) {
	var specs []struct {
		ID            string   `json:"id"`
		Name          string   `json:"name"`
		UnitAmount    int64    `json:"unitAmount"`
		Currency      string   `json:"currency"`
		Mode          Mode     `json:"mode"`
		BillingPeriod string   `json:"billingPeriod"`
		Features      []string `json:"features"`
		PriceRef      string   `json:"priceRef"`
	}
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("catalog: parse offerings json: %w", err)
	}
	out := make([]Offering, 0, len(specs))
	for _, s := range specs {
		out = append(out, Offering{
			ID:            s.ID,
			Name:          s.Name,
			UnitAmount:    s.UnitAmount,
			Currency:      s.Currency,
			Mode:          s.Mode,
			BillingPeriod: s.BillingPeriod,
			Features:      s.Features,
			PriceRef:      s.PriceRef,
		})
	}
	return out, nil
}

// BuiltinOfferings returns the site's plan catalog with provider price
// references taken from configuration.
func BuiltinOfferings(retainerRef, starterRef, workshopRef string) []Offering {
	return []Offering{
		{
			ID:            "retainer",
			Name:          "Monthly Retainer",
			UnitAmount:    200000,
			Currency:      "usd",
			Mode:          ModeRecurring,
			BillingPeriod: "month",
			Features: []string{
				"20 hours of consulting",
				"Priority response time",
				"Monthly strategy calls",
				"Email & Slack support",
			},
			PriceRef: retainerRef,
		},
		{
			ID:         "starter",
			Name:       "Starter Package",
			UnitAmount: 75000,
			Currency:   "usd",
			Mode:       ModeOneTime,
			Features: []string{
				"10 hours of consulting",
				"Valid for 30 days",
				"Email support",
				"Kickoff strategy call",
			},
			PriceRef: starterRef,
		},
		{
			ID:         "workshop",
			Name:       "AI Workshop",
			UnitAmount: 50000,
			Currency:   "usd",
			Mode:       ModeOneTime,
			Features: []string{
				"Half-day workshop",
				"Up to 10 participants",
				"Custom curriculum",
				"Materials included",
			},
			PriceRef: workshopRef,
		},
	}
}
