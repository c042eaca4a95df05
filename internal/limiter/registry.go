package limiter

import (
	"fmt"
	"sort"
	"time"
)

// Names of the built-in policies.
const (
	PolicyUsernameCheck = "username_check"
	PolicyBattery       = "battery"
	PolicySettings      = "settings"
	PolicyUsernameClaim = "username_claim"
	PolicyOGImage       = "og_image"
	PolicySticker       = "sticker"
)

// DefaultPolicies returns the built-in endpoint classes: public lookups are
// strict, authenticated mutations looser, one-time claims very strict, and
// image generation bounded per variant.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: PolicyUsernameCheck, Limit: 30, Window: time.Minute},
		{Name: PolicyBattery, Limit: 30, Window: time.Minute},
		{Name: PolicySettings, Limit: 10, Window: time.Minute},
		{Name: PolicyUsernameClaim, Limit: 5, Window: time.Hour},
		{Name: PolicyOGImage, Limit: 60, Window: time.Minute},
		{Name: PolicySticker, Limit: 30, Window: time.Minute},
	}
}

// Registry maps policy names to policies. It is immutable after construction.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry validates policies and indexes them by name. Names must be
// unique and non-empty.
func NewRegistry(policies ...Policy) (*Registry, error) {
	r := &Registry{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: registered policies need a name", ErrInvalidPolicy)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.policies[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy %q", p.Name)
		}
		r.policies[p.Name] = p
	}
	return r, nil
}

// DefaultRegistry returns a registry of DefaultPolicies.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultPolicies()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the policy registered under name.
func (r *Registry) Lookup(name string) (Policy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policies returns the registered policies sorted by name.
func (r *Registry) Policies() []Policy {
	out := make([]Policy, 0, len(r.policies))
	for _, name := range r.Names() {
		out = append(out, r.policies[name])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.policies)
}

// MustLookup is Lookup for names known to be registered. It panics otherwise.
func (r *Registry) MustLookup(name string) Policy {
	p, ok := r.policies[name]
	if !ok {
		panic(fmt.Sprintf("limiter: %v: %q", ErrUnknownPolicy, name))
	}
	return p
}
