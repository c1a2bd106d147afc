package tenant

import (
	"fmt"
	"regexp"

	"github.com/rzbill/evstore/internal/eventstore"
)

// DefaultNamePattern accepts DNS-label-like tenant ids.
const DefaultNamePattern = `^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`

// Policy validates tenant ids against a name pattern and an optional allow-list.
type Policy struct {
	pattern *regexp.Regexp
	allowed map[string]struct{}
}

// NewPolicy compiles pattern (DefaultNamePattern when empty). An empty
// allow-list admits every tenant matching the pattern.
func NewPolicy(pattern string, allowed []string) (*Policy, error) {
	if pattern == "" {
		pattern = DefaultNamePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("tenant name pattern: %w", err)
	}
	p := &Policy{pattern: re}
	if len(allowed) > 0 {
		p.allowed = make(map[string]struct{}, len(allowed))
		for _, a := range allowed {
			p.allowed[a] = struct{}{}
		}
	}
	return p, nil
}

// Validate implements eventstore.TenantValidator.
func (p *Policy) Validate(tenantID string) error {
	if tenantID == "" {
		return eventstore.ErrTenantRequired
	}
	if !p.pattern.MatchString(tenantID) {
		return fmt.Errorf("%w: %q does not match %s", eventstore.ErrTenantNotAllowed, tenantID, p.pattern)
	}
	if p.allowed != nil {
		if _, ok := p.allowed[tenantID]; !ok {
			return fmt.Errorf("%w: %q", eventstore.ErrTenantNotAllowed, tenantID)
		}
	}
	return nil
}
