// Package endpoint resolves the callback URLs handed to gateways. All
// return/cancel/notify targets point back at this service's gateway
// controller routes; callers never supply them.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// Action is one of the gateway callback legs.
type Action string

const (
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionNotify   Action = "notify"
)

// Resolver produces a fully qualified callback URL for an action on a
// payment.
type Resolver interface {
	URL(action Action, identifier string) string
}

// BaseURLResolver joins actions onto a fixed external base URL under the
// /gateway route.
type BaseURLResolver struct {
	base *url.URL
}

func NewBaseURLResolver(base string) (*BaseURLResolver, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("endpoint: invalid base url %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint: base url %q must be absolute", base)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return &BaseURLResolver{base: u}, nil
}

func (r *BaseURLResolver) URL(action Action, identifier string) string {
	return r.base.JoinPath("gateway", identifier, string(action)).String()
}
