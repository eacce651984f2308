package oauth

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownProvider is returned when an exchange names a provider that was
// never registered.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// Exchanger routes authorization codes to registered providers by name.
type Exchanger struct {
	providers map[string]Provider
}

// NewExchanger builds an [Exchanger] from the given providers. Registering
// two providers with the same name is a construction error.
func NewExchanger(providers ...Provider) (*Exchanger, error) {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil || p.Name() == "" {
			return nil, errors.New("nil or unnamed provider")
		}
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		byName[p.Name()] = p
	}
	return &Exchanger{providers: byName}, nil
}

// Providers returns the registered provider names.
func (e *Exchanger) Providers() []string {
	names := make([]string, 0, len(e.providers))
	for name := range e.providers {
		names = append(names, name)
	}
	return names
}

// Exchange dispatches the code to the named provider.
func (e *Exchanger) Exchange(ctx context.Context, provider, code string) (ExternalIdentity, error) {
	p, ok := e.providers[provider]
	if !ok {
		return ExternalIdentity{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return p.Exchange(ctx, code)
}
