// Package storefront wires one client session's session provider, cart and
// checkout together and keeps the live sessions of this instance.
package storefront

import (
	"go.uber.org/zap"

	"storefront/internal/backend"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/session"
)

// Storefront is the state of one client session. The cart follows the
// session's identity.
type Storefront struct {
	Session  *session.Provider
	Cart     *cart.Manager
	Checkout *checkout.Sequencer

	unsubscribe func()
}

// New builds a signed-out storefront on client.
func New(client backend.Client, logger *zap.Logger, opts ...checkout.Option) *Storefront {
	provider := session.NewProvider(client, logger.Named("session"))
	manager := cart.NewManager(provider, logger.Named("cart"))
	return &Storefront{
		Session:     provider,
		Cart:        manager,
		Checkout:    checkout.NewSequencer(provider, manager, logger.Named("checkout"), opts...),
		unsubscribe: provider.Subscribe(manager),
	}
}

// Close detaches the cart from the session. It does not sign out.
func (s *Storefront) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}
