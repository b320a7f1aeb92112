// Package registry maintains the on-ledger admin and vendor lists and answers
// local authorization checks from a cached copy.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/vaulted-markets/orchestrator/internal/ledger"
	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// Service drives the admin/vendor registry instructions and caches the admin
// set so privileged intents can be rejected before submission. The ledger
// remains the arbiter: the cache is advisory and refreshed on every confirmed
// registry change.
type Service struct {
	builder *ledger.Builder
	client  *ledger.Client
	log     *logger.Logger

	mu     sync.RWMutex
	admins map[ledger.Address]bool
}

// New constructs a registry service seeded with the bootstrap admin set.
func New(builder *ledger.Builder, client *ledger.Client, bootstrap []ledger.Address, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	admins := make(map[ledger.Address]bool, len(bootstrap))
	for _, a := range bootstrap {
		admins[a] = true
	}
	return &Service{
		builder: builder,
		client:  client,
		log:     log,
		admins:  admins,
	}
}

var _ ledger.AdminChecker = (*Service)(nil)

// AttachBuilder wires the transaction builder after construction. The builder
// needs the registry as its admin gate, so the two are linked in two steps.
func (s *Service) AttachBuilder(builder *ledger.Builder) {
	s.builder = builder
}

// IsAdmin reports whether account is in the cached admin set.
func (s *Service) IsAdmin(_ context.Context, account ledger.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admins[account], nil
}

// Admins returns a snapshot of the cached admin set.
func (s *Service) Admins() []ledger.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Address, 0, len(s.admins))
	for a := range s.admins {
		out = append(out, a)
	}
	return out
}

// AddAdmin submits the add-admin instruction and updates the cache once the
// transaction confirms.
func (s *Service) AddAdmin(ctx context.Context, actor ledger.Signer, account ledger.Address) (string, error) {
	if actor == nil {
		return "", ledger.ErrNotConnected
	}
	tx, err := s.builder.BuildAddAdmin(ctx, actor.PublicKey(), account)
	if err != nil {
		return "", err
	}
	sig, err := s.client.SendAndConfirm(ctx, tx, actor)
	if err != nil {
		return sig, err
	}

	s.mu.Lock()
	s.admins[account] = true
	s.mu.Unlock()
	s.log.WithField("account", account.String()).Info("admin added")
	return sig, nil
}

// RemoveAdmin submits the remove-admin instruction and updates the cache once
// the transaction confirms.
func (s *Service) RemoveAdmin(ctx context.Context, actor ledger.Signer, account ledger.Address) (string, error) {
	if actor == nil {
		return "", ledger.ErrNotConnected
	}
	tx, err := s.builder.BuildRemoveAdmin(ctx, actor.PublicKey(), account)
	if err != nil {
		return "", err
	}
	sig, err := s.client.SendAndConfirm(ctx, tx, actor)
	if err != nil {
		return sig, err
	}

	s.mu.Lock()
	delete(s.admins, account)
	s.mu.Unlock()
	s.log.WithField("account", account.String()).Info("admin removed")
	return sig, nil
}

// InitializeConfig creates the program's global config account.
func (s *Service) InitializeConfig(ctx context.Context, actor ledger.Signer, treasury ledger.Address) (string, error) {
	if actor == nil {
		return "", ledger.ErrNotConnected
	}
	tx, err := s.builder.BuildInitializeConfig(ctx, actor.PublicKey(), treasury)
	if err != nil {
		return "", err
	}
	sig, err := s.client.SendAndConfirm(ctx, tx, actor)
	if err != nil {
		return sig, fmt.Errorf("initialize config: %w", err)
	}
	s.log.WithField("treasury", treasury.String()).Info("config initialized")
	return sig, nil
}

// UpdateConfig rotates the program's fee treasury.
func (s *Service) UpdateConfig(ctx context.Context, actor ledger.Signer, treasury ledger.Address) (string, error) {
	if actor == nil {
		return "", ledger.ErrNotConnected
	}
	tx, err := s.builder.BuildUpdateConfig(ctx, actor.PublicKey(), treasury)
	if err != nil {
		return "", err
	}
	sig, err := s.client.SendAndConfirm(ctx, tx, actor)
	if err != nil {
		return sig, fmt.Errorf("update config: %w", err)
	}
	s.log.WithField("treasury", treasury.String()).Info("config updated")
	return sig, nil
}

// RestrictedTransfer moves frozen or custodied tokens between accounts under
// admin authority, for custody corrections and enforcement actions.
func (s *Service) RestrictedTransfer(ctx context.Context, actor ledger.Signer, from, to, assetMint ledger.Address, amount uint64) (string, error) {
	if actor == nil {
		return "", ledger.ErrNotConnected
	}
	tx, err := s.builder.BuildRestrictedTransfer(ctx, ledger.RestrictedTransferIntent{
		Admin:     actor.PublicKey(),
		From:      from,
		To:        to,
		AssetMint: assetMint,
		Amount:    amount,
	})
	if err != nil {
		return "", err
	}
	sig, err := s.client.SendAndConfirm(ctx, tx, actor)
	if err != nil {
		return sig, fmt.Errorf("restricted transfer: %w", err)
	}
	s.log.WithField("from", from.String()).
		WithField("to", to.String()).
		WithField("amount", amount).
		Info("restricted transfer executed")
	return sig, nil
}
