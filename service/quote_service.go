package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

// QuoteService issues and validates signed fee quotes. Quotes are advisory:
// they help a client pick a route but never sit in the settlement critical
// path, and an omitted quote never blocks settlement.
type QuoteService struct {
	signer ports.QuoteSigner
	guard  ports.ReplayGuard

	quoteTTL time.Duration
}

// NewQuoteService creates a new quote service.
func NewQuoteService(signer ports.QuoteSigner, guard ports.ReplayGuard) *QuoteService {
	return &QuoteService{
		signer:   signer,
		guard:    guard,
		quoteTTL: 5 * time.Minute,
	}
}

// Issue creates and signs a fee quote for a route.
func (s *QuoteService) Issue(scheme, network, asset, feeAmount string) (*core.FeeQuote, string, error) {
	quote := &core.FeeQuote{
		QuoteID:   uuid.New().String(),
		Scheme:    scheme,
		Network:   network,
		Asset:     asset,
		FeeAmount: feeAmount,
		ExpiresAt: time.Now().Add(s.quoteTTL),
	}

	token, err := s.signer.QuoteToToken(quote)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign quote: %w", err)
	}

	return quote, token, nil
}

// Validate checks a quote token's signature and expiry. No side effects.
func (s *QuoteService) Validate(token string) (*core.FeeQuote, error) {
	quote, err := s.signer.TokenToQuote(token)
	if err != nil {
		return nil, fmt.Errorf("quote signature check failed: %w", core.ErrInvalidQuote)
	}

	if time.Now().After(quote.ExpiresAt) {
		return nil, core.ErrQuoteExpired
	}

	return quote, nil
}

// Consume marks a quote as used at settlement time. Consumption shares the
// replay guard under a dedicated scope so a quote cannot be committed to by
// two settlements.
func (s *QuoteService) Consume(ctx context.Context, token string) error {
	quote, err := s.Validate(token)
	if err != nil {
		return err
	}

	quoteToken := core.QuoteToken(quote.QuoteID)
	claimed, err := s.guard.TryClaim(ctx, quoteToken, quote.QuoteID)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("quote %s already consumed: %w", quote.QuoteID, core.ErrInvalidQuote)
	}

	return s.guard.Commit(ctx, quoteToken)
}
