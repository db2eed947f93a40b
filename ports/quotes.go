package ports

import "github.com/layer-3/ferryman/core"

// QuoteSigner converts between fee quotes and signed tokens
type QuoteSigner interface {
	// QuoteToToken signs a fee quote into a portable token.
	QuoteToToken(quote *core.FeeQuote) (string, error)

	// TokenToQuote verifies a token's signature and returns the quote.
	// Expiry is checked by the caller.
	TokenToQuote(token string) (*core.FeeQuote, error)
}
