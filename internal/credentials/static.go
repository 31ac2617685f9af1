package credentials

import (
	"context"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// StaticProvider maps credential refs to fixed tokens. Used in development
// and tests where no real key files exist.
type StaticProvider struct {
	tokens map[string]string
}

// NewStaticProvider copies the supplied ref-to-token map.
func NewStaticProvider(tokens map[string]string) *StaticProvider {
	copied := make(map[string]string, len(tokens))
	for ref, token := range tokens {
		copied[ref] = token
	}
	return &StaticProvider{tokens: copied}
}

// Token returns the configured token for the account's credential ref.
func (p *StaticProvider) Token(_ context.Context, account indexer.Account) (string, error) {
	token, ok := p.tokens[account.CredentialRef]
	if !ok {
		return "", indexer.NewError(indexer.ClassAuth, "no token configured for credential %s", account.CredentialRef)
	}
	return token, nil
}
