// Package credentials resolves bearer tokens for indexing accounts.
package credentials

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// IndexingScope is the OAuth scope required by the publish endpoint.
const IndexingScope = "https://www.googleapis.com/auth/indexing"

// GoogleProvider mints OAuth tokens from service-account key files. The
// account's CredentialRef is the path to the key JSON. Token sources are
// cached per account so refreshes reuse the underlying source.
type GoogleProvider struct {
	scope  string
	logger *zap.Logger

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewGoogleProvider constructs a provider for the indexing scope.
func NewGoogleProvider(logger *zap.Logger) *GoogleProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleProvider{
		scope:   IndexingScope,
		logger:  logger,
		sources: make(map[string]oauth2.TokenSource),
	}
}

// Token resolves a bearer token for the account. Any failure is classified
// as auth so the dispatch loop skips the account instead of failing the job.
func (p *GoogleProvider) Token(ctx context.Context, account indexer.Account) (string, error) {
	source, err := p.source(ctx, account)
	if err != nil {
		return "", err
	}
	token, err := source.Token()
	if err != nil {
		return "", indexer.NewError(indexer.ClassAuth, "mint token for account %s: %v", account.ID, err)
	}
	return token.AccessToken, nil
}

func (p *GoogleProvider) source(ctx context.Context, account indexer.Account) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if source, ok := p.sources[account.ID]; ok {
		return source, nil
	}
	raw, err := os.ReadFile(account.CredentialRef)
	if err != nil {
		return nil, indexer.NewError(indexer.ClassAuth, "read credential for account %s: %v", account.ID, err)
	}
	conf, err := google.JWTConfigFromJSON(raw, p.scope)
	if err != nil {
		return nil, indexer.NewError(indexer.ClassAuth, "parse credential for account %s: %v", account.ID, err)
	}
	source := conf.TokenSource(ctx)
	p.sources[account.ID] = source
	p.logger.Debug("cached token source", zap.String("account_id", account.ID))
	return source, nil
}
