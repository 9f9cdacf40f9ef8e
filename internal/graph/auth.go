package graph

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/clintrovert/ticketsync/internal/config"
)

var scopes = []string{
	"https://graph.microsoft.com/Files.ReadWrite.All",
	"offline_access",
}

// passwordTokenSource fetches delegated tokens with the resource owner
// password grant
type passwordTokenSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

// Token requests a fresh access token
func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return tok, nil
}

// NewTokenSource returns a caching token source for the configured account.
// The cached token is reused until it expires.
func NewTokenSource(ctx context.Context, cfg config.GraphConfig) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(cfg.TenantID),
		Scopes:       scopes,
	}

	return oauth2.ReuseTokenSource(nil, &passwordTokenSource{
		ctx:      ctx,
		conf:     conf,
		username: cfg.Username,
		password: cfg.Password,
	})
}
