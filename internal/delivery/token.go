package delivery

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource supplies the bearer token attached to every delivery request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// clientCredentials fetches a new token on every call unless cache is set.
type clientCredentials struct {
	cfg    clientcredentials.Config
	cached oauth2.TokenSource
}

func (c *clientCredentials) Token(ctx context.Context) (string, error) {
	var (
		tok *oauth2.Token
		err error
	)
	if c.cached != nil {
		tok, err = c.cached.Token()
	} else {
		tok, err = c.cfg.Token(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("fetch auth token: %w", err)
	}
	return tok.AccessToken, nil
}

// NewTokenSource returns nil when no authentication is configured.
func NewTokenSource(cfg AuthConfig) TokenSource {
	switch {
	case cfg.ClientID != "" && cfg.TokenURL != "":
		src := &clientCredentials{
			cfg: clientcredentials.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenURL:     cfg.TokenURL,
				Scopes:       cfg.Scopes,
			},
		}
		if cfg.CacheToken {
			src.cached = src.cfg.TokenSource(context.Background())
		}
		return src
	case cfg.Token != "":
		return StaticToken(cfg.Token)
	default:
		return nil
	}
}
