package credential

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Credential is a stored token set for one account of a remote service.
// The payload is opaque to the scheduler, sources interpret it.
type Credential struct {
	Service string
	Account string
	Payload map[string]string
}

// ID is the key rate-limit records are stored under.
func (c Credential) ID() string {
	return fmt.Sprintf("%s:%s", c.Service, c.Account)
}

// Token returns the bearer token carried by the payload.
func (c Credential) Token() (*oauth2.Token, error) {
	access := c.Payload["access_token"]
	if access == "" {
		access = c.Payload["oauth_token"]
	}
	if access == "" {
		return nil, fmt.Errorf("credential %s has no access token", c.ID())
	}
	tokenType := c.Payload["token_type"]
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken: access,
		TokenType:   tokenType,
	}, nil
}

// HTTPClient returns an http.Client that authorizes every request with the
// credential's token.
func (c Credential) HTTPClient(ctx context.Context) (*http.Client, error) {
	token, err := c.Token()
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token)), nil
}

// Anonymous is used for sources that need no authorization.
func Anonymous(service string) Credential {
	return Credential{Service: service, Account: "anonymous"}
}
