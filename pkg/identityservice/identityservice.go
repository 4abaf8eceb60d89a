// Package identityservice wraps the external IdentityService collaborator:
// verification of human- and service-issued bearer tokens against an
// OIDC provider, and pass-through of the password/refresh grant to that
// same provider's OAuth2 token endpoint. The control plane never mints
// these tokens itself.
package identityservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/stormstack/thunder/pkg/errs"
)

// Claims are the fields the control plane needs out of a verified bearer
// token.
type Claims struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scope"`
}

// HasScope reports whether the token carries the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// scopeClaims is the wire shape of the OIDC "scope" claim, which some
// providers encode as a single space-separated string rather than an
// array.
type scopeClaims struct {
	Subject string `json:"sub"`
	Scope   string `json:"scope"`
}

// Verifier validates bearer tokens issued by the external IdentityService
// and relays the human login/refresh grant to it.
type Verifier struct {
	idVerifier *oidc.IDTokenVerifier
	oauth2Cfg  *oauth2.Config
}

// New performs OIDC discovery against issuerURL and builds a Verifier.
// oauth2Cfg may be nil if login pass-through is not configured.
func New(ctx context.Context, issuerURL, clientID string, oauth2Cfg *oauth2.Config) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering identity provider %s: %w", issuerURL, err)
	}

	idVerifier := provider.Verifier(&oidc.Config{ClientID: clientID})

	return &Verifier{idVerifier: idVerifier, oauth2Cfg: oauth2Cfg}, nil
}

// Verify validates a raw "Bearer <token>" header value and returns the
// claims it carries.
func (v *Verifier) Verify(ctx context.Context, bearerHeader string) (*Claims, error) {
	token := strings.TrimSpace(strings.TrimPrefix(bearerHeader, "Bearer "))
	token = strings.TrimPrefix(token, "bearer ")
	if token == "" {
		return nil, errs.New(errs.KindUnauthorized, "missing bearer token")
	}

	idToken, err := v.idVerifier.Verify(ctx, token)
	if err != nil {
		return nil, errs.Wrap(errs.KindTokenInvalid, err, "verifying bearer token")
	}

	var sc scopeClaims
	if err := idToken.Claims(&sc); err != nil {
		return nil, errs.Wrap(errs.KindTokenInvalid, err, "extracting claims")
	}
	if sc.Subject == "" {
		return nil, errs.New(errs.KindTokenInvalid, "token missing sub claim")
	}

	return &Claims{Subject: sc.Subject, Scopes: strings.Fields(sc.Scope)}, nil
}

// PasswordLogin relays a resource-owner password credentials grant to
// IdentityService and returns the raw token response.
func (v *Verifier) PasswordLogin(ctx context.Context, username, password string) (*oauth2.Token, error) {
	if v.oauth2Cfg == nil {
		return nil, errs.New(errs.KindUnavailable, "login pass-through is not configured")
	}
	tok, err := v.oauth2Cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnauthorized, err, "password login rejected by identity service")
	}
	return tok, nil
}

// RefreshToken relays a refresh-token grant to IdentityService.
func (v *Verifier) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if v.oauth2Cfg == nil {
		return nil, errs.New(errs.KindUnavailable, "login pass-through is not configured")
	}
	src := v.oauth2Cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, errs.Wrap(errs.KindUnauthorized, err, "refresh rejected by identity service")
	}
	return tok, nil
}
