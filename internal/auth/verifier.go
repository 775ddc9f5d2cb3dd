// Package auth verifies bearer JWTs issued by an external OIDC identity
// provider. Unlike an authorization server, this service never issues or
// refreshes tokens itself — it only validates them against the issuer's
// published JWKS, the way any downstream resource server does.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrTokenInvalid = errors.New("auth: token is malformed or failed verification")
)

// Claims is the subset of ID token claims the dispatch API relies on.
// Subject becomes the notification's owner (OwnerSub); the realm_access
// roles list drives the required-role and admin-role checks.
type Claims struct {
	Subject string
	Email   string
	Roles   []string
}

// Verifier validates bearer tokens against a single configured OIDC
// issuer's JWKS. The underlying oidc.IDTokenVerifier caches and refreshes
// signing keys on its own, so Verifier is safe to reuse across requests.
type Verifier struct {
	inner    *gooidc.IDTokenVerifier
	audience string
}

// New discovers the issuer's OpenID configuration (including its JWKS
// endpoint) and builds a Verifier. issuer must be reachable at startup;
// a transient outage here should fail fast rather than let every request
// later 401 with a confusing error.
func New(ctx context.Context, issuer, audience string) (*Verifier, error) {
	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: discovering OIDC issuer %q: %w", issuer, err)
	}
	inner := provider.Verifier(&gooidc.Config{ClientID: audience})
	return &Verifier{inner: inner, audience: audience}, nil
}

// Verify parses the Authorization header, verifies the bearer token's
// signature, issuer, audience and expiry, and extracts Claims.
func (v *Verifier) Verify(ctx context.Context, authHeader string) (*Claims, error) {
	raw, err := bearerToken(authHeader)
	if err != nil {
		return nil, err
	}

	idToken, err := v.inner.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	var payload struct {
		Email       string `json:"email"`
		RealmAccess struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := idToken.Claims(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %v", ErrTokenInvalid, err)
	}

	return &Claims{
		Subject: idToken.Subject,
		Email:   payload.Email,
		Roles:   payload.RealmAccess.Roles,
	}, nil
}

func bearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if header == "" || !strings.HasPrefix(header, prefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
