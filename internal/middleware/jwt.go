// Package middleware provides the HTTP middleware of the catalog: caller
// authentication, request ids, and per-client rate limiting.
package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims holds the claims of a validated token the catalog uses.
type JWTClaims struct {
	Subject  string
	Issuer   string
	Audience []string
	Raw      map[string]interface{}
}

// JWTValidator validates a bearer token and returns its claims.
type JWTValidator interface {
	Validate(ctx context.Context, token string) (*JWTClaims, error)
}

// OIDCValidator validates tokens against an identity provider's JWKS.
type OIDCValidator struct {
	verifier       *oidc.IDTokenVerifier
	allowedIssuers map[string]bool
}

func issuerSet(issuerURL string, allowed []string) map[string]bool {
	set := make(map[string]bool, len(allowed)+1)
	for _, iss := range allowed {
		if iss != "" {
			set[iss] = true
		}
	}
	if len(set) == 0 && issuerURL != "" {
		set[issuerURL] = true
	}
	return set
}

// NewOIDCValidator discovers the provider at issuerURL.
func NewOIDCValidator(ctx context.Context, issuerURL, audience string, allowedIssuers []string) (*OIDCValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: audience, SkipClientIDCheck: audience == ""})
	return &OIDCValidator{verifier: verifier, allowedIssuers: issuerSet(issuerURL, allowedIssuers)}, nil
}

// NewOIDCValidatorFromJWKS validates against a fixed JWKS URL without
// discovery.
func NewOIDCValidatorFromJWKS(ctx context.Context, jwksURL, issuerURL, audience string, allowedIssuers []string) *OIDCValidator {
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	verifier := oidc.NewVerifier(issuerURL, keySet, &oidc.Config{
		ClientID:          audience,
		SkipClientIDCheck: audience == "",
		SkipIssuerCheck:   issuerURL == "",
	})
	return &OIDCValidator{verifier: verifier, allowedIssuers: issuerSet(issuerURL, allowedIssuers)}
}

// Validate implements JWTValidator.
func (v *OIDCValidator) Validate(ctx context.Context, token string) (*JWTClaims, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("oidc verify: %w", err)
	}
	if len(v.allowedIssuers) > 0 && !v.allowedIssuers[idToken.Issuer] {
		return nil, fmt.Errorf("issuer %q not in allowed list", idToken.Issuer)
	}
	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return &JWTClaims{
		Subject:  idToken.Subject,
		Issuer:   idToken.Issuer,
		Audience: idToken.Audience,
		Raw:      raw,
	}, nil
}

// SharedSecretValidator validates HS256 tokens signed with a shared secret.
// Meant for development and service-to-service setups without an IdP.
type SharedSecretValidator struct {
	secret []byte
}

// NewSharedSecretValidator creates a SharedSecretValidator.
func NewSharedSecretValidator(secret string) *SharedSecretValidator {
	return &SharedSecretValidator{secret: []byte(secret)}
}

// Validate implements JWTValidator.
func (v *SharedSecretValidator) Validate(_ context.Context, token string) (*JWTClaims, error) {
	tok, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("jwt parse: %w", err)
	}
	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("jwt parse: unsupported claim type %T", tok.Claims)
	}

	claims := &JWTClaims{Raw: map[string]interface{}(raw)}
	claims.Subject, _ = raw.GetSubject()
	claims.Issuer, _ = raw.GetIssuer()
	if aud, err := raw.GetAudience(); err == nil {
		claims.Audience = []string(aud)
	}
	return claims, nil
}

// ChainValidator tries each validator in order and returns the first
// success.
type ChainValidator []JWTValidator

// Validate implements JWTValidator.
func (c ChainValidator) Validate(ctx context.Context, token string) (*JWTClaims, error) {
	if len(c) == 0 {
		return nil, errors.New("no token validator configured")
	}
	var errs []error
	for _, v := range c {
		claims, err := v.Validate(ctx, token)
		if err == nil {
			return claims, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
