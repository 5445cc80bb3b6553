package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeToken(secret string, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte(secret))
	return signed
}

func TestSharedSecretValidator_Validate(t *testing.T) {
	t.Parallel()

	const secret = "test-secret-32-bytes-long-xxxxx"
	hour := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		wantErr bool
		wantSub string
		wantIss string
		wantAud []string
	}{
		{
			name: "all claims",
			token: makeToken(secret, jwt.MapClaims{
				"sub": "user-123", "iss": "https://auth.example.com", "aud": "catalog", "exp": hour,
			}),
			wantSub: "user-123",
			wantIss: "https://auth.example.com",
			wantAud: []string{"catalog"},
		},
		{
			name:    "subject only",
			token:   makeToken(secret, jwt.MapClaims{"sub": "user-456", "exp": hour}),
			wantSub: "user-456",
		},
		{
			name:    "audience list",
			token:   makeToken(secret, jwt.MapClaims{"sub": "u", "aud": []string{"a", "b"}, "exp": hour}),
			wantSub: "u",
			wantAud: []string{"a", "b"},
		},
		{
			name:    "expired",
			token:   makeToken(secret, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantErr: true,
		},
		{
			name:    "no expiry",
			token:   makeToken(secret, jwt.MapClaims{"sub": "u"}),
			wantErr: true,
		},
		{
			name:    "wrong secret",
			token:   makeToken("other", jwt.MapClaims{"sub": "u", "exp": hour}),
			wantErr: true,
		},
		{
			name: "RS256 rejected",
			token: func() string {
				key, _ := rsa.GenerateKey(rand.Reader, 2048)
				signed, _ := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u", "exp": hour}).SignedString(key)
				return signed
			}(),
			wantErr: true,
		},
		{name: "malformed", token: "not.a.jwt", wantErr: true},
		{name: "empty", token: "", wantErr: true},
	}

	v := NewSharedSecretValidator(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			claims, err := v.Validate(context.Background(), tt.token)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "jwt parse:")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, claims.Subject)
			assert.Equal(t, tt.wantIss, claims.Issuer)
			assert.Equal(t, tt.wantAud, claims.Audience)
		})
	}
}

type stubValidator struct {
	claims *JWTClaims
	err    error
	calls  int
}

func (v *stubValidator) Validate(context.Context, string) (*JWTClaims, error) {
	v.calls++
	return v.claims, v.err
}

func TestChainValidator(t *testing.T) {
	failing := &stubValidator{err: errors.New("bad signature")}
	ok := &stubValidator{claims: &JWTClaims{Subject: "alice"}}

	claims, err := ChainValidator{failing, ok}.Validate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, 1, failing.calls)

	_, err = ChainValidator{failing}.Validate(context.Background(), "tok")
	require.ErrorContains(t, err, "bad signature")

	_, err = ChainValidator{}.Validate(context.Background(), "tok")
	require.Error(t, err)
}
