package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/online-store/internal/identity"
)

const testSecret = "test-secret-with-enough-entropy"

func sign(t *testing.T, method jwt.SigningMethod, secret string, claims identity.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(buyerID uuid.UUID) identity.Claims {
	now := time.Now()
	return identity.Claims{
		UserID: buyerID.String(),
		Email:  "buyer@example.com",
		Role:   "customer",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestJWTAuthenticator_IssueAndAuthenticate(t *testing.T) {
	auth := identity.NewJWTAuthenticator(testSecret, "store")
	buyerID := uuid.Must(uuid.NewV4())

	token, err := auth.Issue(identity.Identity{BuyerID: buyerID, Email: "buyer@example.com", Role: "customer"}, time.Hour)
	require.NoError(t, err)

	got, err := auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, identity.Identity{BuyerID: buyerID, Email: "buyer@example.com", Role: "customer"}, got)
}

func TestJWTAuthenticator_Authenticate_Rejects(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())

	expired := validClaims(buyerID)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := validClaims(buyerID)
	noExpiry.ExpiresAt = nil

	badSubject := validClaims(buyerID)
	badSubject.UserID = "42"

	tests := []struct {
		name    string
		issuer  string
		token   func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "empty token",
			token:   func(t *testing.T) string { return "" },
			wantErr: identity.ErrMissingToken,
		},
		{
			name:    "garbage",
			token:   func(t *testing.T) string { return "not-a-jwt" },
			wantErr: identity.ErrInvalidToken,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, "another-secret", validClaims(buyerID))
			},
			wantErr: identity.ErrInvalidToken,
		},
		{
			name: "unexpected algorithm",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS512, testSecret, validClaims(buyerID))
			},
			wantErr: identity.ErrInvalidToken,
		},
		{
			name:    "expired",
			token:   func(t *testing.T) string { return sign(t, jwt.SigningMethodHS256, testSecret, expired) },
			wantErr: identity.ErrInvalidToken,
		},
		{
			name:    "missing expiry",
			token:   func(t *testing.T) string { return sign(t, jwt.SigningMethodHS256, testSecret, noExpiry) },
			wantErr: identity.ErrInvalidToken,
		},
		{
			name:    "id claim is not a uuid",
			token:   func(t *testing.T) string { return sign(t, jwt.SigningMethodHS256, testSecret, badSubject) },
			wantErr: identity.ErrInvalidToken,
		},
		{
			name:    "issuer mismatch",
			issuer:  "store",
			token:   func(t *testing.T) string { return sign(t, jwt.SigningMethodHS256, testSecret, validClaims(buyerID)) },
			wantErr: identity.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := identity.NewJWTAuthenticator(testSecret, tt.issuer)

			_, err := auth.Authenticate(context.Background(), tt.token(t))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestJWTAuthenticator_Issue_RequiresBuyer(t *testing.T) {
	auth := identity.NewJWTAuthenticator(testSecret, "")

	_, err := auth.Issue(identity.Identity{}, time.Hour)
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	id := identity.Identity{BuyerID: uuid.Must(uuid.NewV4()), Role: "customer"}

	ctx := identity.WithIdentity(context.Background(), id)

	got, ok := identity.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, id.BuyerID, identity.BuyerID(ctx))
	assert.Equal(t, uuid.Nil, identity.BuyerID(context.Background()))
}
