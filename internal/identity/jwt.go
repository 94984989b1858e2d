package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

// Claims match the tokens issued by the account service.
type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type JWTAuthenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
	now    func() time.Time
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &JWTAuthenticator{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(opts...),
		now:    time.Now,
	}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	buyerID, err := uuid.FromString(claims.UserID)
	if err != nil || buyerID == uuid.Nil {
		return Identity{}, fmt.Errorf("%w: claim id is not a valid uuid", ErrInvalidToken)
	}

	return Identity{BuyerID: buyerID, Email: claims.Email, Role: claims.Role}, nil
}

// Issue signs a token for id valid for ttl. Used by local tooling and tests.
func (a *JWTAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.BuyerID == uuid.Nil {
		return "", errors.New("identity: cannot issue a token without a buyer id")
	}

	now := a.now()
	claims := Claims{
		UserID: id.BuyerID.String(),
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   id.BuyerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("identity: failed to sign token: %w", err)
	}
	return signed, nil
}
