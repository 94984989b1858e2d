// Package identity resolves bearer credentials into the buyer placing a
// request. Registration and login live in another service; this package only
// verifies what that service issues.
package identity

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

type Identity struct {
	BuyerID uuid.UUID
	Email   string
	Role    string
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// BuyerID returns uuid.Nil when the context carries no identity.
func BuyerID(ctx context.Context) uuid.UUID {
	id, _ := FromContext(ctx)
	return id.BuyerID
}
