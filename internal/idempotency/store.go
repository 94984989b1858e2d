// Package idempotency remembers the outcome of requests sent with an
// Idempotency-Key header so a retried request is answered without being
// executed twice.
package idempotency

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
)

var (
	ErrInFlight            = errors.New("a request with this idempotency key is still in progress")
	ErrFingerprintMismatch = errors.New("idempotency key was already used with a different request")
)

type Record struct {
	State       State  `json:"state"`
	Fingerprint string `json:"fingerprint"`
	StatusCode  int    `json:"status_code,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Store persists records under caller-supplied keys.
type Store interface {
	// Reserve stores a pending record unless key already exists. It returns
	// nil when the reservation was taken, otherwise the existing record.
	Reserve(ctx context.Context, key, fingerprint string) (*Record, error)
	Complete(ctx context.Context, key string, rec Record) error
	Release(ctx context.Context, key string) error
}

// Key scopes a client key to one buyer so keys never collide across buyers.
func Key(buyerID uuid.UUID, clientKey string) string {
	return buyerID.String() + ":" + clientKey
}

// Fingerprint hashes the parts describing a request body.
func Fingerprint(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Guard applies the idempotency protocol on top of a Store. Store failures
// are logged and the request proceeds as if no key had been sent.
type Guard struct {
	store Store
}

func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Begin returns (nil, nil) when the caller now owns key and must finish with
// Complete or Release. A completed record is returned for replay.
func (g *Guard) Begin(ctx context.Context, key, fingerprint string) (*Record, error) {
	existing, err := g.store.Reserve(ctx, key, fingerprint)
	if err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency: store unavailable, proceeding without key")
		return nil, nil
	}

	if existing == nil {
		return nil, nil
	}

	if existing.Fingerprint != fingerprint {
		return nil, ErrFingerprintMismatch
	}

	if existing.State != StateCompleted {
		return nil, ErrInFlight
	}

	return existing, nil
}

func (g *Guard) Complete(ctx context.Context, key, fingerprint string, statusCode int, body []byte) {
	rec := Record{
		State:       StateCompleted,
		Fingerprint: fingerprint,
		StatusCode:  statusCode,
		Body:        body,
	}
	if err := g.store.Complete(ctx, key, rec); err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency: failed to store completed response")
	}
}

func (g *Guard) Release(ctx context.Context, key string) {
	if err := g.store.Release(ctx, key); err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency: failed to release key")
	}
}
