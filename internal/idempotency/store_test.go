package idempotency_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/online-store/internal/idempotency"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Reserve(ctx context.Context, key, fingerprint string) (*idempotency.Record, error) {
	args := m.Called(ctx, key, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idempotency.Record), args.Error(1)
}

func (m *MockStore) Complete(ctx context.Context, key string, rec idempotency.Record) error {
	args := m.Called(ctx, key, rec)
	return args.Error(0)
}

func (m *MockStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func TestGuard_Protocol(t *testing.T) {
	ctx := context.Background()
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(time.Hour))
	key := idempotency.Key(uuid.Must(uuid.NewV4()), "key-1")
	fp := idempotency.Fingerprint("a", "b")

	rec, err := guard.Begin(ctx, key, fp)
	require.NoError(t, err)
	assert.Nil(t, rec, "first request owns the key")

	_, err = guard.Begin(ctx, key, fp)
	assert.ErrorIs(t, err, idempotency.ErrInFlight)

	_, err = guard.Begin(ctx, key, idempotency.Fingerprint("a", "c"))
	assert.ErrorIs(t, err, idempotency.ErrFingerprintMismatch)

	guard.Complete(ctx, key, fp, 201, []byte(`{"orderId":"x"}`))

	rec, err = guard.Begin(ctx, key, fp)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StateCompleted, rec.State)
	assert.Equal(t, 201, rec.StatusCode)
	assert.JSONEq(t, `{"orderId":"x"}`, string(rec.Body))
}

func TestGuard_ReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(time.Hour))
	fp := idempotency.Fingerprint("cart")

	_, err := guard.Begin(ctx, "k", fp)
	require.NoError(t, err)

	guard.Release(ctx, "k")

	rec, err := guard.Begin(ctx, "k", fp)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGuard_FailsOpen(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("Reserve", mock.Anything, "k", "fp").Return(nil, errors.New("connection refused")).Once()
	store.On("Release", mock.Anything, "k").Return(errors.New("connection refused")).Once()

	guard := idempotency.NewGuard(store)

	rec, err := guard.Begin(ctx, "k", "fp")
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.NotPanics(t, func() { guard.Release(ctx, "k") })
	store.AssertExpectations(t)
}

func TestKeyAndFingerprint(t *testing.T) {
	a := uuid.Must(uuid.NewV4())
	b := uuid.Must(uuid.NewV4())

	assert.NotEqual(t, idempotency.Key(a, "k"), idempotency.Key(b, "k"))
	assert.Equal(t, idempotency.Fingerprint("x", "y"), idempotency.Fingerprint("x", "y"))
	assert.NotEqual(t, idempotency.Fingerprint("xy"), idempotency.Fingerprint("x", "y"))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("STORE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STORE_TEST_REDIS_ADDR is not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	store := idempotency.NewRedisStore(client, time.Minute)
	key := idempotency.Key(uuid.Must(uuid.NewV4()), "redis-test")
	t.Cleanup(func() { _ = store.Release(ctx, key) })

	rec, err := store.Reserve(ctx, key, "fp")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = store.Reserve(ctx, key, "fp")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatePending, rec.State)

	require.NoError(t, store.Complete(ctx, key, idempotency.Record{
		State:       idempotency.StateCompleted,
		Fingerprint: "fp",
		StatusCode:  201,
		Body:        []byte(`{}`),
	}))

	rec, err = store.Reserve(ctx, key, "fp")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StateCompleted, rec.State)
	assert.Equal(t, 201, rec.StatusCode)

	require.NoError(t, store.Release(ctx, key))
	rec, err = store.Reserve(ctx, key, "fp")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
