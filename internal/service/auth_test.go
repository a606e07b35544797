package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/keyhaven-identity/internal/crypto"
	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/mocks"
	"github.com/dtroode/keyhaven-identity/internal/model"
	"github.com/dtroode/keyhaven-identity/internal/testutil"
)

func newTestAuth(store model.AuthRecordStore) *Auth {
	return NewAuth(store, crypto.NewProvider(), crypto.DefaultKeyParams(1000), logger.New(0))
}

func TestAuth_GetOrCreateRecord_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryAuthRecordStore()
	svc := newTestAuth(store)

	record, err := svc.GetOrCreateRecord(ctx, "User@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, model.RecordID("user@example.com"), record.ID)
	assert.Equal(t, "user@example.com", record.Email)
	assert.Equal(t, model.AccountStatusUnverified, record.Status)
	assert.Equal(t, crypto.AlgorithmPBKDF2, record.KeyParams.Algorithm)

	again, err := svc.GetOrCreateRecord(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, record.ID, again.ID)
	assert.Equal(t, record.Created.Unix(), again.Created.Unix())
}

func TestAuth_SessionKey_GeneratesSaltOnce(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryAuthRecordStore()
	svc := newTestAuth(store)

	record, err := svc.GetOrCreateRecord(ctx, "a@x.com")
	require.NoError(t, err)
	require.Empty(t, record.KeyParams.Salt)

	key1, err := svc.SessionKey(ctx, &record, []byte("correct-password"))
	require.NoError(t, err)
	require.Len(t, record.KeyParams.Salt, crypto.SaltLength)
	salt := record.KeyParams.Salt

	key2, err := svc.SessionKey(ctx, &record, []byte("correct-password"))
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
	assert.Equal(t, salt, record.KeyParams.Salt)

	// the salt was persisted, not just mutated in memory
	stored, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, salt, stored.KeyParams.Salt)

	key3, err := svc.SessionKey(ctx, &record, []byte("other-password"))
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3)
	assert.Equal(t, salt, record.KeyParams.Salt)
}

func TestAuth_SessionKey_ReloadedRecordIsDeterministic(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryAuthRecordStore()
	svc := newTestAuth(store)

	record, err := svc.GetOrCreateRecord(ctx, "a@x.com")
	require.NoError(t, err)

	key1, err := svc.SessionKey(ctx, &record, []byte("pw"))
	require.NoError(t, err)

	reloaded, err := store.Get(ctx, record.ID)
	require.NoError(t, err)

	key2, err := svc.SessionKey(ctx, &reloaded, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}

func TestAuth_SessionKey_EmptyPassword(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryAuthRecordStore()
	svc := newTestAuth(store)

	record, err := svc.GetOrCreateRecord(ctx, "a@x.com")
	require.NoError(t, err)

	_, err = svc.SessionKey(ctx, &record, nil)
	require.ErrorIs(t, err, model.ErrCrypto)
}

func TestAuth_SessionKey_RandomFailure(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryAuthRecordStore()

	provider := &mocks.CryptoProvider{}
	provider.On("RandomBytes", crypto.SaltLength).Return(nil, model.ErrCrypto).Once()

	svc := NewAuth(store, provider, crypto.DefaultKeyParams(1000), logger.New(0))

	record := model.NewAuthRecord("a@x.com", testNow())
	_, err := store.Create(ctx, record)
	require.NoError(t, err)

	_, err = svc.SessionKey(ctx, &record, []byte("pw"))
	require.ErrorIs(t, err, model.ErrCrypto)
	assert.Empty(t, record.KeyParams.Salt)
}

func TestAuth_MarkDeleted(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryAuthRecordStore()
	svc := newTestAuth(store)

	record, err := svc.GetOrCreateRecord(ctx, "a@x.com")
	require.NoError(t, err)

	require.NoError(t, svc.MarkDeleted(ctx, "a@x.com"))

	stored, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusDeleted, stored.Status)
}
