package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

const keyStorePrefix = "keystore/"

// KeyStore keeps server-held key material in blob storage. Every payload is
// bound to one enrolled authenticator; reading it back requires a consumed
// access_key_store challenge token verified by that same authenticator.
type KeyStore struct {
	recordStore model.AuthRecordStore
	auth        *Auth
	mfa         *MFA
	storage     model.Storage
	logger      *logger.Logger
	now         func() time.Time
}

func NewKeyStore(
	recordStore model.AuthRecordStore,
	auth *Auth,
	mfa *MFA,
	storage model.Storage,
	logger *logger.Logger,
) *KeyStore {
	return &KeyStore{
		recordStore: recordStore,
		auth:        auth,
		mfa:         mfa,
		storage:     storage,
		logger:      logger,
		now:         time.Now,
	}
}

func blobKey(entryID string) string {
	return keyStorePrefix + entryID
}

// Create uploads a payload and registers the entry on the record.
func (k *KeyStore) Create(ctx context.Context, email, authenticatorID string, data []byte) (model.KeyStoreEntryInfo, error) {
	record, err := k.auth.GetRecord(ctx, email)
	if err != nil {
		return model.KeyStoreEntryInfo{}, err
	}

	authenticator := record.Authenticator(authenticatorID)
	if authenticator == nil {
		return model.KeyStoreEntryInfo{}, fmt.Errorf("authenticator %q: %w", authenticatorID, model.ErrNotFound)
	}
	if authenticator.Status != model.AuthenticatorStatusActive {
		return model.KeyStoreEntryInfo{}, fmt.Errorf("authenticator %q is not active: %w", authenticatorID, model.ErrInvalidState)
	}
	if !authenticator.SupportsPurpose(model.AuthPurposeAccessKeyStore) {
		return model.KeyStoreEntryInfo{}, fmt.Errorf("authenticator %q cannot guard key store entries: %w", authenticatorID, model.ErrInvalidState)
	}

	entry := model.KeyStoreEntryInfo{
		ID:              uuid.NewString(),
		AuthenticatorID: authenticatorID,
		Created:         k.now(),
	}

	if err := k.storage.Upload(ctx, blobKey(entry.ID), bytes.NewReader(data)); err != nil {
		k.logger.Error("KeyStore service: failed to upload payload",
			"record_id", record.ID,
			"entry_id", entry.ID,
			"error", err.Error())
		return model.KeyStoreEntryInfo{}, fmt.Errorf("failed to upload payload: %w", err)
	}

	record.KeyStoreEntries = append(record.KeyStoreEntries, entry)

	if _, err := k.recordStore.Save(ctx, record); err != nil {
		// the blob is unreachable without the entry; clean it up
		if delErr := k.storage.Delete(ctx, blobKey(entry.ID)); delErr != nil {
			k.logger.Error("KeyStore service: failed to delete orphaned payload",
				"entry_id", entry.ID,
				"error", delErr.Error())
		}
		return model.KeyStoreEntryInfo{}, fmt.Errorf("failed to save auth record: %w", err)
	}

	k.logger.Info("KeyStore service: entry created",
		"record_id", record.ID,
		"entry_id", entry.ID,
		"authenticator_id", authenticatorID)

	return entry, nil
}

// Get releases a payload against a verified access token. The token must
// come from a challenge answered by the entry's own authenticator and is
// spent here regardless of what happens to the download.
func (k *KeyStore) Get(ctx context.Context, email, entryID, accessToken string) ([]byte, error) {
	record, err := k.auth.GetRecord(ctx, email)
	if err != nil {
		return nil, err
	}

	entry := record.KeyStoreEntry(entryID)
	if entry == nil {
		return nil, fmt.Errorf("key store entry %q: %w", entryID, model.ErrNotFound)
	}

	request := record.AuthRequestByToken(accessToken, model.AuthPurposeAccessKeyStore)
	if request == nil {
		return nil, fmt.Errorf("no matching access token: %w", model.ErrVerificationFailed)
	}
	if request.AuthenticatorID != entry.AuthenticatorID {
		return nil, fmt.Errorf("access token bound to a different authenticator: %w", model.ErrVerificationFailed)
	}

	if err := k.mfa.ConsumeToken(&record, accessToken, model.AuthPurposeAccessKeyStore); err != nil {
		return nil, err
	}

	if _, err := k.recordStore.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save auth record: %w", err)
	}

	reader, err := k.storage.Download(ctx, blobKey(entryID))
	if err != nil {
		return nil, fmt.Errorf("failed to download payload: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	return data, nil
}

// Delete removes the payload and its entry.
func (k *KeyStore) Delete(ctx context.Context, email, entryID string) error {
	record, err := k.auth.GetRecord(ctx, email)
	if err != nil {
		return err
	}

	if record.KeyStoreEntry(entryID) == nil {
		return fmt.Errorf("key store entry %q: %w", entryID, model.ErrNotFound)
	}

	if err := k.storage.Delete(ctx, blobKey(entryID)); err != nil {
		return fmt.Errorf("failed to delete payload: %w", err)
	}

	record.RemoveKeyStoreEntry(entryID)

	if _, err := k.recordStore.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save auth record: %w", err)
	}

	k.logger.Info("KeyStore service: entry deleted",
		"record_id", record.ID,
		"entry_id", entryID)
	return nil
}
