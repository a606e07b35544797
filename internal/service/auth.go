package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dtroode/keyhaven-identity/internal/crypto"
	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// Auth owns auth record lifecycle and password key derivation.
type Auth struct {
	recordStore model.AuthRecordStore
	crypto      model.CryptoProvider
	keyParams   model.KeyParams
	logger      *logger.Logger
	now         func() time.Time
}

func NewAuth(
	recordStore model.AuthRecordStore,
	cryptoProvider model.CryptoProvider,
	keyParams model.KeyParams,
	logger *logger.Logger,
) *Auth {
	return &Auth{
		recordStore: recordStore,
		crypto:      cryptoProvider,
		keyParams:   keyParams,
		logger:      logger,
		now:         time.Now,
	}
}

// GetRecord loads the auth record for an email address.
func (a *Auth) GetRecord(ctx context.Context, email string) (model.AuthRecord, error) {
	record, err := a.recordStore.Get(ctx, model.RecordID(email))
	if err != nil {
		return model.AuthRecord{}, fmt.Errorf("failed to get auth record: %w", err)
	}
	return record, nil
}

// GetRecordByID loads the auth record behind an authenticated token subject.
func (a *Auth) GetRecordByID(ctx context.Context, id string) (model.AuthRecord, error) {
	record, err := a.recordStore.Get(ctx, id)
	if err != nil {
		return model.AuthRecord{}, fmt.Errorf("failed to get auth record: %w", err)
	}
	return record, nil
}

// GetOrCreateRecord loads the auth record for an email address, creating an
// unverified one on the first authentication attempt.
func (a *Auth) GetOrCreateRecord(ctx context.Context, email string) (model.AuthRecord, error) {
	id := model.RecordID(email)

	record, err := a.recordStore.Get(ctx, id)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.AuthRecord{}, fmt.Errorf("failed to get auth record: %w", err)
	}

	a.logger.Debug("Auth service: creating auth record",
		"email", email)

	record = model.NewAuthRecord(email, a.now())
	record.KeyParams = a.keyParams

	created, err := a.recordStore.Create(ctx, record)
	if errors.Is(err, model.ErrConflict) {
		// lost the race to a concurrent first attempt
		created, err = a.recordStore.Get(ctx, id)
	}
	if err != nil {
		a.logger.Error("Auth service: failed to create auth record",
			"email", email,
			"error", err.Error())
		return model.AuthRecord{}, fmt.Errorf("failed to create auth record: %w", err)
	}

	return created, nil
}

// SessionKey derives the password key for a record. The salt is generated on
// the first call and persisted before deriving; every later call reuses it,
// so the same password always yields the same key for a given record.
func (a *Auth) SessionKey(ctx context.Context, record *model.AuthRecord, password []byte) ([]byte, error) {
	if len(record.KeyParams.Salt) == 0 {
		salt, err := a.crypto.RandomBytes(crypto.SaltLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		record.KeyParams.Salt = salt

		saved, err := a.recordStore.Save(ctx, *record)
		if err != nil {
			a.logger.Error("Auth service: failed to persist record salt",
				"record_id", record.ID,
				"error", err.Error())
			return nil, fmt.Errorf("failed to save auth record: %w", err)
		}
		*record = saved
	}

	key, err := a.crypto.DeriveKey(password, record.KeyParams)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, nil
}

// SaveRecord persists a mutated record.
func (a *Auth) SaveRecord(ctx context.Context, record model.AuthRecord) (model.AuthRecord, error) {
	saved, err := a.recordStore.Save(ctx, record)
	if err != nil {
		return model.AuthRecord{}, fmt.Errorf("failed to save auth record: %w", err)
	}
	return saved, nil
}

// MarkDeleted soft-deletes the record for an email. The record itself is
// kept so the id stays claimed.
func (a *Auth) MarkDeleted(ctx context.Context, email string) error {
	record, err := a.GetRecord(ctx, email)
	if err != nil {
		return err
	}

	record.Status = model.AccountStatusDeleted
	record.Sessions = nil
	record.SRPSessions = nil
	record.AuthRequests = nil

	if _, err := a.recordStore.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save auth record: %w", err)
	}

	a.logger.Info("Auth service: auth record marked deleted",
		"record_id", record.ID)
	return nil
}
