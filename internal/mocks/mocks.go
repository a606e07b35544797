// Package mocks provides testify mocks for the model interfaces.
package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

type AuthRecordStore struct {
	mock.Mock
}

func (m *AuthRecordStore) Get(ctx context.Context, id string) (model.AuthRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.AuthRecord), args.Error(1)
}

func (m *AuthRecordStore) Create(ctx context.Context, record model.AuthRecord) (model.AuthRecord, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(model.AuthRecord), args.Error(1)
}

func (m *AuthRecordStore) Save(ctx context.Context, record model.AuthRecord) (model.AuthRecord, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(model.AuthRecord), args.Error(1)
}

type OrgStore struct {
	mock.Mock
}

func (m *OrgStore) Get(ctx context.Context, id string) (model.Org, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Org), args.Error(1)
}

func (m *OrgStore) Create(ctx context.Context, org model.Org) (model.Org, error) {
	args := m.Called(ctx, org)
	return args.Get(0).(model.Org), args.Error(1)
}

func (m *OrgStore) Save(ctx context.Context, org model.Org) (model.Org, error) {
	args := m.Called(ctx, org)
	return args.Get(0).(model.Org), args.Error(1)
}

type Storage struct {
	mock.Mock
}

func (m *Storage) Upload(ctx context.Context, key string, reader io.Reader) error {
	args := m.Called(ctx, key, reader)
	return args.Error(0)
}

func (m *Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Storage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *Storage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

type CryptoProvider struct {
	mock.Mock
}

func (m *CryptoProvider) RandomBytes(n int) ([]byte, error) {
	args := m.Called(n)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CryptoProvider) DeriveKey(password []byte, params model.KeyParams) ([]byte, error) {
	args := m.Called(password, params)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

type Messenger struct {
	mock.Mock
}

func (m *Messenger) Send(ctx context.Context, recipient, subject, body string) error {
	args := m.Called(ctx, recipient, subject, body)
	return args.Error(0)
}

type TokenManager struct {
	mock.Mock
}

func (m *TokenManager) GenerateAccessToken(recordID, sessionID string) (string, error) {
	args := m.Called(recordID, sessionID)
	return args.String(0), args.Error(1)
}

func (m *TokenManager) GenerateRefreshToken(recordID, sessionID string) (string, error) {
	args := m.Called(recordID, sessionID)
	return args.String(0), args.Error(1)
}

func (m *TokenManager) ParseAccessToken(token string) (string, string, error) {
	args := m.Called(token)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *TokenManager) ParseRefreshToken(token string) (string, string, error) {
	args := m.Called(token)
	return args.String(0), args.String(1), args.Error(2)
}
