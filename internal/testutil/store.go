package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

type memoryDoc struct {
	data     []byte
	revision int64
}

// MemoryAuthRecordStore is an in-memory model.AuthRecordStore with the same
// document round-trip and optimistic concurrency behavior as the postgres
// repository.
type MemoryAuthRecordStore struct {
	mu   sync.Mutex
	docs map[string]memoryDoc
}

func NewMemoryAuthRecordStore() *MemoryAuthRecordStore {
	return &MemoryAuthRecordStore{docs: make(map[string]memoryDoc)}
}

func (s *MemoryAuthRecordStore) Get(_ context.Context, id string) (model.AuthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return model.AuthRecord{}, model.ErrNotFound
	}

	var record model.AuthRecord
	if err := json.Unmarshal(doc.data, &record); err != nil {
		return model.AuthRecord{}, err
	}
	record.Revision = doc.revision
	return record, nil
}

func (s *MemoryAuthRecordStore) Create(_ context.Context, record model.AuthRecord) (model.AuthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[record.ID]; ok {
		return model.AuthRecord{}, model.ErrConflict
	}

	data, err := json.Marshal(record)
	if err != nil {
		return model.AuthRecord{}, err
	}
	s.docs[record.ID] = memoryDoc{data: data, revision: 1}
	record.Revision = 1
	return record, nil
}

func (s *MemoryAuthRecordStore) Save(_ context.Context, record model.AuthRecord) (model.AuthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[record.ID]
	if !ok {
		return model.AuthRecord{}, model.ErrNotFound
	}
	if doc.revision != record.Revision {
		return model.AuthRecord{}, model.ErrConflict
	}

	data, err := json.Marshal(record)
	if err != nil {
		return model.AuthRecord{}, err
	}
	s.docs[record.ID] = memoryDoc{data: data, revision: doc.revision + 1}
	record.Revision = doc.revision + 1
	return record, nil
}

// MemoryOrgStore is an in-memory model.OrgStore.
type MemoryOrgStore struct {
	mu   sync.Mutex
	docs map[string]memoryDoc
}

func NewMemoryOrgStore() *MemoryOrgStore {
	return &MemoryOrgStore{docs: make(map[string]memoryDoc)}
}

func (s *MemoryOrgStore) Get(_ context.Context, id string) (model.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return model.Org{}, model.ErrNotFound
	}

	var org model.Org
	if err := json.Unmarshal(doc.data, &org); err != nil {
		return model.Org{}, err
	}
	org.Revision = doc.revision
	return org, nil
}

func (s *MemoryOrgStore) Create(_ context.Context, org model.Org) (model.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[org.ID]; ok {
		return model.Org{}, model.ErrConflict
	}

	data, err := json.Marshal(org)
	if err != nil {
		return model.Org{}, err
	}
	s.docs[org.ID] = memoryDoc{data: data, revision: 1}
	org.Revision = 1
	return org, nil
}

func (s *MemoryOrgStore) Save(_ context.Context, org model.Org) (model.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[org.ID]
	if !ok {
		return model.Org{}, model.ErrNotFound
	}
	if doc.revision != org.Revision {
		return model.Org{}, model.ErrConflict
	}

	data, err := json.Marshal(org)
	if err != nil {
		return model.Org{}, err
	}
	s.docs[org.ID] = memoryDoc{data: data, revision: doc.revision + 1}
	org.Revision = doc.revision + 1
	return org, nil
}
