package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAuthRecordRepository(t *testing.T) {
	db := &Connection{}
	repo := NewAuthRecordRepository(db)

	assert.NotNil(t, repo)
	assert.Equal(t, db, repo.db)
}

func TestNewOrgRepository(t *testing.T) {
	db := &Connection{}
	repo := NewOrgRepository(db)

	assert.NotNil(t, repo)
	assert.Equal(t, db, repo.db)
}
