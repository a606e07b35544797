package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTrip(t *testing.T) {
	m := NewManager()

	ctx := m.SetRecordIDToContext(context.Background(), "record-1")

	recordID, ok := m.GetRecordIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "record-1", recordID)
}

func TestManager_Missing(t *testing.T) {
	m := NewManager()

	_, ok := m.GetRecordIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = m.GetRecordIDFromContext(m.SetRecordIDToContext(context.Background(), ""))
	assert.False(t, ok)
}
