// Package context carries the authenticated record id through a request.
package context

import "context"

type contextKey int

const recordIDKey contextKey = iota

// Manager implements model.ContextManager on top of context values.
type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// SetRecordIDToContext returns a child context carrying the record id.
func (m *Manager) SetRecordIDToContext(ctx context.Context, recordID string) context.Context {
	return context.WithValue(ctx, recordIDKey, recordID)
}

// GetRecordIDFromContext retrieves the record id set by the authentication
// middleware, if any.
func (m *Manager) GetRecordIDFromContext(ctx context.Context) (string, bool) {
	recordID, ok := ctx.Value(recordIDKey).(string)
	if !ok || recordID == "" {
		return "", false
	}
	return recordID, true
}
