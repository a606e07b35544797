package model

import "context"

// ContextManager carries the authenticated record id through a request.
type ContextManager interface {
	SetRecordIDToContext(ctx context.Context, recordID string) context.Context
	GetRecordIDFromContext(ctx context.Context) (string, bool)
}
