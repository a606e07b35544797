package model

import "context"

// DirectoryUser is the external directory's view of a person.
type DirectoryUser struct {
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
}

// DirectoryGroup is the external directory's view of a group.
type DirectoryGroup struct {
	ExternalID string          `json:"external_id,omitempty"`
	Name       string          `json:"name"`
	Members    []DirectoryUser `json:"members,omitempty"`
}

// DirectorySubscriber receives directory lifecycle events. Handlers are
// idempotent and tolerant of unsynced or missing organizations.
type DirectorySubscriber interface {
	UserCreated(ctx context.Context, user DirectoryUser, orgID string) error
	UserUpdated(ctx context.Context, user DirectoryUser, orgID, userID string) error
	UserDeleted(ctx context.Context, user DirectoryUser, orgID, userID string) error
	GroupCreated(ctx context.Context, group DirectoryGroup, orgID string) error
	GroupUpdated(ctx context.Context, group DirectoryGroup, orgID string) error
	GroupDeleted(ctx context.Context, group DirectoryGroup, orgID string) error
}

// DirectoryProvider pushes user and group lifecycle events to subscribers,
// at-least-once, with no ordering guarantee across users or groups.
type DirectoryProvider interface {
	Subscribe(sub DirectorySubscriber)
}

// DirectoryEventKind names a directory lifecycle event variant.
type DirectoryEventKind string

const (
	DirectoryUserCreated  DirectoryEventKind = "user_created"
	DirectoryUserUpdated  DirectoryEventKind = "user_updated"
	DirectoryUserDeleted  DirectoryEventKind = "user_deleted"
	DirectoryGroupCreated DirectoryEventKind = "group_created"
	DirectoryGroupUpdated DirectoryEventKind = "group_updated"
	DirectoryGroupDeleted DirectoryEventKind = "group_deleted"
)

// DirectoryEvent is a typed directory lifecycle event. User events carry
// User and, for update/delete, the provider's subject key in UserID; group
// events carry Group.
type DirectoryEvent struct {
	Kind   DirectoryEventKind
	OrgID  string
	User   DirectoryUser
	Group  DirectoryGroup
	UserID string
}
