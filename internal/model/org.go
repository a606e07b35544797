package model

import (
	"context"
	"time"
)

// OrgStore defines persistence operations for organizations. Save applies
// the same optimistic revision check as AuthRecordStore.
type OrgStore interface {
	Get(ctx context.Context, id string) (Org, error)
	Create(ctx context.Context, org Org) (Org, error)
	Save(ctx context.Context, org Org) (Org, error)
}

// DirectoryProviderSCIM is the provider name enabling SCIM-driven sync.
const DirectoryProviderSCIM = "scim"

// DirectorySettings controls externally-driven membership synchronization.
type DirectorySettings struct {
	SyncProvider string `json:"sync_provider,omitempty"`
	SyncMembers  bool   `json:"sync_members"`
	SyncGroups   bool   `json:"sync_groups"`
	// SCIMSecret authenticates the directory provider's push requests.
	SCIMSecret []byte `json:"scim_secret,omitempty"`
}

// OrgMemberStatus describes an organization member's provisioning state.
type OrgMemberStatus string

const (
	OrgMemberStatusProvisioned OrgMemberStatus = "provisioned"
	OrgMemberStatusInvited     OrgMemberStatus = "invited"
	OrgMemberStatusActive      OrgMemberStatus = "active"
	OrgMemberStatusSuspended   OrgMemberStatus = "suspended"
)

// OrgMember is an organization-side membership record.
type OrgMember struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id,omitempty"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Status    OrgMemberStatus `json:"status"`
	Updated   time.Time       `json:"updated"`
}

// Group is a named set of members inside an organization.
type Group struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// OrgInvite is a pending invitation into an organization.
type OrgInvite struct {
	ID      string    `json:"id"`
	Email   string    `json:"email"`
	Purpose string    `json:"purpose,omitempty"`
	Created time.Time `json:"created"`
}

// Org is the slice of the organization model the directory reconciler
// reads and mutates: sync settings, members, groups and invites.
type Org struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Directory DirectorySettings `json:"directory"`
	Members   []OrgMember       `json:"members"`
	Groups    []Group           `json:"groups"`
	Invites   []OrgInvite       `json:"invites"`
	Updated   time.Time         `json:"updated"`

	Revision int64 `json:"-"`
}

// MembersSynced reports whether member lifecycle events apply to this org.
func (o *Org) MembersSynced() bool {
	return o.Directory.SyncProvider == DirectoryProviderSCIM && o.Directory.SyncMembers
}

// GroupsSynced reports whether group lifecycle events apply to this org.
func (o *Org) GroupsSynced() bool {
	return o.Directory.SyncProvider == DirectoryProviderSCIM && o.Directory.SyncGroups
}

// MemberWithEmail returns the member with the exact email, if any.
func (o *Org) MemberWithEmail(email string) *OrgMember {
	for i := range o.Members {
		if o.Members[i].Email == email {
			return &o.Members[i]
		}
	}
	return nil
}

// FindMember locates a member by external account id, internal id, or
// email, in that precedence. Two distinct external identities sharing one
// email collide on the last fallback; the precedence is preserved as-is.
func (o *Org) FindMember(key string) *OrgMember {
	for i := range o.Members {
		if o.Members[i].AccountID != "" && o.Members[i].AccountID == key {
			return &o.Members[i]
		}
	}
	for i := range o.Members {
		if o.Members[i].ID == key {
			return &o.Members[i]
		}
	}
	return o.MemberWithEmail(key)
}

// RemoveMember deletes the member with the given id.
func (o *Org) RemoveMember(id string) {
	members := o.Members[:0]
	for _, m := range o.Members {
		if m.ID == id {
			continue
		}
		members = append(members, m)
	}
	o.Members = members
}

// InviteWithEmail returns the pending invite for the email, if any.
func (o *Org) InviteWithEmail(email string) *OrgInvite {
	for i := range o.Invites {
		if o.Invites[i].Email == email {
			return &o.Invites[i]
		}
	}
	return nil
}

// RemoveInvite deletes the invite with the given id.
func (o *Org) RemoveInvite(id string) {
	invites := o.Invites[:0]
	for _, inv := range o.Invites {
		if inv.ID == id {
			continue
		}
		invites = append(invites, inv)
	}
	o.Invites = invites
}

// GroupWithName returns the group with the exact name, if any.
func (o *Org) GroupWithName(name string) *Group {
	for i := range o.Groups {
		if o.Groups[i].Name == name {
			return &o.Groups[i]
		}
	}
	return nil
}

// Touch refreshes the organization's update metadata prior to saving.
func (o *Org) Touch(now time.Time) {
	o.Updated = now
}
