package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// Directory reconciles external directory events into organization
// membership. Every handler re-reads the organization, mutates it and saves
// it back whole; handlers are idempotent and no-ops for organizations that
// are missing or have synchronization disabled.
type Directory struct {
	orgStore    model.OrgStore
	recordStore model.AuthRecordStore
	logger      *logger.Logger
	now         func() time.Time
}

var _ model.DirectorySubscriber = (*Directory)(nil)

func NewDirectory(orgStore model.OrgStore, recordStore model.AuthRecordStore, logger *logger.Logger) *Directory {
	return &Directory{
		orgStore:    orgStore,
		recordStore: recordStore,
		logger:      logger,
		now:         time.Now,
	}
}

// memberSyncedOrg loads the org when member events apply to it. A nil org
// with nil error means the event should be dropped.
func (d *Directory) memberSyncedOrg(ctx context.Context, orgID string) (*model.Org, error) {
	org, err := d.orgStore.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get org: %w", err)
	}
	if !org.MembersSynced() {
		return nil, nil
	}
	return &org, nil
}

func (d *Directory) UserCreated(ctx context.Context, user model.DirectoryUser, orgID string) error {
	org, err := d.memberSyncedOrg(ctx, orgID)
	if err != nil || org == nil {
		return err
	}

	email := model.NormalizeEmail(user.Email)
	if org.MemberWithEmail(email) != nil {
		// duplicate delivery
		return nil
	}

	id := user.ExternalID
	if id == "" {
		id = uuid.NewString()
	}

	org.Members = append(org.Members, model.OrgMember{
		ID:      id,
		Email:   email,
		Name:    user.Name,
		Status:  model.OrgMemberStatusProvisioned,
		Updated: d.now(),
	})
	org.Touch(d.now())

	if _, err := d.orgStore.Save(ctx, *org); err != nil {
		return fmt.Errorf("failed to save org: %w", err)
	}

	d.logger.Info("Directory service: member provisioned",
		"org_id", orgID,
		"email", email)
	return nil
}

func (d *Directory) UserUpdated(ctx context.Context, user model.DirectoryUser, orgID, userID string) error {
	org, err := d.memberSyncedOrg(ctx, orgID)
	if err != nil || org == nil {
		return err
	}

	member := org.FindMember(userID)
	if member == nil {
		return nil
	}

	member.Name = user.Name
	member.Updated = d.now()
	org.Touch(d.now())

	if _, err := d.orgStore.Save(ctx, *org); err != nil {
		return fmt.Errorf("failed to save org: %w", err)
	}
	return nil
}

func (d *Directory) UserDeleted(ctx context.Context, _ model.DirectoryUser, orgID, userID string) error {
	org, err := d.memberSyncedOrg(ctx, orgID)
	if err != nil || org == nil {
		return err
	}

	member := org.FindMember(userID)
	if member == nil {
		return nil
	}
	email := member.Email

	org.RemoveMember(member.ID)

	if invite := org.InviteWithEmail(email); invite != nil {
		inviteID := invite.ID
		org.RemoveInvite(inviteID)
		// best effort; the org save must not depend on record cleanup
		d.dropInviteRef(ctx, email, inviteID)
	}

	org.Touch(d.now())

	if _, err := d.orgStore.Save(ctx, *org); err != nil {
		return fmt.Errorf("failed to save org: %w", err)
	}

	d.logger.Info("Directory service: member removed",
		"org_id", orgID,
		"email", email)
	return nil
}

// dropInviteRef removes the invite reference from the email's auth record.
// Failures are logged and swallowed.
func (d *Directory) dropInviteRef(ctx context.Context, email, inviteID string) {
	record, err := d.recordStore.Get(ctx, model.RecordID(email))
	if err != nil {
		d.logger.Debug("Directory service: skipping invite ref cleanup",
			"email", email,
			"invite_id", inviteID,
			"error", err.Error())
		return
	}

	record.RemoveInvite(inviteID)

	if _, err := d.recordStore.Save(ctx, record); err != nil {
		d.logger.Debug("Directory service: failed to save invite ref cleanup",
			"email", email,
			"invite_id", inviteID,
			"error", err.Error())
	}
}

func (d *Directory) GroupCreated(ctx context.Context, group model.DirectoryGroup, orgID string) error {
	org, err := d.orgStore.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get org: %w", err)
	}
	if !org.GroupsSynced() {
		return nil
	}

	if org.GroupWithName(group.Name) != nil {
		return nil
	}

	// membership is populated later, once external members materialize
	org.Groups = append(org.Groups, model.Group{Name: group.Name})
	org.Touch(d.now())

	if _, err := d.orgStore.Save(ctx, org); err != nil {
		return fmt.Errorf("failed to save org: %w", err)
	}
	return nil
}

func (d *Directory) GroupUpdated(_ context.Context, group model.DirectoryGroup, _ string) error {
	return fmt.Errorf("group update for %q: %w", group.Name, model.ErrUnsupported)
}

func (d *Directory) GroupDeleted(_ context.Context, group model.DirectoryGroup, _ string) error {
	return fmt.Errorf("group delete for %q: %w", group.Name, model.ErrUnsupported)
}
