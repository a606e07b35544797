package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
	"github.com/dtroode/keyhaven-identity/internal/testutil"
)

func newSyncedOrg(t *testing.T, orgs *testutil.MemoryOrgStore, id string, members, groups bool) model.Org {
	t.Helper()

	org, err := orgs.Create(context.Background(), model.Org{
		ID:   id,
		Name: "Acme",
		Directory: model.DirectorySettings{
			SyncProvider: model.DirectoryProviderSCIM,
			SyncMembers:  members,
			SyncGroups:   groups,
		},
	})
	require.NoError(t, err)
	return org
}

func TestDirectory_UserCreated(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	newSyncedOrg(t, orgs, "org-1", true, false)

	user := model.DirectoryUser{Email: "a@x.com", Name: "A", Active: true}
	require.NoError(t, svc.UserCreated(ctx, user, "org-1"))

	org, err := orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, org.Members, 1)
	assert.Equal(t, "a@x.com", org.Members[0].Email)
	assert.Equal(t, model.OrgMemberStatusProvisioned, org.Members[0].Status)

	// replaying the identical event changes nothing
	require.NoError(t, svc.UserCreated(ctx, user, "org-1"))

	org, err = orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, org.Members, 1)
}

func TestDirectory_UserCreated_SyncDisabled(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	newSyncedOrg(t, orgs, "org-1", false, false)

	require.NoError(t, svc.UserCreated(ctx, model.DirectoryUser{Email: "a@x.com"}, "org-1"))

	org, err := orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Empty(t, org.Members)
}

func TestDirectory_UserCreated_MissingOrg(t *testing.T) {
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	require.NoError(t, svc.UserCreated(context.Background(), model.DirectoryUser{Email: "a@x.com"}, "nope"))
}

func TestDirectory_UserUpdated(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	newSyncedOrg(t, orgs, "org-1", true, false)
	require.NoError(t, svc.UserCreated(ctx, model.DirectoryUser{Email: "a@x.com", Name: "A"}, "org-1"))

	org, err := orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	before := org.Members[0].Updated

	require.NoError(t, svc.UserUpdated(ctx, model.DirectoryUser{Name: "A2"}, "org-1", "a@x.com"))

	org, err = orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, org.Members, 1)
	assert.Equal(t, "A2", org.Members[0].Name)
	assert.False(t, org.Members[0].Updated.Before(before))

	// unknown subject is a no-op
	require.NoError(t, svc.UserUpdated(ctx, model.DirectoryUser{Name: "B"}, "org-1", "nobody@x.com"))
}

func TestDirectory_MemberLookupPrecedence(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	org := newSyncedOrg(t, orgs, "org-1", true, false)
	org.Members = []model.OrgMember{
		{ID: "m-1", AccountID: "acct-1", Email: "a@x.com", Name: "ByAccount"},
		{ID: "acct-1", Email: "b@x.com", Name: "ById"},
	}
	_, err := orgs.Save(ctx, org)
	require.NoError(t, err)

	// account id wins over internal id for the same key
	require.NoError(t, svc.UserUpdated(ctx, model.DirectoryUser{Name: "Updated"}, "org-1", "acct-1"))

	org, err = orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "Updated", org.Members[0].Name)
	assert.Equal(t, "ById", org.Members[1].Name)
}

func TestDirectory_UserDeleted_CleansInvites(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	org := newSyncedOrg(t, orgs, "org-1", true, false)
	org.Members = []model.OrgMember{{ID: "m-1", Email: "a@x.com", Name: "A"}}
	org.Invites = []model.OrgInvite{{ID: "inv1", Email: "a@x.com"}}
	_, err := orgs.Save(ctx, org)
	require.NoError(t, err)

	record := model.NewAuthRecord("a@x.com", testNow())
	record.Invites = []model.InviteRef{{ID: "inv1", OrgID: "org-1", OrgName: "Acme"}}
	_, err = records.Create(ctx, record)
	require.NoError(t, err)

	require.NoError(t, svc.UserDeleted(ctx, model.DirectoryUser{}, "org-1", "a@x.com"))

	org, err = orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Empty(t, org.Members)
	assert.Empty(t, org.Invites)

	stored, err := records.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Invites)
}

func TestDirectory_UserDeleted_MissingAuthRecord(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	org := newSyncedOrg(t, orgs, "org-1", true, false)
	org.Members = []model.OrgMember{{ID: "m-1", Email: "a@x.com"}}
	org.Invites = []model.OrgInvite{{ID: "inv1", Email: "a@x.com"}}
	_, err := orgs.Save(ctx, org)
	require.NoError(t, err)

	// no auth record exists; the org mutation still goes through
	require.NoError(t, svc.UserDeleted(ctx, model.DirectoryUser{}, "org-1", "a@x.com"))

	org, err = orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Empty(t, org.Members)
	assert.Empty(t, org.Invites)
}

func TestDirectory_GroupCreated(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	newSyncedOrg(t, orgs, "org-1", false, true)

	group := model.DirectoryGroup{Name: "Engineering"}
	require.NoError(t, svc.GroupCreated(ctx, group, "org-1"))
	require.NoError(t, svc.GroupCreated(ctx, group, "org-1"))

	org, err := orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, org.Groups, 1)
	assert.Equal(t, "Engineering", org.Groups[0].Name)
	assert.Empty(t, org.Groups[0].Members)
}

func TestDirectory_GroupUpdateAndDeleteUnsupported(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	newSyncedOrg(t, orgs, "org-1", true, true)

	err := svc.GroupUpdated(ctx, model.DirectoryGroup{Name: "Engineering"}, "org-1")
	require.ErrorIs(t, err, model.ErrUnsupported)

	err = svc.GroupDeleted(ctx, model.DirectoryGroup{Name: "Engineering"}, "org-1")
	require.ErrorIs(t, err, model.ErrUnsupported)
}

func TestDirectoryDispatcher_SerializesPerOrg(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	newSyncedOrg(t, orgs, "org-1", true, false)
	newSyncedOrg(t, orgs, "org-2", true, false)

	dispatcher := NewDirectoryDispatcher(svc, 8, logger.New(0))

	// concurrent creates for the same org must not lose members
	const n = 20
	for i := 0; i < n; i++ {
		user := model.DirectoryUser{Email: fmt.Sprintf("user%d@x.com", i), Name: "U"}
		require.NoError(t, dispatcher.UserCreated(ctx, user, "org-1"))
		require.NoError(t, dispatcher.UserCreated(ctx, user, "org-2"))
	}

	dispatcher.Close()

	for _, orgID := range []string{"org-1", "org-2"} {
		org, err := orgs.Get(ctx, orgID)
		require.NoError(t, err)
		assert.Len(t, org.Members, n)
	}
}

func TestDirectoryDispatcher_DuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	newSyncedOrg(t, orgs, "org-1", true, false)

	dispatcher := NewDirectoryDispatcher(svc, 8, logger.New(0))

	user := model.DirectoryUser{Email: "a@x.com", Name: "A"}
	require.NoError(t, dispatcher.UserCreated(ctx, user, "org-1"))
	require.NoError(t, dispatcher.UserCreated(ctx, user, "org-1"))

	dispatcher.Close()

	org, err := orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, org.Members, 1)
}

func TestDirectoryDispatcher_GroupUpdateFailsSynchronously(t *testing.T) {
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	dispatcher := NewDirectoryDispatcher(svc, 8, logger.New(0))
	defer dispatcher.Close()

	err := dispatcher.GroupUpdated(context.Background(), model.DirectoryGroup{Name: "g"}, "org-1")
	require.ErrorIs(t, err, model.ErrUnsupported)

	err = dispatcher.GroupDeleted(context.Background(), model.DirectoryGroup{Name: "g"}, "org-1")
	require.ErrorIs(t, err, model.ErrUnsupported)
}

func TestDirectoryDispatcher_CloseDrains(t *testing.T) {
	ctx := context.Background()
	orgs := testutil.NewMemoryOrgStore()
	records := testutil.NewMemoryAuthRecordStore()
	svc := NewDirectory(orgs, records, logger.New(0))

	newSyncedOrg(t, orgs, "org-1", false, true)

	dispatcher := NewDirectoryDispatcher(svc, 8, logger.New(0))
	require.NoError(t, dispatcher.GroupCreated(ctx, model.DirectoryGroup{Name: "g"}, "org-1"))
	dispatcher.Close()

	org, err := orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, org.Groups, 1)

	// events after close are dropped, not delivered
	require.NoError(t, dispatcher.GroupCreated(ctx, model.DirectoryGroup{Name: "h"}, "org-1"))
	time.Sleep(10 * time.Millisecond)

	org, err = orgs.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, org.Groups, 1)
}
