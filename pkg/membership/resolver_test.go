package membership

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/pkg/catalog"
	"github.com/arborhq/arbor/pkg/hierarchy"
	"github.com/arborhq/arbor/pkg/identity"
	"github.com/arborhq/arbor/pkg/storage/postgres"
)

type fakeMemberships struct {
	byUser  map[string][]*Membership
	primary map[string]*Membership
	calls   int
}

func (f *fakeMemberships) ListActiveForUser(ctx context.Context, userID string) ([]*Membership, error) {
	f.calls++
	return f.byUser[userID], nil
}

func (f *fakeMemberships) GetPrimaryForUser(ctx context.Context, userID string) (*Membership, error) {
	m, ok := f.primary[userID]
	if !ok {
		return nil, ErrNoPrimaryEntity
	}
	return m, nil
}

type fakeRoles struct {
	roles map[string]*catalog.Role
}

func (f *fakeRoles) GetRolesByIDs(ctx context.Context, ids []string) (map[string]*catalog.Role, error) {
	result := make(map[string]*catalog.Role)
	for _, id := range ids {
		if role, ok := f.roles[id]; ok {
			result[id] = role
		}
	}
	return result, nil
}

type fakeEntities struct {
	entities  map[string]*hierarchy.Entity
	ancestors map[string][]*hierarchy.Entity
	walks     int
}

func (f *fakeEntities) GetEntity(ctx context.Context, id string, includeInactive bool) (*hierarchy.Entity, error) {
	e, ok := f.entities[id]
	if !ok {
		return nil, hierarchy.ErrNotFound
	}
	return e, nil
}

func (f *fakeEntities) GetAncestors(ctx context.Context, id string) ([]*hierarchy.Entity, error) {
	f.walks++
	return f.ancestors[id], nil
}

func strPtr(s string) *string { return &s }

func testFixture() (*fakeMemberships, *fakeRoles, *fakeEntities) {
	memberships := &fakeMemberships{
		byUser: map[string][]*Membership{
			"user-1": {
				{ID: "m-1", UserID: "user-1", EntityID: "ent-root", RoleID: strPtr("role-manager"), Type: TypeDirect, IsPrimary: true},
				{ID: "m-2", UserID: "user-1", EntityID: "ent-leaf", RoleID: strPtr("role-analyst"), Type: TypeDirect},
				{ID: "m-3", UserID: "user-1", EntityID: "ent-leaf", RoleID: nil, Type: TypeDirect},
			},
		},
		primary: map[string]*Membership{
			"user-1": {ID: "m-1", UserID: "user-1", EntityID: "ent-root", IsPrimary: true},
		},
	}

	roles := &fakeRoles{roles: map[string]*catalog.Role{
		"role-manager": {
			ID:          "role-manager",
			Name:        "manager",
			Permissions: catalog.NormalizeFlat([]string{"crm.leads.read", "crm.leads.update", "crm.leads.delete"}),
			Restrictions: catalog.RestrictionMap{
				"crm.max_contacts":  catalog.NumberValue(5000),
				"crm.allow_exports": catalog.BoolValue(true),
			},
		},
		"role-analyst": {
			ID:          "role-analyst",
			Name:        "analyst",
			Permissions: catalog.NormalizeFlat([]string{"crm.leads.read", "crm.reports.read"}),
			Restrictions: catalog.RestrictionMap{
				"crm.max_contacts":  catalog.NumberValue(1000),
				"crm.allow_exports": catalog.BoolValue(false),
			},
		},
	}}

	root := &hierarchy.Entity{ID: "ent-root", Name: "Acme", Type: hierarchy.EntityTypeOrganization, IsActive: true}
	leaf := &hierarchy.Entity{ID: "ent-leaf", Name: "Sales", Type: hierarchy.EntityTypeDepartment, IsActive: true, Path: []string{"ent-root"}}
	entities := &fakeEntities{
		entities: map[string]*hierarchy.Entity{"ent-root": root, "ent-leaf": leaf},
		ancestors: map[string][]*hierarchy.Entity{
			"ent-root": {},
			"ent-leaf": {root},
		},
	}

	return memberships, roles, entities
}

func newTestResolver(t *testing.T, cfg ResolverConfig) (*Resolver, *fakeMemberships, *fakeRoles, *fakeEntities) {
	t.Helper()
	memberships, roles, entities := testFixture()
	resolver, err := NewResolver(memberships, roles, entities, cfg)
	require.NoError(t, err)
	return resolver, memberships, roles, entities
}

func TestResolver_EffectivePermissions(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t, ResolverConfig{})

	set, err := resolver.EffectivePermissions(context.Background(), "user-1")
	require.NoError(t, err)

	// Both roles grant crm.leads.read; the union holds it once.
	assert.Equal(t, 4, set.Summary.Total)
	assert.Equal(t, 1, set.Summary.High)   // delete
	assert.Equal(t, 1, set.Summary.Medium) // update
	assert.Equal(t, 2, set.Summary.Low)    // leads.read, reports.read
	assert.True(t, set.Grants.Has("crm", "leads", "delete"))
	assert.True(t, set.Grants.Has("crm", "reports", "read"))

	seen := make(map[PermissionDetail]bool)
	for _, d := range set.Permissions {
		assert.False(t, seen[d], "duplicate detail %+v", d)
		seen[d] = true
	}
}

func TestResolver_EffectivePermissionsIdempotent(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t, ResolverConfig{})

	first, err := resolver.EffectivePermissions(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := resolver.EffectivePermissions(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, first.Permissions, second.Permissions)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestResolver_EffectivePermissionsUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := postgres.NewCacheWithClient(client, nil)

	resolver, memberships, _, _ := newTestResolver(t, ResolverConfig{Cache: cache})

	_, err := resolver.EffectivePermissions(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = resolver.EffectivePermissions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, memberships.calls, "second resolution should come from cache")

	resolver.InvalidateUser(context.Background(), "user-1")
	_, err = resolver.EffectivePermissions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, memberships.calls)
}

func TestResolver_EffectivePermissionsAt(t *testing.T) {
	resolver, _, _, entities := newTestResolver(t, ResolverConfig{})

	t.Run("ancestor grants flow down", func(t *testing.T) {
		set, err := resolver.EffectivePermissionsAt(context.Background(), "user-1", "ent-leaf")
		require.NoError(t, err)
		// Both the leaf membership and the root membership contribute.
		assert.True(t, set.Grants.Has("crm", "leads", "delete"))
		assert.True(t, set.Grants.Has("crm", "reports", "read"))
	})

	t.Run("leaf grants do not flow up", func(t *testing.T) {
		set, err := resolver.EffectivePermissionsAt(context.Background(), "user-1", "ent-root")
		require.NoError(t, err)
		assert.True(t, set.Grants.Has("crm", "leads", "delete"))
		assert.False(t, set.Grants.Has("crm", "reports", "read"))
	})

	t.Run("ancestor chain is memoized", func(t *testing.T) {
		walks := entities.walks
		_, err := resolver.EffectivePermissionsAt(context.Background(), "user-1", "ent-leaf")
		require.NoError(t, err)
		_, err = resolver.EffectivePermissionsAt(context.Background(), "user-1", "ent-leaf")
		require.NoError(t, err)
		assert.Equal(t, walks, entities.walks, "repeated resolutions must not re-walk the tree")
	})
}

func TestResolver_HasPermission(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t, ResolverConfig{})
	ctx := context.Background()

	tests := []struct {
		name        string
		application string
		module      string
		action      string
		allowed     bool
	}{
		{"granted action", "crm", "leads", "read", true},
		{"granted admin action", "crm", "leads", "delete", true},
		{"ungranted action", "crm", "leads", "approve", false},
		{"unknown module", "crm", "billing", "read", false},
		{"unknown application", "hr", "payroll", "read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, err := resolver.HasPermission(ctx, "user-1", tt.application, tt.module, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, allowed)
		})
	}
}

func TestResolver_HasPermissionWildcards(t *testing.T) {
	memberships := &fakeMemberships{byUser: map[string][]*Membership{
		"admin-1": {{ID: "m-1", UserID: "admin-1", EntityID: "ent-root", RoleID: strPtr("role-admin")}},
	}}
	roles := &fakeRoles{roles: map[string]*catalog.Role{
		"role-admin": {ID: "role-admin", Name: "administrator", Permissions: catalog.NormalizeFlat([]string{"*.*.*"})},
	}}
	resolver, err := NewResolver(memberships, roles, &fakeEntities{}, ResolverConfig{})
	require.NoError(t, err)

	allowed, err := resolver.HasPermission(context.Background(), "admin-1", "crm", "leads", "delete")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = resolver.HasPermission(context.Background(), "admin-1", "anything", "at", "all")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestHasExternalPermission(t *testing.T) {
	entries := []identity.PermissionEntry{
		{Key: "crm.leads.read", IsGranted: true},
		{Key: "crm.leads.delete", IsGranted: false},
		{Key: "crm.*.export", IsGranted: true},
	}

	assert.True(t, HasExternalPermission(entries, "crm", "leads", "read"))
	assert.False(t, HasExternalPermission(entries, "crm", "leads", "delete"), "revoked entries grant nothing")
	assert.True(t, HasExternalPermission(entries, "crm", "reports", "export"), "wildcard module applies")
	assert.False(t, HasExternalPermission(entries, "hr", "payroll", "read"))
}

func TestResolver_EffectiveRestrictions(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t, ResolverConfig{})

	restrictions, err := resolver.EffectiveRestrictions(context.Background(), "user-1")
	require.NoError(t, err)

	// Numeric limits take the smallest bound across roles.
	require.Contains(t, restrictions, "crm.max_contacts")
	require.NotNil(t, restrictions["crm.max_contacts"].Number)
	assert.Equal(t, float64(1000), *restrictions["crm.max_contacts"].Number)

	// Boolean flags are ANDed.
	require.Contains(t, restrictions, "crm.allow_exports")
	require.NotNil(t, restrictions["crm.allow_exports"].Bool)
	assert.False(t, *restrictions["crm.allow_exports"].Bool)
}

func TestResolver_PrimaryEntity(t *testing.T) {
	resolver, memberships, _, _ := newTestResolver(t, ResolverConfig{})

	t.Run("returns flagged entity", func(t *testing.T) {
		entity, err := resolver.PrimaryEntity(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, "ent-root", entity.ID)
	})

	t.Run("missing flag surfaces as error", func(t *testing.T) {
		delete(memberships.primary, "user-1")
		_, err := resolver.PrimaryEntity(context.Background(), "user-1")
		assert.True(t, errors.Is(err, ErrNoPrimaryEntity))
	})
}

func TestResolver_InvalidateEntityDropsAncestorChain(t *testing.T) {
	resolver, _, _, entities := newTestResolver(t, ResolverConfig{})
	ctx := context.Background()

	_, err := resolver.EffectivePermissionsAt(ctx, "user-1", "ent-leaf")
	require.NoError(t, err)
	walks := entities.walks

	resolver.InvalidateEntity(ctx, "ent-leaf")

	_, err = resolver.EffectivePermissionsAt(ctx, "user-1", "ent-leaf")
	require.NoError(t, err)
	assert.Equal(t, walks+1, entities.walks)
}
