package membership

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arborhq/arbor/pkg/audit"
	"github.com/arborhq/arbor/pkg/catalog"
	"github.com/arborhq/arbor/pkg/hierarchy"
	"github.com/arborhq/arbor/pkg/identity"
	"github.com/arborhq/arbor/pkg/observability"
	"github.com/arborhq/arbor/pkg/storage/postgres"
)

// MembershipSource lists the memberships that feed a resolution.
type MembershipSource interface {
	ListActiveForUser(ctx context.Context, userID string) ([]*Membership, error)
	GetPrimaryForUser(ctx context.Context, userID string) (*Membership, error)
}

// RoleSource loads the roles referenced by memberships.
type RoleSource interface {
	GetRolesByIDs(ctx context.Context, ids []string) (map[string]*catalog.Role, error)
}

// EntitySource provides the tree lookups the resolver needs.
type EntitySource interface {
	GetEntity(ctx context.Context, id string, includeInactive bool) (*hierarchy.Entity, error)
	GetAncestors(ctx context.Context, id string) ([]*hierarchy.Entity, error)
}

// ResolverConfig carries the optional collaborators of a Resolver. Any nil
// field is replaced with a no-op.
type ResolverConfig struct {
	Cache             *postgres.Cache
	AuditLogger       audit.Logger
	Metrics           *observability.Metrics
	Logger            *observability.Logger
	AncestorCacheSize int
}

// Resolver is the central authorization primitive: given a user, it computes
// what they may do and where. Resolution is O(M*P) in the user's membership
// count and permissions per role; ancestor chains are memoized in-process so
// entity-scoped checks never re-walk the tree.
type Resolver struct {
	memberships MembershipSource
	roles       RoleSource
	entities    EntitySource

	cache       *postgres.Cache
	ancestors   *lru.Cache[string, []string]
	auditLogger audit.Logger
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewResolver creates a resolver over the given sources.
func NewResolver(memberships MembershipSource, roles RoleSource, entities EntitySource, cfg ResolverConfig) (*Resolver, error) {
	if cfg.AncestorCacheSize <= 0 {
		cfg.AncestorCacheSize = 4096
	}
	ancestors, err := lru.New[string, []string](cfg.AncestorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ancestor cache: %w", err)
	}
	if cfg.AuditLogger == nil {
		cfg.AuditLogger = audit.NopLogger()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.DefaultLogger()
	}
	return &Resolver{
		memberships: memberships,
		roles:       roles,
		entities:    entities,
		cache:       cfg.Cache,
		ancestors:   ancestors,
		auditLogger: cfg.AuditLogger,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}, nil
}

// allScope is the cache entity segment for user-global resolutions. It
// matches the per-user invalidation pattern, so membership writes evict it
// together with the entity-scoped entries.
const allScope = "all"

// EffectivePermissions computes the merged permission set across all of the
// user's active memberships.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (*EffectivePermissionSet, error) {
	return r.resolve(ctx, userID, allScope, func(m *Membership) bool { return true })
}

// EffectivePermissionsAt computes the permission set the user holds at one
// entity: memberships on the entity itself or on any of its ancestors
// contribute (ancestor grants flow down the tree).
func (r *Resolver) EffectivePermissionsAt(ctx context.Context, userID, entityID string) (*EffectivePermissionSet, error) {
	chain, err := r.ancestorChain(ctx, entityID)
	if err != nil {
		return nil, err
	}
	eligible := make(map[string]bool, len(chain)+1)
	eligible[entityID] = true
	for _, id := range chain {
		eligible[id] = true
	}
	return r.resolve(ctx, userID, entityID, func(m *Membership) bool { return eligible[m.EntityID] })
}

func (r *Resolver) resolve(ctx context.Context, userID, scope string, include func(*Membership) bool) (*EffectivePermissionSet, error) {
	start := time.Now()
	cacheKey := postgres.ResolutionKey(userID, scope)

	if r.cache != nil {
		var cached EffectivePermissionSet
		hit, err := r.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			r.logger.WithError(err).Warn("Resolution cache read failed")
		}
		if hit {
			r.observeResolution("success", "cache", start)
			return &cached, nil
		}
	}

	memberships, err := r.memberships.ListActiveForUser(ctx, userID)
	if err != nil {
		r.observeResolution("error", "database", start)
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	roleIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		if m.RoleID != nil && include(m) {
			roleIDs = append(roleIDs, *m.RoleID)
		}
	}

	roles, err := r.roles.GetRolesByIDs(ctx, roleIDs)
	if err != nil {
		r.observeResolution("error", "database", start)
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	grants := make(catalog.PermissionMap)
	for _, id := range roleIDs {
		role, ok := roles[id]
		if !ok {
			// A membership referencing a vanished role grants nothing,
			// same as a null role.
			r.logger.WithField("role_id", id).Warn("Membership references missing role")
			continue
		}
		grants = catalog.MergePermissions(grants, role.Permissions)
	}

	set := buildPermissionSet(userID, grants)

	if r.cache != nil {
		if err := r.cache.Set(ctx, "resolution", cacheKey, set); err != nil {
			r.logger.WithError(err).Warn("Resolution cache write failed")
		}
	}

	r.observeResolution("success", "database", start)
	return set, nil
}

// buildPermissionSet turns a canonical grant map into the flat detail view
// plus risk summary. Details are sorted so repeated resolutions of the same
// state yield identical results.
func buildPermissionSet(userID string, grants catalog.PermissionMap) *EffectivePermissionSet {
	details := []PermissionDetail{}
	for application, modules := range grants {
		for module, actions := range modules {
			for action := range actions {
				classification := catalog.Classify(action)
				details = append(details, PermissionDetail{
					Application: application,
					Module:      module,
					Action:      action,
					Category:    classification.Category,
					Risk:        classification.Risk,
				})
			}
		}
	}
	sort.Slice(details, func(i, j int) bool {
		if details[i].Application != details[j].Application {
			return details[i].Application < details[j].Application
		}
		if details[i].Module != details[j].Module {
			return details[i].Module < details[j].Module
		}
		return details[i].Action < details[j].Action
	})

	summary := PermissionSummary{Total: len(details)}
	for _, d := range details {
		switch d.Risk {
		case catalog.RiskHigh:
			summary.High++
		case catalog.RiskMedium:
			summary.Medium++
		default:
			summary.Low++
		}
	}

	return &EffectivePermissionSet{
		UserID:      userID,
		Grants:      grants,
		Permissions: details,
		Summary:     summary,
	}
}

// HasPermission reports whether the user may perform the action in the given
// application module. A `*` at any level of a contributing role's grants
// acts as a wildcard.
func (r *Resolver) HasPermission(ctx context.Context, userID, application, module, action string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := granted(set.Grants, application, module, action)
	r.observeCheck(allowed)
	return allowed, nil
}

// HasPermissionAt is HasPermission scoped to one entity.
func (r *Resolver) HasPermissionAt(ctx context.Context, userID, entityID, application, module, action string) (bool, error) {
	set, err := r.EffectivePermissionsAt(ctx, userID, entityID)
	if err != nil {
		return false, err
	}
	allowed := granted(set.Grants, application, module, action)
	r.observeCheck(allowed)
	return allowed, nil
}

// HasExternalPermission answers a point check against permission entries
// handed over by an external identity provider, in either wire shape.
func HasExternalPermission(entries []identity.PermissionEntry, application, module, action string) bool {
	grants := catalog.NormalizeFlat(identity.GrantedKeys(entries))
	return granted(grants, application, module, action)
}

func granted(grants catalog.PermissionMap, application, module, action string) bool {
	for _, app := range []string{application, "*"} {
		modules, ok := grants[app]
		if !ok {
			continue
		}
		for _, mod := range []string{module, "*"} {
			actions, ok := modules[mod]
			if !ok {
				continue
			}
			if actions[action] || actions["*"] {
				return true
			}
		}
	}
	return false
}

// EffectiveRestrictions merges restriction values across the user's roles.
// Most restrictive wins: numeric limits take the smallest bound, boolean
// flags are ANDed.
func (r *Resolver) EffectiveRestrictions(ctx context.Context, userID string) (catalog.RestrictionMap, error) {
	memberships, err := r.memberships.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	roleIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		if m.RoleID != nil {
			roleIDs = append(roleIDs, *m.RoleID)
		}
	}
	roles, err := r.roles.GetRolesByIDs(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	merged := make(catalog.RestrictionMap)
	for _, id := range roleIDs {
		role, ok := roles[id]
		if !ok {
			continue
		}
		for key, value := range role.Restrictions {
			existing, ok := merged[key]
			if !ok {
				merged[key] = value
				continue
			}
			merged[key] = mostRestrictive(existing, value)
		}
	}
	return merged, nil
}

func mostRestrictive(a, b catalog.RestrictionValue) catalog.RestrictionValue {
	if a.Number != nil && b.Number != nil {
		if *b.Number < *a.Number {
			return b
		}
		return a
	}
	if a.Bool != nil && b.Bool != nil {
		return catalog.BoolValue(*a.Bool && *b.Bool)
	}
	// Mismatched kinds under one key is a data-quality problem; keep the
	// first value seen rather than inventing a comparison.
	return a
}

// PrimaryEntity returns the entity of the membership flagged primary. A
// missing flag is handled gracefully but logged as a data-quality alert,
// since it means invitation acceptance or membership edits broke the
// one-primary invariant.
func (r *Resolver) PrimaryEntity(ctx context.Context, userID string) (*hierarchy.Entity, error) {
	m, err := r.memberships.GetPrimaryForUser(ctx, userID)
	if err == ErrNoPrimaryEntity {
		if r.metrics != nil {
			r.metrics.NoPrimaryEntityTotal.Inc()
		}
		if alertErr := r.auditLogger.LogAlert(ctx, audit.EventTypeAlertNoPrimaryEntity,
			audit.ResourceTypeUser, userID, "no membership is flagged primary"); alertErr != nil {
			r.logger.WithError(alertErr).Warn("Failed to record no-primary-entity alert")
		}
		return nil, ErrNoPrimaryEntity
	}
	if err != nil {
		return nil, err
	}
	return r.entities.GetEntity(ctx, m.EntityID, false)
}

// ancestorChain returns the IDs of the entity's ancestors, root first,
// memoized in the LRU cache.
func (r *Resolver) ancestorChain(ctx context.Context, entityID string) ([]string, error) {
	if chain, ok := r.ancestors.Get(entityID); ok {
		return chain, nil
	}
	ancestors, err := r.entities.GetAncestors(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ancestors: %w", err)
	}
	chain := make([]string, len(ancestors))
	for i, a := range ancestors {
		chain[i] = a.ID
	}
	r.ancestors.Add(entityID, chain)
	return chain, nil
}

// InvalidateUser evicts the user's cached resolutions after a membership
// write.
func (r *Resolver) InvalidateUser(ctx context.Context, userID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate resolution cache")
	}
}

// InvalidateEntity evicts cached resolutions and the memoized ancestor chain
// after a hierarchy change touching the entity.
func (r *Resolver) InvalidateEntity(ctx context.Context, entityID string) {
	r.ancestors.Remove(entityID)
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateEntity(ctx, entityID); err != nil {
		r.logger.WithError(err).WithField("entity_id", entityID).Warn("Failed to invalidate resolution cache")
	}
}

func (r *Resolver) observeResolution(status, source string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.ResolutionsTotal.WithLabelValues(status).Inc()
	r.metrics.ResolutionDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

func (r *Resolver) observeCheck(allowed bool) {
	if r.metrics == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	r.metrics.PermissionChecksTotal.WithLabelValues(result).Inc()
}
