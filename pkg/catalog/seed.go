package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/arborhq/arbor/pkg/observability"
)

// SeedRole is the YAML shape for a seeded system role. Permissions use the
// flat dotted form; restriction values may be numbers or booleans.
type SeedRole struct {
	Name         string                 `yaml:"name"`
	Description  string                 `yaml:"description"`
	Color        string                 `yaml:"color"`
	Icon         string                 `yaml:"icon"`
	Priority     int                    `yaml:"priority"`
	Permissions  []string               `yaml:"permissions"`
	Restrictions map[string]interface{} `yaml:"restrictions"`
}

// SeedFile is the top-level YAML document.
type SeedFile struct {
	Roles []SeedRole `yaml:"roles"`
}

// Seeder loads system roles from a YAML file into the catalog and can
// hot-reload them when the file changes.
type Seeder struct {
	store  *Store
	logger *observability.Logger
}

// NewSeeder creates a seeder.
func NewSeeder(store *Store, logger *observability.Logger) *Seeder {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Seeder{store: store, logger: logger}
}

// LoadFile parses a seed file into roles.
func LoadFile(path string) ([]*Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	roles := make([]*Role, 0, len(file.Roles))
	for _, seed := range file.Roles {
		if seed.Name == "" {
			return nil, fmt.Errorf("seed role missing name")
		}
		role := &Role{
			Name:         seed.Name,
			Description:  seed.Description,
			Color:        seed.Color,
			Icon:         seed.Icon,
			Priority:     seed.Priority,
			IsSystemRole: true,
			Permissions:  NormalizeFlat(seed.Permissions),
		}
		if len(seed.Restrictions) > 0 {
			role.Restrictions = make(RestrictionMap, len(seed.Restrictions))
			for key, raw := range seed.Restrictions {
				value, err := restrictionFromYAML(raw)
				if err != nil {
					return nil, fmt.Errorf("seed role %s restriction %s: %w", seed.Name, key, err)
				}
				role.Restrictions[key] = value
			}
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func restrictionFromYAML(raw interface{}) (RestrictionValue, error) {
	switch v := raw.(type) {
	case bool:
		return BoolValue(v), nil
	case int:
		return NumberValue(float64(v)), nil
	case int64:
		return NumberValue(float64(v)), nil
	case float64:
		return NumberValue(v), nil
	default:
		return RestrictionValue{}, fmt.Errorf("value must be a number or a boolean, got %T", raw)
	}
}

// Apply upserts the given roles as system roles.
func (s *Seeder) Apply(ctx context.Context, roles []*Role) error {
	for _, role := range roles {
		if err := s.store.UpsertSystemRole(ctx, role); err != nil {
			return err
		}
	}
	s.logger.WithField("roles", len(roles)).Info("Applied system role seed")
	return nil
}

// LoadAndApply loads the seed file and applies it. When path is empty the
// built-in defaults are applied instead.
func (s *Seeder) LoadAndApply(ctx context.Context, path string) error {
	var roles []*Role
	if path == "" {
		roles = DefaultSystemRoles()
	} else {
		var err error
		roles, err = LoadFile(path)
		if err != nil {
			return err
		}
	}
	return s.Apply(ctx, roles)
}

// Watch re-applies the seed file whenever it is rewritten, until ctx is
// cancelled. Reload failures are logged, not fatal; the previous roles
// stay in effect.
func (s *Seeder) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create seed watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch seed file: %w", err)
	}

	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(s.logger, "role seed watcher")

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.LoadAndApply(ctx, path); err != nil {
					s.logger.WithError(err).Warn("Failed to reload role seed file")
					continue
				}
				s.logger.WithField("path", path).Info("Reloaded role seed file")

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.WithError(err).Warn("Role seed watcher error")

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// DefaultSystemRoles returns the built-in immutable roles applied when no
// seed file is configured.
func DefaultSystemRoles() []*Role {
	return []*Role{
		{
			Name:         "administrator",
			Description:  "Full access to every application and module",
			Priority:     100,
			IsSystemRole: true,
			Permissions:  NormalizeFlat([]string{"*.*.*"}),
		},
		{
			Name:         "manager",
			Description:  "Read and write access without administrative actions",
			Priority:     50,
			IsSystemRole: true,
			Permissions: NormalizeFlat([]string{
				"*.*.read",
				"*.*.create",
				"*.*.update",
			}),
		},
		{
			Name:         "member",
			Description:  "Read and create access",
			Priority:     20,
			IsSystemRole: true,
			Permissions: NormalizeFlat([]string{
				"*.*.read",
				"*.*.create",
			}),
		},
		{
			Name:         "viewer",
			Description:  "Read-only access",
			Priority:     10,
			IsSystemRole: true,
			Permissions:  NormalizeFlat([]string{"*.*.read"}),
		},
	}
}
