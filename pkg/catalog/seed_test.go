package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `roles:
  - name: administrator
    description: Full access
    color: "#d32f2f"
    priority: 100
    permissions:
      - "*.*.*"
  - name: analyst
    priority: 25
    permissions:
      - crm.reports.read
      - crm.reports.export
    restrictions:
      max_export_rows: 10000
      allow_bulk_actions: false
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	t.Run("parses roles", func(t *testing.T) {
		roles, err := LoadFile(writeSeedFile(t, seedYAML))
		require.NoError(t, err)
		require.Len(t, roles, 2)

		admin := roles[0]
		assert.Equal(t, "administrator", admin.Name)
		assert.True(t, admin.IsSystemRole)
		assert.Equal(t, 100, admin.Priority)
		assert.True(t, admin.Permissions.Has("*", "*", "*"))

		analyst := roles[1]
		assert.True(t, analyst.Permissions.Has("crm", "reports", "read"))
		require.Contains(t, analyst.Restrictions, "max_export_rows")
		require.NotNil(t, analyst.Restrictions["max_export_rows"].Number)
		assert.Equal(t, float64(10000), *analyst.Restrictions["max_export_rows"].Number)
		require.Contains(t, analyst.Restrictions, "allow_bulk_actions")
		require.NotNil(t, analyst.Restrictions["allow_bulk_actions"].Bool)
		assert.False(t, *analyst.Restrictions["allow_bulk_actions"].Bool)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile("/nonexistent/roles.yaml")
		assert.ErrorContains(t, err, "failed to read seed file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := LoadFile(writeSeedFile(t, "roles: [\n"))
		assert.ErrorContains(t, err, "failed to parse seed file")
	})

	t.Run("role without name", func(t *testing.T) {
		_, err := LoadFile(writeSeedFile(t, "roles:\n  - priority: 5\n"))
		assert.ErrorContains(t, err, "missing name")
	})

	t.Run("restriction with unsupported type", func(t *testing.T) {
		_, err := LoadFile(writeSeedFile(t, "roles:\n  - name: x\n    restrictions:\n      bad: [1, 2]\n"))
		assert.ErrorContains(t, err, "number or a boolean")
	})
}

func TestRestrictionFromYAML(t *testing.T) {
	number, err := restrictionFromYAML(42)
	require.NoError(t, err)
	require.NotNil(t, number.Number)
	assert.Equal(t, float64(42), *number.Number)

	fractional, err := restrictionFromYAML(0.5)
	require.NoError(t, err)
	require.NotNil(t, fractional.Number)
	assert.Equal(t, 0.5, *fractional.Number)

	flag, err := restrictionFromYAML(true)
	require.NoError(t, err)
	require.NotNil(t, flag.Bool)
	assert.True(t, *flag.Bool)

	_, err = restrictionFromYAML("no")
	assert.Error(t, err)
}

func TestSeeder_LoadAndApply(t *testing.T) {
	t.Run("applies file roles", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		for range []int{0, 1} {
			mock.ExpectQuery("INSERT INTO roles (.+) ON CONFLICT").
				WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
					AddRow("id", time.Now(), time.Now()))
		}

		seeder := NewSeeder(NewStore(db), nil)
		require.NoError(t, seeder.LoadAndApply(context.Background(), writeSeedFile(t, seedYAML)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty path applies built-in defaults", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		for range DefaultSystemRoles() {
			mock.ExpectQuery("INSERT INTO roles (.+) ON CONFLICT").
				WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
					AddRow("id", time.Now(), time.Now()))
		}

		seeder := NewSeeder(NewStore(db), nil)
		require.NoError(t, seeder.LoadAndApply(context.Background(), ""))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDefaultSystemRoles(t *testing.T) {
	roles := DefaultSystemRoles()
	require.Len(t, roles, 4)

	byName := make(map[string]*Role, len(roles))
	for _, role := range roles {
		assert.True(t, role.IsSystemRole)
		byName[role.Name] = role
	}

	assert.True(t, byName["administrator"].Permissions.Has("*", "*", "*"))
	assert.True(t, byName["manager"].Permissions.Has("*", "*", "update"))
	assert.False(t, byName["member"].Permissions.Has("*", "*", "update"))
	assert.True(t, byName["viewer"].Permissions.Has("*", "*", "read"))
	assert.Greater(t, byName["administrator"].Priority, byName["manager"].Priority)
	assert.Greater(t, byName["manager"].Priority, byName["member"].Priority)
	assert.Greater(t, byName["member"].Priority, byName["viewer"].Priority)
}
