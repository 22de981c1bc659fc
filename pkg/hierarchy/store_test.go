package hierarchy

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/pkg/credits"
)

var entityCols = []string{
	"id", "name", "entity_type", "parent_id", "entity_level", "hierarchy_path",
	"responsible_person_id", "is_active", "total_credits", "reserved_credits",
	"created_at", "updated_at",
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func addEntityRow(t *testing.T, rows *sqlmock.Rows, e *Entity) *sqlmock.Rows {
	t.Helper()
	path := e.Path
	if path == nil {
		path = []string{}
	}
	pathJSON, err := json.Marshal(path)
	require.NoError(t, err)

	var parentID driver.Value
	if e.ParentID != nil {
		parentID = *e.ParentID
	}
	var responsible driver.Value
	if e.ResponsiblePersonID != nil {
		responsible = *e.ResponsiblePersonID
	}
	now := time.Now().UTC()
	return rows.AddRow(
		e.ID, e.Name, string(e.Type), parentID, int64(e.Level), pathJSON,
		responsible, e.IsActive, int64(e.TotalCredits), int64(e.ReservedCredits), now, now,
	)
}

func TestStore_CreateEntity(t *testing.T) {
	t.Run("root tenant", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectQuery(`INSERT INTO entities`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
				AddRow(time.Now(), time.Now()))

		entity, err := store.CreateEntity(context.Background(), &CreateEntityRequest{
			Name: "Acme",
			Type: EntityTypeTenant,
		})
		require.NoError(t, err)

		assert.NotEmpty(t, entity.ID)
		assert.Equal(t, 0, entity.Level)
		assert.Empty(t, entity.Path)
		assert.True(t, entity.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("child inherits level and path from parent", func(t *testing.T) {
		store, mock := newTestStore(t)

		parent := node("hq", "Headquarters", EntityTypeOrganization, strPtr("root"), "root")
		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
			WithArgs("hq").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), parent))
		mock.ExpectQuery(`INSERT INTO entities`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
				AddRow(time.Now(), time.Now()))

		entity, err := store.CreateEntity(context.Background(), &CreateEntityRequest{
			Name:     "Sales",
			Type:     EntityTypeDepartment,
			ParentID: strPtr("hq"),
		})
		require.NoError(t, err)

		assert.Equal(t, 2, entity.Level)
		assert.Equal(t, []string{"root", "hq"}, entity.Path)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid type never reaches the database", func(t *testing.T) {
		store, mock := newTestStore(t)

		_, err := store.CreateEntity(context.Background(), &CreateEntityRequest{
			Name: "Mystery",
			Type: EntityType("galaxy"),
		})
		assert.ErrorIs(t, err, ErrInvalidEntityType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing parent", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := store.CreateEntity(context.Background(), &CreateEntityRequest{
			Name:     "Orphan",
			Type:     EntityTypeTeam,
			ParentID: strPtr("nope"),
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_GetEntity(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newTestStore(t)

		e := node("e1", "Acme", EntityTypeTenant, nil)
		e.TotalCredits = 1000
		e.ReservedCredits = 250
		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
			WithArgs("e1").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), e))

		got, err := store.GetEntity(context.Background(), "e1", false)
		require.NoError(t, err)
		assert.Equal(t, "Acme", got.Name)
		assert.Equal(t, credits.Credits(750), got.AvailableCredits())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetEntity(context.Background(), "nope", false)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("inactive is hidden by default", func(t *testing.T) {
		store, mock := newTestStore(t)

		e := node("e1", "Mothballed", EntityTypeLocation, nil)
		e.IsActive = false
		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
			WithArgs("e1").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), e))

		_, err := store.GetEntity(context.Background(), "e1", false)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("inactive visible when requested", func(t *testing.T) {
		store, mock := newTestStore(t)

		e := node("e1", "Mothballed", EntityTypeLocation, nil)
		e.IsActive = false
		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
			WithArgs("e1").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), e))

		got, err := store.GetEntity(context.Background(), "e1", true)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	})
}

func TestStore_GetSubtree(t *testing.T) {
	store, mock := newTestStore(t)

	root := node("root", "Acme", EntityTypeTenant, nil)
	hq := node("hq", "Headquarters", EntityTypeOrganization, strPtr("root"), "root")
	sales := node("sales", "Sales", EntityTypeDepartment, strPtr("hq"), "root", "hq")

	mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
		WithArgs("root").
		WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), root))

	descendants := sqlmock.NewRows(entityCols)
	addEntityRow(t, descendants, hq)
	addEntityRow(t, descendants, sales)
	mock.ExpectQuery(`SELECT (.+) FROM entities WHERE hierarchy_path @> to_jsonb\(\$1::text\) AND is_active = true`).
		WithArgs("root").
		WillReturnRows(descendants)

	tree, err := store.GetSubtree(context.Background(), "root", false)
	require.NoError(t, err)

	require.Len(t, tree.Children, 1)
	assert.Equal(t, "hq", tree.Children[0].ID)
	require.Len(t, tree.Children[0].Children, 1)
	assert.Equal(t, "sales", tree.Children[0].Children[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetAncestors(t *testing.T) {
	t.Run("ordered root first", func(t *testing.T) {
		store, mock := newTestStore(t)

		sales := node("sales", "Sales", EntityTypeDepartment, strPtr("hq"), "root", "hq")
		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
			WithArgs("sales").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), sales))

		// Return ancestors deliberately out of order; the store re-orders
		// them along the stored path.
		ancestorRows := sqlmock.NewRows(entityCols)
		addEntityRow(t, ancestorRows, node("hq", "Headquarters", EntityTypeOrganization, strPtr("root"), "root"))
		addEntityRow(t, ancestorRows, node("root", "Acme", EntityTypeTenant, nil))
		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = ANY\(\$1\)`).
			WillReturnRows(ancestorRows)

		ancestors, err := store.GetAncestors(context.Background(), "sales")
		require.NoError(t, err)
		require.Len(t, ancestors, 2)
		assert.Equal(t, "root", ancestors[0].ID)
		assert.Equal(t, "hq", ancestors[1].ID)
	})

	t.Run("root has no ancestors", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
			WithArgs("root").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), node("root", "Acme", EntityTypeTenant, nil)))

		ancestors, err := store.GetAncestors(context.Background(), "root")
		require.NoError(t, err)
		assert.Empty(t, ancestors)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing ancestor is corrupt", func(t *testing.T) {
		store, mock := newTestStore(t)

		sales := node("sales", "Sales", EntityTypeDepartment, strPtr("hq"), "root", "hq")
		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = \$1`).
			WithArgs("sales").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), sales))

		ancestorRows := sqlmock.NewRows(entityCols)
		addEntityRow(t, ancestorRows, node("root", "Acme", EntityTypeTenant, nil))
		mock.ExpectQuery(`SELECT (.+) FROM entities WHERE id = ANY\(\$1\)`).
			WillReturnRows(ancestorRows)

		_, err := store.GetAncestors(context.Background(), "sales")
		assert.ErrorIs(t, err, ErrCorruptHierarchy)
	})
}

func TestStore_MoveEntity(t *testing.T) {
	lockQuery := `SELECT (.+) FROM entities WHERE id = \$1 FOR UPDATE`
	subtreeLockQuery := `SELECT (.+) FROM entities WHERE hierarchy_path @> to_jsonb\(\$1::text\) FOR UPDATE`

	t.Run("rejects self-move before any transaction", func(t *testing.T) {
		store, mock := newTestStore(t)

		err := store.MoveEntity(context.Background(), "e1", "e1")
		assert.ErrorIs(t, err, ErrCycleDetected)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects move under own descendant", func(t *testing.T) {
		store, mock := newTestStore(t)

		hq := node("hq", "Headquarters", EntityTypeOrganization, strPtr("root"), "root")
		sales := node("sales", "Sales", EntityTypeDepartment, strPtr("hq"), "root", "hq")

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs("hq").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), hq))
		mock.ExpectQuery(lockQuery).WithArgs("sales").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), sales))
		mock.ExpectRollback()

		err := store.MoveEntity(context.Background(), "hq", "sales")
		assert.ErrorIs(t, err, ErrCycleDetected)
		assert.NoError(t, mock.ExpectationsWereMet(), "no placement UPDATE may run")
	})

	t.Run("rebases the whole subtree", func(t *testing.T) {
		store, mock := newTestStore(t)

		// Move hq (with descendant sales) from under root to under branch.
		hq := node("hq", "Headquarters", EntityTypeOrganization, strPtr("root"), "root")
		sales := node("sales", "Sales", EntityTypeDepartment, strPtr("hq"), "root", "hq")
		branch := node("branch", "Branch Office", EntityTypeLocation, strPtr("root"), "root")

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs("hq").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), hq))
		mock.ExpectQuery(lockQuery).WithArgs("branch").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), branch))
		mock.ExpectQuery(subtreeLockQuery).WithArgs("hq").
			WillReturnRows(addEntityRow(t, sqlmock.NewRows(entityCols), sales))

		newHQPath, _ := json.Marshal([]string{"root", "branch"})
		mock.ExpectExec(`UPDATE entities SET parent_id = \$1, hierarchy_path = \$2, entity_level = \$3`).
			WithArgs("branch", string(newHQPath), 2, "hq").
			WillReturnResult(sqlmock.NewResult(0, 1))

		newSalesPath, _ := json.Marshal([]string{"root", "branch", "hq"})
		mock.ExpectExec(`UPDATE entities SET parent_id = \$1, hierarchy_path = \$2, entity_level = \$3`).
			WithArgs("hq", string(newSalesPath), 3, "sales").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		err := store.MoveEntity(context.Background(), "hq", "branch")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("entity not found", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs("nope").WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := store.MoveEntity(context.Background(), "nope", "root")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UpdateEntity(t *testing.T) {
	t.Run("no fields is a no-op", func(t *testing.T) {
		store, mock := newTestStore(t)

		err := store.UpdateEntity(context.Background(), "e1", &UpdateEntityRequest{})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rename", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectExec(`UPDATE entities SET name = COALESCE`).
			WithArgs("New Name", nil, "e1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpdateEntity(context.Background(), "e1", &UpdateEntityRequest{
			Name: strPtr("New Name"),
		})
		require.NoError(t, err)
	})

	t.Run("unknown entity", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectExec(`UPDATE entities SET name = COALESCE`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateEntity(context.Background(), "nope", &UpdateEntityRequest{
			Name: strPtr("New Name"),
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_DeactivateEntity(t *testing.T) {
	t.Run("blocked while active children remain", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT is_active FROM entities WHERE id = \$1 FOR UPDATE`).
			WithArgs("hq").
			WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("hq").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := store.DeactivateEntity(context.Background(), "hq")
		assert.ErrorIs(t, err, ErrHasActiveChildren)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("leaf deactivates", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT is_active FROM entities WHERE id = \$1 FOR UPDATE`).
			WithArgs("sales").
			WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("sales").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(`UPDATE entities SET is_active = false`).
			WithArgs("sales").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.DeactivateEntity(context.Background(), "sales")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown entity", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT is_active FROM entities WHERE id = \$1 FOR UPDATE`).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := store.DeactivateEntity(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
