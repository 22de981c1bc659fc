package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBLogger(t *testing.T) {
	t.Run("requires database connection", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("creates logger", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})
}

func TestDBLogger_Log(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	t.Run("inserts event and captures id", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO audit_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

		event := &Event{
			Timestamp:    time.Now().UTC(),
			EventType:    EventTypeEntityCreate,
			Status:       EventStatusSuccess,
			ActorID:      "user-1",
			ResourceType: ResourceTypeEntity,
			ResourceID:   "ent-1",
			Message:      "entity created",
		}

		err := logger.Log(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, int64(42), event.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serializes changes", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO audit_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(43)))

		event := &Event{
			Timestamp: time.Now().UTC(),
			EventType: EventTypeEntityUpdate,
			Status:    EventStatusSuccess,
			Changes: &ChangeDetails{
				Before: map[string]interface{}{"name": "Old"},
				After:  map[string]interface{}{"name": "New"},
			},
		}

		err := logger.Log(context.Background(), event)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLogger_LogDataMutation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	err = logger.LogDataMutation(context.Background(), EventTypeCreditAllocate, "user-9", ResourceTypeAllocation, "alloc-1", nil, "allocated credits")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogAlert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

	err = logger.LogAlert(context.Background(), EventTypeAlertNoPrimaryEntity, ResourceTypeUser, "user-3", "user has memberships but no primary entity")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Search(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	columns := []string{
		"id", "timestamp", "event_type", "status",
		"actor_id", "request_id",
		"resource_type", "resource_id",
		"message", "metadata", "changes",
	}

	t.Run("filters by actor and event type", func(t *testing.T) {
		now := time.Now().UTC()
		rows := sqlmock.NewRows(columns).
			AddRow(int64(1), now, "entity.move", "success",
				"user-1", "req-1",
				"entity", "ent-5",
				"entity moved", []byte(`{"parent":"ent-2"}`), nil)

		mock.ExpectQuery("SELECT (.+) FROM audit_events").
			WillReturnRows(rows)

		events, err := logger.Search(context.Background(), SearchFilter{
			ActorID:    "user-1",
			EventTypes: []EventType{EventTypeEntityMove},
			Limit:      10,
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventTypeEntityMove, events[0].EventType)
		assert.Equal(t, "user-1", events[0].ActorID)
		assert.Equal(t, "ent-2", events[0].Metadata["parent"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty result", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM audit_events").
			WillReturnRows(sqlmock.NewRows(columns))

		events, err := logger.Search(context.Background(), SearchFilter{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestNopLogger(t *testing.T) {
	logger := FromContext(context.Background())
	assert.NoError(t, logger.Log(context.Background(), &Event{}))
	assert.NoError(t, logger.LogDataMutation(context.Background(), EventTypeRoleCreate, "u", ResourceTypeRole, "r", nil, ""))
	assert.NoError(t, logger.LogAlert(context.Background(), EventTypeAlertCorruptHierarchy, ResourceTypeEntity, "e", ""))
	assert.NoError(t, logger.Close())
}

func TestWithLogger(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbLogger, err := NewDBLogger(db)
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), dbLogger)
	assert.Equal(t, dbLogger, FromContext(ctx))
}
