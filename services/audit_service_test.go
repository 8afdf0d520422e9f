package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WestWindsorForward/Pinpoint-311/models"
)

func appendTestEvents(t *testing.T, service *AuditService, n int) []*models.AuditLog {
	t.Helper()
	entries := make([]*models.AuditLog, 0, n)
	for i := 0; i < n; i++ {
		username := fmt.Sprintf("user%d@example.gov", i)
		entry, err := service.Append(context.Background(), AuditEvent{
			EventType: models.EventLoginSuccess,
			Success:   true,
			Username:  &username,
		})
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	return entries
}

func TestAuditService_Append(t *testing.T) {
	t.Run("Append_ChainsToPredecessor", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)

		entries := appendTestEvents(t, service, 3)

		assert.Nil(t, entries[0].PreviousHash, "first entry must have a null previous hash")
		for i := 1; i < len(entries); i++ {
			require.NotNil(t, entries[i].PreviousHash)
			assert.Equal(t, entries[i-1].EntryHash, *entries[i].PreviousHash)
		}
	})

	t.Run("Append_RequiresEventType", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)

		_, err := service.Append(context.Background(), AuditEvent{})
		assert.True(t, IsValidationError(err))
	})

	t.Run("Append_DuplicateContentProducesDistinctEntries", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)

		username := "repeat@example.gov"
		event := AuditEvent{
			EventType: models.EventLoginFailed,
			Success:   false,
			Username:  &username,
		}

		first, err := service.Append(context.Background(), event)
		require.NoError(t, err)
		second, err := service.Append(context.Background(), event)
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
		require.NotNil(t, second.PreviousHash)
		assert.Equal(t, first.EntryHash, *second.PreviousHash)

		result, err := service.VerifyIntegrity(context.Background(), 0)
		require.NoError(t, err)
		assert.True(t, result.Intact)
	})

	t.Run("Append_HashSurvivesRoundTrip", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)

		username := "roundtrip@example.gov"
		entry, err := service.Append(context.Background(), AuditEvent{
			EventType: models.EventLoginSuccess,
			Success:   true,
			Username:  &username,
			Details:   map[string]any{"k": "v"},
		})
		require.NoError(t, err)

		var stored models.AuditLog
		require.NoError(t, db.First(&stored, "id = ?", entry.ID).Error)

		recomputed, err := stored.ComputeEntryHash()
		require.NoError(t, err)
		assert.Equal(t, stored.EntryHash, recomputed)
	})

	t.Run("Append_ConcurrentAppendsNeverForkTheChain", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)

		const appenders = 50
		var wg sync.WaitGroup
		wg.Add(appenders)
		for i := 0; i < appenders; i++ {
			go func(i int) {
				defer wg.Done()
				username := fmt.Sprintf("concurrent%d@example.gov", i)
				_, err := service.Append(context.Background(), AuditEvent{
					EventType: models.EventLoginSuccess,
					Success:   true,
					Username:  &username,
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		var entries []models.AuditLog
		require.NoError(t, db.Order("id ASC").Find(&entries).Error)
		require.Len(t, entries, appenders)

		// Every previous hash is used exactly once.
		seen := make(map[string]bool, appenders)
		assert.Nil(t, entries[0].PreviousHash)
		for _, entry := range entries[1:] {
			require.NotNil(t, entry.PreviousHash)
			assert.False(t, seen[*entry.PreviousHash], "previous hash reused: chain forked")
			seen[*entry.PreviousHash] = true
		}

		result, err := service.VerifyIntegrity(context.Background(), 0)
		require.NoError(t, err)
		assert.True(t, result.Intact)
	})
}

func TestAuditService_AppendStorageError(t *testing.T) {
	db, mock, cleanup := SetupMockDB(t)
	defer cleanup()
	service := NewAuditService(db)

	// Reading the predecessor fails; the append must propagate the error
	// without inserting anything.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "entry_hash" FROM "audit_logs"`).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	username := "storage@example.gov"
	_, err := service.Append(context.Background(), AuditEvent{
		EventType: models.EventLoginSuccess,
		Success:   true,
		Username:  &username,
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_VerifyIntegrity(t *testing.T) {
	t.Run("Verify_EmptyChainIsIntact", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)

		result, err := service.VerifyIntegrity(context.Background(), 0)
		require.NoError(t, err)
		assert.True(t, result.Intact)
		assert.Nil(t, result.FirstFailedID)
	})

	t.Run("Verify_SequentialAppendsAreIntact", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)
		appendTestEvents(t, service, 10)

		result, err := service.VerifyIntegrity(context.Background(), 0)
		require.NoError(t, err)
		assert.True(t, result.Intact)
	})

	t.Run("Verify_DetectsMutatedField", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)
		entries := appendTestEvents(t, service, 5)

		tampered := entries[2]
		require.NoError(t, db.Model(&models.AuditLog{}).
			Where("id = ?", tampered.ID).
			Update("username", "attacker@example.gov").Error)

		result, err := service.VerifyIntegrity(context.Background(), 0)
		require.NoError(t, err)
		assert.False(t, result.Intact)
		require.NotNil(t, result.FirstFailedID)
		assert.Equal(t, tampered.ID, *result.FirstFailedID)
	})

	t.Run("Verify_DetectsFlippedSuccessFlag", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)

		username := "intruder@example.gov"
		reason := "bad password"
		failed, err := service.Append(context.Background(), AuditEvent{
			EventType:     models.EventLoginFailed,
			Success:       false,
			Username:      &username,
			FailureReason: &reason,
		})
		require.NoError(t, err)
		appendTestEvents(t, service, 2)

		// Rewriting a failed login as a success must break verification.
		require.NoError(t, db.Model(&models.AuditLog{}).
			Where("id = ?", failed.ID).
			Update("success", true).Error)

		result, err := service.VerifyIntegrity(context.Background(), 0)
		require.NoError(t, err)
		assert.False(t, result.Intact)
		require.NotNil(t, result.FirstFailedID)
		assert.Equal(t, failed.ID, *result.FirstFailedID)
	})

	t.Run("Verify_DetectsDeletedEntry", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)
		entries := appendTestEvents(t, service, 5)

		require.NoError(t, db.Delete(&models.AuditLog{}, "id = ?", entries[2].ID).Error)

		result, err := service.VerifyIntegrity(context.Background(), 0)
		require.NoError(t, err)
		assert.False(t, result.Intact)
		require.NotNil(t, result.FirstFailedID)
		// The break shows up at the entry after the deleted one.
		assert.Equal(t, entries[3].ID, *result.FirstFailedID)
	})

	t.Run("Verify_PartialWalkAnchorsOnStoredLink", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		service := NewAuditService(db)
		entries := appendTestEvents(t, service, 6)

		result, err := service.VerifyIntegrity(context.Background(), entries[3].ID)
		require.NoError(t, err)
		assert.True(t, result.Intact)

		// A mutation before the anchor is invisible to the partial walk but
		// caught by a full walk.
		require.NoError(t, db.Model(&models.AuditLog{}).
			Where("id = ?", entries[1].ID).
			Update("username", "attacker@example.gov").Error)

		partial, err := service.VerifyIntegrity(context.Background(), entries[3].ID)
		require.NoError(t, err)
		assert.True(t, partial.Intact)

		full, err := service.VerifyIntegrity(context.Background(), 0)
		require.NoError(t, err)
		assert.False(t, full.Intact)
	})
}

func TestAuditService_GetLogs(t *testing.T) {
	db := SetupSQLiteTestDB(t)
	service := NewAuditService(db)

	username := "filter@example.gov"
	_, err := service.Append(context.Background(), AuditEvent{
		EventType: models.EventLoginSuccess,
		Success:   true,
		Username:  &username,
	})
	require.NoError(t, err)
	appendTestEvents(t, service, 4)

	t.Run("GetLogs_FiltersByEventType", func(t *testing.T) {
		logs, total, err := service.GetLogs(context.Background(), models.EventLoginSuccess, "", 100, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Len(t, logs, 5)
	})

	t.Run("GetLogs_FiltersByUsername", func(t *testing.T) {
		logs, total, err := service.GetLogs(context.Background(), "", username, 100, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, logs, 1)
		assert.Equal(t, username, *logs[0].Username)
	})

	t.Run("GetLogs_Paginates", func(t *testing.T) {
		logs, total, err := service.GetLogs(context.Background(), "", "", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Len(t, logs, 2)
	})
}
