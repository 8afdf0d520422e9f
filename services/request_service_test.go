package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WestWindsorForward/Pinpoint-311/models"
)

func newTestRequestService(t *testing.T) (*RequestService, *models.User) {
	t.Helper()
	db := SetupSQLiteTestDB(t)
	worker := CreateTestUser(t, db, "worker@example.gov", "secret123", models.RoleWorker)
	return NewRequestService(db, TestTownshipConfig()), worker
}

func submitTestRequest(t *testing.T, service *RequestService) *models.ServiceRequest {
	t.Helper()
	category := "pothole"
	request, err := service.Create(context.Background(), &models.SubmitRequestInput{
		Title:        "Pothole on Clarksville Road",
		Description:  "Deep pothole near the intersection with Quakerbridge",
		CategoryCode: &category,
	})
	require.NoError(t, err)
	return request
}

func TestRequestService_Create(t *testing.T) {
	t.Run("Create_AssignsPublicIDAndDepartment", func(t *testing.T) {
		service, _ := newTestRequestService(t)

		request := submitTestRequest(t, service)

		assert.Regexp(t, `^WW-[0-9A-F]{8}$`, request.PublicID)
		assert.Equal(t, models.StatusNew, request.Status)
		assert.Equal(t, models.PriorityMedium, request.Priority)
		require.NotNil(t, request.AssignedDepartment)
		assert.Equal(t, "Public Works", *request.AssignedDepartment)
	})

	t.Run("Create_RejectsMissingTitle", func(t *testing.T) {
		service, _ := newTestRequestService(t)

		_, err := service.Create(context.Background(), &models.SubmitRequestInput{
			Description: "no title",
		})
		assert.True(t, IsValidationError(err))
	})

	t.Run("Create_RejectsUnknownCategory", func(t *testing.T) {
		service, _ := newTestRequestService(t)

		category := "teleporter-malfunction"
		_, err := service.Create(context.Background(), &models.SubmitRequestInput{
			Title:        "Broken teleporter",
			Description:  "It is broken",
			CategoryCode: &category,
		})
		assert.True(t, IsValidationError(err))
	})
}

func TestRequestService_RecordTransition(t *testing.T) {
	t.Run("RecordTransition_WritesHistoryAndUpdatesStatus", func(t *testing.T) {
		service, worker := newTestRequestService(t)
		request := submitTestRequest(t, service)

		note := "crew dispatched"
		entry, err := service.RecordTransition(context.Background(), request.ID, models.StatusInProgress, &worker.ID, &note)
		require.NoError(t, err)
		require.NotNil(t, entry)

		require.NotNil(t, entry.FromStatus)
		assert.Equal(t, models.StatusNew, *entry.FromStatus)
		assert.Equal(t, models.StatusInProgress, entry.ToStatus)
		require.NotNil(t, entry.Note)
		assert.Equal(t, note, *entry.Note)

		reloaded, err := service.Get(context.Background(), request.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, reloaded.Status)
		require.Len(t, reloaded.History, 1)
	})

	t.Run("RecordTransition_SameStatusIsNoOp", func(t *testing.T) {
		service, worker := newTestRequestService(t)
		request := submitTestRequest(t, service)

		entry, err := service.RecordTransition(context.Background(), request.ID, models.StatusNew, &worker.ID, nil)
		require.NoError(t, err)
		assert.Nil(t, entry)

		reloaded, err := service.Get(context.Background(), request.ID)
		require.NoError(t, err)
		assert.Empty(t, reloaded.History, "a no-op transition must not pollute the history")
	})

	t.Run("RecordTransition_ResolveWithNote", func(t *testing.T) {
		service, worker := newTestRequestService(t)
		request := submitTestRequest(t, service)

		_, err := service.RecordTransition(context.Background(), request.ID, models.StatusInProgress, &worker.ID, nil)
		require.NoError(t, err)

		note := "fixed"
		entry, err := service.RecordTransition(context.Background(), request.ID, models.StatusResolved, &worker.ID, &note)
		require.NoError(t, err)
		require.NotNil(t, entry)
		require.NotNil(t, entry.FromStatus)
		assert.Equal(t, models.StatusInProgress, *entry.FromStatus)
		assert.Equal(t, models.StatusResolved, entry.ToStatus)

		reloaded, err := service.Get(context.Background(), request.ID)
		require.NoError(t, err)
		require.Len(t, reloaded.History, 2)
		assert.Equal(t, models.StatusResolved, reloaded.Status)
	})

	t.Run("RecordTransition_RejectsInvalidStatus", func(t *testing.T) {
		service, worker := newTestRequestService(t)
		request := submitTestRequest(t, service)

		_, err := service.RecordTransition(context.Background(), request.ID, models.RequestStatus("vaporized"), &worker.ID, nil)
		assert.True(t, IsValidationError(err))
	})

	t.Run("RecordTransition_UnknownRequest", func(t *testing.T) {
		service, worker := newTestRequestService(t)

		_, err := service.RecordTransition(context.Background(), uuid.New(), models.StatusClosed, &worker.ID, nil)
		assert.True(t, IsNotFoundError(err))
	})
}

func TestRequestService_ListAndDashboard(t *testing.T) {
	service, worker := newTestRequestService(t)

	first := submitTestRequest(t, service)
	submitTestRequest(t, service)
	_, err := service.RecordTransition(context.Background(), first.ID, models.StatusInProgress, &worker.ID, nil)
	require.NoError(t, err)

	t.Run("List_FiltersByStatus", func(t *testing.T) {
		requests, total, err := service.List(context.Background(), &RequestFilter{Status: models.StatusInProgress})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, requests, 1)
		assert.Equal(t, first.ID, requests[0].ID)
	})

	t.Run("DashboardSummary_CountsByStatus", func(t *testing.T) {
		summary, err := service.DashboardSummary(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary[models.StatusNew])
		assert.Equal(t, int64(1), summary[models.StatusInProgress])
	})
}

func TestRequestService_NotesAndOptIns(t *testing.T) {
	t.Run("AddNote_DefaultsToPublic", func(t *testing.T) {
		service, worker := newTestRequestService(t)
		request := submitTestRequest(t, service)

		note, err := service.AddNote(context.Background(), request.ID, &worker.ID, &models.NoteCreateInput{
			Body: "Inspected this morning",
		})
		require.NoError(t, err)
		assert.Equal(t, models.VisibilityPublic, note.Visibility)
	})

	t.Run("AddNote_InternalNotesHiddenFromPublicView", func(t *testing.T) {
		service, worker := newTestRequestService(t)
		request := submitTestRequest(t, service)

		_, err := service.AddNote(context.Background(), request.ID, &worker.ID, &models.NoteCreateInput{
			Visibility: models.VisibilityInternal,
			Body:       "Resident has called three times",
		})
		require.NoError(t, err)
		_, err = service.AddNote(context.Background(), request.ID, &worker.ID, &models.NoteCreateInput{
			Visibility: models.VisibilityPublic,
			Body:       "Scheduled for repair next week",
		})
		require.NoError(t, err)

		public, err := service.GetByPublicID(context.Background(), request.PublicID)
		require.NoError(t, err)
		require.Len(t, public.Notes, 1)
		assert.Equal(t, "Scheduled for repair next week", public.Notes[0].Body)
	})

	t.Run("AddOptIn_RejectsInvalidMethod", func(t *testing.T) {
		service, _ := newTestRequestService(t)
		request := submitTestRequest(t, service)

		_, err := service.AddOptIn(context.Background(), request.ID, &models.OptInInput{
			Method: models.NotificationMethod("carrier-pigeon"),
			Target: "coop 5",
		})
		assert.True(t, IsValidationError(err))
	})

	t.Run("AddOptIn_StoresSubscriber", func(t *testing.T) {
		service, _ := newTestRequestService(t)
		request := submitTestRequest(t, service)

		optIn, err := service.AddOptIn(context.Background(), request.ID, &models.OptInInput{
			Method: models.MethodEmail,
			Target: "resident@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, request.ID, optIn.RequestID)
	})
}

func TestRequestService_Attachments(t *testing.T) {
	service, worker := newTestRequestService(t)
	request := submitTestRequest(t, service)

	label := "after repair"
	attachment, err := service.AddAttachment(context.Background(), request.ID, &worker.ID,
		"uploads/test/after.jpg", models.AttachmentCompletion, &label)
	require.NoError(t, err)
	assert.Equal(t, models.AttachmentCompletion, attachment.FileType)

	reloaded, err := service.Get(context.Background(), request.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.CompletionPhotoPath)
	assert.Equal(t, "uploads/test/after.jpg", *reloaded.CompletionPhotoPath)
}
