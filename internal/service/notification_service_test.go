package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdcruz-dev/sc-portal-api/internal/models"
	appErrors "github.com/jdcruz-dev/sc-portal-api/pkg/errors"
	"github.com/jdcruz-dev/sc-portal-api/pkg/jobs"
)

type fakeNotificationRepo struct {
	mu         sync.Mutex
	delivered  []models.Notification
	recipients map[models.NotificationAudience][]string
	read       map[string]bool
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{
		recipients: map[models.NotificationAudience][]string{
			models.AudienceAll:      {"m1", "m2", "m3"},
			models.AudienceStudents: {"m1", "m2"},
			models.AudienceOfficers: {"m3"},
		},
		read: make(map[string]bool),
	}
}

func (f *fakeNotificationRepo) Create(ctx context.Context, notification *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, *notification)
	return nil
}

func (f *fakeNotificationRepo) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, notification := range f.delivered {
		if filter.RecipientID != "" && notification.RecipientID != filter.RecipientID {
			continue
		}
		out = append(out, notification)
	}
	return out, len(out), nil
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id, recipientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, notification := range f.delivered {
		if notification.ID == id && notification.RecipientID == recipientID {
			f.read[id] = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeNotificationRepo) ListRecipientIDs(ctx context.Context, audience models.NotificationAudience) ([]string, error) {
	return f.recipients[audience], nil
}

func (f *fakeNotificationRepo) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func startedNotificationService(t *testing.T, repo *fakeNotificationRepo) *NotificationService {
	t.Helper()
	svc := NewNotificationService(repo, nil, nil, jobs.QueueConfig{Workers: 2, BufferSize: 16})
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)
	return svc
}

func TestBroadcastFansOutToStudents(t *testing.T) {
	repo := newFakeNotificationRepo()
	svc := startedNotificationService(t, repo)

	result, err := svc.Broadcast(context.Background(), "admin-1", BroadcastRequest{
		Title:    "Enrollment reminder",
		Body:     "Enlistment closes Friday.",
		Audience: "STUDENTS",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Enqueued)

	require.Eventually(t, func() bool {
		return repo.deliveredCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	inbox, pagination, err := svc.Inbox(context.Background(), models.NotificationFilter{RecipientID: "m1"})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "Enrollment reminder", inbox[0].Title)
	assert.Equal(t, "admin-1", inbox[0].CreatedBy)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestBroadcastSingleMember(t *testing.T) {
	repo := newFakeNotificationRepo()
	svc := startedNotificationService(t, repo)

	result, err := svc.Broadcast(context.Background(), "admin-1", BroadcastRequest{
		Title:       "Clearance hold",
		Body:        "Please visit the office.",
		Audience:    "MEMBER",
		RecipientID: "m2",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Enqueued)

	require.Eventually(t, func() bool {
		return repo.deliveredCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastMemberNeedsRecipient(t *testing.T) {
	repo := newFakeNotificationRepo()
	svc := startedNotificationService(t, repo)

	_, err := svc.Broadcast(context.Background(), "admin-1", BroadcastRequest{
		Title:    "Missing target",
		Body:     "no recipient",
		Audience: "MEMBER",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestBroadcastUnknownAudience(t *testing.T) {
	repo := newFakeNotificationRepo()
	svc := startedNotificationService(t, repo)

	_, err := svc.Broadcast(context.Background(), "admin-1", BroadcastRequest{
		Title:    "Oops",
		Body:     "bad audience",
		Audience: "EVERYONE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestMarkRead(t *testing.T) {
	repo := newFakeNotificationRepo()
	svc := startedNotificationService(t, repo)

	_, err := svc.Broadcast(context.Background(), "admin-1", BroadcastRequest{
		Title:       "Read me",
		Body:        "body",
		Audience:    "MEMBER",
		RecipientID: "m1",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return repo.deliveredCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	repo.mu.Lock()
	id := repo.delivered[0].ID
	repo.mu.Unlock()

	require.NoError(t, svc.MarkRead(context.Background(), id, "m1"))

	err = svc.MarkRead(context.Background(), id, "someone-else")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
