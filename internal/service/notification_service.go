package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jdcruz-dev/sc-portal-api/internal/models"
	appErrors "github.com/jdcruz-dev/sc-portal-api/pkg/errors"
	"github.com/jdcruz-dev/sc-portal-api/pkg/jobs"
)

type notificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	ListRecipientIDs(ctx context.Context, audience models.NotificationAudience) ([]string, error)
}

// BroadcastRequest fans a notification out to an audience.
type BroadcastRequest struct {
	Title       string `json:"title" validate:"required"`
	Body        string `json:"body" validate:"required"`
	Audience    string `json:"audience" validate:"required"`
	RecipientID string `json:"recipient_id"`
}

// BroadcastResult reports how many deliveries were enqueued.
type BroadcastResult struct {
	Enqueued int `json:"enqueued"`
}

type deliveryPayload struct {
	Notification models.Notification
}

// NotificationService fans notifications out to member inboxes through a
// background worker queue so broadcast requests return immediately.
type NotificationService struct {
	repo      notificationRepository
	queue     *jobs.Queue
	validator *validator.Validate
	logger    *zap.Logger
}

// NewNotificationService constructs the notification service. Call Start on
// the returned service before enqueueing broadcasts.
func NewNotificationService(repo notificationRepository, validate *validator.Validate, logger *zap.Logger, cfg jobs.QueueConfig) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{repo: repo, validator: validate, logger: logger}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("notifications", s.deliver, cfg)
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Broadcast resolves the audience to recipients and enqueues one delivery
// per recipient.
func (s *NotificationService) Broadcast(ctx context.Context, createdBy string, req BroadcastRequest) (*BroadcastResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid broadcast payload")
	}

	audience := models.NotificationAudience(req.Audience)
	var recipients []string
	switch audience {
	case models.AudienceAll, models.AudienceStudents, models.AudienceOfficers:
		ids, err := s.repo.ListRecipientIDs(ctx, audience)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve audience")
		}
		recipients = ids
	case models.AudienceMember:
		if req.RecipientID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "recipient_id is required for MEMBER audience")
		}
		recipients = []string{req.RecipientID}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown audience")
	}

	enqueued := 0
	for _, recipientID := range recipients {
		notification := models.Notification{
			ID:          uuid.NewString(),
			RecipientID: recipientID,
			Title:       req.Title,
			Body:        req.Body,
			Audience:    audience,
			CreatedBy:   createdBy,
		}
		if err := s.queue.Enqueue(jobs.Job{
			ID:      notification.ID,
			Type:    "notification.deliver",
			Payload: deliveryPayload{Notification: notification},
		}); err != nil {
			s.logger.Warn("failed to enqueue notification delivery",
				zap.String("recipient_id", recipientID), zap.Error(err))
			continue
		}
		enqueued++
	}

	return &BroadcastResult{Enqueued: enqueued}, nil
}

// Inbox lists the recipient's notifications.
func (s *NotificationService) Inbox(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	notifications, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return notifications, pagination, nil
}

// MarkRead marks a notification read for its recipient.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	if err := s.repo.MarkRead(ctx, id, recipientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(deliveryPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	notification := payload.Notification
	if err := s.repo.Create(ctx, &notification); err != nil {
		return fmt.Errorf("persist notification %s: %w", notification.ID, err)
	}
	return nil
}
