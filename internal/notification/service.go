package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/spendlens/spendlens-api/internal/repository"
)

type Event struct {
	TenantID string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyRunStarted(ctx context.Context, run models.RunRecord) error
	NotifyRunCompleted(ctx context.Context, run models.RunRecord, recordsProcessed int64) error
	NotifyRunFailed(ctx context.Context, run models.RunRecord, reason string) error
	NotifyRunCancelled(ctx context.Context, run models.RunRecord) error
	ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	message := strings.TrimSpace(evt.Message)
	if title == "" {
		title = string(evt.Event)
	}
	params := repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  message,
		Metadata: evt.Metadata,
	}
	if tid := strings.TrimSpace(evt.TenantID); tid != "" {
		params.TenantID = &tid
	}

	notif, err := s.repo.Create(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			s.logger.Warn().Err(err).
				Str("notification_id", notif.ID).
				Str("event_type", string(notif.EventType)).
				Msg("notifier delivery failed")
		}
	}
	return notif, nil
}

func (s *service) NotifyRunStarted(ctx context.Context, run models.RunRecord) error {
	_, err := s.Publish(ctx, Event{
		TenantID: run.TenantID,
		Event:    models.NotificationEventRunStarted,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Run started: %s", run.Job()),
		Message:  fmt.Sprintf("Run %s for %s was admitted.", run.ID, run.Job()),
		Metadata: runMetadata(run),
	})
	return err
}

func (s *service) NotifyRunCompleted(ctx context.Context, run models.RunRecord, recordsProcessed int64) error {
	metadata := runMetadata(run)
	metadata["records_processed"] = recordsProcessed
	_, err := s.Publish(ctx, Event{
		TenantID: run.TenantID,
		Event:    models.NotificationEventRunCompleted,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Run completed: %s", run.Job()),
		Message:  fmt.Sprintf("Run %s completed with %d records.", run.ID, recordsProcessed),
		Metadata: metadata,
	})
	return err
}

func (s *service) NotifyRunFailed(ctx context.Context, run models.RunRecord, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	metadata := runMetadata(run)
	metadata["reason"] = reason
	_, err := s.Publish(ctx, Event{
		TenantID: run.TenantID,
		Event:    models.NotificationEventRunFailed,
		Severity: models.NotificationSeverityError,
		Title:    fmt.Sprintf("Run failed: %s", run.Job()),
		Message:  fmt.Sprintf("Run %s failed: %s", run.ID, reason),
		Metadata: metadata,
	})
	return err
}

func (s *service) NotifyRunCancelled(ctx context.Context, run models.RunRecord) error {
	_, err := s.Publish(ctx, Event{
		TenantID: run.TenantID,
		Event:    models.NotificationEventRunCancelled,
		Severity: models.NotificationSeverityWarning,
		Title:    fmt.Sprintf("Run cancelled: %s", run.Job()),
		Message:  fmt.Sprintf("Run %s was cancelled.", run.ID),
		Metadata: runMetadata(run),
	})
	return err
}

func (s *service) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, tenantID, limit)
}

func (s *service) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, tenantID, notificationID)
}

func runMetadata(run models.RunRecord) map[string]interface{} {
	return map[string]interface{}{
		"run_id":   run.ID,
		"provider": run.Provider,
		"domain":   run.Domain,
		"job_name": run.JobName,
	}
}
