package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/fleetd-io/fleetd/server/internal/db"
	"github.com/fleetd-io/fleetd/server/internal/repositories"
	"github.com/fleetd-io/fleetd/server/internal/websocket"
	"github.com/fleetd-io/fleetd/shared/types"
)

// Service is the single entry point for creating and delivering notifications.
// It persists in-app notifications to the database, publishes them to the
// WebSocket Hub, and fans out to external channels (email, webhook).
//
// Callers (reaper, job engine, peer gRPC handlers) should use the typed
// methods rather than constructing events manually, so that notification
// content stays consistent across the codebase.
type Service interface {
	// NotifyNodeOffline creates a notification when a node's heartbeat has
	// gone stale and reaper.Reaper marks it offline.
	NotifyNodeOffline(ctx context.Context, nodeName string) error

	// NotifyNodeOnline creates a notification when a node (re)registers and
	// transitions back online.
	NotifyNodeOnline(ctx context.Context, nodeName string) error

	// NotifyJobDone creates a notification for a job that reached the "done" result.
	NotifyJobDone(ctx context.Context, jobID uuid.UUID, nodeName, jobType, unit string) error

	// NotifyJobFailed creates a notification for a job that reached the "failed" result.
	NotifyJobFailed(ctx context.Context, jobID uuid.UUID, nodeName, jobType, unit, errMsg string) error
}

// notifyService is the concrete implementation of Service.
type notifyService struct {
	notifRepo    repositories.NotificationRepository
	userRepo     repositories.UserRepository
	settingsRepo repositories.SettingsRepository
	hub          *websocket.Hub
	email        *emailSender
	webhook      *webhookSender
	logger       *zap.Logger
}

// Config holds the dependencies required to build a notification Service.
type Config struct {
	NotifRepo    repositories.NotificationRepository
	UserRepo     repositories.UserRepository
	SettingsRepo repositories.SettingsRepository
	Hub          *websocket.Hub
	Logger       *zap.Logger
}

// NewService creates a new notification Service. The email and webhook senders
// are wired internally — callers only need to provide the Config dependencies.
func NewService(cfg Config) Service {
	svc := &notifyService{
		notifRepo:    cfg.NotifRepo,
		userRepo:     cfg.UserRepo,
		settingsRepo: cfg.SettingsRepo,
		hub:          cfg.Hub,
		logger:       cfg.Logger.Named("notify"),
	}

	// Wire senders with config loaders bound to this service's settings repo.
	// Config is reloaded on every send — no restart needed after settings change.
	svc.email = newEmailSender(func(ctx context.Context) (*SMTPConfig, error) {
		return loadSMTPConfig(ctx, cfg.SettingsRepo)
	})
	svc.webhook = newWebhookSender(func(ctx context.Context) (*WebhookConfig, error) {
		return loadWebhookConfig(ctx, cfg.SettingsRepo)
	})

	return svc
}

// -----------------------------------------------------------------------------
// Public typed methods
// -----------------------------------------------------------------------------

func (s *notifyService) NotifyNodeOffline(ctx context.Context, nodeName string) error {
	return s.notify(ctx, event{
		notifType: string(types.NotificationEventNodeOffline),
		title:     fmt.Sprintf("Node offline: %s", nodeName),
		body:      fmt.Sprintf("Node %q stopped sending heartbeats at %s.", nodeName, time.Now().UTC().Format(time.RFC3339)),
		payload:   map[string]any{"node_name": nodeName},
	})
}

func (s *notifyService) NotifyNodeOnline(ctx context.Context, nodeName string) error {
	return s.notify(ctx, event{
		notifType: string(types.NotificationEventNodeOnline),
		title:     fmt.Sprintf("Node online: %s", nodeName),
		body:      fmt.Sprintf("Node %q registered and is back online at %s.", nodeName, time.Now().UTC().Format(time.RFC3339)),
		payload:   map[string]any{"node_name": nodeName},
	})
}

func (s *notifyService) NotifyJobDone(ctx context.Context, jobID uuid.UUID, nodeName, jobType, unit string) error {
	return s.notify(ctx, event{
		notifType: string(types.NotificationEventJobDone),
		title:     fmt.Sprintf("Job completed on %s", nodeName),
		body:      fmt.Sprintf("%s %s on node %q completed at %s.", jobType, unit, nodeName, time.Now().UTC().Format(time.RFC3339)),
		payload: map[string]any{
			"job_id":    jobID.String(),
			"node_name": nodeName,
			"job_type":  jobType,
			"unit":      unit,
		},
	})
}

func (s *notifyService) NotifyJobFailed(ctx context.Context, jobID uuid.UUID, nodeName, jobType, unit, errMsg string) error {
	return s.notify(ctx, event{
		notifType: string(types.NotificationEventJobFailed),
		title:     fmt.Sprintf("Job failed on %s", nodeName),
		body:      fmt.Sprintf("%s %s on node %q failed at %s: %s", jobType, unit, nodeName, time.Now().UTC().Format(time.RFC3339), errMsg),
		payload: map[string]any{
			"job_id":    jobID.String(),
			"node_name": nodeName,
			"job_type":  jobType,
			"unit":      unit,
			"error":     errMsg,
		},
	})
}

// -----------------------------------------------------------------------------
// Internal event dispatch
// -----------------------------------------------------------------------------

// event carries the data for a single notification before it is fanned out
// to recipients and delivery channels.
type event struct {
	notifType string
	title     string
	body      string
	payload   map[string]any
}

// notify is the internal dispatch method. It:
//  1. Resolves the list of active admin and operator users as recipients.
//  2. Persists one db.Notification per recipient.
//  3. Publishes each notification to the WebSocket Hub.
//  4. Fans out to email and webhook (errors are logged, not returned, so that
//     an SMTP failure never prevents the in-app notification from being saved).
func (s *notifyService) notify(ctx context.Context, ev event) error {
	// Resolve all admin/operator users — they are the recipients for all
	// system events. A large page size is used because the number of
	// operators is expected to be small in a self-hosted fleet.
	users, _, err := s.userRepo.List(ctx, repositories.ListOptions{Limit: 100, Offset: 0})
	if err != nil {
		return fmt.Errorf("notify: failed to list users: %w", err)
	}

	payloadJSON, err := json.Marshal(ev.payload)
	if err != nil {
		return fmt.Errorf("notify: failed to marshal payload: %w", err)
	}

	var emailRecipients []string

	for i := range users {
		u := &users[i]
		if (u.Role != string(types.UserRoleAdmin) && u.Role != string(types.UserRoleOperator)) || !u.IsActive {
			continue
		}

		// Persist the in-app notification.
		n := &db.Notification{
			UserID:  u.ID,
			Type:    ev.notifType,
			Title:   ev.title,
			Body:    ev.body,
			Payload: string(payloadJSON),
		}
		if err := s.notifRepo.Create(ctx, n); err != nil {
			s.logger.Error("failed to persist notification",
				zap.String("user_id", u.ID.String()),
				zap.String("type", ev.notifType),
				zap.Error(err),
			)
			continue
		}

		// Publish to the WebSocket Hub so any connected GUI tab receives the
		// notification instantly without polling.
		topic := fmt.Sprintf("notifications:%s", u.ID.String())
		s.hub.Publish(topic, websocket.Message{
			Type:  websocket.MsgNotification,
			Topic: topic,
			Payload: map[string]any{
				"id":         n.ID.String(),
				"type":       n.Type,
				"title":      n.Title,
				"body":       n.Body,
				"payload":    ev.payload,
				"created_at": n.CreatedAt.UTC().Format(time.RFC3339),
			},
		})

		emailRecipients = append(emailRecipients, u.Email)
	}

	// External channels: errors are logged but not propagated — the in-app
	// notification has already been saved, which is the authoritative channel.
	if err := s.email.Send(ctx, emailRecipients, ev.title, ev.body); err != nil {
		s.logger.Warn("email notification delivery failed",
			zap.String("type", ev.notifType),
			zap.Error(err),
		)
	}

	if err := s.webhook.Send(ctx, ev.notifType, ev.title, ev.body, ev.payload); err != nil {
		s.logger.Warn("webhook notification delivery failed",
			zap.String("type", ev.notifType),
			zap.Error(err),
		)
	}

	return nil
}
