package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/fleetd-io/fleetd/server/internal/db"
)

// -----------------------------------------------------------------------------
// Common
// -----------------------------------------------------------------------------

// ListOptions contains common pagination and filtering options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// UserRepository
// -----------------------------------------------------------------------------

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	GetByOIDC(ctx context.Context, provider, sub string) (*db.User, error)
	Update(ctx context.Context, user *db.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.User, int64, error)
}

// -----------------------------------------------------------------------------
// RefreshTokenRepository
// -----------------------------------------------------------------------------

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *db.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*db.RefreshToken, error)
	DeleteByHash(ctx context.Context, hash string) error
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// OIDCProviderRepository
// -----------------------------------------------------------------------------

type OIDCProviderRepository interface {
	Create(ctx context.Context, provider *db.OIDCProvider) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.OIDCProvider, error)
	GetEnabled(ctx context.Context) (*db.OIDCProvider, error)
	Update(ctx context.Context, provider *db.OIDCProvider) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// -----------------------------------------------------------------------------
// NodeRepository
// -----------------------------------------------------------------------------

// NodeRepository is the durable counterpart to node.Registry (see db.NodeRecord
// for why it exists and what it does and doesn't persist).
type NodeRepository interface {
	Create(ctx context.Context, node *db.NodeRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.NodeRecord, error)
	GetByName(ctx context.Context, name string) (*db.NodeRecord, error)
	Update(ctx context.Context, node *db.NodeRecord) error
	UpdateStatus(ctx context.Context, name, status, ipAddress string, lastSeenAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.NodeRecord, int64, error)
}

// -----------------------------------------------------------------------------
// JobRepository
// -----------------------------------------------------------------------------

type JobRepository interface {
	Create(ctx context.Context, job *db.JobHistoryRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.JobHistoryRecord, error)

	// GetByIDWithLogs retrieves a job together with its JobLogEntry records.
	// Logs are returned as a separate value to avoid embedding a slice
	// association in JobHistoryRecord (see db/models.go for rationale).
	// Logs are ordered by timestamp ascending.
	GetByIDWithLogs(ctx context.Context, id uuid.UUID) (*db.JobHistoryRecord, []db.JobLogEntry, error)

	Update(ctx context.Context, job *db.JobHistoryRecord) error
	UpdateState(ctx context.Context, id uuid.UUID, state, result, message string, startedAt, endedAt *time.Time) error
	List(ctx context.Context, opts ListOptions) ([]db.JobHistoryRecord, int64, error)
	ListByNode(ctx context.Context, nodeName string, opts ListOptions) ([]db.JobHistoryRecord, int64, error)

	// JobLogEntry
	BulkCreateLogs(ctx context.Context, logs []db.JobLogEntry) error
	GetLogs(ctx context.Context, jobID uuid.UUID) ([]db.JobLogEntry, error)
}

// -----------------------------------------------------------------------------
// SettingsRepository
// -----------------------------------------------------------------------------

type SettingsRepository interface {
	Get(ctx context.Context, key string) (*db.Setting, error)
	Set(ctx context.Context, key string, value db.EncryptedString) error
	GetMany(ctx context.Context, prefix string) ([]db.Setting, error)
	Delete(ctx context.Context, key string) error
}

// -----------------------------------------------------------------------------
// NotificationRepository
// -----------------------------------------------------------------------------

type NotificationRepository interface {
	Create(ctx context.Context, notification *db.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Notification, int64, error)
	DeleteReadOlderThan(ctx context.Context, t time.Time) error
}