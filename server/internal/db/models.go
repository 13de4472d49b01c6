package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// softDelete extends base with a nullable DeletedAt field for soft deletion.
// GORM automatically filters out soft-deleted records from all queries unless
// Unscoped() is used explicitly.
type softDelete struct {
	base
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Users & Auth
// -----------------------------------------------------------------------------

// User represents a local or OIDC-authenticated operator account.
// Password is only set for local accounts — OIDC users authenticate via the
// provider and have an empty Password field.
type User struct {
	base
	Email        string          `gorm:"uniqueIndex;not null"`
	Password     EncryptedString `gorm:"type:text"` // empty for OIDC users
	DisplayName  string          `gorm:"not null"`
	Role         string          `gorm:"not null;default:'viewer'"` // "admin", "operator", "viewer"
	IsActive     bool            `gorm:"not null;default:true"`     // false = account disabled
	OIDCProvider string          `gorm:"default:''"`                // provider ID if OIDC user
	OIDCSub      string          `gorm:"default:''"`                // subject claim from OIDC token
	LastLoginAt  *time.Time
}

// RefreshToken stores a hashed refresh token associated with a user session.
// The raw token is never stored — only its SHA-256 hash. Tokens are rotated
// on every use and expire after 7 days.
type RefreshToken struct {
	base
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"` // SHA-256 hex of the raw token
	ExpiresAt time.Time `gorm:"not null;index"`
	RevokedAt *time.Time
	UserAgent string
	IPAddress string
}

// OIDCProvider stores the configuration for an external OIDC identity provider.
// ClientSecret is encrypted at rest. Only one provider is supported at a time.
type OIDCProvider struct {
	base
	Name         string          `gorm:"not null"`
	Issuer       string          `gorm:"not null"`
	ClientID     string          `gorm:"not null"`
	ClientSecret EncryptedString `gorm:"type:text;not null"`
	RedirectURL  string          `gorm:"not null"`
	Scopes       string          `gorm:"not null;default:'openid email profile'"` // space-separated
	Enabled      bool            `gorm:"not null;default:false"`
}

// -----------------------------------------------------------------------------
// Nodes
// -----------------------------------------------------------------------------

// NodeRecord is the durable counterpart to node.Registry's in-memory Node: it
// survives Controller restarts so a node's allow-list membership, object
// path, and last-known status are not lost when the process cycles. The live
// connection state (online/offline, which gRPC stream owns it) lives only in
// node.Registry — this table is consulted at startup to seed the allow list
// and is updated opportunistically on status changes, not on every
// heartbeat (heartbeat frequency would make per-beat writes wasteful).
type NodeRecord struct {
	base
	Name           string `gorm:"uniqueIndex;not null"`
	ObjectPath     string `gorm:"not null"`
	Status         string `gorm:"not null;default:'offline'"` // "online", "offline"
	IPAddress      string `gorm:"not null;default:''"`
	LastSeenAt     *time.Time
	RegisteredOnce bool `gorm:"not null;default:false"` // true once the node has completed Register at least once
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// JobHistoryRecord is the durable record of a Job dispatched by job.Engine.
// The engine itself is in-memory and FIFO; this table exists purely for
// operator-facing history (REST API job listing, audit) and is written once
// at submission and once at completion — never polled during the job's
// lifetime.
//
// Logs are populated by GetByIDWithLogs via a manual query. The gorm:"-" tag
// prevents GORM from attempting foreign key resolution on this field, which
// would fail with uuid.UUID primary keys.
type JobHistoryRecord struct {
	base
	NodeName    string    `gorm:"not null;index"`
	JobType     string    `gorm:"not null"` // mirrors shared/types.JobType
	Unit        string    `gorm:"default:''"`
	Mode        string    `gorm:"default:''"`
	State       string    `gorm:"not null;default:'waiting'"` // mirrors shared/types.JobState
	Result      string    `gorm:"default:''"`                 // mirrors shared/types.JobResult, empty until terminal
	Message     string    `gorm:"type:text;default:''"`
	SubmittedAt time.Time `gorm:"not null"`
	StartedAt   *time.Time
	EndedAt     *time.Time

	Logs []JobLogEntry `gorm:"-"`
}

// JobLogEntry stores a structured log line emitted while a job ran. Logs are
// inserted in bulk at job completion, not line by line during execution, to
// avoid high-frequency write pressure on the database.
type JobLogEntry struct {
	base
	JobID     uuid.UUID `gorm:"type:text;not null;index"`
	Level     string    `gorm:"not null"` // "info", "warn", "error"
	Message   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null;index"`
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// Notification stores in-app notifications delivered to users via WebSocket.
// Read notifications are kept for 30 days and then purged by a background job.
type Notification struct {
	base
	UserID  uuid.UUID `gorm:"type:text;not null;index"`
	Type    string    `gorm:"not null"` // mirrors shared/types.NotificationEvent
	Title   string    `gorm:"not null"`
	Body    string    `gorm:"type:text;not null"`
	ReadAt  *time.Time
	Payload string `gorm:"type:text;default:'{}'"` // JSON, extra context for the frontend
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// Setting is a generic key-value configuration entry stored in the database.
// Keys are namespaced by convention (e.g. "smtp.host", "webhook.url").
// Sensitive values (e.g. "smtp.password") are encrypted at the application
// layer via EncryptedString before being persisted.
//
// Setting does not embed base because it uses a string primary key (the key
// itself) rather than a UUID, and does not need CreatedAt.
type Setting struct {
	Key       string          `gorm:"primaryKey"`
	Value     EncryptedString `gorm:"type:text;not null"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`
}
