// Package types defines shared domain types used by both the controller and
// the agent.
package types

import "time"

// ─── Node ────────────────────────────────────────────────────────────────────

// NodeStatus represents the connection state of a managed node as observed
// by the Controller.
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
)

// ─── Job ─────────────────────────────────────────────────────────────────────

// JobState represents where a Job sits in its lifecycle.
type JobState string

const (
	JobStateWaiting JobState = "waiting"
	JobStateRunning JobState = "running"
)

// JobResult is set only once a Job reaches a terminal transition.
type JobResult string

const (
	JobResultDone     JobResult = "done"
	JobResultCanceled JobResult = "canceled"
	JobResultFailed   JobResult = "failed"
)

// JobType is the closed set of operations the job engine can dispatch.
type JobType string

const (
	JobTypeStartUnit    JobType = "start-unit"
	JobTypeStopUnit     JobType = "stop-unit"
	JobTypeRestartUnit  JobType = "restart-unit"
	JobTypeReloadUnit   JobType = "reload-unit"
	JobTypeFreezeUnit   JobType = "freeze-unit"
	JobTypeThawUnit     JobType = "thaw-unit"
	JobTypeEnable       JobType = "enable"
	JobTypeDisable      JobType = "disable"
	JobTypeDaemonReload JobType = "daemon-reload"
	JobTypeIsolateAll   JobType = "isolate-all"
)

// ─── Unit ────────────────────────────────────────────────────────────────────

// UnitActiveState is the closed vocabulary of systemd active-state values
// relayed verbatim from the local service manager.
type UnitActiveState string

const (
	UnitActive       UnitActiveState = "active"
	UnitReloading    UnitActiveState = "reloading"
	UnitInactive     UnitActiveState = "inactive"
	UnitFailed       UnitActiveState = "failed"
	UnitActivating   UnitActiveState = "activating"
	UnitDeactivating UnitActiveState = "deactivating"
	UnitMaintenance  UnitActiveState = "maintenance"
)

// UnitInfo is an immutable wire value describing one unit on a node. It has
// no identity of its own — see spec §3 "UnitInfo (wire value)".
type UnitInfo struct {
	ID          string
	Description string
	LoadState   string
	ActiveState UnitActiveState
	SubState    string
	Following   string
	UnitPath    string
	JobID       uint32
	JobType     string
	JobPath     string
}

// ─── Auth ────────────────────────────────────────────────────────────────────

// AuthProvider identifies the authentication method used by an operator.
type AuthProvider string

const (
	AuthProviderLocal AuthProvider = "local"
	AuthProviderOIDC  AuthProvider = "oidc"
)

// UserRole represents the permission level of an operator account.
type UserRole string

const (
	UserRoleAdmin    UserRole = "admin"
	UserRoleOperator UserRole = "operator"
	UserRoleViewer   UserRole = "viewer"
)

// ─── Notification ────────────────────────────────────────────────────────────

// NotificationChannel represents the delivery channel for a notification.
type NotificationChannel string

const (
	NotificationChannelEmail   NotificationChannel = "email"
	NotificationChannelWebhook NotificationChannel = "webhook"
	NotificationChannelInApp   NotificationChannel = "in_app"
)

// NotificationEvent represents the trigger event for a notification.
type NotificationEvent string

const (
	NotificationEventNodeOffline NotificationEvent = "node.offline"
	NotificationEventNodeOnline  NotificationEvent = "node.online"
	NotificationEventJobFailed   NotificationEvent = "job.failed"
	NotificationEventJobDone     NotificationEvent = "job.done"
)

// ─── Pagination ──────────────────────────────────────────────────────────────

// Page holds pagination parameters for list queries.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PagedResult wraps a list result with total count for pagination.
type PagedResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  Page  `json:"page"`
}

// ─── Time ────────────────────────────────────────────────────────────────────

// TimeRange defines an inclusive time interval for filtering queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}
