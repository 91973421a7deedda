package store

import (
	"time"

	"gorm.io/datatypes"
)

// User source constants.
const (
	SourceConfig = "config"
	SourceAdmin  = "admin"
)

// Status tokens reported by the generation service. LiveStatus may
// additionally carry free-form progress text ("sampling", "uploading").
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)

// terminalStatuses are the tokens after which no further state
// transition is expected.
var terminalStatuses = map[string]struct{}{
	StatusSuccess:   {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimeout:   {},
}

// IsTerminalStatus reports whether the given status token is terminal.
func IsTerminalStatus(status string) bool {
	_, ok := terminalStatuses[status]

	return ok
}

// User represents an authenticated user in the system.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null" json:"role"`
	Source       string    `gorm:"not null" json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session represents an active user session.
type Session struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Token        string     `gorm:"uniqueIndex;not null" json:"-"`
	UserID       uint       `gorm:"not null" json:"user_id"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at"`
}

// Run is one submitted generation job and its tracked state. The run id
// is assigned by the generation service at submission time and is
// immutable, as are the owner and the submitted inputs. Status fields
// are reconciled from webhook pushes and status pulls; once a terminal
// status is recorded or an image resolved, later events cannot revert
// them.
type Run struct {
	RunID      string            `gorm:"primaryKey" json:"run_id"`
	OwnerID    uint              `gorm:"not null;index" json:"owner_id"`
	CreatedAt  time.Time         `json:"created_at"`
	Inputs     datatypes.JSONMap `json:"inputs"`
	Status     string            `json:"status,omitempty"`
	LiveStatus string            `json:"live_status,omitempty"`
	Progress   *float64          `json:"progress,omitempty"`
	ImageURL   string            `json:"image_url,omitempty"`
}

// Terminal reports whether the run has reached a terminal status.
func (r *Run) Terminal() bool {
	return IsTerminalStatus(r.Status) || IsTerminalStatus(r.LiveStatus)
}

// RunUpdate is a partial update merged into a Run. Nil fields are left
// untouched.
type RunUpdate struct {
	Status     *string
	LiveStatus *string
	Progress   *float64
	ImageURL   *string
}

// Empty reports whether the update carries no fields at all.
func (u *RunUpdate) Empty() bool {
	return u.Status == nil && u.LiveStatus == nil &&
		u.Progress == nil && u.ImageURL == nil
}
