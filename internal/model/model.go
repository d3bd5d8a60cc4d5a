// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Document is a schema-flexible JSON object stored in jsonb columns
// (audit metadata, workflow state blobs).
type Document map[string]any

// User is the external identity anchor, created on first successful OAuth
// callback and refreshed on subsequent logins.
type User struct {
	ID        int64  // PK
	GitHubID  int64  // unique
	Username  string // GitHub login
	Name      string
	Email     string
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential holds the encrypted GitHub OAuth tokens for a user.
// At most one row exists per user; writes are upserts on user_id.
type Credential struct {
	UserID          int64
	AccessTokenEnc  []byte // AEAD ciphertext, nonce-prefixed
	RefreshTokenEnc []byte // nil when the provider issued no refresh token
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DecryptedCredential is the in-memory, just-in-time view of a Credential.
// It is never persisted.
type DecryptedCredential struct {
	AccessToken  string
	RefreshToken string // empty when absent
	ExpiresAt    time.Time
}

// CsrfToken is a single-use OAuth state value. It is deleted on successful
// validation so a second use fails.
type CsrfToken struct {
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ClientMeta carries request metadata recorded on sessions and audit entries.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Session is the bearer credential issued after a successful OAuth callback.
// The row is authoritative: a session past ExpiresAt never authorizes a
// request even if it has not been purged yet.
type Session struct {
	ID         uuid.UUID
	Token      string // signed bearer token, unique
	UserID     int64
	IPAddress  string
	UserAgent  string
	ExpiresAt  time.Time
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// AuditEntry is one immutable security-event row. UserID is nil for actions
// by unauthenticated or unknown actors; the trail survives user deletion.
type AuditEntry struct {
	ID           int64
	UserID       *int64
	Action       string
	Resource     string
	IPAddress    string
	UserAgent    string
	Success      bool
	ErrorMessage string
	Metadata     Document
	CreatedAt    time.Time
}

// WorkflowType enumerates the documented command flows.
type WorkflowType string

const (
	WorkflowPush      WorkflowType = "push"
	WorkflowScanTasks WorkflowType = "scan_tasks"
	WorkflowMerge     WorkflowType = "merge"
)

// Valid reports whether t is one of the documented workflow types.
func (t WorkflowType) Valid() bool {
	switch t {
	case WorkflowPush, WorkflowScanTasks, WorkflowMerge:
		return true
	}
	return false
}

// Workflow step markers stored in state blobs under the "status" key.
const (
	WorkflowStatusStarted    = "started"
	WorkflowStatusInProgress = "in_progress"
	WorkflowStatusDone       = "done"
	WorkflowStatusFailed     = "failed"
)

// WorkflowState is the opaque per (user, repository, branch, type) state blob.
// The tracker stores and returns it as-is; transition rules belong to the
// workflow caller.
type WorkflowState struct {
	UserID     int64
	Repository string
	Branch     string
	Type       WorkflowType
	State      Document
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
