// Package gateway defines the domain types shared by every component of the
// LLM gateway: chat messages, responses, provider keys, and runs. It has no
// dependencies on any other internal package.
package gateway

import "time"

// Role is the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AttachmentType distinguishes the three attachment kinds a message may carry.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentFile     AttachmentType = "file"
	AttachmentDocument AttachmentType = "document"
)

// Attachment references a previously-uploaded file by ID; resolving it to
// bytes/mime-type is the job of a FileResolver, not this package.
type Attachment struct {
	FileID string         `json:"file_id"`
	Type   AttachmentType `json:"type"`
}

// Message is one turn of a chat conversation.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ChatRequest is the internal, provider-agnostic representation of a chat
// completion call.
type ChatRequest struct {
	Provider    string
	Model       string
	Messages    []Message
	MaxTokens   *int
	Temperature *float64
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TotalOrSum returns Usage.TotalTokens when the upstream provided it,
// otherwise the sum of prompt and completion tokens, per spec's
// total-tokens rule.
func (u *Usage) TotalOrSum() int {
	if u == nil {
		return 0
	}
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// ChatResponse is the uniform response shape every ProviderAdapter produces.
type ChatResponse struct {
	Model   string   `json:"model"`
	Message Message  `json:"message"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// KeyStatus is the lifecycle state of a ProviderKey.
type KeyStatus string

const (
	KeyActive      KeyStatus = "active"
	KeyCoolingDown KeyStatus = "cooling_down"
	KeyDisabled    KeyStatus = "disabled"
)

// ProviderKey is a single credential in the pool for one provider.
type ProviderKey struct {
	ID                string
	Provider          string
	DisplayName       string
	APIKey            string
	Environment       string
	MaxRPM            *int
	MaxTPM            *int
	Priority          int
	Status            KeyStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastUsedAt        *time.Time
	LastErrorAt       *time.Time
	ErrorCountRecent  int
	CoolingUntil      *time.Time
}

// EffectivelyActive implements spec §4.1's effectivelyActive predicate.
func (k *ProviderKey) EffectivelyActive(now time.Time) bool {
	if k.Status == KeyDisabled {
		return false
	}
	if k.CoolingUntil != nil && k.CoolingUntil.After(now) {
		return false
	}
	return true
}

// RunStatus is the state-machine value of an asynchronous Run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// Run is the persistent record behind one asynchronous chat request.
type Run struct {
	ID              string
	Status          RunStatus
	Provider        string
	Model           string
	MaxTokens       *int
	InputMessages   []Message
	OutputMessage   *Message
	Error           string
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	RetryCount      int
	LastErrorReason string
}

// StoredFile is external attachment metadata the core consumes but never
// writes; uploads themselves are out of scope.
type StoredFile struct {
	ID          string
	Filename    string
	MimeType    string
	SizeBytes   int64
	StoragePath string
	CreatedAt   time.Time
}
