// Package pairing implements the DM pairing workflow.
//
// When a new user sends a DM on a channel whose DM policy is "pairing", the
// gate creates a pending request with a short code and tells the sender to
// have an operator approve it out-of-band ("chatgate pairing approve CODE").
// Until then the sender's messages are dropped. Approval creates an approval
// record which the gate consults to fast-path future messages.
//
// Codes use the alphabet ABCDEFGHJKLMNPQRSTUVWXYZ23456789 (no ambiguous
// characters: 0, O, 1, I, L). Pending requests expire after 7 days; the
// sender is re-prompted at most once every 2 minutes.
package pairing

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// CodeAlphabet excludes ambiguous characters (0, O, 1, I, L).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodeLength is the number of characters in a pairing code.
	CodeLength = 8
	// RequestTTL is how long a pending request remains valid.
	RequestTTL = 7 * 24 * time.Hour
	// PromptCooldown is the minimum gap between reminder prompts.
	PromptCooldown = 2 * time.Minute
	// MaxRequests caps persisted requests (most recently updated kept).
	MaxRequests = 500
	// MaxApprovals caps persisted approvals (most recent kept).
	MaxApprovals = 1000
	// StoreVersion is the pairing state file format version.
	StoreVersion = 1
)

// Request statuses. Pending is initial; the rest are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Request is one pairing request. At most one pending request exists per
// (channel, userID) pair at any time.
type Request struct {
	ID           string `json:"id"`
	Channel      string `json:"channel"`
	UserID       string `json:"user_id"`
	ChatID       string `json:"chat_id"`
	Code         string `json:"code"`
	Status       Status `json:"status"`
	CreatedAt    int64  `json:"created_at"` // unix millis
	UpdatedAt    int64  `json:"updated_at"`
	LastPromptAt int64  `json:"last_prompt_at,omitempty"`
	PromptCount  int    `json:"prompt_count,omitempty"`
	ResolvedAt   int64  `json:"resolved_at,omitempty"`
	ResolvedBy   string `json:"resolved_by,omitempty"`
}

// Approval is the sole authority the gate consults to fast-path a sender.
type Approval struct {
	Channel    string `json:"channel"`
	UserID     string `json:"user_id"`
	ApprovedAt int64  `json:"approved_at"`
	RequestID  string `json:"request_id,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

// Ref identifies a request for approve/reject: by ID, or by channel+code.
type Ref struct {
	RequestID string
	Channel   string
	Code      string
}

var (
	// ErrNotFound means no request matched the ref.
	ErrNotFound = errors.New("pairing request not found")
	// ErrApprovalNotFound means revoke found no approval for the user.
	ErrApprovalNotFound = errors.New("pairing approval not found")
)

// AlreadyResolvedError is returned by approve/reject when the request is in
// a terminal state. The message names the current status.
type AlreadyResolvedError struct {
	Status Status
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("pairing request already resolved: %s", e.Status)
}

type state struct {
	Version   int        `json:"version"`
	Requests  []Request  `json:"requests"`
	Approvals []Approval `json:"approvals"`
}

// Service manages pairing requests and approvals, persisted as a versioned
// JSON file rewritten wholesale on every mutation. Writes are best-effort.
type Service struct {
	path  string
	mu    sync.Mutex
	state state
	now   func() time.Time
}

// NewService creates a pairing service persisting to path
// (e.g. ~/.chatgate/pairing.json).
func NewService(path string) *Service {
	s := &Service{path: path, now: time.Now}
	s.load()
	return s
}

// EnsureRequest returns the pending request for (channel, userID), creating
// one with a fresh code if none exists. The second return is true when a new
// request was created.
func (s *Service) EnsureRequest(channel, userID, chatID string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.expireLocked()

	for i := range s.state.Requests {
		r := &s.state.Requests[i]
		if r.Channel == channel && r.UserID == userID && r.Status == StatusPending {
			if changed {
				s.save()
			}
			return *r, false
		}
	}

	now := s.now().UnixMilli()
	req := Request{
		ID:        uuid.NewString(),
		Channel:   channel,
		UserID:    userID,
		ChatID:    chatID,
		Code:      generateCode(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.state.Requests = append(s.state.Requests, req)
	s.save()

	slog.Info("pairing request created",
		"request_id", req.ID, "channel", channel, "user", userID, "code", req.Code)
	return req, true
}

// AllowPrompt reports whether a reminder prompt may be sent for the request
// now, and records the prompt when it may. Returns false when the request is
// missing, not pending, or still inside the cooldown window.
func (s *Service) AllowPrompt(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.Requests {
		r := &s.state.Requests[i]
		if r.ID != requestID {
			continue
		}
		if r.Status != StatusPending {
			return false
		}
		now := s.now().UnixMilli()
		if r.LastPromptAt != 0 && now-r.LastPromptAt < PromptCooldown.Milliseconds() {
			return false
		}
		r.LastPromptAt = now
		r.PromptCount++
		r.UpdatedAt = now
		s.save()
		return true
	}
	return false
}

// Approve transitions a pending request to approved and creates (or
// overwrites) the approval record for its user.
func (s *Service) Approve(ref Ref, approvedBy string) (Request, error) {
	return s.resolve(ref, StatusApproved, approvedBy)
}

// Reject transitions a pending request to rejected.
func (s *Service) Reject(ref Ref, rejectedBy string) (Request, error) {
	return s.resolve(ref, StatusRejected, rejectedBy)
}

func (s *Service) resolve(ref Ref, target Status, by string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()

	req := s.findLocked(ref)
	if req == nil {
		return Request{}, ErrNotFound
	}
	if req.Status != StatusPending {
		return Request{}, &AlreadyResolvedError{Status: req.Status}
	}

	now := s.now().UnixMilli()
	req.Status = target
	req.ResolvedAt = now
	req.ResolvedBy = by
	req.UpdatedAt = now

	if target == StatusApproved {
		s.upsertApprovalLocked(Approval{
			Channel:    req.Channel,
			UserID:     req.UserID,
			ApprovedAt: now,
			RequestID:  req.ID,
			ApprovedBy: by,
		})
	}
	s.save()

	slog.Info("pairing request resolved",
		"request_id", req.ID, "channel", req.Channel, "user", req.UserID,
		"status", target, "by", by)
	return *req, nil
}

// Revoke removes the approval for (channel, userID). The user's next DM
// re-enters the pairing flow.
func (s *Service) Revoke(channel, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.state.Approvals {
		if a.Channel == channel && a.UserID == userID {
			s.state.Approvals = append(s.state.Approvals[:i], s.state.Approvals[i+1:]...)
			s.save()
			slog.Info("pairing approval revoked", "channel", channel, "user", userID)
			return nil
		}
	}
	return ErrApprovalNotFound
}

// IsApproved reports whether (channel, userID) holds an approval record.
func (s *Service) IsApproved(channel, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.state.Approvals {
		if a.Channel == channel && a.UserID == userID {
			return true
		}
	}
	return false
}

// List returns all requests and approvals, applying lazy expiry first.
func (s *Service) List() ([]Request, []Approval) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expireLocked() {
		s.save()
	}

	requests := make([]Request, len(s.state.Requests))
	copy(requests, s.state.Requests)
	approvals := make([]Approval, len(s.state.Approvals))
	copy(approvals, s.state.Approvals)
	return requests, approvals
}

// NormalizeCode uppercases and trims a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// --- Internal ---

// findLocked resolves a ref to a request pointer, or nil.
func (s *Service) findLocked(ref Ref) *Request {
	if ref.RequestID != "" {
		for i := range s.state.Requests {
			if s.state.Requests[i].ID == ref.RequestID {
				return &s.state.Requests[i]
			}
		}
		return nil
	}
	if ref.Code == "" {
		return nil
	}
	code := NormalizeCode(ref.Code)
	for i := range s.state.Requests {
		r := &s.state.Requests[i]
		if r.Code == code && (ref.Channel == "" || r.Channel == ref.Channel) {
			return r
		}
	}
	return nil
}

// expireLocked flips pending requests older than RequestTTL to expired.
// Returns true if anything changed.
func (s *Service) expireLocked() bool {
	now := s.now().UnixMilli()
	cutoff := now - RequestTTL.Milliseconds()
	changed := false
	for i := range s.state.Requests {
		r := &s.state.Requests[i]
		if r.Status == StatusPending && r.CreatedAt < cutoff {
			r.Status = StatusExpired
			r.UpdatedAt = now
			changed = true
		}
	}
	return changed
}

func (s *Service) upsertApprovalLocked(approval Approval) {
	for i := range s.state.Approvals {
		a := &s.state.Approvals[i]
		if a.Channel == approval.Channel && a.UserID == approval.UserID {
			*a = approval
			return
		}
	}
	s.state.Approvals = append(s.state.Approvals, approval)
}

// trimLocked enforces the persistence caps, keeping the most recently
// updated requests and most recent approvals first.
func (s *Service) trimLocked() {
	if len(s.state.Requests) > MaxRequests {
		sort.SliceStable(s.state.Requests, func(i, j int) bool {
			return s.state.Requests[i].UpdatedAt > s.state.Requests[j].UpdatedAt
		})
		s.state.Requests = s.state.Requests[:MaxRequests]
	}
	if len(s.state.Approvals) > MaxApprovals {
		sort.SliceStable(s.state.Approvals, func(i, j int) bool {
			return s.state.Approvals[i].ApprovedAt > s.state.Approvals[j].ApprovedAt
		})
		s.state.Approvals = s.state.Approvals[:MaxApprovals]
	}
}

func (s *Service) load() {
	s.state = state{Version: StoreVersion}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return // no state yet
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("pairing: unparseable state file, starting empty",
			"path", s.path, "error", err)
		return
	}
	st.Version = StoreVersion
	s.state = st
}

func (s *Service) save() {
	s.trimLocked()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Error("pairing: failed to create dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		slog.Error("pairing: failed to marshal state", "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		slog.Error("pairing: failed to write state", "path", s.path, "error", err)
	}
}

func generateCode() string {
	b := make([]byte, CodeLength)
	rand.Read(b)
	code := make([]byte, CodeLength)
	for i := range code {
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(code)
}
