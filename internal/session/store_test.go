package session

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryStore_TranscriptOrder(t *testing.T) {
	s := NewMemoryStore("be helpful")
	ctx := context.Background()

	key, err := s.EnsureSession(ctx, "telegram", "c1")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	s.AppendUser(ctx, key, "hi")
	s.AppendAssistant(ctx, key, "hello")
	s.AppendUser(ctx, key, "how are you")

	transcript, err := s.BuildTranscript(ctx, key)
	if err != nil {
		t.Fatalf("BuildTranscript: %v", err)
	}

	wantRoles := []string{"system", "user", "assistant", "user"}
	if len(transcript) != len(wantRoles) {
		t.Fatalf("transcript len = %d, want %d", len(transcript), len(wantRoles))
	}
	for i, role := range wantRoles {
		if transcript[i].Role != role {
			t.Errorf("message %d role = %s, want %s", i, transcript[i].Role, role)
		}
	}
}

func TestMemoryStore_SessionsIsolated(t *testing.T) {
	s := NewMemoryStore("")
	ctx := context.Background()

	k1, _ := s.EnsureSession(ctx, "telegram", "c1")
	k2, _ := s.EnsureSession(ctx, "telegram", "c2")
	s.AppendUser(ctx, k1, "only in c1")

	t2, _ := s.BuildTranscript(ctx, k2)
	if len(t2) != 0 {
		t.Errorf("c2 transcript = %v, want empty", t2)
	}
}

func TestMemoryStore_Reset(t *testing.T) {
	s := NewMemoryStore("sys")
	ctx := context.Background()

	key, _ := s.EnsureSession(ctx, "telegram", "c1")
	s.AppendUser(ctx, key, "hi")
	if err := s.Reset(ctx, key); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	transcript, _ := s.BuildTranscript(ctx, key)
	// Only the system prompt survives.
	if len(transcript) != 1 || transcript[0].Role != "system" {
		t.Errorf("transcript after reset = %v", transcript)
	}
}

func TestMemoryStore_TrimsHistory(t *testing.T) {
	s := NewMemoryStore("")
	ctx := context.Background()
	key, _ := s.EnsureSession(ctx, "telegram", "c1")

	for i := 0; i < maxTranscriptMessages+10; i++ {
		s.AppendUser(ctx, key, fmt.Sprintf("msg-%d", i))
	}

	transcript, _ := s.BuildTranscript(ctx, key)
	if len(transcript) != maxTranscriptMessages {
		t.Fatalf("transcript len = %d, want %d", len(transcript), maxTranscriptMessages)
	}
	if transcript[0].Content != "msg-10" {
		t.Errorf("oldest kept = %q, want msg-10", transcript[0].Content)
	}
}
