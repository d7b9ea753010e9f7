package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs_MatchesByReason(t *testing.T) {
	err := E("session.StartVerification", ReasonAlreadyActive, nil)
	wrapped := fmt.Errorf("outer: %w", err)

	if !errors.Is(wrapped, ErrAlreadyActive) {
		t.Fatalf("expected errors.Is to match ALREADY_ACTIVE")
	}
	if errors.Is(wrapped, ErrExpired) {
		t.Fatalf("unexpected match against EXPIRED")
	}
	if got := ReasonOf(wrapped); got != ReasonAlreadyActive {
		t.Fatalf("ReasonOf = %q", got)
	}
}

func TestReasonOf_ForeignErrorIsSystem(t *testing.T) {
	if got := ReasonOf(errors.New("boom")); got != ReasonSystemError {
		t.Fatalf("got %q want SYSTEM_ERROR", got)
	}
	if got := ReasonOf(nil); got != ReasonNone {
		t.Fatalf("got %q want empty", got)
	}
}

func TestUserMessage_NeverEmptyForFailures(t *testing.T) {
	for _, r := range []Reason{ReasonInvalidFormat, ReasonNotFound, ReasonExpired, ReasonAlreadyUsed,
		ReasonRateLimited, ReasonBlocked, ReasonOwnershipMismatch, ReasonSystemError} {
		if r.UserMessage() == "" {
			t.Fatalf("empty message for %s", r)
		}
	}
}
