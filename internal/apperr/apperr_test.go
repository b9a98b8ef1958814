package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", errors.New("boom"), Internal},
		{"not found", NotFoundf("station %d not found", 7), NotFound},
		{"wrapped twice", fmt.Errorf("grant: %w", Conflictf("duplicate")), Conflict},
		{"wrap keeps cause", Wrap(context.DeadlineExceeded, Timeout, "nearby query timed out"), Timeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, NotFound, "nothing"); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestWrap_Unwrap(t *testing.T) {
	err := Wrap(context.DeadlineExceeded, Timeout, "query timed out")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("Expected wrapped error to match context.DeadlineExceeded")
	}
}

func TestMessage_HidesInternalCause(t *testing.T) {
	err := Wrap(errors.New("pq: connection refused"), Internal, "list stations")
	if got := Message(err); got != "internal server error" {
		t.Errorf("Expected generic message, got %q", got)
	}

	err = Invalidf("lat must be between -90 and 90")
	if got := Message(err); got != "lat must be between -90 and 90" {
		t.Errorf("Unexpected message %q", got)
	}
}
