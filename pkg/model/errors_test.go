package model

import (
	"errors"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "Session 'ses_123' not found"}
	want := "NOT_FOUND: Session 'ses_123' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Command", "explode")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "Command 'explode' not found" {
		t.Errorf("Message = %q, want %q", err.Message, "Command 'explode' not found")
	}
}

func TestContractViolation_Error(t *testing.T) {
	err := &ContractViolation{Op: "BeginFrameComplete", State: "IDLE", Reason: "no frame in progress"}
	want := "contract violation in BeginFrameComplete (state IDLE): no frame in progress"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &ContractViolation{Op: "New", Reason: "nil client"}
	if got := bare.Error(); got != "contract violation in New: nil client" {
		t.Errorf("Error() = %q", got)
	}
}

func TestViolation_Panics(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok {
			t.Fatalf("recovered %T, want error", r)
		}
		var cv *ContractViolation
		if !errors.As(err, &cv) {
			t.Fatalf("recovered %v, want *ContractViolation", err)
		}
		if cv.Op != "UpdateState" {
			t.Errorf("Op = %q, want UpdateState", cv.Op)
		}
	}()
	Violation("UpdateState", "", "unknown action")
}
