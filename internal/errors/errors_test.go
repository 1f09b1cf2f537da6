package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, ErrCodeInternal, "save rule")

	if err.Error() != "save rule: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if NotFound("rule not found").Error() != "rule not found" {
		t.Error("unexpected message without cause")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, ErrCodeInternal, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("service: %w", NotFoundf("rule %s not found", "r1"))

	if !IsNotFound(wrapped) {
		t.Error("expected IsNotFound through wrapping")
	}
	if IsConflict(wrapped) {
		t.Error("did not expect IsConflict")
	}
	if !IsValidation(ValidationField("name", "required")) {
		t.Error("expected IsValidation")
	}
	if GetField(ValidationField("name", "required")) != "name" {
		t.Error("expected field name")
	}
	if !IsUnavailable(Wrapf(errors.New("dial"), ErrCodeUnavailable, "redis %s", "down")) {
		t.Error("expected IsUnavailable")
	}
	if GetCode(errors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
	if !IsConflict(Conflict("dup")) || !IsTimeout(&AppError{Code: ErrCodeTimeout}) {
		t.Error("expected code predicates to match")
	}
	if Internal("x").Code != ErrCodeInternal || Validationf("bad %s", "x").Message != "bad x" {
		t.Error("unexpected constructor output")
	}
}

func TestConstructorsKeepMessageVerbatim(t *testing.T) {
	msg := "quota at 100% for %s"
	cases := map[string]*AppError{
		"not_found":  NotFound(msg),
		"conflict":   Conflict(msg),
		"validation": Validation(msg),
		"field":      ValidationField("name", msg),
		"internal":   Internal(msg),
	}
	for name, err := range cases {
		if err.Message != msg {
			t.Errorf("%s: Message = %q, want %q", name, err.Message, msg)
		}
	}
	if got := NotFoundf("rule %q", "r1").Message; got != `rule "r1"` {
		t.Errorf("NotFoundf Message = %q", got)
	}
}
