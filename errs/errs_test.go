package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(CodeTransientStore, WithOp("store.insert_order"), WithMessage("insert failed"), WithCause(cause))

	got := err.Error()
	for _, want := range []string{"store.insert_order", "insert failed", "transient_store", "connection refused"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestErrorWithoutMessage(t *testing.T) {
	got := New(CodeBroker).Error()
	if !strings.Contains(got, "pipeline error") || !strings.Contains(got, "broker") {
		t.Errorf("Error() = %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	err := New(CodeMissingField, WithOp("parser"))
	if code := CodeOf(err); code != CodeMissingField {
		t.Errorf("CodeOf = %q, want %q", code, CodeMissingField)
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if code := CodeOf(wrapped); code != CodeMissingField {
		t.Errorf("CodeOf(wrapped) = %q, want %q", code, CodeMissingField)
	}
	if code := CodeOf(errors.New("plain")); code != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", code)
	}
	if code := CodeOf(nil); code != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", code)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := New(CodeFatalStore, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find cause")
	}
}

func TestClassificationHelpers(t *testing.T) {
	cases := []struct {
		code      Code
		transient bool
		fatal     bool
		drop      bool
	}{
		{CodeMalformedPayload, false, false, true},
		{CodeMissingField, false, false, true},
		{CodeBadEnum, false, false, true},
		{CodeTransientStore, true, false, false},
		{CodeFatalStore, false, true, false},
		{CodeUnknownKPI, false, true, false},
		{CodeBroker, false, true, false},
		{CodeConfig, false, true, false},
	}
	for _, tc := range cases {
		err := New(tc.code)
		if got := IsTransient(err); got != tc.transient {
			t.Errorf("IsTransient(%s) = %v, want %v", tc.code, got, tc.transient)
		}
		if got := IsFatal(err); got != tc.fatal {
			t.Errorf("IsFatal(%s) = %v, want %v", tc.code, got, tc.fatal)
		}
		if got := IsDrop(err); got != tc.drop {
			t.Errorf("IsDrop(%s) = %v, want %v", tc.code, got, tc.drop)
		}
	}
}
