package errors

import (
	stderrors "errors"
	"testing"
)

// TestWrapPreservesCode tests that wrapping an AppError keeps its
// original classification
func TestWrapPreservesCode(t *testing.T) {
	base := ConfigInvalid("batch size must be positive")
	wrapped := Wrap(base, "loading configuration")

	if GetCode(wrapped) != CodeConfigInvalid {
		t.Errorf("Expected code %s, got %s", CodeConfigInvalid, GetCode(wrapped))
	}
	if !stderrors.Is(wrapped, base) {
		t.Error("Wrapped error should unwrap to its cause")
	}
}

// TestWrapForeignError tests that wrapping an arbitrary error classifies
// it as internal
func TestWrapForeignError(t *testing.T) {
	cause := stderrors.New("disk full")
	wrapped := Wrap(cause, "persisting model")

	if GetCode(wrapped) != CodeInternalError {
		t.Errorf("Expected internal classification, got %s", GetCode(wrapped))
	}
	if !stderrors.Is(wrapped, cause) {
		t.Error("Cause lost in wrapping")
	}
}

// TestConstructors tests the per-category constructors
func TestConstructors(t *testing.T) {
	cause := stderrors.New("underlying fault")
	tests := []struct {
		err  error
		code string
	}{
		{ConfigInvalid("x"), CodeConfigInvalid},
		{InvalidConfiguration(cause), CodeConfigInvalid},
		{LookupError(cause), CodeLookupError},
		{StoreIntegrity(cause), CodeStoreIntegrity},
		{AllSpecsFailed(cause), CodeAllSpecsFailed},
		{DatabaseError(cause), CodeDatabaseError},
	}
	for _, test := range tests {
		if GetCode(test.err) != test.code {
			t.Errorf("Expected code %s, got %s", test.code, GetCode(test.err))
		}
		if test.err.Error() == "" {
			t.Error("Expected a message")
		}
	}
	for _, test := range tests[1:] {
		if !stderrors.Is(test.err, cause) {
			t.Errorf("%s constructor lost its cause", GetCode(test.err))
		}
	}
	if GetCode(stderrors.New("plain")) != "UNKNOWN" {
		t.Error("Foreign errors should report UNKNOWN")
	}
}
