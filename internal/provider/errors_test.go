package provider

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_KindOf(t *testing.T) {
	err := NewError(KindQuotaExceeded, "limit reached")
	if KindOf(err) != KindQuotaExceeded {
		t.Errorf("Expected quota_exceeded, got %s", KindOf(err))
	}

	wrapped := fmt.Errorf("while downloading: %w", err)
	if KindOf(wrapped) != KindQuotaExceeded {
		t.Errorf("Expected kind to survive wrapping, got %s", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("Expected internal kind for untyped error")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(KindUnavailable, "provider unreachable", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	if ReasonOf(err) != "provider unreachable" {
		t.Errorf("Expected reason string, got %q", ReasonOf(err))
	}
}

func TestType_Validity(t *testing.T) {
	tests := []struct {
		typ     Type
		builtin bool
		valid   bool
	}{
		{TypeOllama, true, true},
		{TypeOpenAICompat, true, true},
		{TypeLlamaServer, true, true},
		{CustomType("my-endpoint"), false, true},
		{Type("custom:"), false, false},
		{Type("unknown"), false, false},
	}

	for _, tt := range tests {
		if tt.typ.IsBuiltin() != tt.builtin {
			t.Errorf("%s: expected IsBuiltin=%v", tt.typ, tt.builtin)
		}
		if tt.typ.IsValid() != tt.valid {
			t.Errorf("%s: expected IsValid=%v", tt.typ, tt.valid)
		}
	}
}
