package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", New(KindForbidden, "tenant mismatch"), KindForbidden},
		{"wrapped once more", fmt.Errorf("handler: %w", New(KindConflict, "not cancellable")), KindConflict},
		{"plain error", errors.New("boom"), KindInternal},
		{"wrap preserves kind", Wrap(KindTransient, "provider timeout", errors.New("i/o timeout")), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransientPermanent(t *testing.T) {
	transient := New(KindTransient, "rate limited")
	permanent := New(KindPermanent, "invalid destination")

	if !IsTransient(transient) || IsTransient(permanent) {
		t.Error("IsTransient misclassified")
	}
	if !IsPermanent(permanent) || IsPermanent(transient) {
		t.Error("IsPermanent misclassified")
	}
}

func TestMessage_NeverLeaksInternalDetail(t *testing.T) {
	err := Wrap(KindInternal, "database exploded with credentials ...", errors.New("password=hunter2"))
	if got := Message(err); got != "internal error" {
		t.Errorf("Message() = %q, want generic message for internal errors", got)
	}

	plain := errors.New("password=hunter2")
	if got := Message(plain); got != "internal error" {
		t.Errorf("Message() = %q, want generic message for unclassified errors", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindBadRequest, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindTransient, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := HTTPStatus(New(tt.kind, "x")); got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := Wrap(KindTransient, "send failed", inner)
	if !errors.Is(err, inner) {
		t.Error("wrapped error should be reachable via errors.Is")
	}
}
