// Package logging provides secure logging with automatic redaction of
// credential material. Private keys, tickets, tokens, and proofs must never
// reach a log sink even when a call site slips.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive attribute values.
const RedactedValue = "[REDACTED]"

// sensitiveFields are attribute-name fragments that force redaction.
// Matching is case-insensitive substring matching, so "attestation_proof"
// and "bearer_token" are both caught.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"ticket_id",
	"proof",
	"private_key",
	"privatekey",
	"private-key",
	"credentials",
	"authorization",
	"bearer",
	"svid_pem",
	"key_pem",
}

// RedactorHandler wraps an slog.Handler and redacts sensitive attributes
// before they reach the underlying sink.
type RedactorHandler struct {
	handler slog.Handler
}

// NewRedactorHandler wraps handler with redaction.
func NewRedactorHandler(handler slog.Handler) *RedactorHandler {
	return &RedactorHandler{handler: handler}
}

// Enabled implements slog.Handler.
func (h *RedactorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler, rebuilding the record with redacted attrs.
func (h *RedactorHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.Record{
		Time:    record.Time,
		Level:   record.Level,
		Message: record.Message,
		PC:      record.PC,
	}
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})

	if err := h.handler.Handle(ctx, clean); err != nil {
		return fmt.Errorf("redactor handle failed: %w", err)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *RedactorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = redactAttr(attr)
	}
	return &RedactorHandler{handler: h.handler.WithAttrs(redacted)}
}

// WithGroup implements slog.Handler.
func (h *RedactorHandler) WithGroup(name string) slog.Handler {
	return &RedactorHandler{handler: h.handler.WithGroup(name)}
}

// redactAttr redacts sensitive attributes, descending into groups.
func redactAttr(attr slog.Attr) slog.Attr {
	if isSensitiveField(attr.Key) {
		return slog.Attr{Key: attr.Key, Value: slog.StringValue(RedactedValue)}
	}

	switch attr.Value.Kind() {
	case slog.KindGroup:
		group := attr.Value.Group()
		redacted := make([]slog.Attr, len(group))
		for i, ga := range group {
			redacted[i] = redactAttr(ga)
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(redacted...)}
	case slog.KindString:
		return slog.Attr{Key: attr.Key, Value: slog.StringValue(redactValue(attr.Value.String()))}
	default:
		return attr
	}
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range sensitiveFields {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// redactValue catches credential material flowing through non-sensitive keys:
// PEM blocks and anything shaped like a JWT.
func redactValue(value string) string {
	if strings.Contains(value, "-----BEGIN") {
		return RedactedValue
	}
	if strings.Count(value, ".") >= 2 && len(value) > 50 && !strings.ContainsAny(value, " \t\n") && strings.HasPrefix(value, "ey") {
		return RedactedValue
	}
	return value
}

// NewSecureLogger builds a *slog.Logger whose output passes through the
// redactor. All credo components log through one of these.
func NewSecureLogger(handler slog.Handler) *slog.Logger {
	return slog.New(NewRedactorHandler(handler))
}
