// Package observability holds the logging, metrics and tracing helpers shared
// by the API, the feed pipeline and the websocket hubs.
package observability

import (
	"context"
	"log/slog"
)

// RepoLogger logs writes against one table. Successful writes log at debug;
// failures log at error with the table and operation attached.
type RepoLogger struct {
	table string
}

// NewRepoLogger returns a RepoLogger for table.
func NewRepoLogger(table string) *RepoLogger {
	return &RepoLogger{table: table}
}

// Wrote records a successful write.
func (l *RepoLogger) Wrote(ctx context.Context, op string, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{slog.String("table", l.table), slog.String("operation", op)}, attrs...)
	slog.Default().LogAttrs(ctx, slog.LevelDebug, "repository write", attrs...)
}

// Failed records a write the database rejected.
func (l *RepoLogger) Failed(ctx context.Context, op string, err error) {
	slog.Default().LogAttrs(ctx, slog.LevelError, "repository error",
		slog.String("table", l.table),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// WSLogger logs connection lifecycle events of one hub.
type WSLogger struct {
	hub string
}

// NewWSLogger returns a WSLogger for the named hub.
func NewWSLogger(hub string) *WSLogger {
	return &WSLogger{hub: hub}
}

func (l *WSLogger) attrs(userID uint, extra ...slog.Attr) []slog.Attr {
	return append([]slog.Attr{slog.String("hub", l.hub), slog.Uint64("user_id", uint64(userID))}, extra...)
}

// Connected records a registered client.
func (l *WSLogger) Connected(ctx context.Context, userID uint) {
	slog.Default().LogAttrs(ctx, slog.LevelInfo, "websocket connected", l.attrs(userID)...)
}

// Disconnected records a client leaving the hub.
func (l *WSLogger) Disconnected(ctx context.Context, userID uint, reason string) {
	slog.Default().LogAttrs(ctx, slog.LevelInfo, "websocket disconnected",
		l.attrs(userID, slog.String("reason", reason))...)
}

// ReadFailed records a connection that broke without a close frame.
func (l *WSLogger) ReadFailed(ctx context.Context, userID uint, err error) {
	slog.Default().LogAttrs(ctx, slog.LevelWarn, "websocket read failed",
		l.attrs(userID, slog.String("error", err.Error()))...)
}
