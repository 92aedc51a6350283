package types

import (
	"context"
	"slices"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	userIDKey
	rolesKey
)

// WithTraceID 请求 ID 同时作为日志与 Provider 调用的 trace_id
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID 空串视为未设置
func TraceID(ctx context.Context) (string, bool) {
	return nonEmpty(ctx, traceIDKey)
}

// WithUserID JWT 的 subject
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func UserID(ctx context.Context) (string, bool) {
	return nonEmpty(ctx, userIDKey)
}

func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, roles)
}

func Roles(ctx context.Context) ([]string, bool) {
	roles, _ := ctx.Value(rolesKey).([]string)
	return roles, len(roles) > 0
}

func HasRole(ctx context.Context, role string) bool {
	roles, _ := Roles(ctx)
	return slices.Contains(roles, role)
}

func nonEmpty(ctx context.Context, key ctxKey) (string, bool) {
	s, _ := ctx.Value(key).(string)
	return s, s != ""
}
