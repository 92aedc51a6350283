package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/astrogeminibot/api/handlers"
	"github.com/BaSui01/astrogeminibot/internal/metrics"
	"github.com/BaSui01/astrogeminibot/internal/telemetry"
	"github.com/BaSui01/astrogeminibot/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware 包装一个 http.Handler
type Middleware func(http.Handler) http.Handler

// Chain 第一个中间件在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type requestIDKey struct{}

// RequestIDFromContext 没有时返回空串
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID 沿用客户端给的 X-Request-ID，否则生成一个 UUID；同时作为 trace id 放进上下文
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(handlers.RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(handlers.RequestIDHeader, id)
			ctx := types.WithTraceID(context.WithValue(r.Context(), requestIDKey{}, id), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recovery 把 panic 转成 500 信封
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				logger.Error("panic in handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Stack("stack"))
				handlers.WriteError(w, types.NewError(types.ErrInternalError, "internal server error"), logger)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 📈 观测
// =============================================================================

// Observe 每个请求一个 server span、一组 HTTP 指标和一条访问日志，共用同一个 StatusRecorder。
// collector 为 nil 时不记指标。
func Observe(logger *zap.Logger, collector *metrics.Collector) Middleware {
	tracer := otel.Tracer(telemetry.InstrumentationName + "/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := normalizePath(r.URL.Path)

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				))
			defer span.End()

			rec := handlers.NewStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			status, elapsed := rec.Status(), time.Since(start)
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			if collector != nil {
				collector.RecordHTTPRequest(r.Method, route, status, elapsed, rec.BytesWritten())
			}
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int64("bytes", rec.BytesWritten()),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", RequestIDFromContext(r.Context())))
		})
	}
}

// idSegment 数字、UUID 与长 hex 段
var idSegment = regexp.MustCompile(`^-?[0-9]+$|^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$`)

// normalizePath 把路径中的 ID 段替换为 :id，控制指标标签基数
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	changed := false
	for i, seg := range segments {
		if seg != "" && idSegment.MatchString(seg) {
			segments[i] = ":id"
			changed = true
		}
	}
	if !changed {
		return path
	}
	return strings.Join(segments, "/")
}

// =============================================================================
// 🔐 认证
// =============================================================================

// guard 只对 prefix 下的路径生效；check 返回错误时写出错误信封，否则用它返回的请求继续
func guard(prefix string, logger *zap.Logger, check func(*http.Request) (*http.Request, *types.Error)) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
			checked, apiErr := check(r)
			if apiErr != nil {
				handlers.WriteError(w, apiErr, logger)
				return
			}
			next.ServeHTTP(w, checked)
		})
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// APIKeyAuth 要求 prefix 下的请求带 X-API-Key。
// queryPaths 中的路径也接受 ?api_key=，浏览器的 WebSocket 握手无法设置请求头。
func APIKeyAuth(validKeys []string, prefix string, queryPaths []string, logger *zap.Logger) Middleware {
	keys, queryOK := toSet(validKeys), toSet(queryPaths)
	return guard(prefix, logger, func(r *http.Request) (*http.Request, *types.Error) {
		key := r.Header.Get("X-API-Key")
		if key == "" && queryOK[r.URL.Path] {
			key = r.URL.Query().Get("api_key")
		}
		if key == "" || !keys[key] {
			return nil, types.NewError(types.ErrUnauthorized, "invalid or missing API key")
		}
		return r, nil
	})
}

// adminClaims HS256 token 的载荷：标准字段 + roles
type adminClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTAuth 校验 prefix 下的 Bearer token，sub 与 roles 写入上下文；
// requiredRole 非空时还要求 roles 包含它
func JWTAuth(secret, prefix, requiredRole string, logger *zap.Logger) Middleware {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (any, error) {
		if secret == "" {
			return nil, errors.New("jwt secret not configured")
		}
		return []byte(secret), nil
	}

	return guard(prefix, logger, func(r *http.Request) (*http.Request, *types.Error) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			return nil, types.NewError(types.ErrUnauthorized, "missing or malformed Authorization header")
		}
		var claims adminClaims
		if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
			logger.Debug("jwt rejected", zap.Error(err))
			return nil, types.NewError(types.ErrUnauthorized, "invalid or expired token")
		}

		ctx := r.Context()
		if claims.Subject != "" {
			ctx = types.WithUserID(ctx, claims.Subject)
		}
		if len(claims.Roles) > 0 {
			ctx = types.WithRoles(ctx, claims.Roles)
		}
		if requiredRole != "" && !types.HasRole(ctx, requiredRole) {
			return nil, types.NewError(types.ErrForbidden, fmt.Sprintf("role %q required", requiredRole))
		}
		return r.WithContext(ctx), nil
	})
}

// =============================================================================
// 🚦 IP 限流
// =============================================================================

const (
	visitorIdle          = 3 * time.Minute
	visitorSweepInterval = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiters 每个客户端 IP 一个令牌桶
type ipLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

func (l *ipLimiters) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// prune 删除 cutoff 之前就不再活跃的 IP
func (l *ipLimiters) prune(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// RateLimiter 按 IP 限流，rps <= 0 时不启用；ctx 结束时停止清理 goroutine
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := &ipLimiters{limit: rate.Limit(rps), burst: max(burst, 1), visitors: make(map[string]*visitor)}

	go func() {
		ticker := time.NewTicker(visitorSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.prune(now.Add(-visitorIdle))
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r), time.Now()) {
				handlers.WriteError(w, types.NewError(types.ErrRateLimited, "too many requests"), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 🌐 响应头
// =============================================================================

// CORS allowedOrigins 为空时不发 CORS 头，跨域预检直接 403
func CORS(allowedOrigins []string) Middleware {
	allowed := toSet(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && origin != ""

			if allowed[origin] {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization")
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}

			switch {
			case preflight && len(allowed) == 0:
				w.WriteHeader(http.StatusForbidden)
			case r.Method == http.MethodOptions && len(allowed) > 0:
				w.WriteHeader(http.StatusNoContent)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Content-Security-Policy", "default-src 'self'"},
}

// SecurityHeaders 给每个响应加上固定的安全头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, kv := range securityHeaders {
				w.Header().Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}
