package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/astrogeminibot/llm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultReadyTimeout /ready 所有检查共享的超时
const defaultReadyTimeout = 5 * time.Second

// HealthCheck 就绪检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// ServiceHealthResponse /health 与 /ready 的响应
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // healthy | unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项检查结果
type CheckResult struct {
	Status  string `json:"status"` // pass | fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthHandler 存活、就绪与版本端点
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{logger: logger, timeout: defaultReadyTimeout}
}

// RegisterCheck 注册一项就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, check)
	h.mu.Unlock()
}

// HandleHealth GET /health，只说明进程活着
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// HandleHealthz GET /healthz，Kubernetes 风格别名
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) { h.HandleHealth(w, r) }

// HandleReady GET /ready，所有检查并发执行，任一失败返回 503
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	resp := ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	code := http.StatusOK
	for i, check := range checks {
		resp.Checks[check.Name()] = results[i]
		if results[i].Status != "pass" {
			resp.Status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}
	WriteJSON(w, code, resp)
}

func (h *HealthHandler) run(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)
	if err == nil {
		return CheckResult{Status: "pass", Latency: latency.String()}
	}
	h.logger.Warn("readiness check failed",
		zap.String("check", check.Name()),
		zap.Duration("latency", latency),
		zap.Error(err))
	return CheckResult{Status: "fail", Message: err.Error(), Latency: latency.String()}
}

// HandleVersion GET /version，值由 ldflags 注入
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{"version": version, "build_time": buildTime, "git_commit": gitCommit}
	return func(w http.ResponseWriter, _ *http.Request) { WriteSuccess(w, info) }
}

// =============================================================================
// 🔧 检查实现
// =============================================================================

// funcCheck 用函数实现 HealthCheck
type funcCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcCheck) Name() string                    { return c.name }
func (c funcCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// NewPingCheck 包装 Redis、数据库的 Ping
func NewPingCheck(name string, ping func(ctx context.Context) error) HealthCheck {
	return funcCheck{name: name, fn: ping}
}

// NewProviderHealthCheck 名称为 provider:<name>，Provider 报告不健康时失败
func NewProviderHealthCheck(p llm.Provider) HealthCheck {
	return funcCheck{name: "provider:" + p.Name(), fn: func(ctx context.Context) error {
		st, err := p.HealthCheck(ctx)
		switch {
		case err != nil:
			return err
		case st == nil || st.Healthy:
			return nil
		case st.Message != "":
			return fmt.Errorf("unhealthy: %s", st.Message)
		default:
			return errors.New("unhealthy")
		}
	}}
}

// NewCatalogCheck 至少要配置一个 Provider
func NewCatalogCheck(c *llm.Catalog) HealthCheck {
	return funcCheck{name: "providers", fn: func(context.Context) error {
		if c.Empty() {
			return errors.New("no AI providers configured")
		}
		return nil
	}}
}
