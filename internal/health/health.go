package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultTimeout = 2 * time.Second

// worse возвращает более тяжёлый из двух статусов.
func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Pinger — компонент, доступность которого проверяется через Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc адаптирует функцию к Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check — результат проверки одного компонента.
type Check struct {
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report — ответ /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

type probe struct {
	pinger   Pinger
	critical bool
}

// Handler опрашивает зарегистрированные компоненты и отдаёт сводку по HTTP.
type Handler struct {
	mu      sync.RWMutex
	probes  map[string]probe
	version string
	started time.Time
	timeout time.Duration
	now     func() time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		probes:  make(map[string]probe),
		version: version,
		started: time.Now(),
		timeout: defaultTimeout,
		now:     time.Now,
	}
}

// Register добавляет компонент, без которого сервис не готов (хранилища).
func (h *Handler) Register(name string, pinger Pinger) {
	h.add(name, probe{pinger: pinger, critical: true})
}

// RegisterOptional добавляет компонент, сбой которого только понижает статус до degraded.
func (h *Handler) RegisterOptional(name string, pinger Pinger) {
	h.add(name, probe{pinger: pinger})
}

func (h *Handler) add(name string, p probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = p
}

// Names возвращает имена компонентов по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.probes))
}

// Run опрашивает компоненты параллельно с общим таймаутом h.timeout.
func (h *Handler) Run(ctx context.Context) Report {
	h.mu.RLock()
	probes := maps.Clone(h.probes)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		group  errgroup.Group
		report = Report{
			Status:        StatusHealthy,
			Version:       h.version,
			UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
			Checks:        make(map[string]Check, len(probes)),
		}
	)
	for name, p := range probes {
		group.Go(func() error {
			check := p.run(ctx)
			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = check
			report.Status = worse(report.Status, check.Status)
			return nil
		})
	}
	_ = group.Wait()

	report.Timestamp = h.now().UTC()
	return report
}

func (p probe) run(ctx context.Context) Check {
	started := time.Now()
	err := p.pinger.Ping(ctx)
	check := Check{
		Status:     StatusHealthy,
		Critical:   p.critical,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		check.Status = StatusDegraded
		if p.critical {
			check.Status = StatusUnhealthy
		}
		check.Message = err.Error()
	}
	return check
}

// ServeHTTP отдаёт Report; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Run(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(report.Status))
	_ = json.NewEncoder(w).Encode(report)
}

// Ready — readiness probe: degraded сервис продолжает принимать запросы.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := h.Run(r.Context()).Status
	w.WriteHeader(statusCode(status))
	if status == StatusUnhealthy {
		_, _ = w.Write([]byte("not ready"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// Live — liveness probe, от зависимостей не зависит.
func Live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func statusCode(status Status) int {
	if status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
