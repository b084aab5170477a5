package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
)

// HealthStatus is the state of a single check.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
	StatusStarting  HealthStatus = "starting"
)

const defaultCheckTimeout = 5 * time.Second

// HealthCheck is the last result of one checker. It is served as JSON by the
// status API.
type HealthCheck struct {
	LastChecked time.Time     `json:"last_checked"`
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// HealthChecker is one check of the daemon, such as provider reachability.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
	Timeout() time.Duration
}

// HealthMonitor runs registered checks on an interval and keeps the latest
// result of each.
type HealthMonitor struct {
	ctx      context.Context
	checkers map[string]HealthChecker
	results  map[string]*HealthCheck
	logger   *logging.EventLogger
	metrics  *ApplicationMetrics
	cancel   context.CancelFunc

	// Limits concurrent checks.
	checkSem chan struct{}

	wg            sync.WaitGroup
	checkInterval time.Duration
	mu            sync.RWMutex
}

// NewHealthMonitor creates a monitor that runs its checks every
// checkInterval once started. metrics may be nil.
func NewHealthMonitor(logger *logging.Logger, metrics *ApplicationMetrics, checkInterval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	eventLogger := logging.NewEventLogger(logger)

	if checkInterval <= 0 {
		eventLogger.LogDaemon(logging.LevelWarn, "invalid health check interval provided, using default", "validate", map[string]interface{}{
			"provided_interval": checkInterval.String(),
			"default_interval":  time.Minute.String(),
		})

		checkInterval = time.Minute
	}

	return &HealthMonitor{
		checkers:      make(map[string]HealthChecker),
		results:       make(map[string]*HealthCheck),
		logger:        eventLogger,
		metrics:       metrics,
		checkInterval: checkInterval,
		ctx:           ctx,
		cancel:        cancel,
		checkSem:      make(chan struct{}, 4),
	}
}

// RegisterChecker adds checker, replacing any check of the same name.
func (hm *HealthMonitor) RegisterChecker(checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[checker.Name()] = checker
	hm.results[checker.Name()] = &HealthCheck{
		Name:        checker.Name(),
		Status:      StatusStarting,
		LastChecked: time.Now(),
	}
}

// Start runs the checks once and then on every interval until Stop.
func (hm *HealthMonitor) Start() {
	hm.wg.Add(1)
	go hm.monitorLoop()

	hm.logger.LogDaemon(logging.LevelInfo, "health monitor started", "start", map[string]interface{}{
		"interval": hm.checkInterval.String(),
	})
}

// Stop ends the monitor loop and waits for in-flight checks.
func (hm *HealthMonitor) Stop() {
	hm.cancel()
	hm.wg.Wait()

	hm.logger.LogDaemon(logging.LevelInfo, "health monitor stopped", "stop", nil)
	hm.logger.Close()
}

// GetHealth returns a copy of the latest result for each registered check.
func (hm *HealthMonitor) GetHealth() map[string]*HealthCheck {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	result := make(map[string]*HealthCheck, len(hm.results))
	for name, check := range hm.results {
		c := *check
		result[name] = &c
	}

	return result
}

// Checks returns the latest results sorted by name.
func (hm *HealthMonitor) Checks() []HealthCheck {
	health := hm.GetHealth()

	out := make([]HealthCheck, 0, len(health))
	for _, c := range health {
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// GetOverallHealth folds every check into one status. Any unhealthy check
// wins over a starting one.
func (hm *HealthMonitor) GetOverallHealth() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	if len(hm.results) == 0 {
		return StatusUnknown
	}

	hasStarting := false

	for _, check := range hm.results {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusStarting:
			hasStarting = true
		}
	}

	if hasStarting {
		return StatusStarting
	}

	return StatusHealthy
}

// IsHealthy reports whether every registered check passes.
func (hm *HealthMonitor) IsHealthy() bool {
	return hm.GetOverallHealth() == StatusHealthy
}

// RunChecks runs every check once and waits for the results.
func (hm *HealthMonitor) RunChecks() {
	hm.mu.RLock()
	checkers := make([]HealthChecker, 0, len(hm.checkers))
	for _, checker := range hm.checkers {
		checkers = append(checkers, checker)
	}
	hm.mu.RUnlock()

	var wg sync.WaitGroup

	for _, checker := range checkers {
		wg.Add(1)

		go func(c HealthChecker) {
			defer wg.Done()

			select {
			case hm.checkSem <- struct{}{}:
				defer func() { <-hm.checkSem }()
				hm.runCheck(c)
			case <-hm.ctx.Done():
			}
		}(checker)
	}

	wg.Wait()
}

func (hm *HealthMonitor) monitorLoop() {
	defer hm.wg.Done()

	ticker := time.NewTicker(hm.checkInterval)
	defer ticker.Stop()

	hm.RunChecks()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.RunChecks()
		}
	}
}

func (hm *HealthMonitor) runCheck(checker HealthChecker) {
	start := time.Now()

	timeout := checker.Timeout()
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	ctx, cancel := context.WithTimeout(hm.ctx, timeout)
	defer cancel()

	err := checker.Check(ctx)
	duration := time.Since(start)

	result := &HealthCheck{
		Name:        checker.Name(),
		LastChecked: time.Now(),
		Duration:    duration,
		Status:      StatusHealthy,
		Message:     "OK",
	}

	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		result.Error = err.Error()
	}

	hm.mu.Lock()
	prev := hm.results[checker.Name()]
	hm.results[checker.Name()] = result
	hm.mu.Unlock()

	if hm.metrics != nil {
		hm.metrics.RecordHealthCheck(checker.Name(), err == nil, duration)
	}

	// Only status changes are worth a log line at this rate.
	if prev != nil && prev.Status == result.Status {
		return
	}

	level := logging.LevelInfo
	if err != nil {
		level = logging.LevelWarn
	}

	hm.logger.LogDaemon(level, "health status changed", "health_check", map[string]interface{}{
		"checker":  checker.Name(),
		"status":   string(result.Status),
		"duration": duration.String(),
		"error":    result.Error,
	})
}

// FuncChecker adapts a function into a HealthChecker.
type FuncChecker struct {
	check   func(ctx context.Context) error
	name    string
	timeout time.Duration
}

// NewFuncChecker returns a checker named name that calls check.
func NewFuncChecker(name string, timeout time.Duration, check func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, timeout: timeout, check: check}
}

func (f *FuncChecker) Name() string           { return f.name }
func (f *FuncChecker) Timeout() time.Duration { return f.timeout }

func (f *FuncChecker) Check(ctx context.Context) error {
	if f.check == nil {
		return errors.New("no test function provided")
	}

	return f.check(ctx)
}

// MemoryHealthChecker fails when the resident set size of this process
// exceeds a limit.
type MemoryHealthChecker struct {
	metrics        *ApplicationMetrics
	rss            func(ctx context.Context) (uint64, error)
	name           string
	maxMemoryBytes uint64
}

// NewMemoryHealthChecker returns a checker limiting RSS to maxMemoryBytes. A
// zero limit only records usage. metrics may be nil.
func NewMemoryHealthChecker(name string, maxMemoryBytes uint64, metrics *ApplicationMetrics) *MemoryHealthChecker {
	return &MemoryHealthChecker{
		name:           name,
		maxMemoryBytes: maxMemoryBytes,
		metrics:        metrics,
		rss:            processRSS,
	}
}

func (m *MemoryHealthChecker) Name() string           { return m.name }
func (m *MemoryHealthChecker) Timeout() time.Duration { return time.Second }

func (m *MemoryHealthChecker) Check(ctx context.Context) error {
	rss, err := m.rss(ctx)
	if err != nil {
		return fmt.Errorf("failed to read process memory: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordMemoryUsage(rss)
	}

	if m.maxMemoryBytes > 0 && rss > m.maxMemoryBytes {
		return fmt.Errorf("resident memory %d bytes exceeds limit %d", rss, m.maxMemoryBytes)
	}

	return nil
}

func processRSS(ctx context.Context) (uint64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}

	info, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}

	return info.RSS, nil
}

// diskUsage is the size of a filesystem and the bytes still writable on it.
type diskUsage struct {
	Total     uint64
	Available uint64
}

// DiskSpaceHealthChecker fails when the filesystem holding path has less than
// minFreeBytes available. The daemon points it at the config directory, where
// the log file usually lives too.
type DiskSpaceHealthChecker struct {
	name         string
	path         string
	minFreeBytes uint64
}

// NewDiskSpaceHealthChecker creates a DiskSpaceHealthChecker for path.
func NewDiskSpaceHealthChecker(name, path string, minFreeBytes uint64) *DiskSpaceHealthChecker {
	return &DiskSpaceHealthChecker{
		name:         name,
		path:         path,
		minFreeBytes: minFreeBytes,
	}
}

func (d *DiskSpaceHealthChecker) Name() string           { return d.name }
func (d *DiskSpaceHealthChecker) Timeout() time.Duration { return 2 * time.Second }

func (d *DiskSpaceHealthChecker) Check(ctx context.Context) error {
	usage, err := statDisk(d.path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", d.path, err)
	}

	if usage.Available < d.minFreeBytes {
		return fmt.Errorf("%s has %d of %d bytes free, want at least %d", d.path, usage.Available, usage.Total, d.minFreeBytes)
	}

	return nil
}
