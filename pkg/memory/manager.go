package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/tutormem/pkg/logger"
	"github.com/dotsetgreg/tutormem/pkg/metrics"
)

const (
	DefaultDeviationThreshold = 0.3
	DefaultHistoryLimit       = 10

	deviationWindow     = 5
	deviationMinSamples = 3
	reviewScoreCeiling  = 0.7
	reviewMaxItems      = 3
	recentTopicsWindow  = 5
)

// Config configures the Manager.
type Config struct {
	// DeviationThreshold is used when CheckTopicDeviation gets a threshold <= 0
	// and by RecordTeachingInteraction to count off-topic turns.
	DeviationThreshold float64
	// HistoryLimit applies when GetTeachingHistory gets a limit <= 0.
	HistoryLimit int
	Metrics      *metrics.Memory
	// Clock overrides time.Now for persisted timestamps.
	Clock func() time.Time
}

// Manager is the teaching memory facade. It owns its Store; construct one
// per process and share it.
type Manager struct {
	cfg     Config
	store   Store
	metrics *metrics.Memory
	now     func() time.Time

	closeOnce sync.Once
	closeErr  error
}

func NewManager(store Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if cfg.DeviationThreshold <= 0 {
		cfg.DeviationThreshold = DefaultDeviationThreshold
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:     cfg,
		store:   store,
		metrics: cfg.Metrics,
		now:     now,
	}, nil
}

// Open opens the configured backend and wraps it in a Manager.
func Open(storeCfg StoreConfig, cfg Config) (*Manager, error) {
	store, err := OpenStore(storeCfg)
	if err != nil {
		return nil, err
	}
	m, err := NewManager(store, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.InfoCF("memory", "Teaching memory ready", map[string]interface{}{
		"backend": store.Backend(),
	})
	return m, nil
}

func (m *Manager) Store() Store { return m.store }

func (m *Manager) Backend() string { return m.store.Backend() }

func (m *Manager) DeviationThreshold() float64 { return m.cfg.DeviationThreshold }

func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.store.Close()
	})
	return m.closeErr
}

// observe records the outcome of op and logs failures. found=false marks a
// lookup miss.
func (m *Manager) observe(op string, started time.Time, err error, found bool) {
	outcome := metrics.OutcomeOK
	switch {
	case err != nil && IsValidation(err):
		outcome = metrics.OutcomeInvalid
		logger.WarnCF("memory", "Rejected invalid input", map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		})
	case err != nil:
		outcome = metrics.OutcomeError
		logger.ErrorCF("memory", "Memory operation failed", map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		})
	case !found:
		outcome = metrics.OutcomeNotFound
	}
	m.metrics.Observe(op, outcome, started)
}

// notFound folds ErrNotFound into a miss.
func notFound(err error) (bool, error) {
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	return false, err
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
