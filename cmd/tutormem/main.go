package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dotsetgreg/tutormem/pkg/config"
	"github.com/dotsetgreg/tutormem/pkg/logger"
	"github.com/dotsetgreg/tutormem/pkg/memory"
	"github.com/dotsetgreg/tutormem/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "tutormem"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("TUTORMEM_CONFIG")); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tutormem", "config.json")
}

// appRuntime is what every memory command works against.
type appRuntime struct {
	cfg      *config.Config
	mem      *memory.Manager
	registry *prometheus.Registry
}

func (rt *appRuntime) Close() {
	if rt.mem != nil {
		if err := rt.mem.Close(); err != nil {
			logger.WarnCF("cli", "Close memory store", map[string]interface{}{"error": err.Error()})
		}
	}
	logger.Sync()
}

func storeConfigFor(cfg *config.Config) memory.StoreConfig {
	return memory.StoreConfig{
		Type:         memory.StoreType(strings.ToLower(strings.TrimSpace(cfg.Memory.Backend))),
		Path:         cfg.DatabasePath(),
		SnapshotPath: cfg.SnapshotFile(),
	}
}

func openRuntime(configPath string) (*appRuntime, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	rt := &appRuntime{cfg: cfg}
	memCfg := memory.Config{
		DeviationThreshold: cfg.Memory.DeviationThreshold,
		HistoryLimit:       cfg.Memory.HistoryLimit,
	}
	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		mm, err := metrics.NewMemory(rt.registry)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		memCfg.Metrics = mm
	}

	storeCfg := storeConfigFor(cfg)
	mem, err := memory.Open(storeCfg, memCfg)
	if err != nil {
		return nil, fmt.Errorf("open teaching memory: %w", err)
	}
	rt.mem = mem
	logger.DebugCF("cli", "Teaching memory ready", map[string]interface{}{
		"backend": mem.Backend(),
		"path":    storeCfg.Path,
	})
	return rt, nil
}

// serveMetrics exposes the runtime registry on addr until ctx is done.
func serveMetrics(ctx context.Context, rt *appRuntime, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	if rt.registry == nil {
		return fmt.Errorf("metrics.enabled is false; enable it in config to serve %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("cli", "Metrics server failed", map[string]interface{}{"addr": addr, "error": err.Error()})
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.InfoCF("cli", "Serving metrics", map[string]interface{}{"addr": addr})
	return nil
}
