package main

import (
	"errors"
	"log"
	"net/http"

	"github.com/jacobsa/fuse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rarydzu/spoolfs/spoolfs/config"
	"github.com/rarydzu/spoolfs/spoolfs/file"
	"github.com/rarydzu/spoolfs/spoolfs/metrics"
	"github.com/rarydzu/spoolfs/worker"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()
	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := zap.NewProduction()
	if cfg.DebugMode {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	sugarlog := logger.Sugar()
	defer sugarlog.Sync()

	if cfg.Mountpoint == "" {
		log.Fatalf("You must set --mount_point.")
	}

	cfg.FuseCfg = &fuse.MountConfig{
		ReadOnly:    cfg.ReadOnly,
		ErrorLogger: zap.NewStdLog(sugarlog.Desugar()),
		FSName:      cfg.FilesystemName,
	}
	if cfg.FuseDebug {
		cfg.FuseCfg.DebugLogger = zap.NewStdLog(sugarlog.Desugar())
	}

	var spoolMetrics file.Metrics
	if cfg.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		spoolMetrics = metrics.New(reg)
		go func() {
			err := http.ListenAndServe(cfg.MetricsAddress, metrics.Handler(reg))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				sugarlog.Errorf("metrics server: %v", err)
			}
		}()
	}

	worker, err := worker.New(cfg, sugarlog, spoolMetrics)
	if err != nil {
		log.Fatalf("makeFS: %v", err)
	}
	worker.SetReloader(func() (*config.Config, error) {
		return config.Load(pflag.CommandLine)
	})
	if err := worker.Start(); err != nil {
		log.Fatalf("Start: %v", err)
	}
	worker.Wait()
}
