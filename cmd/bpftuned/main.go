// Command bpftuned is the daemon's composition root: it wires
// configuration, logging, the correlation engine, namespace tracker,
// tunable registry, plugin host, ring consumer, and metrics endpoint
// together and runs the supervisor's event loop until a shutdown signal
// arrives. There is no command-line surface; every knob comes from
// BPFTUNE_* environment variables via internal/config.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"go.uber.org/zap"

	"github.com/ptr1337/bpftune/internal/config"
	"github.com/ptr1337/bpftune/internal/correlation"
	"github.com/ptr1337/bpftune/internal/metrics"
	"github.com/ptr1337/bpftune/internal/netns"
	"github.com/ptr1337/bpftune/internal/registry"
	"github.com/ptr1337/bpftune/internal/ring"
	"github.com/ptr1337/bpftune/internal/supervisor"
	"github.com/ptr1337/bpftune/internal/tcptune"
	"github.com/ptr1337/bpftune/internal/tuner"
	"github.com/ptr1337/bpftune/internal/tuner/goplugin"
	"github.com/ptr1337/bpftune/internal/tuner/sample"
)

func main() {
	os.Exit(int(run()))
}

func run() supervisor.ExitCode {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	tracker := netns.New(logger)
	reg := registry.New(cfg.NetnsEnabled, tracker, logger)
	reg.Metrics = m
	corr := correlation.New()

	host := tuner.NewHost(cfg.PluginDir, reg, corr, goplugin.New(), logger)

	if err := host.LoadStatic("sample", sample.EntryPoints(logger)); err != nil {
		logger.Error("failed to load static sample tuner", zap.Error(err))
		return supervisor.ExitInitFailure
	}
	if err := host.LoadStatic("tcp-buffer", tcptune.New(cfg.CorrThreshold, logger)); err != nil {
		logger.Error("failed to load static tcp-buffer tuner", zap.Error(err))
		return supervisor.ExitInitFailure
	}

	source, closer, err := openRingSource(cfg.RingMapPin)
	if err != nil {
		logger.Error("failed to open ring buffer", zap.Error(err))
		return supervisor.ExitInitFailure
	}
	if closer != nil {
		defer closer.Close()
	}

	consumer := ring.NewConsumer(source, host, tracker, cfg.DedupWindow, logger)
	consumer.Metrics = m

	sup := supervisor.New(consumer, tracker, host, m, cfg.RescanInterval, cfg.PluginDir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}

// openRingSource opens the pinned bpf ring buffer map that a separate
// kernel probe loader is responsible for populating; this daemon only
// consumes it.
func openRingSource(pinPath string) (ring.Source, interface{ Close() error }, error) {
	m, err := ebpf.LoadPinnedMap(pinPath, nil)
	if err != nil {
		return nil, nil, err
	}
	reader, err := ringbuf.NewReader(m)
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	return ring.NewCiliumSource(reader), reader, nil
}
