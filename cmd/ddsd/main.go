// Command ddsd is the domain participant daemon: it loads
// configuration, wires the event bus, entity registry, timed-event
// scheduler, and domain participant (which owns the matcher), and
// blocks until signaled to shut down,
// holding a per-domain-directory lock the whole time so only one
// daemon runs against a given socket/lock directory at once.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rtpsmesh/ddscore/internal/config"
	"github.com/rtpsmesh/ddscore/internal/ddsevents"
	"github.com/rtpsmesh/ddscore/internal/entity"
	"github.com/rtpsmesh/ddscore/internal/lockfile"
	"github.com/rtpsmesh/ddscore/internal/metrics"
	"github.com/rtpsmesh/ddscore/internal/participant"
	"github.com/rtpsmesh/ddscore/internal/sched"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ddsd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", "", "path to config.yaml")
		domainDir    = flag.String("domain-dir", defaultDomainDir(), "directory holding the daemon lock and sockets")
		exporterFlag = flag.String("metrics-exporter", "", "metrics exporter: none|stdout|otlp (overrides config)")
		otlpEndpoint = flag.String("metrics-otlp-endpoint", "", "OTLP/HTTP collector endpoint")
	)
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	exporter := metrics.Exporter(settings.MetricsExporter)
	if *exporterFlag != "" {
		exporter = metrics.Exporter(*exporterFlag)
	}
	endpoint := settings.MetricsOTLPEndpoint
	if *otlpEndpoint != "" {
		endpoint = *otlpEndpoint
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownMetrics, err := metrics.Init(ctx, "ddsd", exporter, endpoint)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("ddsd: metrics shutdown: %v", err)
		}
	}()

	lockFile, err := lockfile.AcquireDaemonLock(*domainDir, lockfile.LockInfo{
		Version: version,
	})
	if err != nil {
		if lockfile.IsLocked(err) {
			return fmt.Errorf("another ddsd already holds %s", *domainDir)
		}
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	defer func() {
		if err := lockfile.ReleaseDaemonLock(lockFile, *domainDir); err != nil {
			log.Printf("ddsd: release lock: %v", err)
		}
	}()

	bus := ddsevents.New()
	registry := entity.NewRegistry(bus)
	scheduler := sched.New(ctx)
	defer scheduler.Stop()

	dp := participant.New(registry, scheduler, settings)
	_ = dp // holds every writer/reader created over the control API once it exists

	log.Printf("ddsd: domain %d participant %q listening in %s (metrics=%s)",
		settings.DomainID, settings.ParticipantName, *domainDir, exporter)

	<-ctx.Done()
	log.Println("ddsd: shutting down")
	return nil
}

func defaultDomainDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ddscore")
	}
	return filepath.Join(dir, "ddscore")
}
