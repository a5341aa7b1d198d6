package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/pulse/internal/simulator"
	"github.com/okian/pulse/pkg/logger"
)

// Default configuration constants.
const (
	defaultRiders   = 12
	defaultDuration = 5 * time.Minute
	defaultCadence  = time.Second
	defaultWorkers  = 2 // multiplier for runtime.NumCPU()
	defaultTimeout  = 10 * time.Second
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		riders    = flag.Int("riders", defaultRiders, "Number of riders on the floor")
		duration  = flag.Duration("duration", defaultDuration, "How long riders broadcast")
		cadence   = flag.Duration("cadence", defaultCadence, "Time between two samples of one device")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent HTTP workers")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		seed      = flag.Uint64("seed", 1, "Seed of the rider curves")
		guestSwap = flag.Duration("guest-swap", 0, "Hand the first strap to a guest after this long (0 disables)")
		noEnd     = flag.Bool("no-end", false, "Leave the session running when riders stop")
		logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(*logLevel); err != nil {
		os.Stderr.WriteString("Invalid log level: " + err.Error() + "\n")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &simulator.Config{
		BaseURL:     *baseURL,
		Riders:      *riders,
		Duration:    *duration,
		Cadence:     *cadence,
		Workers:     *workers,
		Timeout:     *timeout,
		Seed:        *seed,
		GuestSwapAt: *guestSwap,
		NoEnd:       *noEnd,
	}
	if _, err := simulator.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
