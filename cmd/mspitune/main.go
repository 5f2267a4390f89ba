// Command mspitune runs the MSPI timing tuning pass against a target and
// serves the resulting state over HTTP.
//
// With -backend sim (the default) the target is simulated, which is how the
// engine is exercised on a development host. -backend devmem maps the
// registers from /dev/mem; -backend bridge drives a target running the
// register monitor over a serial port.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/micro-nova/mspi-tuning/internal/api"
	"github.com/micro-nova/mspi-tuning/internal/config"
	"github.com/micro-nova/mspi-tuning/internal/events"
	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/models"
	"github.com/micro-nova/mspi-tuning/internal/mspi"
	"github.com/micro-nova/mspi-tuning/internal/report"
	"github.com/micro-nova/mspi-tuning/internal/zeroconf"
)

func main() {
	var (
		backendKind = flag.String("backend", "sim", "register backend: sim, devmem or bridge")
		serialDev   = flag.String("serial", "", "serial device of the register monitor (bridge backend)")
		baud        = flag.Int("baud", 921600, "serial baud rate (bridge backend)")
		resetPin    = flag.String("reset-pin", "", "host GPIO driving the target EN line, e.g. GPIO17 (bridge backend)")
		bootPin     = flag.String("boot-pin", "", "host GPIO driving the target GPIO0 strap (bridge backend)")
		profilePath = flag.String("profile", "", "board profile JSON (default: ~/.config/mspitune/profile.json)")
		addr        = flag.String("addr", ":8080", "HTTP listen address")
		reportDir   = flag.String("report-dir", "", "directory for tuning reports (default: next to the profile)")
		reportAge   = flag.Duration("report-max-age", 90*24*time.Hour, "delete tuning reports older than this")
		debug       = flag.Bool("debug", false, "enable debug logging")
		noZeroconf  = flag.Bool("no-zeroconf", false, "do not advertise over mDNS")
		verifyRef   = flag.Bool("verify-reference", true, "read the PSRAM reference back before sweeping")
		cacheMode   = flag.String("cache", "freeze", "cache suspension around timing writes: freeze or disable")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if *profilePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*profilePath = filepath.Join(home, ".config", "mspitune", "profile.json")
	}
	if *reportDir == "" {
		*reportDir = filepath.Join(filepath.Dir(*profilePath), "reports")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Board profile
	store := config.NewJSONStore(*profilePath)
	board, err := store.Load()
	if err != nil {
		slog.Error("invalid board profile", "err", err)
		os.Exit(1)
	}
	if _, err := os.Stat(*profilePath); errors.Is(err, os.ErrNotExist) {
		if err := store.Save(board); err == nil {
			if err := store.Flush(); err != nil {
				slog.Warn("failed to write default profile", "path", *profilePath, "err", err)
			}
		}
	}
	slog.Info("board profile", "name", board.Name, "core", board.CoreClock.String(),
		"flash", board.Flash.Freq.String(), "psram", board.PSRAM.Freq.String())

	// Register backend
	be, err := openBackend(backendOptions{
		kind:     *backendKind,
		serial:   *serialDev,
		baud:     *baud,
		resetPin: *resetPin,
		bootPin:  *bootPin,
	}, *board)
	if err != nil {
		slog.Error("backend initialization failed", "err", err)
		os.Exit(1)
	}
	defer be.Close()

	var guard *mspi.CacheGuard
	switch *cacheMode {
	case "freeze":
		guard = mspi.FreezingGuard(hardware.NewExtmemFreezer(be.regs))
	case "disable":
		guard = mspi.DisablingGuard(hardware.NewExtmemDisabler(be.regs), mspi.ExternalMemoryRanges...)
	default:
		slog.Error("unknown cache mode", "cache", *cacheMode)
		os.Exit(1)
	}

	// Controller. The observer runs after every transition and must not block.
	bus := events.NewBus()
	var ctrl *mspi.Controller
	opts := mspi.DefaultOptions()
	opts.VerifyReference = *verifyRef
	opts.Observer = func(tr mspi.Transition) {
		typ := models.EventMode
		if tr.TuningPort {
			typ = models.EventTuned
		}
		bus.Publish(models.Event{
			Type:    typ,
			Time:    time.Now().UTC(),
			Elapsed: tr.Elapsed.String(),
			Status:  models.NewStatus(ctrl.Snapshot(), ctrl.FlashTimingParam()),
		})
	}
	ctrl, err = mspi.New(be.regs, *board, guard, opts)
	if err != nil {
		slog.Error("controller initialization failed", "err", err)
		os.Exit(1)
	}

	// Boot-time tuning pass
	mspiBus := hardware.NewMSPI(be.regs)
	devs, err := detect(ctrl, mspiBus, *board)
	if err != nil {
		slog.Error("external memory not usable, aborting", "err", err)
		os.Exit(1)
	}
	outs, err := tuneAll(ctrl, devs)
	if err != nil {
		slog.Error("tuning failed", "err", err)
		os.Exit(1)
	}
	if err := be.Err(); err != nil {
		slog.Error("register backend failed during tuning", "err", err)
		os.Exit(1)
	}

	reports, err := report.NewStore(*reportDir)
	if err != nil {
		slog.Warn("reports disabled", "err", err)
	} else {
		reports.Prune(*reportAge)
		rep := &models.Report{Backend: be.name, Board: board.Name}
		for _, o := range outs {
			rep.Outcomes = append(rep.Outcomes, models.NewOutcome(o))
		}
		if err := reports.Save(rep); err != nil {
			slog.Warn("failed to save tuning report", "err", err)
		} else {
			slog.Info("tuning report saved", "id", rep.ID, "dir", *reportDir)
		}
	}

	// Zeroconf mDNS registration
	if !*noZeroconf {
		hostname, _ := os.Hostname()
		port := 8080
		if parts := strings.SplitN(*addr, ":", 2); len(parts) == 2 && parts[1] != "" {
			if p, err := strconv.Atoi(parts[1]); err == nil {
				port = p
			}
		}
		zc := zeroconf.New("mspitune-"+hostname, port, zeroconf.BoardTXT(*board, be.name))
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	// HTTP server
	var rs api.Reports
	if reports != nil {
		rs = reports
	}
	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.NewRouter(ctrl, rs, bus),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("mspitune listening", "addr", *addr, "backend", be.name, "profile", *profilePath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := store.Flush(); err != nil {
		slog.Warn("failed to flush profile", "err", err)
	}

	slog.Info("shutdown complete")
}
