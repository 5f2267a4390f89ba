// Command mspiprobe is a host-side companion to mspitune.
//
//	mspiprobe id    -dev /dev/spidev0.0        identify a SPI-NOR over spidev
//	mspiprobe dump  -dev ... -addr 0 -len 256  hex dump flash contents
//	mspiprobe watch -dir reports               print tuning reports as they land
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/micro-nova/mspi-tuning/internal/models"
	"github.com/micro-nova/mspi-tuning/internal/report"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mspiprobe id|dump|watch [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "id":
		err = runID(os.Args[2:], os.Stdout)
	case "dump":
		err = runDump(os.Args[2:], os.Stdout)
	case "watch":
		err = runWatch(ctx, os.Args[2:], os.Stdout)
	default:
		usage()
	}
	if err != nil {
		slog.Error("mspiprobe: "+os.Args[1]+" failed", "err", err)
		os.Exit(1)
	}
}

func runWatch(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	dir := fs.String("dir", "reports", "report directory to watch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := report.NewStore(*dir)
	if err != nil {
		return err
	}
	slog.Info("watching for tuning reports", "dir", store.Dir())
	err = store.Watch(ctx, func(r models.Report) { printReport(w, r) })
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printReport(w io.Writer, r models.Report) {
	fmt.Fprintf(w, "%s  %s  board=%s backend=%s\n", r.Time.Format("2006-01-02 15:04:05"), r.ID, r.Board, r.Backend)
	for _, o := range r.Outcomes {
		fmt.Fprintf(w, "  %-5s %-20s index=%-2d %s", o.Device, o.Kind, o.Index, o.Param)
		if o.Results != "" {
			fmt.Fprintf(w, " results=%s", o.Results)
		}
		if o.Reason != "" {
			fmt.Fprintf(w, " (%s)", o.Reason)
		}
		fmt.Fprintln(w)
	}
}
