package zeroconf_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/micro-nova/mspi-tuning/internal/profile"
	"github.com/micro-nova/mspi-tuning/internal/zeroconf"
)

func TestBoardTXT(t *testing.T) {
	b := profile.Default()
	txt := zeroconf.BoardTXT(b, "sim")
	for _, want := range []string{
		"board=esp32s3-octal-80m",
		"backend=sim",
		"core_mhz=160",
		"flash=80MHz-8line-dtr",
		"psram=80MHz-8line-dtr",
	} {
		if !slices.Contains(txt, want) {
			t.Errorf("BoardTXT = %v, missing %q", txt, want)
		}
	}

	b.PSRAM.Present = false
	for _, r := range zeroconf.BoardTXT(b, "sim") {
		if r[:5] == "psram" {
			t.Errorf("absent PSRAM advertised: %q", r)
		}
	}
}

// TestStart_Cancel starts the service and cancels the context within 1 second.
// It verifies that Start returns without blocking.
func TestStart_Cancel(t *testing.T) {
	svc := zeroconf.New("mspitune-test", 18080, []string{"board=test"})

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- svc.Start(ctx)
	}()

	select {
	case err := <-done:
		// mDNS may be unavailable in the test environment; what matters is
		// that Start returned.
		if err != nil {
			t.Logf("Start returned error (may be expected in CI): %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return within 3 seconds after context cancellation")
	}
}

func TestUpdateTXT_BeforeStart(t *testing.T) {
	svc := zeroconf.New("mspitune-test", 18080, nil)
	if err := svc.UpdateTXT([]string{"board=test"}); err == nil {
		t.Error("UpdateTXT before Start should return an error")
	}
}
