package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/mspi-tuning/internal/config"
	"github.com/micro-nova/mspi-tuning/internal/profile"
)

// --- JSONStore tests ---

func newTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mspitune-config-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestJSONStore_LoadMissingFile_ReturnsDefault(t *testing.T) {
	store := config.NewJSONStore(filepath.Join(newTempDir(t), "board.json"))

	b, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if *b != profile.Default() {
		t.Errorf("Load() = %+v, want default", *b)
	}
}

func TestJSONStore_SaveLoadRoundTrip(t *testing.T) {
	store := config.NewJSONStore(filepath.Join(newTempDir(t), "sub", "board.json"))

	b := profile.Default()
	b.Name = "bench-a"
	b.Flash.TestAddr = 0x10000

	if err := store.Save(&b); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *got != b {
		t.Errorf("Load() = %+v, want %+v", *got, b)
	}
}

func TestJSONStore_CorruptJSON_ReturnsDefault(t *testing.T) {
	path := filepath.Join(newTempDir(t), "board.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	b, err := config.NewJSONStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if *b != profile.Default() {
		t.Errorf("Load() = %+v, want default", *b)
	}
}

func TestJSONStore_InvalidProfile_Errors(t *testing.T) {
	path := filepath.Join(newTempDir(t), "board.json")
	data := `{"core_clock_mhz": 160, "flash": {"present": true, "freq_mhz": 70, "rate": "str", "lines": 4}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := config.NewJSONStore(path).Load(); err == nil {
		t.Error("Load() error = nil for 70 MHz flash on a 160 MHz core")
	}
}

func TestJSONStore_MigratesMissingFields(t *testing.T) {
	path := filepath.Join(newTempDir(t), "board.json")
	raw := map[string]any{
		"flash": map[string]any{"present": true, "freq_mhz": 80, "rate": "dtr"},
		"psram": map[string]any{"present": true, "freq_mhz": 40, "rate": "str"},
	}
	data, _ := json.Marshal(raw)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	b, err := config.NewJSONStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if b.CoreClock != 160*physic.MegaHertz {
		t.Errorf("CoreClock = %s, want 160MHz", b.CoreClock)
	}
	if b.Flash.Lines != 8 {
		t.Errorf("Flash.Lines = %d, want 8", b.Flash.Lines)
	}
	if b.PSRAM.Lines != 1 {
		t.Errorf("PSRAM.Lines = %d, want 1", b.PSRAM.Lines)
	}
	if b.Name != "custom" {
		t.Errorf("Name = %q, want custom", b.Name)
	}
	if b.CSSetup == 0 || b.CSHold == 0 {
		t.Errorf("CS timing = %d/%d, want defaults", b.CSSetup, b.CSHold)
	}
}

func TestJSONStore_FlushWithoutSave_NoError(t *testing.T) {
	store := config.NewJSONStore(filepath.Join(newTempDir(t), "board.json"))
	if err := store.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Errorf("Flush() without Save created %s", store.Path())
	}
}

// --- MemStore tests ---

func TestMemStore_SaveLoadRoundTrip(t *testing.T) {
	store := config.NewMemStore()
	b := profile.Default()
	b.Name = "mem"
	if err := store.Save(&b); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, _ := store.Load()
	if got.Name != "mem" {
		t.Errorf("Load().Name = %q, want mem", got.Name)
	}
}

func TestMemStore_MutationIsolation(t *testing.T) {
	store := config.NewMemStore()
	b := profile.Default()
	store.Save(&b)
	b.Name = "changed after save"

	got, _ := store.Load()
	got.Name = "changed after load"

	again, _ := store.Load()
	if again.Name != profile.Default().Name {
		t.Errorf("stored Name = %q, want %q", again.Name, profile.Default().Name)
	}
}
