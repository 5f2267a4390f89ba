package profile_test

import (
	"encoding/json"
	"testing"

	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/mspi-tuning/internal/profile"
)

const mhz = physic.MegaHertz

func TestDefaultBoardValid(t *testing.T) {
	b := profile.Default()
	if err := b.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if got := b.Divider(profile.Flash); got != 2 {
		t.Errorf("flash divider = %d, want 2", got)
	}
	for _, d := range []profile.Device{profile.Flash, profile.PSRAM} {
		if !b.NeedsTuning(d) {
			t.Errorf("NeedsTuning(%s) = false, want true", d)
		}
		tbl, ok := b.Table(d)
		if !ok {
			t.Fatalf("no table for %s", d)
		}
		if tbl.DefaultID < 0 || tbl.DefaultID >= len(tbl.Params) {
			t.Errorf("%s default index %d outside table of %d", d, tbl.DefaultID, len(tbl.Params))
		}
	}
}

func TestNeedsTuning(t *testing.T) {
	tests := []struct {
		freq physic.Frequency
		rate profile.Rate
		want bool
	}{
		{40 * mhz, profile.STR, false},
		{80 * mhz, profile.STR, false},
		{120 * mhz, profile.STR, true},
		{40 * mhz, profile.DTR, false},
		{80 * mhz, profile.DTR, true},
	}
	for _, tc := range tests {
		b := profile.Default()
		b.Flash.Freq = tc.freq
		b.Flash.Rate = tc.rate
		if got := b.NeedsTuning(profile.Flash); got != tc.want {
			t.Errorf("NeedsTuning(%s %s) = %v, want %v", tc.freq, tc.rate, got, tc.want)
		}
	}

	b := profile.Default()
	b.PSRAM.Present = false
	if b.NeedsTuning(profile.PSRAM) {
		t.Error("absent PSRAM needs tuning")
	}
}

func TestRuleOffsets(t *testing.T) {
	dtr, ok := profile.LookupRule(160*mhz, profile.DTR)
	if !ok {
		t.Fatal("no DTR rule at 160 MHz")
	}
	str, ok := profile.LookupRule(240*mhz, profile.STR)
	if !ok {
		t.Fatal("no STR rule at 240 MHz")
	}
	tests := []struct {
		name   string
		rule   profile.Rule
		n      int
		accept bool
		offset int
	}{
		{"dtr 2", dtr, 2, false, 0},
		{"dtr 3", dtr, 3, true, 1},
		{"dtr 4", dtr, 4, true, 1},
		{"dtr 5", dtr, 5, true, 2},
		{"dtr 6", dtr, 6, false, 0},
		{"str 2", str, 2, false, 0},
		{"str 3", str, 3, true, 1},
		{"str 4", str, 4, true, 2},
		{"str 5", str, 5, false, 0},
	}
	for _, tc := range tests {
		if got := tc.rule.Accepts(tc.n); got != tc.accept {
			t.Errorf("%s: Accepts = %v, want %v", tc.name, got, tc.accept)
		}
		if tc.accept {
			if got := tc.rule.Offset(tc.n); got != tc.offset {
				t.Errorf("%s: Offset = %d, want %d", tc.name, got, tc.offset)
			}
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		modify func(b *profile.Board)
	}{
		{"core clock", func(b *profile.Board) { b.CoreClock = 200 * mhz }},
		{"no flash", func(b *profile.Board) { b.Flash.Present = false }},
		{"non-divisor", func(b *profile.Board) { b.Flash.Freq = 70 * mhz }},
		{"lines", func(b *profile.Board) { b.PSRAM.Lines = 3 }},
		{"dtr on quad", func(b *profile.Board) { b.Flash.Lines = 4 }},
		{"no table", func(b *profile.Board) { b.CoreClock = 240 * mhz }},
		{"cs timing", func(b *profile.Board) { b.CSHold = 40 }},
	}
	for _, tc := range tests {
		b := profile.Default()
		tc.modify(&b)
		if err := b.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tc.name)
		}
	}
}

func TestBoardJSON(t *testing.T) {
	b := profile.Default()
	b.Flash.TestAddr = 0x1000
	b.Flash.ExpectID = 0xC2813A

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal raw: %v", err)
	}
	if raw["core_clock_mhz"] != float64(160) {
		t.Errorf("core_clock_mhz = %v, want 160", raw["core_clock_mhz"])
	}

	var back profile.Board
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != b {
		t.Errorf("round trip = %+v, want %+v", back, b)
	}

	if err := json.Unmarshal([]byte(`{"flash":{"rate":"ddr"}}`), &back); err == nil {
		t.Error("unknown rate accepted")
	}
}
