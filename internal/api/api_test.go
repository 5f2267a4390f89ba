package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/micro-nova/mspi-tuning/internal/api"
	"github.com/micro-nova/mspi-tuning/internal/events"
	"github.com/micro-nova/mspi-tuning/internal/hardware"
	"github.com/micro-nova/mspi-tuning/internal/models"
	"github.com/micro-nova/mspi-tuning/internal/mspi"
	"github.com/micro-nova/mspi-tuning/internal/profile"
	"github.com/micro-nova/mspi-tuning/internal/report"
)

type testEnv struct {
	srv     *httptest.Server
	mock    *hardware.Mock
	ctrl    *mspi.Controller
	reports *report.Store
	bus     *events.Bus
}

// newTestServer spins up a full router over a simulated target.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{mock: hardware.NewMock(), bus: events.NewBus()}

	opts := mspi.DefaultOptions()
	opts.Observer = func(tr mspi.Transition) {
		env.bus.Publish(models.Event{
			Type:    models.EventMode,
			Time:    time.Now().UTC(),
			Elapsed: tr.Elapsed.String(),
			Status:  models.NewStatus(env.ctrl.Snapshot(), env.ctrl.FlashTimingParam()),
		})
	}
	var err error
	env.ctrl, err = mspi.New(env.mock, profile.Default(), mspi.FreezingGuard(hardware.NewExtmemFreezer(env.mock)), opts)
	if err != nil {
		t.Fatalf("mspi.New: %v", err)
	}
	env.reports, err = report.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("report.NewStore: %v", err)
	}

	env.srv = httptest.NewServer(api.NewRouter(env.ctrl, env.reports, env.bus))
	t.Cleanup(env.srv.Close)
	return env
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireStatus fails the test if the response status doesn't match.
func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

// --- Tests ---

func TestGetStatus(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, "GET", "/api/status", "")
	requireStatus(t, resp, http.StatusOK)

	var st models.Status
	decodeJSON(t, resp, &st)
	if st.Board != "esp32s3-octal-80m" {
		t.Errorf("Board = %q", st.Board)
	}
	if st.Mode != models.ModeLow {
		t.Errorf("Mode = %q, want %q before any transition", st.Mode, models.ModeLow)
	}
	if !st.Flash.Present || st.Flash.Lines != 8 {
		t.Errorf("Flash = %+v", st.Flash)
	}
	if st.Outcomes == nil {
		t.Error("outcomes is null")
	}
}

func TestSetSpeed(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		body    string
		want    string
		divider uint32
	}{
		{`{"mode":"high"}`, models.ModeHigh, 2},
		{`{"mode":"low"}`, models.ModeLow, profile.LowSpeedDivider},
		{`{"mode":"high"}`, models.ModeHigh, 2},
	}
	for _, tc := range tests {
		resp := do(t, env.srv, "POST", "/api/speed", tc.body)
		requireStatus(t, resp, http.StatusOK)
		var st models.Status
		decodeJSON(t, resp, &st)
		if st.Mode != tc.want {
			t.Errorf("POST %s: Mode = %q, want %q", tc.body, st.Mode, tc.want)
		}
		reg := env.mock.Read32(hardware.SPI0Base + hardware.RegClock)
		if got := hardware.ClockRegDivider(reg); got != tc.divider {
			t.Errorf("POST %s: cache port divider = %d, want %d", tc.body, got, tc.divider)
		}
	}
	if v := env.mock.Violations(); len(v) != 0 {
		t.Errorf("timing registers written with caches live: %x", v)
	}
}

func TestSetSpeedRejects(t *testing.T) {
	env := newTestServer(t)

	for _, body := range []string{`{bad json`, `{"mode":"turbo"}`, `{}`} {
		resp := do(t, env.srv, "POST", "/api/speed", body)
		requireStatus(t, resp, http.StatusBadRequest)
		var appErr models.AppError
		decodeJSON(t, resp, &appErr)
		if appErr.Code != "BAD_REQUEST" {
			t.Errorf("POST %s: error code = %q", body, appErr.Code)
		}
	}
	if env.ctrl.Mode() != mspi.LowSpeed {
		t.Error("rejected request changed the speed mode")
	}
}

func TestGetProfile(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, "GET", "/api/profile", "")
	requireStatus(t, resp, http.StatusOK)
	var b profile.Board
	decodeJSON(t, resp, &b)
	want := profile.Default()
	if b.Name != want.Name || b.CoreClock != want.CoreClock || b.PSRAM.Freq != want.PSRAM.Freq {
		t.Errorf("profile = %+v, want %+v", b, want)
	}
}

func TestReports(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, "GET", "/api/reports", "")
	requireStatus(t, resp, http.StatusOK)
	var list []models.Report
	decodeJSON(t, resp, &list)
	if len(list) != 0 {
		t.Fatalf("got %d reports, want 0", len(list))
	}

	rep := &models.Report{Backend: "sim", Board: "esp32s3-octal-80m"}
	if err := env.reports.Save(rep); err != nil {
		t.Fatal(err)
	}

	resp = do(t, env.srv, "GET", "/api/reports", "")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &list)
	if len(list) != 1 || list[0].ID != rep.ID {
		t.Errorf("reports = %+v, want one with ID %s", list, rep.ID)
	}

	resp = do(t, env.srv, "GET", "/api/reports/"+rep.ID, "")
	requireStatus(t, resp, http.StatusOK)
	var got models.Report
	decodeJSON(t, resp, &got)
	if got.Backend != "sim" {
		t.Errorf("report = %+v", got)
	}

	resp = do(t, env.srv, "GET", "/api/reports/nope", "")
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestReportsWithoutStore(t *testing.T) {
	m := hardware.NewMock()
	c, err := mspi.New(m, profile.Default(), mspi.FreezingGuard(hardware.NewExtmemFreezer(m)), mspi.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.NewRouter(c, nil, events.NewBus()))
	defer srv.Close()

	resp := do(t, srv, "GET", "/api/reports", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	resp = do(t, srv, "GET", "/api/reports/x", "")
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t)
	resp := do(t, env.srv, "OPTIONS", "/api/speed", "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestSSESubscribe(t *testing.T) {
	env := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/subscribe", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	client := &http.Client{
		Transport: &http.Transport{
			DisableCompression: true,
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := make(chan models.Event, 4)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Errorf("SSE data is not valid Event JSON: %v", err)
				return
			}
			events <- ev
		}
	}()

	next := func() models.Event {
		t.Helper()
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("SSE stream closed")
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for SSE event")
		}
		return models.Event{}
	}

	if first := next(); first.Status.Mode != models.ModeLow {
		t.Errorf("initial event mode = %q, want %q", first.Status.Mode, models.ModeLow)
	}

	// The subscription is registered before the initial event is written.
	env.ctrl.ChangeSpeedModeCacheSafe(false)
	ev := next()
	if ev.Type != models.EventMode || ev.Status.Mode != models.ModeHigh {
		t.Errorf("event = %s/%s, want mode/high", ev.Type, ev.Status.Mode)
	}
	if ev.Elapsed == "" {
		t.Error("mode event without elapsed time")
	}
}
