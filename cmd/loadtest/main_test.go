package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flag.CommandLine = fs

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

// fakeStorefront отвечает как HTTP API сервиса и считает вызовы.
type fakeStorefront struct {
	creates  atomic.Int64
	tracks   atomic.Int64
	patches  atomic.Int64
	degraded bool
	failWith int
}

func (f *fakeStorefront) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/orders":
		var body struct {
			Order generatedOrder `json:"order"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Order.Items) == 0 || body.Order.Info.Name == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.creates.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if f.degraded {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"ok":true,"ref":"LWG-ABC123","id":null}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true,"ref":"LWG-ABC123","id":"id-1"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/orders/track":
		if r.URL.Query().Get("ref") != "LWG-ABC123" || !strings.HasPrefix(r.URL.Query().Get("phone"), "+232") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.tracks.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	case r.Method == http.MethodPatch && r.URL.Path == "/orders/LWG-ABC123":
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.patches.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    loadMode
		wantErr bool
	}{
		{input: "create", want: modeCreate},
		{input: "create-track", want: modeCreateTrack},
		{input: " create-patch ", want: modeCreatePatch},
		{input: "create-pay", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseMode(tc.input)
		if tc.wantErr {
			if err == nil || !strings.Contains(err.Error(), "unsupported mode") {
				t.Fatalf("parseMode(%q): expected unsupported mode error, got %v", tc.input, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("parseMode(%q) = %q, %v; want %q", tc.input, got, err, tc.want)
		}
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-url=http://127.0.0.1:8080/",
			"-mode=create-patch",
			"-admin-token=tok",
			"-total=12",
			"-concurrency=3",
			"-connections=2",
			"-timeout=2s",
			"-max-items=5",
		}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cfg.totalSet || cfg.total != 12 {
				t.Fatalf("expected explicit total=12, got %+v", cfg)
			}
			if cfg.baseURL != "http://127.0.0.1:8080" {
				t.Fatalf("trailing slash must be trimmed, got %q", cfg.baseURL)
			}
			if cfg.mode != modeCreatePatch || cfg.timeout != 2*time.Second || cfg.maxItems != 5 {
				t.Fatalf("unexpected config: %+v", cfg)
			}
		})
	})

	t.Run("duration mode", func(t *testing.T) {
		withCLIArgs(t, []string{"-duration=3s"}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.duration != 3*time.Second || cfg.totalSet {
				t.Fatalf("unexpected config: %+v", cfg)
			}
		})
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "empty total", args: []string{"-total=0"}, wantErr: "total must be > 0"},
			{name: "bad url", args: []string{"-url=not a url"}, wantErr: "invalid url"},
			{name: "patch without token", args: []string{"-mode=create-patch", "-admin-token="}, wantErr: "admin-token is required"},
			{name: "no items", args: []string{"-max-items=0"}, wantErr: "max-items must be > 0"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				withCLIArgs(t, tc.args, func() {
					_, err := parseConfig()
					if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
						t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
					}
				})
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})
}

func TestFakeOrder(t *testing.T) {
	cfg := config{zone: "Greater Freetown", maxItems: 3}
	for i := 0; i < 20; i++ {
		o := fakeOrder(cfg)
		if n := len(o.Items); n < 1 || n > 3 {
			t.Fatalf("unexpected item count %d", n)
		}
		if o.Info.Name == "" || o.Info.Address == "" || o.Info.Email == "" {
			t.Fatalf("incomplete customer info: %+v", o.Info)
		}
		if !strings.HasPrefix(o.Info.Phone, "+232") || len(o.Info.Phone) != 12 {
			t.Fatalf("phone must be international: %q", o.Info.Phone)
		}
		for _, it := range o.Items {
			if it.Qty <= 0 || it.Price <= 0 {
				t.Fatalf("invalid item: %+v", it)
			}
		}
	}
}

func TestRunScenario(t *testing.T) {
	fake := &fakeStorefront{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	base := config{baseURL: srv.URL, timeout: time.Second, connections: 1, maxItems: 2, adminToken: "tok"}
	col := newCollector()

	for i, mode := range []loadMode{modeCreate, modeCreateTrack, modeCreatePatch} {
		cfg := base
		cfg.mode = mode
		if err := runScenario(newOrderClient(cfg), cfg, i, col); err != nil {
			t.Fatalf("%s: unexpected error: %v", mode, err)
		}
	}
	if fake.creates.Load() != 3 || fake.tracks.Load() != 1 || fake.patches.Load() != 1 {
		t.Fatalf("unexpected calls: create=%d track=%d patch=%d", fake.creates.Load(), fake.tracks.Load(), fake.patches.Load())
	}

	r := col.buildReport(time.Now(), time.Second)
	if r.TotalScenarios != 3 || r.FailedScenarios != 0 {
		t.Fatalf("unexpected totals: %+v", r)
	}
	if r.Methods["CreateOrder"].Codes["201"] != 3 {
		t.Fatalf("expected three 201 codes, got %+v", r.Methods["CreateOrder"].Codes)
	}
}

func TestRunScenario_DegradedAndFailures(t *testing.T) {
	fake := &fakeStorefront{degraded: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := config{baseURL: srv.URL, timeout: time.Second, connections: 1, maxItems: 1, mode: modeCreate}
	col := newCollector()
	if err := runScenario(newOrderClient(cfg), cfg, 0, col); err != nil {
		t.Fatalf("degraded create must succeed: %v", err)
	}

	fake.failWith = http.StatusTooManyRequests
	if err := runScenario(newOrderClient(cfg), cfg, 1, col); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}

	down := config{baseURL: "http://127.0.0.1:1", timeout: 200 * time.Millisecond, connections: 1, maxItems: 1, mode: modeCreate}
	if err := runScenario(newOrderClient(down), down, 2, col); err == nil {
		t.Fatalf("expected transport error")
	}

	r := col.buildReport(time.Now(), time.Second)
	if r.DegradedOrders != 1 || r.FailedScenarios != 2 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.Methods["CreateOrder"].Codes[codeTransportError] != 1 {
		t.Fatalf("expected transport error code, got %+v", r.Methods["CreateOrder"].Codes)
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.P50 <= 0 || summary.P95 <= 0 || summary.Max != 40 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	if err := writeJSONReport(path, report{TotalScenarios: 2, SuccessScenarios: 2, DegradedOrders: 1}); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.DegradedOrders != 1 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			"scenario":    {Calls: 2, Success: 2},
			"CreateOrder": {Calls: 2, Success: 2},
		},
	}

	var out bytes.Buffer
	printReport(&out, r, config{mode: modeCreate, total: 2})

	if !strings.Contains(out.String(), "Load test summary") {
		t.Fatalf("expected summary header, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "CreateOrder") {
		t.Fatalf("expected method section, got: %s", out.String())
	}
}

func TestMainSmoke(t *testing.T) {
	srv := httptest.NewServer(&fakeStorefront{})
	defer srv.Close()

	outPath := filepath.Join(t.TempDir(), "main-report.json")
	withCLIArgs(t, []string{
		"-url=" + srv.URL,
		"-mode=create-track",
		"-total=5",
		"-concurrency=2",
		"-timeout=2s",
		"-output=" + outPath,
	}, func() {
		main()
	})

	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("expected report file from main: %v", err)
	}
}
