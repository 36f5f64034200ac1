package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
	"github.com/nesfrk81/ultimate64-sid-player/internal/config"
	"github.com/nesfrk81/ultimate64-sid-player/internal/devicesim"
	"github.com/nesfrk81/ultimate64-sid-player/internal/extract"
	"github.com/nesfrk81/ultimate64-sid-player/internal/pipeline"
	"github.com/nesfrk81/ultimate64-sid-player/internal/player"
	"github.com/nesfrk81/ultimate64-sid-player/internal/ultimate"
)

const testKey = "test-key"

type fixture struct {
	srv *Server
	dev *devicesim.Device
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dev := devicesim.New(devicesim.Options{
		Files: fstest.MapFS{
			"USB0/MUSIC/SIDFILES.TXT": {Data: []byte("=== SIDS ===\rCOMMANDO.SID\rDELTA.SID\rTOTAL: 2\r")},
			"USB0/MUSIC/COMMANDO.SID": {Data: []byte("PSID")},
			"USB0/MUSIC/DELTA.SID":    {Data: []byte("PSID")},
		},
		Delay: 5 * time.Millisecond,
		Log:   log,
	})
	devSrv := httptest.NewServer(dev)

	cfg := config.Config{
		ServiceAPIKey: testKey,
		ExtractWait:   50 * time.Millisecond,
		RetryWait:     100 * time.Millisecond,
		JobTTL:        time.Hour,
		MaxQueueSize:  4,
		PlaylistPath:  "/USB0/MUSIC/SIDFILES.TXT",
		SongDuration:  time.Hour,
	}
	client := ultimate.NewClient(devSrv.URL, "", 5*time.Second)
	xopts := extract.DefaultOptions()
	xopts.Wait = cfg.ExtractWait
	ex := extract.NewExtractor(client, basic.NewTokenTable(), xopts, log)

	ctx, cancel := context.WithCancel(context.Background())
	orch := pipeline.NewOrchestrator(cfg, ex, log)
	orch.Start(ctx)
	pl := player.New(client, log)

	t.Cleanup(func() {
		cancel()
		orch.Stop()
		devSrv.Close()
		dev.Close()
	})
	return &fixture{srv: NewServer(ctx, orch, ex, pl, log, cfg), dev: dev}
}

func (f *fixture) do(t *testing.T, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doJSON(t *testing.T, method, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(v)
	return f.do(t, method, target, "application/json", body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth_NoAuth(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + testKey},
		{"wrong key", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/player", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.srv.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestTokenize_PlainSource(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/tokenize", "text/plain", []byte("20 GOTO 10\n10 PRINT \"HI\"\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	want := []byte{
		0x01, 0x08,
		0x0C, 0x08, 0x0A, 0x00, 0x99, 0x20, 0x22, 0x48, 0x49, 0x22, 0x00,
		0x00, 0x00, 0x14, 0x00, 0x89, 0x20, 0x31, 0x30, 0x00,
		0x00, 0x00,
	}
	if !bytes.Equal(rec.Body.Bytes(), want) {
		t.Errorf("unexpected image\n got % X\nwant % X", rec.Body.Bytes(), want)
	}
	if got := rec.Header().Get("X-Program-End"); got != "$0817" {
		t.Errorf("unexpected end header %q", got)
	}
}

func TestTokenize_JSON(t *testing.T) {
	f := newFixture(t)
	rec := f.doJSON(t, http.MethodPost, "/api/tokenize?format=json", tokenizeRequest{Source: "10 END", LoadAddress: 0x1C01})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	resp := decode[programResponse](t, rec)
	if resp.LoadAddress != 0x1C01 || resp.Lines != 1 || resp.Prg[0] != 0x01 || resp.Prg[1] != 0x1C {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestTokenize_FormatErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		source   string
		wantLine float64
	}{
		{"no line number", "PRINT 1", 0},
		{"duplicate", "10 PRINT 1\n10 PRINT 2", 10},
		{"too long", "10 REM " + strings.Repeat("X", 300), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/tokenize", "text/plain", []byte(tt.source))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			body := decode[map[string]any](t, rec)
			if tt.wantLine > 0 && body["line"] != tt.wantLine {
				t.Errorf("expected line %v, got %v", tt.wantLine, body["line"])
			}
		})
	}
}

func TestLoader(t *testing.T) {
	f := newFixture(t)
	rec := f.doJSON(t, http.MethodPost, "/api/loader", loaderRequest{Path: "/USB0/MUSIC/SIDFILES.TXT"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	resp := decode[programResponse](t, rec)
	if !strings.Contains(resp.Source, `20 OPEN 15,11,15,"CD:/USB0/MUSIC":CLOSE 15`) {
		t.Errorf("unexpected source:\n%s", resp.Source)
	}
	if _, err := basic.Parse(resp.Prg); err != nil {
		t.Errorf("loader image does not parse: %v", err)
	}

	rec = f.doJSON(t, http.MethodPost, "/api/loader", loaderRequest{Path: `/USB0/A"B.TXT`})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for quoted path, got %d", rec.Code)
	}
	rec = f.doJSON(t, http.MethodPost, "/api/loader", loaderRequest{Path: "/SD/A.TXT"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown drive, got %d", rec.Code)
	}
}

func waitForJob(t *testing.T, f *fixture, id string) pipeline.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := f.do(t, http.MethodGet, "/api/extract/"+id+"/status", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: %d %s", rec.Code, rec.Body)
		}
		snap := decode[pipeline.JobSnapshot](t, rec)
		if snap.Status.Done() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s", id, snap.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExtractAndPlay(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPost, "/api/extract", extractRequest{})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	id := decode[map[string]any](t, rec)["job_id"].(string)

	snap := waitForJob(t, f, id)
	if snap.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %+v", snap)
	}

	rec = f.do(t, http.MethodGet, "/api/extract/"+id+"/content", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "COMMANDO.SID") {
		t.Fatalf("unexpected content %d %q", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/api/extract/"+id+"/playlist", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("playlist: %d %s", rec.Code, rec.Body)
	}
	pl := decode[struct {
		Entries []struct {
			Path string `json:"path"`
		} `json:"entries"`
	}](t, rec)
	if len(pl.Entries) != 2 || pl.Entries[0].Path != "/USB0/MUSIC/COMMANDO.SID" {
		t.Fatalf("unexpected playlist %+v", pl)
	}

	rec = f.doJSON(t, http.MethodPost, "/api/player/start", playerStartRequest{JobID: id, Song: 2})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if p, song := f.dev.Playing(); p == "/USB0/MUSIC/COMMANDO.SID" && song == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("device never started playing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = f.do(t, http.MethodPost, "/api/player/skip", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("skip: %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodGet, "/api/player", "", nil)
	if st := decode[map[string]any](t, rec); st["total"] != float64(2) {
		t.Errorf("unexpected player state %v", st)
	}

	rec = f.do(t, http.MethodDelete, "/api/player", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: %d %s", rec.Code, rec.Body)
	}
	if p, _ := f.dev.Playing(); p != "" {
		t.Errorf("expected device silent, playing %q", p)
	}
	rec = f.do(t, http.MethodPost, "/api/player/skip", "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 skipping while stopped, got %d", rec.Code)
	}
}

func TestExtract_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPost, "/api/extract", extractRequest{Path: `/USB0/"X".TXT`})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for quoted path, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/extract", "application/json", []byte(`{"path": 5}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", rec.Code)
	}
	for _, suffix := range []string{"status", "content", "playlist"} {
		rec = f.do(t, http.MethodGet, "/api/extract/nope/"+suffix, "", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", suffix, rec.Code)
		}
	}
}

func TestExtract_Variants(t *testing.T) {
	f := newFixture(t)
	rec := f.doJSON(t, http.MethodPost, "/api/extract", extractRequest{Path: "/USB0/MUSIC/SIDFILES.TXT", Variants: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	resp := decode[struct {
		Paths []string `json:"paths"`
	}](t, rec)
	if len(resp.Paths) != 5 || resp.Paths[0] != "/USB0/MUSIC/SIDFILES.TXT" {
		t.Errorf("unexpected candidate paths %v", resp.Paths)
	}
}

func TestPlayerStart_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  playerStartRequest
		want int
	}{
		{"nothing to play", playerStartRequest{}, http.StatusBadRequest},
		{"unknown job", playerStartRequest{JobID: "nope"}, http.StatusNotFound},
		{"negative duration", playerStartRequest{Paths: []string{"/USB0/A.SID"}, Duration: -1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.doJSON(t, http.MethodPost, "/api/player/start", tt.req); rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestExtractStats(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/stats/extract", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	window := body["window"].(map[string]any)
	if window["capacity"] != float64(4095) {
		t.Errorf("unexpected window %v", window)
	}
}
