package devicesim

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.router.ServeHTTP(w, r)
}

func (d *Device) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Use(d.passwordCheck)

		r.Post("/runners:run_prg", d.handleRunPRG)
		r.Put("/runners:sidplay", d.handleSIDPlay)
		r.Delete("/runners:sidplay", d.handleSIDStop)
		r.Get("/machine:readmem", d.handleReadMem)
		r.Put("/machine:writemem", d.handleWriteMem)
		r.Put("/machine:reset", d.handleReset)
		r.Get("/files/*", d.handleFileInfo)
	})

	d.router = r
}

func (d *Device) passwordCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.opts.Password != "" &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Password")), []byte(d.opts.Password)) != 1 {
			deviceError(w, "password required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Device) handleRunPRG(w http.ResponseWriter, r *http.Request) {
	prg, err := io.ReadAll(io.LimitReader(r.Body, memSize+1))
	if err != nil {
		deviceError(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(prg) > memSize {
		deviceError(w, "program too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := d.run(prg); err != nil {
		deviceError(w, err.Error(), http.StatusBadRequest)
		return
	}
	deviceOK(w, nil)
}

func (d *Device) handleReadMem(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.URL.Query().Get("address"))
	if err != nil {
		deviceError(w, err.Error(), http.StatusBadRequest)
		return
	}
	n := 256
	if v := r.URL.Query().Get("length"); v != "" {
		n, err = strconv.Atoi(v)
		if err != nil || n <= 0 {
			deviceError(w, "bad length", http.StatusBadRequest)
			return
		}
	}
	if d.opts.MaxRead > 0 {
		n = min(n, d.opts.MaxRead)
	}
	data := d.Peek(addr, n)

	if d.opts.JSONMemory {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"data": hex.EncodeToString(data)})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (d *Device) handleWriteMem(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.URL.Query().Get("address"))
	if err != nil {
		deviceError(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := hex.DecodeString(r.URL.Query().Get("data"))
	if err != nil || len(data) == 0 {
		deviceError(w, "bad data", http.StatusBadRequest)
		return
	}
	if int(addr)+len(data) > memSize {
		deviceError(w, "write past end of memory", http.StatusBadRequest)
		return
	}
	d.mu.Lock()
	copy(d.mem[addr:], data)
	d.mu.Unlock()
	deviceOK(w, nil)
}

func (d *Device) handleReset(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.resets++
	d.playing, d.song = "", 0
	d.mu.Unlock()
	deviceOK(w, nil)
}

func (d *Device) handleSIDPlay(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if _, err := d.lookup(file); err != nil {
		deviceError(w, "file not found", http.StatusNotFound)
		return
	}
	song := 0
	if v := r.URL.Query().Get("songnr"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			deviceError(w, "bad songnr", http.StatusBadRequest)
			return
		}
		song = n
	}
	d.mu.Lock()
	d.playing, d.song = file, song
	d.mu.Unlock()
	d.opts.Log.Info("sid playing", "file", file, "song", song)
	deviceOK(w, nil)
}

func (d *Device) handleSIDStop(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.playing, d.song = "", 0
	d.mu.Unlock()
	deviceOK(w, nil)
}

func (d *Device) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	rest, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || !strings.HasSuffix(rest, ":info") {
		deviceError(w, "unknown file command", http.StatusNotFound)
		return
	}
	devicePath := "/" + strings.TrimSuffix(rest, ":info")
	p, err := d.lookup(devicePath)
	if err != nil {
		deviceError(w, "file not found", http.StatusNotFound)
		return
	}
	data, err := fs.ReadFile(d.opts.Files, p)
	if err != nil {
		deviceError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	info := map[string]any{
		"path":      devicePath,
		"size":      len(data),
		"extension": strings.ToUpper(strings.TrimPrefix(path.Ext(p), ".")),
	}
	if h, err := parsePSID(data); err == nil {
		info["title"] = h.Name
		info["author"] = h.Author
		info["songs"] = h.Songs
	}
	deviceOK(w, map[string]any{"files": info})
}

func parseAddress(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "$"), 16, 16)
	if err != nil {
		return 0, errors.New("bad address")
	}
	return uint16(n), nil
}

func deviceOK(w http.ResponseWriter, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["errors"] = []string{}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func deviceError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": []string{msg}})
}
