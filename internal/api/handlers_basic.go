package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
	"github.com/nesfrk81/ultimate64-sid-player/internal/loader"
)

type tokenizeRequest struct {
	Source      string `json:"source"`
	LoadAddress uint16 `json:"load_address,omitempty"`
}

// programResponse describes a tokenized program. Prg is base64 in JSON.
type programResponse struct {
	Path        string `json:"path,omitempty"`
	Source      string `json:"source,omitempty"`
	LoadAddress uint16 `json:"load_address"`
	End         int    `json:"end"`
	Size        int    `json:"size"`
	Lines       int    `json:"lines"`
	Prg         []byte `json:"prg"`
}

// handleTokenize turns BASIC source into a program file. The source is the
// body itself, or the "source" field of a JSON body.
func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req tokenizeRequest
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		if err := decodeJSON(w, r, &req); err != nil {
			jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			jsonError(w, "failed to read body", http.StatusRequestEntityTooLarge)
			return
		}
		req.Source = string(body)
	}
	if v := r.URL.Query().Get("load_address"); v != "" {
		n, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			jsonError(w, "bad load_address", http.StatusBadRequest)
			return
		}
		req.LoadAddress = uint16(n)
	}

	lines, err := basic.ParseSource(strings.NewReader(req.Source))
	if err != nil {
		if !formatError(w, err) {
			jsonError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	tok := basic.NewTokenizer(s.table)
	if req.LoadAddress != 0 {
		tok.LoadAddress = req.LoadAddress
	}
	img, err := tok.Tokenize(lines)
	if err != nil {
		if !formatError(w, err) {
			jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, programResponse{
			LoadAddress: img.LoadAddress,
			End:         img.End(),
			Size:        img.Size(),
			Lines:       len(img.Records),
			Prg:         img.Bytes(),
		})
		return
	}
	writePRG(w, "program.prg", img)
}

type loaderRequest struct {
	Path string `json:"path"`
}

// handleLoader returns the loader program for a device path without
// running it.
func (s *Server) handleLoader(w http.ResponseWriter, r *http.Request) {
	var req loaderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		jsonError(w, "path is required", http.StatusBadRequest)
		return
	}
	img, err := s.extractor.LoaderImage(req.Path)
	if err != nil {
		if !formatError(w, err) {
			jsonError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	if r.URL.Query().Get("format") == "prg" {
		writePRG(w, "loader.prg", img)
		return
	}
	opts := s.extractor.Options()
	src, err := loader.Synthesize(req.Path, opts.Window, opts.Drives)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, programResponse{
		Path:        req.Path,
		Source:      src,
		LoadAddress: img.LoadAddress,
		End:         img.End(),
		Size:        img.Size(),
		Lines:       len(img.Records),
		Prg:         img.Bytes(),
	})
}

func writePRG(w http.ResponseWriter, name string, img *basic.Image) {
	data := img.Bytes()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Program-End", fmt.Sprintf("$%04X", img.End()))
	w.Write(data)
}
