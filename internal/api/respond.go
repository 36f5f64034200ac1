package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
)

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v alone.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// formatError answers a rejected source or path with its line, if any.
func formatError(w http.ResponseWriter, err error) bool {
	var fe *basic.FormatError
	if !errors.As(err, &fe) {
		return false
	}
	body := map[string]any{"error": fe.Error()}
	if fe.Line > 0 {
		body["line"] = fe.Line
	}
	writeJSON(w, http.StatusBadRequest, body)
	return true
}
