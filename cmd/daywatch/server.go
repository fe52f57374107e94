// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/DCSO/daywatch/metrics"
	"github.com/DCSO/daywatch/registry"
	"github.com/DCSO/daywatch/sampledb"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	multipartMemory = 32 << 20
	// room for multipart boundaries and headers on top of the file itself
	multipartOverhead = 1 << 20
)

// Server exposes an Analyzer over HTTP.
type Server struct {
	Analyzer *registry.Analyzer
	Metrics  *metrics.Recorder
	Limiter  *IPLimiter
}

// Handler returns the routes served by s.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/analyze", s.Limiter.Middleware(http.HandlerFunc(s.handleAnalyze)))
	mux.HandleFunc("GET /api/report/{id}", s.handleReport)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("could not write response: %s", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	l := log.WithFields(log.Fields{"req_id": reqID, "remote": r.RemoteAddr})
	maxSize := s.Analyzer.MaxSize
	tooLarge := fmt.Sprintf("File too large. Maximum size is %d MB.", maxSize>>20)

	if maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			l.Warnf("request body exceeds %d bytes", mbe.Limit)
			s.Metrics.Rejected("too_large")
			writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		l.Warnf("could not parse upload: %s", err)
		s.Metrics.Rejected("no_file")
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		l.Debugf("no file in request: %s", err)
		s.Metrics.Rejected("no_file")
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	// reject before reading anything into memory
	if maxSize > 0 && header.Size > maxSize {
		l.Warnf("file %s too large (%d bytes)", header.Filename, header.Size)
		s.Metrics.Rejected("too_large")
		writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		l.Errorf("error reading file %s: %s", header.Filename, err)
		writeError(w, http.StatusInternalServerError, "Error reading file. File may be corrupted or too large.")
		return
	}

	verdict, err := s.Analyzer.Analyze(registry.FileSample{
		Data:     data,
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
	})
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNoFileProvided):
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	case errors.Is(err, registry.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	default:
		l.Errorf("analysis error: %s", err)
		writeError(w, http.StatusInternalServerError, "Analysis failed")
		return
	}

	l.WithFields(log.Fields{
		"sha256": verdict.Sha256,
		"level":  verdict.ThreatLevel.String(),
	}).Info("upload analysed")
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	verdict, err := s.Analyzer.GetReport(id)
	if err != nil {
		if errors.Is(err, sampledb.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Report not found")
			return
		}
		log.Errorf("error fetching report %s: %s", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch report")
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}
