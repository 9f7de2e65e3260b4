package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/judacas/AutoDJ/pkg/autodj"
	"github.com/judacas/AutoDJ/pkg/models"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service autodj.Service
	config  *ServerConfig
	log     autodj.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	DBPath         string
	TempDir        string
	UploadDir      string
	MetricsPath    string
	AllowedOrigins []string
}

func NewServer(service autodj.Service, config *ServerConfig, log autodj.Logger) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     log,
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondFailure maps a domain error onto a status code.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Errorf("Request failed: %v", err)
	}
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Code:    status,
		Kind:    string(models.KindOf(err)),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrGraphConsistency), errors.Is(err, models.ErrFingerprintStoreConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "AutoDJ API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":     "GET /health",
			"metrics":    "GET " + s.config.MetricsPath,
			"stats":      "GET /api/stats",
			"songs":      "GET /api/songs",
			"addSong":    "POST /api/songs",
			"getSong":    "GET /api/songs/{id}",
			"neighbors":  "GET /api/songs/{id}/neighbors",
			"edges":      "GET /api/songs/{id}/edges",
			"processMix": "POST /api/mixes",
			"path":       "GET /api/path",
			"removeEdge": "DELETE /api/edges",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.service.Stats()
	s.respondJSON(w, http.StatusOK, StatsResponse{
		Status:       "healthy",
		DatabasePath: s.config.DBPath,
		Songs:        st.Songs,
		Transitions:  st.Transitions,
		Sources:      st.Sources,
		MaxOutDegree: st.MaxOutDegree,
	})
}

// handleListSongs handles GET /api/songs
func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	songs := s.service.Songs()
	dtos := make([]SongDTO, len(songs))
	for i, n := range songs {
		dtos[i] = songDTO(n)
	}
	s.respondJSON(w, http.StatusOK, ListSongsResponse{Songs: dtos, Count: len(dtos)})
}

// handleGetSong handles GET /api/songs/{id}
func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	node, ok := s.service.Song(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Song %q not found", id))
		return
	}
	s.respondJSON(w, http.StatusOK, songDTO(node))
}

// handleNeighbors handles GET /api/songs/{id}/neighbors
func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.service.Song(id); !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Song %q not found", id))
		return
	}
	next := s.service.Neighbors(id)
	if next == nil {
		next = []string{}
	}
	s.respondJSON(w, http.StatusOK, NeighborsResponse{SongID: id, Neighbors: next})
}

// handleEdges handles GET /api/songs/{id}/edges?min_confidence=
func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	minConf := 0.0
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			s.respondError(w, http.StatusBadRequest, "min_confidence must be a number in [0, 1]")
			return
		}
		minConf = f
	}
	edges := s.service.OutEdges(id, minConf)
	if edges == nil {
		edges = []models.TransitionEdge{}
	}
	s.respondJSON(w, http.StatusOK, EdgesResponse{SongID: id, Edges: edges, Count: len(edges)})
}

// handlePath handles GET /api/path?from=&depth=&beam=
func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	depth, err := intParam(q.Get("depth"), DefaultPathDepth)
	if err != nil || depth <= 0 || depth > MaxPathDepth {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("depth must be in [1, %d]", MaxPathDepth))
		return
	}
	beam, err := intParam(q.Get("beam"), 0)
	if err != nil || beam < 0 {
		s.respondError(w, http.StatusBadRequest, "beam must be a non-negative integer")
		return
	}

	resp := PathResponse{Method: "exhaustive"}
	if beam > 0 {
		resp.Method = "beam"
		resp.Path = s.service.BeamPath(beam, depth)
	} else if resp.Path, err = s.service.LongestPath(q.Get("from"), depth); err != nil {
		s.respondFailure(w, err)
		return
	}
	if resp.Path == nil {
		resp.Path = []string{}
	}
	resp.Length = len(resp.Path)
	s.respondJSON(w, http.StatusOK, resp)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// handleRemoveEdge handles DELETE /api/edges
func (s *Server) handleRemoveEdge(w http.ResponseWriter, r *http.Request) {
	var req RemoveEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.RemoveTransition(r.Context(), req.Key()); err != nil {
		s.respondFailure(w, err)
		return
	}
	s.log.Infof("Removed transition %s -> %s at %dms", req.From, req.To, req.TimestampMs)
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Transition removed"})
}

// handleAddSong handles POST /api/songs (multipart file upload)
func (s *Server) handleAddSong(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, MaxSongUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}
	songID := r.FormValue("song_id")
	if songID == "" {
		s.respondError(w, http.StatusBadRequest, "song_id is required")
		return
	}

	// songs stay on disk: the library rereads them as clean sources
	path, _, err := s.saveUpload(r, "audio", s.config.UploadDir, "song")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := models.AssetInput{
		Path:        path,
		Origin:      models.OriginSong,
		SongID:      songID,
		MetadataRef: r.FormValue("metadata_ref"),
	}
	asset, err := s.service.AddSong(ctx, in)
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	s.log.Infof("Added song %s (%s)", asset.SongID, asset.ContentHash)
	s.respondJSON(w, http.StatusCreated, AddSongResponse{
		Message:     "Song added successfully",
		SongID:      asset.SongID,
		ContentHash: asset.ContentHash,
		DurationMs:  asset.DurationMs,
	})
}

// handleProcessMix handles POST /api/mixes (multipart file upload). The
// response is the mix summary.
func (s *Server) handleProcessMix(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, MaxMixUploadBytes)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}
	path, cleanup, err := s.saveUpload(r, "audio", s.config.TempDir, "mix")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	summary, err := s.service.ProcessMix(ctx, models.AssetInput{Path: path, Origin: models.OriginMix})
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// saveUpload copies a multipart file into dir and returns a func removing it.
func (s *Server) saveUpload(r *http.Request, field, dir, prefix string) (string, func(), error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, fmt.Errorf("%s file is required", field)
	}
	defer file.Close()

	name := fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), filepath.Base(header.Filename))
	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to process upload: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("failed to save uploaded file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", nil, err
	}
	return path, func() { os.Remove(path) }, nil
}
