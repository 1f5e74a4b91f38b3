package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/siegeup/hostagent/pkg/reconciler"
	"github.com/siegeup/hostagent/pkg/types"
)

// launchServer is one entry of a /launch request. Optional fields are
// pointers so defaulting can tell "absent" from "zero".
type launchServer struct {
	Name    *string  `json:"name"`
	Visible *bool    `json:"visible"`
	Version string   `json:"version"`
	Port    int      `json:"port"`
	Args    []string `json:"args"`
	Run     *bool    `json:"run"`
}

type launchRequest struct {
	Servers []launchServer `json:"servers"`
}

// handleLaunch validates and installs a new desired-server set. Duplicate
// ports are rejected without mutating anything.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	seen := make(map[int]bool, len(req.Servers))
	servers := make([]types.DesiredServer, 0, len(req.Servers))
	for i, in := range req.Servers {
		if in.Version == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Server %d is missing a version", i))
			return
		}
		if in.Port < 1 || in.Port > 65535 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Server %d has an invalid port", i))
			return
		}
		if seen[in.Port] {
			writeError(w, http.StatusBadRequest, "Duplicate port detected in servers array")
			return
		}
		seen[in.Port] = true

		srv := types.DesiredServer{
			Name:    fmt.Sprintf("Server %d", i+1),
			Version: in.Version,
			Port:    in.Port,
			Args:    in.Args,
			Visible: true,
			Run:     true,
		}
		if in.Name != nil {
			srv.Name = *in.Name
		}
		if in.Visible != nil {
			srv.Visible = *in.Visible
		}
		if in.Run != nil {
			srv.Run = *in.Run
		}
		servers = append(servers, srv)
	}

	if err := s.recon.ApplyDesired(servers); err != nil {
		s.logger.Error().Err(err).Msg("Failed to apply desired set")
		writeError(w, http.StatusInternalServerError, "Failed to persist settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleUpload ingests a multipart build archive. The version defaults to
// the archive base name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("gameZip")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing gameZip file field")
		return
	}
	defer file.Close()

	version := strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	if version == "" || version == "." {
		version = fmt.Sprintf("archive_%d", time.Now().UnixMilli())
	}

	if err := s.builds.Ingest(file, version); err != nil {
		s.logger.Error().Err(err).Str("version", version).Msg("Failed to ingest archive")
		writeError(w, http.StatusInternalServerError, "Failed to extract archive")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "version": version})
}

// handleRestart stops the child on a desired port; the reconciler respawns
// it on the next tick.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.URL.Query().Get("port"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid port parameter")
		return
	}

	if err := s.recon.Restart(port); err != nil {
		if errors.Is(err, reconciler.ErrUnknownPort) {
			writeError(w, http.StatusNotFound, "Port not found in servers list")
			return
		}
		s.logger.Error().Err(err).Int("port", port).Msg("Restart failed")
		writeError(w, http.StatusInternalServerError, "Failed to stop server")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePurge removes build versions not referenced by any live child. The
// in-use snapshot is taken before the build directory is listed.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	inUse := s.super.VersionsInUse()

	purged, err := s.builds.Purge(inUse)
	if err != nil {
		s.logger.Error().Err(err).Msg("Purge failed")
		writeError(w, http.StatusInternalServerError, "Failed to purge builds")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "purged": purged})
}

// handleUpdate acknowledges, then stops every child and exits 0. The
// service manager is expected to relaunch the (possibly replaced) binary.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	go s.exit()
}

// handleLogs serves the tail of the Nth most recent log for a port.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(mux.Vars(r)["port"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid port")
		return
	}

	index := 0
	if raw := r.URL.Query().Get("index"); raw != "" {
		index, err = strconv.Atoi(raw)
		if err != nil || index < 0 {
			writeError(w, http.StatusBadRequest, "Invalid index parameter")
			return
		}
	}

	tail, err := s.sink.Tail(port, index)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No log found: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, tail)
}
