package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/xxllxllxlllx/live-graph-system/internal/engine"
)

type startCrawlRequest struct {
	URL             string `json:"url"`
	MaxDepth        int    `json:"max_depth"`
	MaxLinksPerPage int    `json:"max_links_per_page"`
	Progressive     *bool  `json:"progressive"`
}

type startTocRequest struct {
	URL       string `json:"url"`
	SocksHost string `json:"socks_host"`
	SocksPort int    `json:"socks_port"`
}

type startOnionSearchRequest struct {
	Query   string   `json:"query"`
	Engines []string `json:"engines"`
	Limit   int      `json:"limit"`
}

type startTorBotRequest struct {
	URL           string `json:"url"`
	Depth         int    `json:"depth"`
	SocksHost     string `json:"socks_host"`
	SocksPort     int    `json:"socks_port"`
	DisableSocks5 bool   `json:"disable_socks5"`
	InfoMode      bool   `json:"info_mode"`
	OutputFormat  string `json:"output_format"`
}

func (s *Server) startHTTP(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	err := s.supervisor.StartHTTP(engine.HTTPOptions{
		URL:             req.URL,
		MaxDepth:        req.MaxDepth,
		MaxLinksPerPage: req.MaxLinksPerPage,
		Progressive:     req.Progressive,
	})
	if err != nil {
		writeError(w, engineStatus(err), errMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "slot": engine.SlotHTTP})
}

func (s *Server) startToc(w http.ResponseWriter, r *http.Request) {
	var req startTocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	err := s.supervisor.StartToc(engine.TocOptions{
		URL:       req.URL,
		SocksHost: req.SocksHost,
		SocksPort: req.SocksPort,
	})
	if err != nil {
		writeError(w, engineStatus(err), errMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "slot": engine.SlotToc})
}

func (s *Server) startOnionSearch(w http.ResponseWriter, r *http.Request) {
	var req startOnionSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	err := s.supervisor.StartOnionSearch(engine.OnionSearchOptions{
		Query:   req.Query,
		Engines: req.Engines,
		Limit:   req.Limit,
	})
	if err != nil {
		writeError(w, engineStatus(err), errMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "slot": engine.SlotOnionSearch})
}

func (s *Server) startTorBot(w http.ResponseWriter, r *http.Request) {
	var req startTorBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	err := s.supervisor.StartTorBot(engine.TorBotOptions{
		URL:           req.URL,
		Depth:         req.Depth,
		SocksHost:     req.SocksHost,
		SocksPort:     req.SocksPort,
		DisableSocks5: req.DisableSocks5,
		InfoMode:      req.InfoMode,
		OutputFormat:  req.OutputFormat,
	})
	if err != nil {
		writeError(w, engineStatus(err), errMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "slot": engine.SlotTorBot})
}

// stopSlot builds the stop handler for one engine slot.
func (s *Server) stopSlot(slot engine.Slot) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := s.supervisor.Stop(slot); err != nil {
			writeError(w, engineStatus(err), errMessage(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "slot": slot})
	}
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	snap := s.supervisor.Status()
	payload := map[string]any{
		"success": true,
		"running": snap.Running,
		"slots":   snap.Slots,
	}
	if snap.Active != "" {
		payload["slot"] = snap.Active
	}
	if snap.Counters != nil {
		payload["counters"] = snap.Counters
	}
	if lastError := latestError(snap); lastError != "" {
		payload["last_error"] = lastError
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) torbotProgress(w http.ResponseWriter, _ *http.Request) {
	progress, running := s.supervisor.Progress()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"running": running,
		"links":   progress.Links,
		"emails":  progress.Emails,
		"phones":  progress.Phones,
		"depth":   progress.Depth,
	})
}

func (s *Server) syncStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := s.publisher.SyncNow()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"primary_exists": status.PrimaryExists,
		"mirror_exists":  status.MirrorExists,
		"hashes_equal":   status.HashesEqual,
	})
}

func (s *Server) syncForce(w http.ResponseWriter, _ *http.Request) {
	status, err := s.publisher.SyncNow()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"primary_exists": status.PrimaryExists,
		"mirror_exists":  status.MirrorExists,
		"hashes_equal":   status.HashesEqual,
	})
}

// errMessage flattens supervisor errors into the wire error string.
func errMessage(err error) string {
	if errors.Is(err, engine.ErrBusy) {
		return "busy"
	}
	msg := err.Error()
	return strings.TrimPrefix(msg, "validation: ")
}

// latestError picks the most useful last_error for the top-level status
// field: the active slot's, else the first errored slot's.
func latestError(snap engine.StateSnapshot) string {
	if snap.Active != "" {
		if state, ok := snap.Slots[snap.Active]; ok && state.LastError != "" {
			return state.LastError
		}
	}
	for _, slot := range engine.Slots {
		if state, ok := snap.Slots[slot]; ok && state.Status == engine.StatusError {
			return state.LastError
		}
	}
	return ""
}
