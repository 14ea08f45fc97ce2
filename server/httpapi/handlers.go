package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/lememe/leme/helpers"
	"github.com/lememe/leme/logger"
	"github.com/lememe/leme/reports"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status         string     `json:"status"`
	Database       string     `json:"database"`
	Message        string     `json:"message"`
	State          string     `json:"state"`
	Handle         uint64     `json:"handle,omitempty"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// ReportInfo describes one report in GET /reports.
type ReportInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(bannerText))
}

// handleStatus acquires the pool, reconnecting if needed, and pings it.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbErr := s.pingDatabase(ctx)
	st := s.pools.Status()

	resp := StatusResponse{State: st.State.String()}
	if st.HandleID != 0 {
		resp.Handle = st.HandleID
		since := st.CreatedAt
		resp.ConnectedSince = &since
	}

	if dbErr != nil {
		logger.WarnContext(ctx, "Status check found the database unreachable", "component", "HTTP", "error", dbErr)
		resp.Status = "degraded"
		resp.Database = "disconnected"
		resp.Message = "API is running, but the database is disconnected"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "ok"
	resp.Database = "connected"
	resp.Message = "API and database connected"
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) pingDatabase(ctx context.Context) error {
	h, err := s.pools.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	pingCtx, cancel := context.WithTimeout(ctx, statusPingTimeout)
	defer cancel()
	return h.Ping(pingCtx)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	list := make([]ReportInfo, 0, len(all))
	for _, rep := range all {
		path := rep.Path
		if path == "" {
			path = "/reports/" + rep.Name
		}
		list = append(list, ReportInfo{Name: rep.Name, Path: path, Description: rep.Description})
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleReportByName(w http.ResponseWriter, r *http.Request) {
	rep, err := s.registry.Lookup(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Unknown report")
		return
	}
	s.serveReport(w, r, rep)
}

// handleReportByPath serves reports registered with a route of their own.
// The matched route template is the report path.
func (s *Server) handleReportByPath(w http.ResponseWriter, r *http.Request) {
	rep, err := s.registry.LookupPath(routeName(r))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Unknown report")
		return
	}
	s.serveReport(w, r, rep)
}

// serveReport runs one report on the shared pool and writes its rows.
func (s *Server) serveReport(w http.ResponseWriter, r *http.Request, rep reports.Report) {
	ctx := r.Context()

	h, err := s.pools.Acquire(ctx)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	defer h.Release()

	rows, err := s.runner.Run(ctx, h, rep)
	if err != nil {
		if errors.Is(err, reports.ErrQueryTimeout) {
			s.writeError(w, http.StatusGatewayTimeout, "Report query timed out")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Report query failed")
		return
	}

	body, err := json.Marshal(rows)
	if err != nil {
		logger.ErrorContext(ctx, "Error encoding report rows", "component", "HTTP", "report", rep.Name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Report query failed")
		return
	}

	etag := helpers.ContentETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if helpers.ETagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}
