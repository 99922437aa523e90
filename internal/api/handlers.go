package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"indexator/internal/database"
	"indexator/internal/distribution"
	"indexator/internal/models"
)

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		SiteID int64                 `json:"site_id"`
		URLs   []models.URLCandidate `json:"urls"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.SiteID <= 0 {
		writeError(w, http.StatusBadRequest, "site_id is required")
		return
	}
	if len(body.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}

	result, err := s.queue.Enqueue(r.Context(), body.SiteID, body.URLs)
	if err != nil {
		writeQueueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	siteID, err := siteIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.queue.Stats(r.Context(), siteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		SiteID int64 `json:"site_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.SiteID <= 0 {
		writeError(w, http.StatusBadRequest, "site_id is required")
		return
	}

	removed, err := s.queue.ClearAllPending(r.Context(), body.SiteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear pending queue")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"removed_count": removed})
}

func (s *HTTPServer) handleRebalancePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	siteID, err := siteIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	preview, err := s.balancer.PreviewRebalance(r.Context(), siteID)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	if preview == nil {
		writeJSON(w, http.StatusOK, map[string]any{"preview": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"preview": preview})
}

func (s *HTTPServer) handleRebalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		SiteID int64 `json:"site_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.SiteID <= 0 {
		writeError(w, http.StatusBadRequest, "site_id is required")
		return
	}

	rebalanced, err := s.balancer.RebalanceQueue(r.Context(), body.SiteID)
	if err != nil {
		writeQueueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"urls_rebalanced": rebalanced})
}

func (s *HTTPServer) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		IntegrationID int64 `json:"integration_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.IntegrationID <= 0 {
		writeError(w, http.StatusBadRequest, "integration_id is required")
		return
	}

	item, err := s.queue.Claim(r.Context(), body.IntegrationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to claim queue item")
		return
	}

	// nil item means nothing is due; processors poll again later
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

// handleItem routes /api/v1/queue/items/{id} (DELETE) and
// /api/v1/queue/items/{id}/result (POST).
func (s *HTTPServer) handleItem(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/queue/items/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	if strings.HasSuffix(rest, "/result") {
		s.handleItemResult(w, r, strings.TrimSuffix(rest, "/result"))
		return
	}

	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if err := s.queue.RemoveItem(r.Context(), id); err != nil {
		writeQueueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (s *HTTPServer) handleItemResult(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.queue.ReportResult(r.Context(), id, body.Success, body.Error); err != nil {
		writeQueueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
}

// handleBatch routes /api/v1/batches/{id}/cancel (POST) and
// /api/v1/batches/{id} (GET).
func (s *HTTPServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/batches/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	if strings.HasSuffix(rest, "/cancel") {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		batchID := strings.TrimSuffix(rest, "/cancel")
		if batchID == "" {
			writeError(w, http.StatusBadRequest, "batch id is required")
			return
		}
		if err := s.queue.CancelBatch(r.Context(), batchID); err != nil {
			writeQueueError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	batch, err := s.queue.GetBatch(r.Context(), rest)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *HTTPServer) handleQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	siteID, err := siteIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.queue.AggregatedQuota(r.Context(), siteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get aggregated quota")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		SiteID int64 `json:"site_id"`
		Days   int   `json:"days"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.SiteID <= 0 {
		writeError(w, http.StatusBadRequest, "site_id is required")
		return
	}

	path, err := s.exporter.ScheduleToExcel(r.Context(), body.SiteID, startOfToday(), body.Days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to export schedule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"path": path})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeQueueError maps engine errors onto HTTP status codes.
func writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, distribution.ErrEmptyURLList),
		errors.Is(err, distribution.ErrNoEligibleIntegrations):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
