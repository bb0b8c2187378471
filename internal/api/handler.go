package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/loadguard/internal/calendar"
	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/ingest"
	"github.com/opensource-finance/loadguard/internal/metrics"
	"github.com/opensource-finance/loadguard/internal/processor"
	"github.com/opensource-finance/loadguard/internal/report"
	"github.com/opensource-finance/loadguard/internal/repository"
	"github.com/opensource-finance/loadguard/internal/session"
	"github.com/opensource-finance/loadguard/internal/velocity"
)

// Filenames recorded for outputs that did not come from an uploaded file.
const (
	FilenameAPI    = "api"
	FilenameManual = "manual_upload"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	session   *session.Session
	velocity  *velocity.Service
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	version   string
	maxUpload int64
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(sess *session.Session, vel *velocity.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &Handler{
		session:   sess,
		velocity:  vel,
		repo:      repo,
		cache:     cache,
		bus:       bus,
		version:   version,
		maxUpload: maxUpload,
	}
}

// Root returns API information.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Loadguard fund load adjudication API",
		"version": h.version,
		"endpoints": map[string]string{
			"process":    "/api/v1/process",
			"loads":      "/api/v1/loads",
			"config":     "/api/v1/config",
			"statistics": "/api/v1/statistics",
			"dashboard":  "/api/v1/dashboard-stats",
			"outputs":    "/api/v1/outputs",
			"health":     "/health",
			"metrics":    "/metrics",
		},
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"service": "loadguard",
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Process handles POST /api/v1/process: a multipart upload in field "file"
// is adjudicated as one batch and answered with a ZIP of the result files.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if err := ingest.CheckExtension(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	txs, err := ingest.Decode(data, ingest.DetectFormat(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch := h.session.AdjudicateBatch(ctx, header.Filename, txs)
	processID, results := batch.ProcessID, batch.Results
	h.saveOutputs(r, batch)

	archive, err := report.Archive(results)
	if err != nil {
		slog.Error("failed to build archive", "process_id", processID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build result archive")
		return
	}
	h.cacheArchive(r, processID, archive)

	slog.Info("file processed",
		"process_id", processID,
		"filename", header.Filename,
		"transactions", len(results),
		"trace_id", GetTraceID(ctx),
	)

	writeArchive(w, processID, archive)
}

// GetArchive handles GET /api/v1/process/{id}/archive. The archive comes from
// the cache, or is rebuilt from stored outputs.
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	processID := chi.URLParam(r, "id")

	if h.cache != nil {
		archive, err := h.cache.Get(ctx, domain.ArchiveKey(processID))
		if err != nil {
			slog.Warn("archive cache read failed", "process_id", processID, "error", err)
		}
		if archive != nil {
			writeArchive(w, processID, archive)
			return
		}
	}

	if h.repo == nil {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}

	batch, err := h.repo.GetOutputs(ctx, processID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		slog.Error("failed to get outputs", "process_id", processID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load outputs")
		return
	}

	archive, err := report.Archive(batch.Results)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build result archive")
		return
	}
	h.cacheArchive(r, processID, archive)

	writeArchive(w, processID, archive)
}

// SubmitLoad handles POST /api/v1/loads. With ?async=true the load is
// published for the worker and 202 is returned; otherwise the result is
// returned directly.
func (h *Handler) SubmitLoad(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if h.bus == nil {
			writeError(w, http.StatusServiceUnavailable, "event bus not available")
			return
		}
		payload, _ := json.Marshal(tx)
		if err := h.bus.Publish(ctx, domain.TopicLoadSubmitted, payload); err != nil {
			slog.Error("failed to publish load", "tx_id", tx.ID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "failed to queue load")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "queued",
			"id":     tx.ID,
		})
		return
	}

	batch := h.session.Adjudicate(ctx, FilenameAPI, tx)
	h.saveOutputs(r, batch)

	w.Header().Set(ProcessIDHeader, batch.ProcessID)
	writeJSON(w, http.StatusOK, batch.Results[0])
}

// GetConfig returns the limits in effect.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.PayloadFromLimits(h.session.Limits()))
}

// UpdateConfig replaces the limits. Rule state starts empty under the new limits.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var payload domain.LimitsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	limits, err := payload.ToLimits()
	if err == nil {
		err = limits.Validate()
	}
	if err == nil {
		err = h.session.Reconfigure(limits)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "configuration update failed: "+err.Error())
		return
	}
	metrics.ConfigReloads.WithLabelValues("api").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Configuration updated successfully",
		"config":  domain.PayloadFromLimits(limits),
	})
}

// ResetConfig restores the default limits.
func (h *Handler) ResetConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Reset(); err != nil {
		slog.Error("failed to reset configuration", "error", err)
		writeError(w, http.StatusInternalServerError, "configuration reset failed")
		return
	}
	metrics.ConfigReloads.WithLabelValues("reset").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Configuration reset to defaults",
		"config":  domain.PayloadFromLimits(h.session.Limits()),
	})
}

// StatisticsResponse combines persisted totals with the live engine state.
type StatisticsResponse struct {
	domain.OutputStatistics
	Engine processor.Stats `json:"engine"`
}

// Statistics returns accept/reject totals and engine state sizes.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	resp := StatisticsResponse{Engine: h.session.Stats()}

	if h.repo != nil {
		stats, err := h.repo.Statistics(r.Context())
		if err != nil {
			slog.Error("failed to get statistics", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get statistics")
			return
		}
		resp.OutputStatistics = *stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// DashboardStats returns aggregates over every stored output.
func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	history, err := h.repo.ListResults(r.Context())
	if err != nil {
		slog.Error("failed to list results", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get dashboard stats")
		return
	}

	writeJSON(w, http.StatusOK, report.BuildDashboard(history, time.Now()))
}

// OutputAudit is the audit part of a stored output entry.
type OutputAudit struct {
	EffectiveAmount string                       `json:"effective_amount"`
	RulesEvaluated  map[string]domain.RuleResult `json:"rules_evaluated"`
}

// OutputEntry is one result as exchanged on /api/v1/outputs.
type OutputEntry struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id"`
	Accepted   bool        `json:"accepted"`
	LoadAmount string      `json:"load_amount,omitempty"`
	Time       string      `json:"time,omitempty"`
	Audit      OutputAudit `json:"audit"`
}

// OutputRun is one processing run as listed on GET /api/v1/outputs.
type OutputRun struct {
	ID        string        `json:"id"`
	Timestamp int64         `json:"timestamp"`
	Date      string        `json:"date"`
	Filename  string        `json:"filename"`
	Outputs   []OutputEntry `json:"outputs"`
}

// SaveOutputsRequest is the request body for POST /api/v1/outputs.
type SaveOutputsRequest struct {
	Filename string        `json:"filename"`
	Outputs  []OutputEntry `json:"outputs"`
}

// ListOutputs returns every stored run, newest first.
func (h *Handler) ListOutputs(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	batches, err := h.repo.ListOutputs(r.Context())
	if err != nil {
		slog.Error("failed to list outputs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get outputs")
		return
	}

	runs := make([]OutputRun, 0, len(batches))
	for _, b := range batches {
		run := OutputRun{
			ID:        b.ProcessID,
			Timestamp: b.Timestamp.Unix(),
			Date:      b.Timestamp.Format(time.RFC3339),
			Filename:  b.Filename,
			Outputs:   make([]OutputEntry, 0, len(b.Results)),
		}
		for _, res := range b.Results {
			run.Outputs = append(run.Outputs, OutputEntry{
				ID:         res.ID,
				CustomerID: res.CustomerID,
				Accepted:   res.Accepted,
				LoadAmount: res.OriginalAmount,
				Time:       res.Time,
				Audit: OutputAudit{
					EffectiveAmount: res.EffectiveAmount,
					RulesEvaluated:  res.RulesEvaluated,
				},
			})
		}
		runs = append(runs, run)
	}

	writeJSON(w, http.StatusOK, runs)
}

// SaveOutputs stores externally produced outputs as a new run. Entries
// without an id are skipped.
func (h *Handler) SaveOutputs(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	var req SaveOutputsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Filename == "" {
		req.Filename = FilenameManual
	}

	results := make([]domain.ProcessingResult, 0, len(req.Outputs))
	for _, o := range req.Outputs {
		if o.ID == "" {
			continue
		}
		rules := o.Audit.RulesEvaluated
		if rules == nil {
			rules = map[string]domain.RuleResult{}
		}
		results = append(results, domain.ProcessingResult{
			ID:              o.ID,
			CustomerID:      o.CustomerID,
			Accepted:        o.Accepted,
			OriginalAmount:  o.LoadAmount,
			EffectiveAmount: o.Audit.EffectiveAmount,
			RulesEvaluated:  rules,
			Time:            o.Time,
		})
	}

	processID := uuid.New().String()
	err := h.repo.SaveOutputs(r.Context(), &domain.OutputBatch{
		ProcessID: processID,
		Timestamp: time.Now(),
		Filename:  req.Filename,
		Results:   results,
	})
	if err != nil {
		slog.Error("failed to save outputs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save output")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Output saved to database",
		"id":      processID,
		"saved":   len(results),
	})
}

// CustomerVelocity returns a customer's stored load velocity for ?date=YYYY-MM-DD
// (default today, UTC).
func (h *Handler) CustomerVelocity(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	date := time.Now().UTC()
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := calendar.ParseDate(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	if h.velocity == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	v, err := h.velocity.CustomerVelocity(r.Context(), customerID, date)
	if errors.Is(err, velocity.ErrNoRepository) {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err != nil {
		slog.Error("failed to compute velocity", "customer_id", customerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute velocity")
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// saveOutputs persists a run. Failures are logged; the caller still gets its results.
func (h *Handler) saveOutputs(r *http.Request, batch *domain.OutputBatch) {
	if h.repo == nil {
		return
	}
	if err := h.repo.SaveOutputs(r.Context(), batch); err != nil {
		slog.Error("failed to save outputs", "process_id", batch.ProcessID, "error", err)
	}
}

func (h *Handler) cacheArchive(r *http.Request, processID string, archive []byte) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(r.Context(), domain.ArchiveKey(processID), archive, domain.ArchiveTTL); err != nil {
		slog.Warn("failed to cache archive", "process_id", processID, "error", err)
	}
}

func writeArchive(w http.ResponseWriter, processID string, archive []byte) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="results.zip"`)
	w.Header().Set(ProcessIDHeader, processID)
	w.WriteHeader(http.StatusOK)
	w.Write(archive)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
