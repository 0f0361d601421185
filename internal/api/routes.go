package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipstudio/clipstudio-agent/internal/jobs"
	"github.com/clipstudio/clipstudio-agent/internal/playback"
	"github.com/clipstudio/clipstudio-agent/internal/render"
)

// maxRequestBody bounds POST /exports; inline watermark images dominate it.
const maxRequestBody = 16 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORS(cfg.CORSOrigins))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Config, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/exports", startExportHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Post("/exports/{id}/cancel", cancelExportHandler(cfg))
	})

	// Downloads authenticate with the signed token in the URL so that a
	// plain <a href> or <video src> can fetch them.
	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())

		r.Get("/downloads/{id}", downloadHandler(cfg))
		r.Head("/downloads/{id}", downloadHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := cfg.Exports.Active()
		resp := StatusResponse{
			State:          "idle",
			ExportsRunning: len(active),
			ActiveExports:  make([]ExportResponse, len(active)),
		}
		for i, e := range active {
			resp.ActiveExports[i] = ExportToResponse(e, nil)
		}

		if len(active) > 0 {
			resp.State = "exporting"
		} else if recent, err := cfg.Exports.List(r.Context(), 1); err == nil && len(recent) > 0 {
			if last := recent[0]; last.Status == render.StateFailed {
				resp.State = "error"
				resp.LastError = last.ErrorMessage
			}
		}

		if cfg.Doctor != nil {
			resp.Pipelines = PipelinesToResponse(cfg.Doctor.Peek())
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		e, err := cfg.Exports.Start(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Location", "/exports/"+e.ID)
		WriteJSON(w, http.StatusAccepted, ExportToResponse(e, cfg.Links))
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		exports, err := cfg.Exports.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}

		resp := ExportsResponse{Exports: make([]ExportResponse, len(exports))}
		for i, e := range exports {
			resp.Exports[i] = ExportToResponse(e, cfg.Links)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := cfg.Exports.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(e, cfg.Links))
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Exports.Cancel(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}

		e, err := cfg.Exports.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, ExportToResponse(e, cfg.Links))
	}
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if cfg.Links == nil {
			WriteError(w, http.StatusNotFound, "downloads are disabled", "NOT_FOUND")
			return
		}
		if err := cfg.Links.Verify(r.URL.Query().Get("token"), id); err != nil {
			WriteError(w, http.StatusForbidden, err.Error(), "FORBIDDEN")
			return
		}

		e, err := cfg.Exports.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if e.Status != render.StateDone {
			WriteError(w, http.StatusConflict, "export is "+string(e.Status), "NOT_READY")
			return
		}
		d, ok := downloadFor(e)
		if !ok {
			WriteError(w, http.StatusNotFound, "export is stored remotely", "REMOTE_ONLY")
			return
		}

		if err := cfg.Downloads.ServeDownload(w, r, d); err != nil {
			cfg.Logger.Error("download error", "error", err, "export_id", id)
		}
	}
}

// downloadFor resolves the local file backing a finished export. Encrypted
// exports are served as ciphertext with the IV and salt as headers.
func downloadFor(e *jobs.Export) (playback.Download, bool) {
	if !e.Downloadable() {
		return playback.Download{}, false
	}
	if !e.Encrypted {
		return playback.Download{Path: e.Path, Filename: e.Filename, MimeType: e.MimeType}, true
	}
	if !filepath.IsAbs(e.Location) {
		return playback.Download{}, false
	}
	h := http.Header{}
	h.Set("X-Clipstudio-IV", base64.StdEncoding.EncodeToString(e.IV))
	h.Set("X-Clipstudio-Salt", base64.StdEncoding.EncodeToString(e.Salt))
	h.Set("X-Clipstudio-Mime-Type", e.MimeType)
	return playback.Download{
		Path:     e.Location,
		Filename: e.Filename + ".enc",
		MimeType: "application/octet-stream",
		Header:   h,
	}, true
}
