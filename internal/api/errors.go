package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/clipstudio/clipstudio-agent/internal/edit"
	"github.com/clipstudio/clipstudio-agent/internal/export"
	"github.com/clipstudio/clipstudio-agent/internal/jobs"
	"github.com/clipstudio/clipstudio-agent/internal/render"
)

var badRequest = []error{
	jobs.ErrSourceRequired,
	export.ErrFormatWithPassword,
	export.ErrUnsupportedFormat,
	export.ErrInvalidOutputDir,
	edit.ErrInvalidTrim,
	edit.ErrInvalidCaption,
	edit.ErrInvalidRegion,
	edit.ErrInvalidWatermark,
	edit.ErrInvalidTransition,
}

// writeServiceError maps an export service error to a status and code.
func writeServiceError(w http.ResponseWriter, err error) {
	for _, target := range badRequest {
		if errors.Is(err, target) {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
	}

	switch {
	case errors.Is(err, jobs.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
		return
	case errors.Is(err, jobs.ErrShuttingDown):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "SHUTTING_DOWN")
		return
	}

	status := http.StatusInternalServerError
	switch render.KindOf(err) {
	case render.KindInvalidSourceMedia:
		status = http.StatusUnprocessableEntity
	case render.KindExportAlreadyInProgress:
		status = http.StatusConflict
	case render.KindQuotaExceeded:
		status = http.StatusInsufficientStorage
	case "":
		WriteError(w, status, err.Error(), "INTERNAL_ERROR")
		return
	}
	WriteError(w, status, err.Error(), strings.ToUpper(string(render.KindOf(err))))
}
