package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/snarg/stt-engine/internal/audio"
	"github.com/snarg/stt-engine/internal/media"
	"github.com/snarg/stt-engine/internal/pipeline"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// writeUnsupportedFormat is the 400 returned before any engine runs.
func writeUnsupportedFormat(w http.ResponseWriter) {
	WriteErrorDetail(w, http.StatusBadRequest, "unsupported file format",
		"supported formats: "+strings.Join(audio.SupportedFormats, ", "))
}

// writeFailure maps pipeline errors onto HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	var de *media.DownloadError
	switch {
	case errors.Is(err, audio.ErrUnsupportedFormat):
		writeUnsupportedFormat(w)
	case errors.Is(err, audio.ErrTooLarge):
		WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "file too large", err.Error())
	case errors.Is(err, pipeline.ErrUnreadableAudio):
		WriteErrorDetail(w, http.StatusUnprocessableEntity, "unreadable audio", err.Error())
	case errors.As(err, &de):
		WriteErrorDetail(w, http.StatusBadGateway, "failed to download YouTube audio", de.Error())
	default:
		WriteErrorDetail(w, http.StatusInternalServerError, "transcription failed", err.Error())
	}
}

// QueryBool extracts a boolean query parameter.
func QueryBool(r *http.Request, name string) (bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// formBool reads a boolean form field, returning def when it is missing.
func formBool(r *http.Request, name string, def bool) (bool, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, errors.New("invalid " + name + " " + strconv.Quote(v) + ": must be a boolean")
	}
	return b, nil
}
