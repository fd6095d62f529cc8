package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/stt-engine/internal/storage"
)

// TranscriptFileHandler serves GET /api/transcripts/{file}, returning a
// stored subtitle or transcript by the id from a diarized response.
func TranscriptFileHandler(store storage.ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			WriteError(w, http.StatusNotFound, "result storage is disabled")
			return
		}
		key := chi.URLParam(r, "file")
		if err := storage.ValidateKey(key); err != nil {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid transcript name", err.Error())
			return
		}

		rc, err := store.Open(r.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "transcript not found")
			return
		}
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("key", key).Msg("open stored transcript")
			WriteError(w, http.StatusInternalServerError, "failed to read transcript")
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", storage.ContentType(key))
		w.WriteHeader(http.StatusOK)
		io.Copy(w, rc)
	}
}
