package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/stt-engine/internal/media"
)

// YouTubeHandler serves POST /api/transcribe/youtube.
type YouTubeHandler struct {
	downloader Downloader
	th         *TranscribeHandler
	log        zerolog.Logger
}

func NewYouTubeHandler(d Downloader, th *TranscribeHandler, log zerolog.Logger) *YouTubeHandler {
	return &YouTubeHandler{
		downloader: d,
		th:         th,
		log:        log.With().Str("handler", "youtube").Logger(),
	}
}

// Transcribe downloads the audio track behind the url form field and runs
// it through the same path as an upload. Accepts enable_diarization and
// language like /api/transcribe.
func (h *YouTubeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if h.downloader == nil {
		WriteError(w, http.StatusServiceUnavailable, "YouTube downloads are not configured")
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid form", err.Error())
		return
	}

	url := strings.TrimSpace(r.FormValue("url"))
	if !media.IsValidURL(url) {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid YouTube URL", "provide a youtube.com or youtu.be video link")
		return
	}
	diarize, err := formBool(r, "enable_diarization", true)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseOptions(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := hlog.FromRequest(r)
	dl, err := h.downloader.Download(r.Context(), url)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("youtube download failed")
		writeFailure(w, err)
		return
	}
	defer func() {
		if err := dl.Cleanup(); err != nil {
			h.log.Warn().Err(err).Str("dir", dl.Dir).Msg("failed to remove download")
		}
	}()

	resp, err := h.th.run(r.Context(), dl.Path, diarize, nil, opts)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("transcription failed")
		writeFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
