package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/stt-engine/internal/audio"
	"github.com/snarg/stt-engine/internal/storage"
	"github.com/snarg/stt-engine/internal/transcribe"
	"github.com/snarg/stt-engine/internal/transcript"
)

// multipartMemory is how much of a form is held in memory before spilling
// to disk.
const multipartMemory = 32 << 20

// SegmentResponse is one speaker-labeled segment.
type SegmentResponse struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// DiarizedResponse is returned by /api/transcribe and the YouTube endpoint.
type DiarizedResponse struct {
	Text     string            `json:"text"`
	Segments []SegmentResponse `json:"segments"`
	SRT      string            `json:"srt"`
	Language string            `json:"language"`
	ID       string            `json:"id,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// OpenAIResponse is the /v1/audio/transcriptions body. Language and Segments
// are only set for response_format=verbose_json.
type OpenAIResponse struct {
	Text     string               `json:"text"`
	Language string               `json:"language,omitempty"`
	Segments []transcript.Segment `json:"segments,omitempty"`
}

// TranscribeHandler serves the upload endpoints.
type TranscribeHandler struct {
	pipeline   Pipeline
	store      storage.ResultStore
	scratchDir string
	maxBytes   int64
	log        zerolog.Logger
}

// NewTranscribeHandler creates the upload handler. store may be nil.
func NewTranscribeHandler(p Pipeline, store storage.ResultStore, scratchDir string, maxBytes int64, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		pipeline:   p,
		store:      store,
		scratchDir: scratchDir,
		maxBytes:   maxBytes,
		log:        log.With().Str("handler", "transcribe").Logger(),
	}
}

// OpenAI handles POST /v1/audio/transcriptions.
// Accepts file, model, prompt, response_format (json|text|srt|verbose_json),
// temperature and language. model is accepted for compatibility and ignored.
func (h *TranscribeHandler) OpenAI(w http.ResponseWriter, r *http.Request) {
	file, header, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	format := r.FormValue("response_format")
	if format == "" {
		format = "json"
	}
	switch format {
	case "json", "text", "srt", "verbose_json":
	default:
		WriteErrorDetail(w, http.StatusBadRequest, "invalid response_format", "supported: json, text, srt, verbose_json")
		return
	}
	opts, err := parseOptions(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	scratch, path, err := h.save(file, header.Filename)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer scratch.Cleanup()

	tr, err := h.pipeline.Transcribe(r.Context(), path, opts, nil)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("transcription failed")
		writeFailure(w, err)
		return
	}

	resp := OpenAIResponse{Text: tr.Text()}
	switch format {
	case "srt":
		resp.Text = transcript.FormatSRT(tr.Segments, false)
	case "verbose_json":
		resp.Language = tr.Language
		resp.Segments = tr.Segments
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Diarized handles POST /api/transcribe.
// enable_diarization defaults to true; with it off segments are labeled
// UNKNOWN. Without a diarizer configured the pipeline falls back to
// heuristic speakers. An optional transcript_srt field supplies an existing
// transcript, so only alignment and diarization run against the audio.
func (h *TranscribeHandler) Diarized(w http.ResponseWriter, r *http.Request) {
	file, header, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

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
	existing, err := parseExisting(r, opts.Language)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid transcript_srt", err.Error())
		return
	}

	scratch, path, err := h.save(file, header.Filename)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer scratch.Cleanup()

	resp, err := h.run(r.Context(), path, diarize, existing, opts)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("transcription failed")
		writeFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// run produces the diarized response for a file already on disk. existing
// may be nil.
func (h *TranscribeHandler) run(ctx context.Context, path string, diarize bool, existing *transcript.Transcript, opts transcribe.Options) (*DiarizedResponse, error) {
	if !diarize {
		tr := existing
		if tr == nil {
			var err error
			if tr, err = h.pipeline.Transcribe(ctx, path, opts, nil); err != nil {
				return nil, err
			}
		} else if err := audio.CheckReadable(path); err != nil {
			return nil, err
		}
		return &DiarizedResponse{
			Text:     tr.Text(),
			Segments: segmentResponses(tr.Segments),
			SRT:      transcript.FormatSRT(tr.Segments, false),
			Language: tr.Language,
		}, nil
	}

	res, err := h.pipeline.Produce(ctx, path, existing, opts, nil)
	if err != nil {
		return nil, err
	}
	resp := &DiarizedResponse{
		Text:     res.Text(),
		Segments: segmentResponses(res.Segments),
		SRT:      transcript.FormatSRT(res.Segments, true),
		Language: res.Language,
		Error:    res.Error,
	}
	if res.Error == "" {
		resp.ID = h.persist(ctx, resp, &res.Transcript)
	}
	return resp, nil
}

// persist stores the subtitle and transcript and returns their id. Storage
// failures are logged and leave the response without an id.
func (h *TranscribeHandler) persist(ctx context.Context, resp *DiarizedResponse, tr *transcript.Transcript) string {
	if h.store == nil {
		return ""
	}
	id := uuid.NewString()
	body, err := json.Marshal(tr)
	if err != nil {
		h.log.Warn().Err(err).Msg("encode transcript for storage")
		return ""
	}
	for key, data := range map[string][]byte{
		id + ".srt":  []byte(resp.SRT),
		id + ".json": body,
	} {
		if err := h.store.Save(ctx, key, data, storage.ContentType(key)); err != nil {
			h.log.Warn().Err(err).Str("key", key).Str("store", h.store.Type()).Msg("failed to store result")
			return ""
		}
	}
	return id
}

// readUpload parses the multipart form and returns the "file" part. The
// extension is checked here so unsupported files never reach an engine.
func (h *TranscribeHandler) readUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "file too large",
				"limit is "+strconv.FormatInt(h.maxBytes>>20, 10)+" MB")
			return nil, nil, false
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return nil, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "missing file", "multipart field \"file\" is required")
		return nil, nil, false
	}
	if !audio.IsSupported(header.Filename) {
		file.Close()
		writeUnsupportedFormat(w)
		return nil, nil, false
	}
	return file, header, true
}

// save copies the upload into a fresh scratch directory. The caller must
// Cleanup the returned scratch.
func (h *TranscribeHandler) save(src io.Reader, name string) (*audio.Scratch, string, error) {
	scratch, err := audio.NewScratch(h.scratchDir, "upload-")
	if err != nil {
		return nil, "", err
	}
	path, _, err := scratch.Write(name, src, h.maxBytes)
	if err != nil {
		scratch.Cleanup()
		return nil, "", err
	}
	return scratch, path, nil
}

func parseOptions(r *http.Request) (transcribe.Options, error) {
	opts := transcribe.Options{
		Language: strings.TrimSpace(r.FormValue("language")),
		Prompt:   r.FormValue("prompt"),
	}
	if v := strings.TrimSpace(r.FormValue("temperature")); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 1 {
			return opts, errors.New("invalid temperature " + strconv.Quote(v) + ": must be between 0 and 1")
		}
		opts.Temperature = t
	}
	return opts, nil
}

// parseExisting reads the optional transcript_srt field. Set
// transcript_srt_labeled when the SRT carries "[speaker] " prefixes (as this
// service emits); they are stripped so the diarizer decides the labels.
// Otherwise the text is taken verbatim.
func parseExisting(r *http.Request, language string) (*transcript.Transcript, error) {
	raw := r.FormValue("transcript_srt")
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	labeled, err := formBool(r, "transcript_srt_labeled", false)
	if err != nil {
		return nil, err
	}
	segs, err := transcript.ParseSRT(raw, labeled)
	if err != nil {
		return nil, err
	}
	for i := range segs {
		segs[i].Speaker = ""
	}
	tr := &transcript.Transcript{Language: language, Segments: segs}
	if tr.Language == "" {
		tr.Language = transcript.DefaultLanguage
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return tr, nil
}

func segmentResponses(segs []transcript.Segment) []SegmentResponse {
	out := make([]SegmentResponse, len(segs))
	for i, s := range segs {
		speaker := s.Speaker
		if speaker == "" {
			speaker = transcript.UnknownSpeaker
		}
		out[i] = SegmentResponse{
			Speaker: speaker,
			Start:   s.Start,
			End:     s.End,
			Text:    strings.TrimSpace(s.Text),
		}
	}
	return out
}
