package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/stt-engine/internal/audio"
	"github.com/snarg/stt-engine/internal/pipeline"
	"github.com/snarg/stt-engine/internal/transcribe"
	"github.com/snarg/stt-engine/internal/transcript"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsIncomingSize = 4
)

// Stream message types.
const (
	msgProgress = "progress"
	msgSegment  = "segment"
	msgComplete = "complete"
	msgError    = "error"
)

type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type progressData struct {
	Progress float64 `json:"progress"`
}

type segmentData struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
}

type completeData struct {
	Text     string               `json:"text"`
	Segments []transcript.Segment `json:"segments"`
}

type errorData struct {
	Error string `json:"error"`
}

// StreamHandler serves GET /api/transcribe/ws/{client_id}. Every binary
// message is one complete audio payload; the reply is a stream of progress
// and segment messages followed by complete or error.
type StreamHandler struct {
	pipeline   Pipeline
	scratchDir string
	maxBytes   int64
	sessions   *atomic.Int64
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

func NewStreamHandler(p Pipeline, scratchDir string, maxBytes int64, sessions *atomic.Int64, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		pipeline:   p,
		scratchDir: scratchDir,
		maxBytes:   maxBytes,
		sessions:   sessions,
		log:        log.With().Str("handler", "stream").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			// Browsers connect from the bundled UI or other origins; access is
			// controlled by BearerAuth.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "wav"
	}
	if !audio.IsSupported("audio." + format) {
		writeUnsupportedFormat(w)
		return
	}
	diarize := true
	if v, ok := QueryBool(r, "diarize"); ok {
		diarize = v
	}
	opts := transcribe.Options{
		Language: strings.TrimSpace(r.URL.Query().Get("language")),
		Prompt:   r.URL.Query().Get("prompt"),
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.sessions.Add(1)
	defer h.sessions.Add(-1)

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:      uuid.NewString(),
		conn:    conn,
		h:       h,
		format:  format,
		diarize: diarize,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.log = h.log.With().
		Str("session", s.id).
		Str("client_id", chi.URLParam(r, "client_id")).
		Logger()

	s.log.Info().Str("format", format).Bool("diarize", diarize).Msg("stream session opened")
	s.serve()
	s.log.Info().Msg("stream session closed")
}

// session is the state of one WebSocket connection. Only the goroutine
// running serve writes to conn.
type session struct {
	id      string
	conn    *websocket.Conn
	h       *StreamHandler
	log     zerolog.Logger
	format  string
	diarize bool
	opts    transcribe.Options

	ctx    context.Context
	cancel context.CancelFunc
}

type incoming struct {
	data   []byte
	binary bool
}

func (s *session) serve() {
	defer s.conn.Close()
	defer s.cancel()

	s.conn.SetReadLimit(s.h.maxBytes)
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	msgs := make(chan incoming, wsIncomingSize)
	go s.readLoop(msgs)

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ping.C:
			if err := s.ping(); err != nil {
				return
			}
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if !m.binary {
				if err := s.send(msgError, errorData{Error: "expected a binary audio message"}); err != nil {
					return
				}
				continue
			}
			if err := s.process(m.data, ping.C); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Warn().Err(err).Msg("stream session ended")
				}
				return
			}
		}
	}
}

// readLoop feeds msgs until the client goes away, then cancels the session
// so a running pipeline stops before its next stage.
func (s *session) readLoop(msgs chan<- incoming) {
	defer close(msgs)
	defer s.cancel()
	for {
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("stream read ended")
			}
			return
		}
		select {
		case msgs <- incoming{data: data, binary: mt == websocket.BinaryMessage}:
		case <-s.ctx.Done():
			return
		}
	}
}

// process runs one payload through the pipeline, relaying its events.
// Pipeline failures are reported to the client and the session continues;
// only connection failures are returned.
func (s *session) process(data []byte, ping <-chan time.Time) error {
	scratch, err := audio.NewScratch(s.h.scratchDir, "ws-")
	if err != nil {
		return s.send(msgError, errorData{Error: err.Error()})
	}
	defer scratch.Cleanup()

	path, _, err := scratch.Write("audio_"+uuid.NewString()+"."+s.format, bytes.NewReader(data), s.h.maxBytes)
	if err != nil {
		return s.send(msgError, errorData{Error: err.Error()})
	}

	events := make(chan pipeline.Event, 16)
	done := make(chan streamOutcome, 1)
	go func() {
		defer close(events)
		done <- s.run(path, events)
	}()

	var writeErr error
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if writeErr == nil {
				if writeErr = s.sendEvent(ev); writeErr != nil {
					s.cancel()
				}
			}
		case <-ping:
			if writeErr == nil {
				if writeErr = s.ping(); writeErr != nil {
					s.cancel()
				}
			}
		}
	}
	out := <-done
	if writeErr != nil {
		return writeErr
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}

	if out.err != "" {
		s.log.Warn().Str("error", out.err).Msg("stream transcription failed")
		return s.send(msgError, errorData{Error: out.err})
	}
	return s.send(msgComplete, completeData{Text: out.tr.Text(), Segments: out.tr.Segments})
}

type streamOutcome struct {
	tr  *transcript.Transcript
	err string
}

func (s *session) run(path string, events chan<- pipeline.Event) streamOutcome {
	opts := s.opts
	if !s.diarize {
		tr, err := s.h.pipeline.Transcribe(s.ctx, path, opts, events)
		if err != nil {
			return streamOutcome{err: err.Error()}
		}
		return streamOutcome{tr: tr}
	}
	res, err := s.h.pipeline.Produce(s.ctx, path, nil, opts, events)
	if err != nil {
		return streamOutcome{err: err.Error()}
	}
	if res.Error != "" {
		return streamOutcome{err: res.Error}
	}
	return streamOutcome{tr: &res.Transcript}
}

func (s *session) sendEvent(ev pipeline.Event) error {
	switch ev.Type {
	case pipeline.EventProgress:
		return s.send(msgProgress, progressData{Progress: ev.Progress})
	case pipeline.EventSegment:
		if ev.Segment == nil {
			return nil
		}
		return s.send(msgSegment, segmentData{
			Text:    strings.TrimSpace(ev.Segment.Text),
			Start:   ev.Segment.Start,
			End:     ev.Segment.End,
			Speaker: ev.Segment.Speaker,
		})
	}
	return nil
}

func (s *session) send(typ string, data any) error {
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(streamMessage{Type: typ, Data: data})
}

func (s *session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}
