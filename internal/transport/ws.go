// Package transport hosts the WebSocket streaming surface over the engine's
// session API. One connection maps to one session: the client opens the
// socket with its session parameters in the query string, streams binary
// sample blocks in, and receives processed blocks back in submission order.
//
// Wire format (binary messages, little-endian): 8 bytes of block sequence
// followed by block_size float32 samples. Text messages carry JSON control
// requests ("stats", "reconfigure").
//
// The transport carries none of the core's semantics — it is a thin adapter
// over Submit/Take that the engine never depends on.
package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/nullwave/nullwave/internal/engine"
	"github.com/nullwave/nullwave/pkg/anc"
)

// takePollInterval is how often the writer side polls the output queue while
// it is empty. About a fifth of a typical block duration (10.7 ms for 512
// samples at 48 kHz) keeps added latency negligible without spinning.
const takePollInterval = 2 * time.Millisecond

// Handler serves the /v1/stream endpoint.
type Handler struct {
	engine   *engine.Engine
	defaults anc.SessionConfig
}

// New creates a Handler that opens sessions seeded from defaults.
func New(e *engine.Engine, defaults anc.SessionConfig) *Handler {
	return &Handler{engine: e, defaults: defaults}
}

// Register adds the streaming route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/stream", h.Stream)
}

// Stream upgrades the request to a WebSocket, opens a session from the query
// parameters, and pumps blocks both ways until the client disconnects. The
// session is terminated (queued input discarded) and removed when the
// connection ends.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.sessionConfig(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.engine.Sessions().Open(r.Context(), cfg)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, anc.ErrInvalidConfig):
			status = http.StatusBadRequest
		case errors.Is(err, anc.ErrCapacityExceeded):
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.engine.Sessions().Remove(id)
		slog.Warn("websocket accept failed", "session_id", id, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	slog.Info("stream connected", "session_id", id, "remote", r.RemoteAddr)

	// Writer: poll the output queue and push processed blocks to the client.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, id, cfg.BlockSize)
	}()

	h.readLoop(ctx, conn, id, cfg.BlockSize)
	cancel()
	<-writerDone

	h.engine.Sessions().Remove(id)
	conn.Close(websocket.StatusNormalClosure, "session ended")
	slog.Info("stream disconnected", "session_id", id)
}

// readLoop consumes client messages until the connection drops.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, id anc.SessionID, blockSize int) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			block, err := decodeBlock(data, blockSize)
			if err != nil {
				h.writeError(ctx, conn, err)
				continue
			}
			if err := h.engine.Sessions().Submit(id, block); err != nil {
				if errors.Is(err, anc.ErrClosed) || errors.Is(err, anc.ErrNotFound) {
					return
				}
				h.writeError(ctx, conn, err)
			}
		case websocket.MessageText:
			h.handleControl(ctx, conn, id, data)
		}
	}
}

// writeLoop forwards processed blocks to the client in order.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, id anc.SessionID, blockSize int) {
	ticker := time.NewTicker(takePollInterval)
	defer ticker.Stop()

	for {
		b, ok, err := h.engine.Sessions().Take(id)
		if err != nil {
			return
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		if err := conn.Write(ctx, websocket.MessageBinary, encodeBlock(b)); err != nil {
			return
		}
	}
}

// controlRequest is the JSON envelope for text messages.
type controlRequest struct {
	Op     string             `json:"op"` // "stats" | "reconfigure"
	Config *anc.SessionConfig `json:"config,omitempty"`
}

func (h *Handler) handleControl(ctx context.Context, conn *websocket.Conn, id anc.SessionID, data []byte) {
	var req controlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.writeError(ctx, conn, errors.New("transport: malformed control message"))
		return
	}

	switch req.Op {
	case "stats":
		st, err := h.engine.Sessions().SnapshotStats(id)
		if err != nil {
			h.writeError(ctx, conn, err)
			return
		}
		h.writeJSON(ctx, conn, map[string]any{"op": "stats", "stats": st})

	case "reconfigure":
		if req.Config == nil {
			h.writeError(ctx, conn, errors.New("transport: reconfigure requires config"))
			return
		}
		if err := h.engine.Sessions().Reconfigure(ctx, id, *req.Config); err != nil {
			h.writeError(ctx, conn, err)
			return
		}
		h.writeJSON(ctx, conn, map[string]any{"op": "reconfigure", "ok": true})

	default:
		h.writeError(ctx, conn, errors.New("transport: unknown op "+strconv.Quote(req.Op)))
	}
}

func (h *Handler) writeJSON(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("control write failed", "err", err)
	}
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, err error) {
	h.writeJSON(ctx, conn, map[string]any{"op": "error", "error": err.Error()})
}

// sessionConfig assembles a session config from the engine defaults plus any
// query-string overrides.
func (h *Handler) sessionConfig(r *http.Request) (anc.SessionConfig, error) {
	cfg := h.defaults
	q := r.URL.Query()

	var err error
	if v := q.Get("sample_rate"); v != "" {
		if cfg.SampleRate, err = strconv.Atoi(v); err != nil {
			return cfg, errors.New("transport: sample_rate must be an integer")
		}
	}
	if v := q.Get("block_size"); v != "" {
		if cfg.BlockSize, err = strconv.Atoi(v); err != nil {
			return cfg, errors.New("transport: block_size must be an integer")
		}
	}
	if v := q.Get("algorithm"); v != "" {
		cfg.Algorithm = anc.Algorithm(v)
	}
	if v := q.Get("filter_length"); v != "" {
		if cfg.FilterLength, err = strconv.Atoi(v); err != nil {
			return cfg, errors.New("transport: filter_length must be an integer")
		}
	}
	if v := q.Get("step_size"); v != "" {
		if cfg.StepSize, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, errors.New("transport: step_size must be a number")
		}
	}
	if v := q.Get("intensity"); v != "" {
		if cfg.Intensity, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, errors.New("transport: intensity must be a number")
		}
	}
	if v := q.Get("bypass_ml"); v != "" {
		if cfg.BypassML, err = strconv.ParseBool(v); err != nil {
			return cfg, errors.New("transport: bypass_ml must be a boolean")
		}
	}
	if v := q.Get("emergency_threshold"); v != "" {
		if cfg.EmergencyThreshold, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, errors.New("transport: emergency_threshold must be a number")
		}
	}
	return cfg, nil
}

// decodeBlock parses one binary message: 8-byte little-endian sequence
// followed by blockSize float32 samples.
func decodeBlock(data []byte, blockSize int) (anc.SampleBlock, error) {
	if len(data) != 8+4*blockSize {
		return anc.SampleBlock{}, anc.ErrInvalidBlock
	}
	b := anc.SampleBlock{
		Sequence:   binary.LittleEndian.Uint64(data[:8]),
		Samples:    make([]float32, blockSize),
		CapturedAt: time.Now(),
	}
	for i := 0; i < blockSize; i++ {
		bits := binary.LittleEndian.Uint32(data[8+4*i:])
		b.Samples[i] = math.Float32frombits(bits)
	}
	return b, nil
}

// encodeBlock is the inverse of decodeBlock.
func encodeBlock(b anc.SampleBlock) []byte {
	data := make([]byte, 8+4*len(b.Samples))
	binary.LittleEndian.PutUint64(data[:8], b.Sequence)
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint32(data[8+4*i:], math.Float32bits(s))
	}
	return data
}
