package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

// ErrReceiverBusy is returned when another pipeline already consumes the hub
var ErrReceiverBusy = errors.New("another receiver is attached")

// Recorder receives ingestion metrics
type Recorder interface {
	RecordChunk(source string)
	RecordChunkDropped(source string)
	SetIngestionConnections(n int)
}

// Hub routes inbound chunks to the attached receiver. Chunks that arrive
// while no receiver is streaming are dropped, including those sent while a
// pipeline is still loading its model.
type Hub struct {
	queueSize int
	logger    *slog.Logger
	recorder  Recorder

	mu       sync.Mutex
	receiver *Receiver

	connections atomic.Int64
	received    atomic.Uint64
	dropped     atomic.Uint64
}

// NewHub creates a hub whose receivers buffer up to queueSize chunks
func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		queueSize: queueSize,
		logger:    logger.With(slog.String("component", "ingestion")),
	}
}

// WithRecorder attaches a metrics recorder
func (h *Hub) WithRecorder(r Recorder) *Hub {
	h.recorder = r
	return h
}

// NewReceiver returns a detached receiver. It satisfies the pipeline producer contract.
func (h *Hub) NewReceiver() *Receiver {
	return &Receiver{hub: h, queue: audio.NewQueue(h.queueSize)}
}

// Deliver hands a chunk to the attached receiver
func (h *Hub) Deliver(c audio.Chunk) bool {
	h.mu.Lock()
	r := h.receiver
	h.mu.Unlock()

	switch {
	case r == nil:
		h.drop()
		h.logger.Debug("No pipeline attached, dropping chunk")
		return false
	case !r.streaming.Load():
		h.drop()
		h.logger.Debug("Pipeline not streaming yet, dropping chunk")
		return false
	case !r.queue.Push(c):
		h.drop()
		h.logger.Warn("Chunk queue full, dropping audio")
		return false
	}

	h.received.Add(1)
	if h.recorder != nil {
		h.recorder.RecordChunk("network")
	}
	return true
}

func (h *Hub) drop() {
	h.dropped.Add(1)
	if h.recorder != nil {
		h.recorder.RecordChunkDropped("network")
	}
}

// Attached reports whether a receiver is consuming chunks
func (h *Hub) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.receiver != nil
}

// Connections returns the number of open producer connections
func (h *Hub) Connections() int {
	return int(h.connections.Load())
}

func (h *Hub) connectionDelta(d int64) {
	n := h.connections.Add(d)
	if h.recorder != nil {
		h.recorder.SetIngestionConnections(int(n))
	}
}

func (h *Hub) attach(r *Receiver) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.receiver != nil && h.receiver != r {
		return ErrReceiverBusy
	}
	h.receiver = r
	return nil
}

func (h *Hub) detach(r *Receiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.receiver == r {
		h.receiver = nil
	}
}

// Receiver is the pipeline side of the hub
type Receiver struct {
	hub   *Hub
	queue *audio.Queue

	mu        sync.Mutex
	opened    bool
	closed    bool
	streaming atomic.Bool
}

// Open claims the hub for this receiver. Chunks are accepted only once
// Stream runs.
func (r *Receiver) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("receiver closed")
	}
	if err := r.hub.attach(r); err != nil {
		return err
	}
	r.opened = true
	return nil
}

// Stream starts delivering chunks to onChunk on a worker goroutine
func (r *Receiver) Stream(onChunk func(audio.Chunk)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.opened {
		return errors.New("receiver not open")
	}
	r.queue.Run(onChunk)
	r.streaming.Store(true)
	return nil
}

// Close detaches from the hub and discards queued chunks
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.streaming.Store(false)
	r.hub.detach(r)
	r.queue.Close()
	return nil
}
