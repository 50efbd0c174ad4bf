package caption

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/live-caption-service/internal/translation"
)

// CaptionEvent is one translated caption line
type CaptionEvent struct {
	ID             string    `json:"id"`
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	SourceLang     string    `json:"source_lang"`
	TargetLang     string    `json:"target_lang"`
	Method         string    `json:"method"`
	Timestamp      time.Time `json:"timestamp"`
}

// ErrorEvent reports a failure the user should see
type ErrorEvent struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCaptionEvent builds a caption from a translation result
func NewCaptionEvent(res translation.Result) CaptionEvent {
	return CaptionEvent{
		ID:             uuid.NewString(),
		OriginalText:   res.OriginalText,
		TranslatedText: res.TranslatedText,
		SourceLang:     res.SourceLang,
		TargetLang:     res.TargetLang,
		Method:         res.Method,
		Timestamp:      time.Now(),
	}
}

// NewErrorEvent builds an error event
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Message: message, Timestamp: time.Now()}
}

// Sink consumes pipeline events. Implementations must not block for long;
// they are called from the pipeline worker.
type Sink interface {
	OnCaption(CaptionEvent)
	OnError(ErrorEvent)
}

// MultiSink fans events out to several sinks
type MultiSink []Sink

// OnCaption forwards ev to each sink in order
func (m MultiSink) OnCaption(ev CaptionEvent) {
	for _, s := range m {
		s.OnCaption(ev)
	}
}

// OnError forwards ev to each sink in order
func (m MultiSink) OnError(ev ErrorEvent) {
	for _, s := range m {
		s.OnError(ev)
	}
}

// History keeps the most recent captions for late joiners and the status API
type History struct {
	limit    int
	mu       sync.RWMutex
	captions []CaptionEvent
	lastErr  *ErrorEvent
}

// NewHistory keeps up to limit captions
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 50
	}
	return &History{limit: limit}
}

// OnCaption records ev, evicting the oldest caption past the limit
func (h *History) OnCaption(ev CaptionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.captions = append(h.captions, ev)
	if len(h.captions) > h.limit {
		h.captions = append([]CaptionEvent(nil), h.captions[len(h.captions)-h.limit:]...)
	}
}

// OnError remembers ev as the most recent error
func (h *History) OnError(ev ErrorEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = &ev
}

// Captions returns a copy of the retained captions, oldest first
func (h *History) Captions() []CaptionEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]CaptionEvent, len(h.captions))
	copy(out, h.captions)
	return out
}

// LastError returns the most recent error event, if any
func (h *History) LastError() *ErrorEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastErr == nil {
		return nil
	}
	ev := *h.lastErr
	return &ev
}
