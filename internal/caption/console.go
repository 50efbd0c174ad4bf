package caption

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// ConsoleSink prints captions to a terminal
type ConsoleSink struct {
	out io.Writer
	mu  sync.Mutex

	original   *color.Color
	translated *color.Color
	method     *color.Color
	failure    *color.Color
}

// NewConsoleSink writes to out, typically os.Stdout
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{
		out:        out,
		original:   color.New(color.FgHiBlack),
		translated: color.New(color.FgHiWhite, color.Bold),
		method:     color.New(color.FgCyan),
		failure:    color.New(color.FgRed, color.Bold),
	}
}

// OnCaption prints the caption line
func (c *ConsoleSink) OnCaption(ev CaptionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.original.Fprintf(c.out, "%s ", ev.OriginalText)
	fmt.Fprint(c.out, "→ ")
	c.translated.Fprint(c.out, ev.TranslatedText)
	c.method.Fprintf(c.out, " [%s]\n", ev.Method)
}

// OnError prints the error in red
func (c *ConsoleSink) OnError(ev ErrorEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failure.Fprintf(c.out, "error: %s\n", ev.Message)
}
