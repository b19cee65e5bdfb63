package streamclient

import (
	"context"
	"io"
	"sync"

	"golang.org/x/time/rate"
)

// Characters written per pacing tick; small enough to read as typing, large
// enough to keep up with fast upstreams.
const typeChunk = 3

// Typewriter renders streamed text to a writer at a bounded character rate.
// Add queues text; a pump goroutine drains it. Close waits for the queue to
// finish, Cancel drops whatever is still queued.
type Typewriter struct {
	w       io.Writer
	limiter *rate.Limiter
	in      chan string
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// NewTypewriter writes to w at roughly cps characters per second.
func NewTypewriter(w io.Writer, cps int) *Typewriter {
	if cps <= 0 {
		cps = 300
	}
	ctx, cancel := context.WithCancel(context.Background())
	tw := &Typewriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(cps), typeChunk),
		in:      make(chan string, 64),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go tw.run()
	return tw
}

func (tw *Typewriter) run() {
	defer close(tw.done)
	for {
		select {
		case <-tw.ctx.Done():
			return
		case text, ok := <-tw.in:
			if !ok {
				return
			}
			runes := []rune(text)
			for len(runes) > 0 {
				n := typeChunk
				if n > len(runes) {
					n = len(runes)
				}
				if err := tw.limiter.WaitN(tw.ctx, n); err != nil {
					return
				}
				if _, err := io.WriteString(tw.w, string(runes[:n])); err != nil {
					return
				}
				runes = runes[n:]
			}
		}
	}
}

// Add queues text for paced output. A no-op after Cancel.
func (tw *Typewriter) Add(text string) {
	if text == "" {
		return
	}
	select {
	case tw.in <- text:
	case <-tw.ctx.Done():
	}
}

// Close stops accepting text and blocks until everything queued has been
// written.
func (tw *Typewriter) Close() {
	tw.closeOnce.Do(func() { close(tw.in) })
	<-tw.done
	tw.cancel()
}

// Cancel drops any queued text and stops the pump immediately. Text already
// written stays put.
func (tw *Typewriter) Cancel() {
	tw.cancel()
	<-tw.done
}
