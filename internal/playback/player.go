// Package playback contains a frame player.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/mp4pipe/internal/logger"
	"github.com/bluenviron/mp4pipe/internal/pipeline"
)

// Renderer renders frames.
type Renderer interface {
	Render(f *pipeline.Frame) error
}

// Player renders frames at a fixed rate.
type Player struct {
	Parent logger.Writer

	mutex   sync.Mutex
	frames  []*pipeline.Frame
	index   int
	playing bool
}

// Log implements logger.Writer.
func (p *Player) Log(level logger.Level, format string, args ...any) {
	p.Parent.Log(level, "[player] "+format, args...)
}

// SetFrames replaces frames and rewinds the player.
func (p *Player) SetFrames(frames []*pipeline.Frame) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.frames = frames
	p.index = 0
}

// Playing returns whether the player is running.
func (p *Player) Playing() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.playing
}

// Index returns the index of the next frame.
func (p *Player) Index() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.index
}

// Run renders a frame every 1/fps seconds, until every frame has been rendered
// or the context is canceled.
// Calling Run while the player is running has no effect.
func (p *Player) Run(ctx context.Context, fps int, r Renderer) error {
	if fps <= 0 {
		return fmt.Errorf("invalid FPS: %d", fps)
	}

	p.mutex.Lock()
	if p.playing {
		p.mutex.Unlock()
		return nil
	}
	p.playing = true
	p.mutex.Unlock()

	defer func() {
		p.mutex.Lock()
		p.playing = false
		p.mutex.Unlock()
	}()

	p.Log(logger.Debug, "playing at %d FPS", fps)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return fmt.Errorf("terminated")
			}

			f, ok := p.next()
			if !ok {
				return nil
			}

			err := r.Render(f)
			if err != nil {
				return err
			}

		case <-ctx.Done():
			return fmt.Errorf("terminated")
		}
	}
}

func (p *Player) next() (*pipeline.Frame, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.index >= len(p.frames) {
		return nil, false
	}

	f := p.frames[p.index]
	p.index++
	return f, true
}
