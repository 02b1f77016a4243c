package playback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mp4pipe/internal/pipeline"
	"github.com/bluenviron/mp4pipe/internal/test"
)

type testRenderer struct {
	rendered []int
	onRender func()
}

func (r *testRenderer) Render(f *pipeline.Frame) error {
	r.rendered = append(r.rendered, f.Index)
	if r.onRender != nil {
		r.onRender()
	}
	return nil
}

func testFrames(n int) []*pipeline.Frame {
	frames := make([]*pipeline.Frame, n)
	for i := range frames {
		frames[i] = &pipeline.Frame{Index: i}
	}
	return frames
}

func TestPlayer(t *testing.T) {
	p := &Player{Parent: test.NilLogger}
	p.SetFrames(testFrames(5))

	r := &testRenderer{}

	start := time.Now()
	err := p.Run(context.Background(), 100, r)
	require.NoError(t, err)

	require.Equal(t, []int{0, 1, 2, 3, 4}, r.rendered)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.False(t, p.Playing())
	require.Equal(t, 5, p.Index())
}

func TestPlayerReentrant(t *testing.T) {
	p := &Player{Parent: test.NilLogger}
	p.SetFrames(testFrames(3))

	r := &testRenderer{}
	r.onRender = func() {
		// a play request while playing is ignored
		err := p.Run(context.Background(), 100, &testRenderer{})
		require.NoError(t, err)
		require.True(t, p.Playing())
	}

	err := p.Run(context.Background(), 100, r)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, r.rendered)
}

func TestPlayerCanceled(t *testing.T) {
	p := &Player{Parent: test.NilLogger}
	p.SetFrames(testFrames(1000))

	ctx, ctxCancel := context.WithCancel(context.Background())

	r := &testRenderer{}
	r.onRender = func() {
		if len(r.rendered) == 2 {
			ctxCancel()
		}
	}

	err := p.Run(ctx, 100, r)
	require.Error(t, err)
	require.Equal(t, 2, p.Index())

	p.SetFrames(testFrames(3))
	require.Equal(t, 0, p.Index())

	r2 := &testRenderer{}
	err = p.Run(context.Background(), 1000, r2)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, r2.rendered)
}

func TestPlayerInvalidFPS(t *testing.T) {
	p := &Player{Parent: test.NilLogger}
	err := p.Run(context.Background(), 0, &testRenderer{})
	require.Error(t, err)
}
