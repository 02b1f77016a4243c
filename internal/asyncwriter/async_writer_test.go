package asyncwriter

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mp4pipe/internal/test"
)

func TestAsyncWriterError(t *testing.T) {
	w, err := New(512, test.NilLogger)
	require.NoError(t, err)

	w.Start()

	err = w.Push(context.Background(), func() error {
		return fmt.Errorf("testerror")
	})
	require.NoError(t, err)

	err = <-w.Error()
	require.EqualError(t, err, "testerror")
}

func TestAsyncWriterOrder(t *testing.T) {
	w, err := New(4, test.NilLogger)
	require.NoError(t, err)

	w.Start()

	var out []int

	// more callbacks than the queue size
	for i := 0; i < 100; i++ {
		err = w.Push(context.Background(), func() error {
			out = append(out, i)
			return nil
		})
		require.NoError(t, err)
	}

	err = w.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 100)

	for i, v := range out {
		require.Equal(t, i, v)
	}

	err = w.Stop()
	require.NoError(t, err)
}

func TestAsyncWriterPushCanceled(t *testing.T) {
	w, err := New(1, test.NilLogger)
	require.NoError(t, err)

	// the routine is not started, the queue fills up
	err = w.Push(context.Background(), func() error { return nil })
	require.NoError(t, err)

	ctx, ctxCancel := context.WithCancel(context.Background())
	ctxCancel()

	err = w.Push(ctx, func() error { return nil })
	require.Error(t, err)
}

func TestAsyncWriterInvalidSize(t *testing.T) {
	_, err := New(3, test.NilLogger)
	require.Error(t, err)
}
