package mp4stream

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	src := bytes.Repeat([]byte{1, 2, 3, 4, 5}, 50000)

	byts, err := Collect(iotest.OneByteReader(bytes.NewReader(src[:100])))
	require.NoError(t, err)
	require.Equal(t, src[:100], byts)

	byts, err = Collect(bytes.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, src, byts)
	require.Equal(t, len(src), cap(byts))
}

func TestCollectEmpty(t *testing.T) {
	byts, err := Collect(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Empty(t, byts)
}

func TestCollectError(t *testing.T) {
	errTest := errors.New("test error")

	_, err := Collect(io.MultiReader(bytes.NewReader([]byte{1, 2}), iotest.ErrReader(errTest)))
	require.ErrorIs(t, err, errTest)
}
