package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	gwebsocket "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mp4pipe/internal/externalcmd"
	"github.com/bluenviron/mp4pipe/internal/logger"
	"github.com/bluenviron/mp4pipe/internal/mp4stream"
	"github.com/bluenviron/mp4pipe/internal/pipeline"
	"github.com/bluenviron/mp4pipe/internal/test"
)

func newTestAPI(t *testing.T, pprof bool) *API {
	return newTestAPIWithHook(t, pprof, "", nil)
}

func newTestAPIWithHook(t *testing.T, pprof bool, hook string, pool *externalcmd.Pool) *API {
	a := &API{
		Address:     "localhost:9997",
		ReadTimeout: 10 * time.Second,
		PPROF:       pprof,
		ExportName:  "video.mp4",
		NewPipeline: func(parent logger.Writer) *pipeline.Pipeline {
			return &pipeline.Pipeline{
				DecodeQueueSize: 16,
				TimeSlice:       time.Millisecond,
				Encoder: pipeline.EncoderConfig{
					Codec:     "avc1.4D0032",
					Framerate: 25,
				},
				RunOnExportComplete: hook,
				ExternalCmdPool:     pool,
				Parent:              parent,
			}
		},
		Parent: test.NilLogger,
	}
	err := a.Initialize()
	require.NoError(t, err)
	return a
}

func countUnits(t *testing.T, byts []byte) int {
	count := 0

	d := mp4stream.NewDemuxer(bytes.NewReader(byts), mp4stream.DemuxerConf{
		OnChunk: func(mp4stream.CodedFrameUnit) error {
			count++
			return nil
		},
		Parent: test.NilLogger,
	})
	err := d.Run(context.Background())
	require.NoError(t, err)

	return count
}

func TestExport(t *testing.T) {
	a := newTestAPI(t, false)
	defer a.Close()

	src, err := test.H264MP4(8, false).Marshal()
	require.NoError(t, err)

	res, err := http.Post("http://localhost:9997/v1/export", "video/mp4", bytes.NewReader(src))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "video/mp4", res.Header.Get("Content-Type"))
	require.Equal(t, `attachment; filename="video.mp4"`, res.Header.Get("Content-Disposition"))

	byts, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, 8, countUnits(t, byts))
}

func TestExportInvalidBody(t *testing.T) {
	a := newTestAPI(t, false)
	defer a.Close()

	res, err := http.Post("http://localhost:9997/v1/export", "video/mp4", bytes.NewReader([]byte{1, 2, 3}))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	var body map[string]string
	err = json.NewDecoder(res.Body).Decode(&body)
	require.NoError(t, err)
	require.NotEmpty(t, body["error"])
}

func TestExportWebSocket(t *testing.T) {
	a := newTestAPI(t, false)
	defer a.Close()

	src, err := test.H264MP4(6, true).Marshal()
	require.NoError(t, err)

	c, res, err := gwebsocket.DefaultDialer.Dial("ws://localhost:9997/v1/export/ws", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	defer c.Close()

	for len(src) != 0 {
		n := min(50, len(src))
		err = c.WriteMessage(gwebsocket.BinaryMessage, src[:n])
		require.NoError(t, err)
		src = src[n:]
	}

	err = c.WriteMessage(gwebsocket.TextMessage, []byte("end"))
	require.NoError(t, err)

	var out []byte
	var types []string

	for {
		typ, byts, err := c.ReadMessage()
		if err != nil {
			require.True(t, gwebsocket.IsCloseError(err, gwebsocket.CloseNormalClosure))
			break
		}
		require.Equal(t, gwebsocket.BinaryMessage, typ)
		types = append(types, string(byts[4:8]))
		out = append(out, byts...)
	}

	require.Equal(t, []string{"ftyp", "moov"}, types[:2])
	require.Equal(t, 6, countUnits(t, out))
}

func TestPPROF(t *testing.T) {
	a := newTestAPI(t, true)
	defer a.Close()

	res, err := http.Get("http://localhost:9997/debug/pprof/heap")
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestExportHook(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unsupported")
	}

	out := filepath.Join(t.TempDir(), "hook")
	pool := &externalcmd.Pool{}

	a := newTestAPIWithHook(t, false,
		`sh -c "echo [$MP4P_EXPORT_PATH] $MP4P_EXPORT_NAME $MP4P_EXPORT_SIZE > `+out+`"`, pool)
	defer a.Close()

	src, err := test.H264MP4(4, false).Marshal()
	require.NoError(t, err)

	res, err := http.Post("http://localhost:9997/v1/export", "video/mp4", bytes.NewReader(src))
	require.NoError(t, err)

	byts, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)

	// the hook is launched after the response has been written
	require.Eventually(t, func() bool {
		_, err2 := os.Stat(out)
		return err2 == nil
	}, 5*time.Second, 10*time.Millisecond)
	pool.Close()

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "[] video.mp4 "+strconv.Itoa(len(byts))+"\n", string(content))
}
