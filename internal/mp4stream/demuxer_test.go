package mp4stream

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mp4pipe/internal/isofile"
	"github.com/bluenviron/mp4pipe/internal/test"
)

type demuxResult struct {
	configs []TrackConfig
	units   []CodedFrameUnit
	done    int
}

func demux(t *testing.T, r io.Reader, readBufferSize int) (*demuxResult, error) {
	res := &demuxResult{}

	d := NewDemuxer(r, DemuxerConf{
		OnConfig: func(cfg TrackConfig) error {
			require.Empty(t, res.units)
			res.configs = append(res.configs, cfg)
			return nil
		},
		OnChunk: func(u CodedFrameUnit) error {
			require.Len(t, res.configs, 1)
			res.units = append(res.units, u)
			return nil
		},
		OnDone: func() {
			res.done++
		},
		ReadBufferSize: readBufferSize,
		Parent:         test.NilLogger,
	})

	return res, d.Run(context.Background())
}

func TestDemuxer(t *testing.T) {
	for _, ca := range []struct {
		name           string
		fragmented     bool
		readBufferSize int
	}{
		{
			"fragmented",
			true,
			0,
		},
		{
			"fragmented, small reads",
			true,
			3,
		},
		{
			"progressive",
			false,
			0,
		},
		{
			"progressive, small reads",
			false,
			5,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			byts, err := test.H264MP4(5, ca.fragmented).Marshal()
			require.NoError(t, err)

			res, err := demux(t, bytes.NewReader(byts), ca.readBufferSize)
			require.NoError(t, err)

			require.Equal(t, []TrackConfig{{
				Codec:       "avc1.42c028",
				CodedWidth:  1920,
				CodedHeight: 1080,
				Description: test.AVCConfig(),
			}}, res.configs)

			timestamps := make([]int64, len(res.units))
			types := make([]FrameType, len(res.units))

			for i, u := range res.units {
				timestamps[i] = u.Timestamp
				types[i] = u.Type
				require.Equal(t, int64(40000), u.Duration)
				require.Equal(t, test.AccessUnit(i, i == 0), u.Data)
			}

			require.Equal(t, []int64{0, 40000, 80000, 120000, 160000}, timestamps)
			require.Equal(t, []FrameType{
				FrameTypeKey,
				FrameTypeDelta,
				FrameTypeDelta,
				FrameTypeDelta,
				FrameTypeDelta,
			}, types)

			require.Equal(t, 1, res.done)
		})
	}
}

func TestDemuxerCompositionTime(t *testing.T) {
	for _, ca := range []struct {
		name        string
		fragmented  bool
		trunVersion uint8
	}{
		{"progressive", false, 0},
		{"fragmented, trun v0", true, 0},
		{"fragmented, trun v1", true, 1},
	} {
		t.Run(ca.name, func(t *testing.T) {
			m := test.H264MP4(3, ca.fragmented)
			m.TrunVersion = ca.trunVersion
			m.Samples[1].PTSOffset = 7200
			m.Samples[2].PTSOffset = -3600

			byts, err := m.Marshal()
			require.NoError(t, err)

			res, err := demux(t, bytes.NewReader(byts), 0)
			require.NoError(t, err)

			require.Len(t, res.units, 3)
			require.Equal(t, int64(0), res.units[0].Timestamp)
			require.Equal(t, int64(120000), res.units[1].Timestamp)
			require.Equal(t, int64(40000), res.units[2].Timestamp)
		})
	}
}

func TestDemuxerMillisecondTimeScale(t *testing.T) {
	for _, ca := range []struct {
		name       string
		fragmented bool
		moovAtEnd  bool
	}{
		{"fragmented", true, false},
		{"progressive", false, false},
		{"progressive, moov at end", false, true},
	} {
		for _, readBufferSize := range []int{1, 7} {
			t.Run(ca.name+", "+map[int]string{1: "1-byte reads", 7: "7-byte reads"}[readBufferSize], func(t *testing.T) {
				m := test.H264MP4(5, ca.fragmented)
				m.TimeScale = 1000
				m.SamplesPerFragment = 2
				m.MoovAtEnd = ca.moovAtEnd
				for _, sa := range m.Samples {
					sa.Duration = 40
				}

				byts, err := m.Marshal()
				require.NoError(t, err)

				res, err := demux(t, bytes.NewReader(byts), readBufferSize)
				require.NoError(t, err)

				require.Len(t, res.configs, 1)

				timestamps := make([]int64, len(res.units))
				for i, u := range res.units {
					timestamps[i] = u.Timestamp
					require.Equal(t, int64(40000), u.Duration)
				}

				require.Equal(t, []int64{0, 40000, 80000, 120000, 160000}, timestamps)
				require.Equal(t, FrameTypeKey, res.units[0].Type)
				require.Equal(t, 1, res.done)
			})
		}
	}
}

func TestDemuxerCodecAlias(t *testing.T) {
	require.Equal(t, "vp8", codecAlias("vp08.00.41.08"))
	require.Equal(t, "vp09.00.10.08", codecAlias("vp09.00.10.08"))
	require.Equal(t, "avc1.42c028", codecAlias("avc1.42c028"))
}

func TestDemuxerErrors(t *testing.T) {
	t.Run("description not found", func(t *testing.T) {
		m := test.H264MP4(2, true)
		m.ConfigType = ""

		byts, err := m.Marshal()
		require.NoError(t, err)

		res, err := demux(t, bytes.NewReader(byts), 0)
		require.ErrorIs(t, err, ErrDescriptionNotFound)
		require.Empty(t, res.configs)
		require.Equal(t, 0, res.done)
	})

	t.Run("no video track", func(t *testing.T) {
		m := test.H264MP4(2, true)
		m.HandlerType = "soun"

		byts, err := m.Marshal()
		require.NoError(t, err)

		_, err = demux(t, bytes.NewReader(byts), 0)
		require.ErrorIs(t, err, ErrNoVideoTrack)
	})

	t.Run("moov not found", func(t *testing.T) {
		_, err := demux(t, bytes.NewReader([]byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'}), 0)
		require.ErrorIs(t, err, isofile.ErrMoovNotFound)
	})

	t.Run("chunk callback error", func(t *testing.T) {
		byts, err := test.H264MP4(3, true).Marshal()
		require.NoError(t, err)

		d := NewDemuxer(bytes.NewReader(byts), DemuxerConf{
			OnChunk: func(CodedFrameUnit) error {
				return io.ErrShortWrite
			},
			Parent: test.NilLogger,
		})
		err = d.Run(context.Background())
		require.ErrorIs(t, err, io.ErrShortWrite)
	})
}

func TestDemuxerPush(t *testing.T) {
	byts, err := test.H264MP4(4, true).Marshal()
	require.NoError(t, err)

	var units []CodedFrameUnit
	done := false

	d := NewDemuxer(nil, DemuxerConf{
		OnChunk: func(u CodedFrameUnit) error {
			units = append(units, u)
			return nil
		},
		OnDone: func() {
			done = true
		},
		Parent: test.NilLogger,
	})

	for len(byts) != 0 {
		n := min(10, len(byts))
		chunk := append([]byte(nil), byts[:n]...)

		_, err = d.Write(chunk)
		require.NoError(t, err)

		// the caller is free to reuse the chunk
		for i := range chunk {
			chunk[i] = 0
		}

		byts = byts[n:]
	}

	err = d.Close()
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, units, 4)
	require.Equal(t, test.AccessUnit(3, false), units[3].Data)
}

func TestDemuxerContextCanceled(t *testing.T) {
	byts, err := test.H264MP4(2, true).Marshal()
	require.NoError(t, err)

	ctx, ctxCancel := context.WithCancel(context.Background())
	ctxCancel()

	d := NewDemuxer(bytes.NewReader(byts), DemuxerConf{Parent: test.NilLogger})
	err = d.Run(ctx)
	require.Error(t, err)
}
