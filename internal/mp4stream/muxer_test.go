package mp4stream

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mp4pipe/internal/test"
)

func newTestMuxer(t *testing.T, fragmentDuration time.Duration) (*Muxer, int) {
	m := NewMuxer(MuxerConf{
		FragmentDuration: fragmentDuration,
		Parent:           test.NilLogger,
	})

	id, err := m.AddTrack(TrackOptions{Description: test.AVCConfig()})
	require.NoError(t, err)

	return m, id
}

func testUnit(i int, key bool) EncodedUnit {
	typ := FrameTypeDelta
	if key {
		typ = FrameTypeKey
	}

	return EncodedUnit{
		Type:      typ,
		Timestamp: int64(i) * 40000,
		Duration:  40000,
		Data:      test.AccessUnit(i, key),
	}
}

func TestMuxerAddTrackTwice(t *testing.T) {
	m, _ := newTestMuxer(t, 0)

	_, err := m.AddTrack(TrackOptions{Description: test.AVCConfig()})
	require.ErrorIs(t, err, ErrTrackExists)
	require.Equal(t, 2, m.boxCount())
}

func TestMuxerAddTrackErrors(t *testing.T) {
	m := NewMuxer(MuxerConf{Parent: test.NilLogger})

	_, err := m.AddTrack(TrackOptions{})
	require.ErrorIs(t, err, ErrMissingDecoderConfig)

	_, err = m.AddTrack(TrackOptions{Description: []byte{1, 2, 3}})
	require.Error(t, err)

	err = m.AddVideoChunk(1, testUnit(0, true))
	require.ErrorIs(t, err, ErrNoTrack)
}

func TestMuxerAddTrackSize(t *testing.T) {
	m, id := newTestMuxer(t, 0)

	track := m.tracks[id]
	require.Equal(t, 1920, track.Width)
	require.Equal(t, 1080, track.Height)
	require.Equal(t, uint32(defaultTimeScale), track.TimeScale)
}

func TestMuxerChunkIsCopied(t *testing.T) {
	m, id := newTestMuxer(t, time.Second)

	u := testUnit(0, true)
	payload := u.Data
	err := m.AddVideoChunk(id, u)
	require.NoError(t, err)

	for i := range payload {
		payload[i] = 0
	}

	require.Equal(t, test.AccessUnit(0, true), m.tracks[id].pending[0].payload)
}

func TestMuxerFragmentPolicy(t *testing.T) {
	for _, ca := range []struct {
		name             string
		fragmentDuration time.Duration
		fragments        int
	}{
		{
			"one sample per fragment",
			0,
			6,
		},
		{
			"one fragment per key frame",
			time.Millisecond,
			2,
		},
		{
			"single fragment",
			time.Hour,
			1,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			m, id := newTestMuxer(t, ca.fragmentDuration)

			for i := 0; i < 6; i++ {
				err := m.AddVideoChunk(id, testUnit(i, i%3 == 0))
				require.NoError(t, err)
			}

			err := m.Flush()
			require.NoError(t, err)

			// ftyp, moov and a moof / mdat pair for each fragment
			require.Equal(t, 2+ca.fragments*2, m.boxCount())
			require.Equal(t, 240*time.Millisecond, m.Duration())
		})
	}
}

func TestMuxerDecreasingTimestamp(t *testing.T) {
	m, id := newTestMuxer(t, 0)

	err := m.AddVideoChunk(id, testUnit(1, true))
	require.NoError(t, err)

	err = m.AddVideoChunk(id, testUnit(0, false))
	require.Error(t, err)
}

func TestMuxerAddEncoded(t *testing.T) {
	m := NewMuxer(MuxerConf{Parent: test.NilLogger})

	err := m.AddEncoded(testUnit(0, true))
	require.ErrorIs(t, err, ErrNoTrack)

	u := testUnit(0, true)
	u.DecoderConfig = test.AVCConfig()
	err = m.AddEncoded(u)
	require.NoError(t, err)

	err = m.AddEncoded(testUnit(1, false))
	require.NoError(t, err)

	require.Equal(t, 6, m.boxCount())
}

func TestMuxerClose(t *testing.T) {
	m, id := newTestMuxer(t, time.Hour)

	err := m.AddVideoChunk(id, testUnit(0, true))
	require.NoError(t, err)

	err = m.Close()
	require.NoError(t, err)
	require.Equal(t, 4, m.boxCount())

	err = m.AddVideoChunk(id, testUnit(1, false))
	require.Error(t, err)

	err = m.Close()
	require.NoError(t, err)
}

func TestMuxerRoundTrip(t *testing.T) {
	const count = 30

	m, id := newTestMuxer(t, 200*time.Millisecond)

	for i := 0; i < count; i++ {
		err := m.AddVideoChunk(id, testUnit(i, i%10 == 0))
		require.NoError(t, err)
	}

	s := m.NewStream(time.Millisecond, nil)
	byts, err := Collect(s)
	require.NoError(t, err)

	res, err := demux(t, bytes.NewReader(byts), 0)
	require.NoError(t, err)

	require.Len(t, res.configs, 1)
	require.Equal(t, "avc1.42c028", res.configs[0].Codec)
	require.Equal(t, 1920, res.configs[0].CodedWidth)
	require.Equal(t, 1080, res.configs[0].CodedHeight)
	require.Equal(t, test.AVCConfig(), res.configs[0].Description)

	require.Len(t, res.units, count)

	for i, u := range res.units {
		require.Equal(t, testUnit(i, i%10 == 0).Timestamp, u.Timestamp)
		require.Equal(t, int64(40000), u.Duration)
		require.Equal(t, i%10 == 0, u.Type == FrameTypeKey)
		require.Equal(t, test.AccessUnit(i, i%10 == 0), u.Data)
	}
}
