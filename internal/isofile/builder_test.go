package isofile

import (
	"bytes"
	"strings"
	"testing"

	gomp4 "github.com/abema/go-mp4"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mp4pipe/internal/test"
)

func boxPaths(t *testing.T, byts []byte) []string {
	var paths []string

	_, err := gomp4.ReadBoxStructure(bytes.NewReader(byts), func(h *gomp4.ReadHandle) (any, error) {
		parts := make([]string, len(h.Path))
		for i, typ := range h.Path {
			parts[i] = typ.String()
		}
		paths = append(paths, strings.Join(parts, "/"))

		switch h.BoxInfo.Type.String() {
		case "moov", "trak", "mdia", "minf", "stbl", "mvex", "moof", "traf", "dinf":
			return h.Expand()
		}
		return nil, nil
	})
	require.NoError(t, err)

	return paths
}

func TestBuilder(t *testing.T) {
	var b Builder

	require.False(t, b.HasFragment())

	err := b.WriteFragment([]*FragmentTrack{{ID: 1}})
	require.Error(t, err)

	err = b.WriteInit([]*BuilderTrack{{
		ID:          1,
		TimeScale:   90000,
		Width:       1920,
		Height:      1080,
		SampleEntry: "avc1",
		ConfigType:  "avcC",
		Config:      test.AVCConfig(),
	}})
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())
	require.False(t, b.HasFragment())

	err = b.WriteInit([]*BuilderTrack{{ID: 2}})
	require.Error(t, err)

	for i := 0; i < 2; i++ {
		err = b.WriteFragment([]*FragmentTrack{{
			ID:       1,
			BaseTime: uint64(i * 2 * 3600),
			Samples: []*FragmentSample{
				{
					Duration: 3600,
					Payload:  test.AccessUnit(i*2, true),
				},
				{
					Duration:        3600,
					IsNonSyncSample: true,
					Payload:         test.AccessUnit(i*2+1, false),
				},
			},
		}})
		require.NoError(t, err)
	}

	require.True(t, b.HasFragment())
	require.Equal(t, 6, b.Len())

	var out []byte
	for i := 0; i < b.Len(); i++ {
		out = append(out, b.Take(i)...)
	}

	// slots are cleared once taken
	for i := 0; i < b.Len(); i++ {
		require.Nil(t, b.Take(i))
	}

	require.Equal(t, []string{
		"ftyp",
		"moov",
		"moov/mvhd",
		"moov/trak",
		"moov/trak/tkhd",
		"moov/trak/mdia",
		"moov/trak/mdia/mdhd",
		"moov/trak/mdia/hdlr",
		"moov/trak/mdia/minf",
		"moov/trak/mdia/minf/vmhd",
		"moov/trak/mdia/minf/dinf",
		"moov/trak/mdia/minf/dinf/dref",
		"moov/trak/mdia/minf/stbl",
		"moov/trak/mdia/minf/stbl/stsd",
		"moov/trak/mdia/minf/stbl/stts",
		"moov/trak/mdia/minf/stbl/stsc",
		"moov/trak/mdia/minf/stbl/stsz",
		"moov/trak/mdia/minf/stbl/stco",
		"moov/mvex",
		"moov/mvex/trex",
		"moof",
		"moof/mfhd",
		"moof/traf",
		"moof/traf/tfhd",
		"moof/traf/tfdt",
		"moof/traf/trun",
		"mdat",
		"moof",
		"moof/mfhd",
		"moof/traf",
		"moof/traf/tfhd",
		"moof/traf/tfdt",
		"moof/traf/trun",
		"mdat",
	}, boxPaths(t, out))

	res, _, err := parseInChunks(t, out, 13)
	require.NoError(t, err)

	track := res.info.FirstVideoTrack()
	require.Equal(t, "avc1.42c028", track.Codec)
	require.Equal(t, test.AVCConfig(), track.Config)
	require.Equal(t, 1920, track.Width)

	require.Len(t, res.samples, 4)
	for i, sa := range res.samples {
		require.Equal(t, int64(i*3600), sa.DTS)
		require.Equal(t, i%2 == 0, sa.IsSync)
		require.Equal(t, test.AccessUnit(i, i%2 == 0), sa.Data)
	}
}
