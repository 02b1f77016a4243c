package isofile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecString(t *testing.T) {
	for _, ca := range []struct {
		name       string
		entry      string
		configType string
		cfg        []byte
		codec      string
	}{
		{
			"avc",
			"avc1",
			"avcC",
			[]byte{0x01, 0x4d, 0x00, 0x32, 0xff},
			"avc1.4d0032",
		},
		{
			"hevc",
			"hvc1",
			"hvcC",
			[]byte{
				0x01, 0x01, 0x60, 0x00, 0x00, 0x00, 0x90, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x5d,
			},
			"hvc1.1.6.L93.90",
		},
		{
			"vp9",
			"vp09",
			"vpcC",
			[]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x1f, 0x80},
			"vp09.00.31.08",
		},
		{
			"av1",
			"av01",
			"av1C",
			[]byte{0x81, 0x08, 0x0c, 0x00},
			"av01.0.08M.08",
		},
		{
			"vp8",
			"vp08",
			"vpcC",
			[]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x1f, 0x80},
			"vp08",
		},
		{
			"no config",
			"mp4v",
			"",
			nil,
			"mp4v",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.codec, codecString(ca.entry, ca.configType, ca.cfg))
		})
	}
}
