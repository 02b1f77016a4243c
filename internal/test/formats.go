package test

import (
	"encoding/binary"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// H264 parameters (1920x1080 baseline).
var (
	SPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
	}

	PPS = []byte{0x08, 0x06, 0x07, 0x08}
)

// AVCConfig returns the payload of an avcC box that contains SPS and PPS.
func AVCConfig() []byte {
	out := []byte{
		1,      // configuration version
		SPS[1], // profile
		SPS[2], // profile compatibility
		SPS[3], // level
		0xFF,   // length size minus one = 3
		0xE1,   // one SPS
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(SPS)))
	out = append(out, SPS...)
	out = append(out, 1) // one PPS
	out = binary.BigEndian.AppendUint16(out, uint16(len(PPS)))
	out = append(out, PPS...)
	return out
}

// AccessUnit returns a H264 access unit in AVCC format.
// Key access units contain an IDR; the others a non-IDR slice.
// The index is written into the payload in order to make units distinguishable.
func AccessUnit(index int, key bool) []byte {
	var nalu []byte
	if key {
		nalu = []byte{0x60 | byte(h264.NALUTypeIDR), byte(index >> 8), byte(index), 0x88}
	} else {
		nalu = []byte{0x40 | byte(h264.NALUTypeNonIDR), byte(index >> 8), byte(index), 0x9a}
	}

	byts, err := h264.AVCC([][]byte{nalu}).Marshal()
	if err != nil {
		panic(err)
	}
	return byts
}
