package isofile

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

func hevcProfileSpace(v uint8) string {
	switch v {
	case 1:
		return "A"
	case 2:
		return "B"
	case 3:
		return "C"
	}
	return ""
}

func reverseBits32(v uint32) uint32 {
	var o uint32
	for i := 0; i < 32; i++ {
		o = (o << 1) | (v & 1)
		v >>= 1
	}
	return o
}

func avcCodecString(entry string, cfg []byte) string {
	if len(cfg) < 4 {
		return entry
	}
	return entry + "." + hex.EncodeToString(cfg[1:4])
}

func hevcCodecString(entry string, cfg []byte) string {
	if len(cfg) < 13 {
		return entry
	}

	profileSpace := cfg[1] >> 6
	tier := (cfg[1] >> 5) & 0x01
	profileIdc := cfg[1] & 0x1F
	compat := uint32(cfg[2])<<24 | uint32(cfg[3])<<16 | uint32(cfg[4])<<8 | uint32(cfg[5])
	level := cfg[12]

	ret := entry + "." +
		hevcProfileSpace(profileSpace) + strconv.FormatUint(uint64(profileIdc), 10) + "." +
		strconv.FormatUint(uint64(reverseBits32(compat)), 16) + "."

	if tier == 0 {
		ret += "L"
	} else {
		ret += "H"
	}
	ret += strconv.FormatUint(uint64(level), 10)

	// trailing zero bytes of the constraint indicator are omitted
	constraints := cfg[6:12]
	n := len(constraints)
	for n > 0 && constraints[n-1] == 0 {
		n--
	}
	for _, c := range constraints[:n] {
		ret += "." + strconv.FormatUint(uint64(c), 16)
	}

	return ret
}

func vp9CodecString(entry string, cfg []byte) string {
	// vpcC is a full box: version and flags come first
	if len(cfg) < 7 {
		return entry
	}
	return fmt.Sprintf("%s.%02d.%02d.%02d", entry, cfg[4], cfg[5], cfg[6]>>4)
}

func av1CodecString(entry string, cfg []byte) string {
	if len(cfg) < 3 {
		return entry
	}

	profile := cfg[1] >> 5
	level := cfg[1] & 0x1F
	tier := "M"
	if (cfg[2] >> 7) != 0 {
		tier = "H"
	}

	bitDepth := 8
	if (cfg[2]>>6)&0x01 != 0 {
		bitDepth = 10
		if (cfg[2]>>5)&0x01 != 0 {
			bitDepth = 12
		}
	}

	return fmt.Sprintf("%s.%d.%02d%s.%02d", entry, profile, level, tier, bitDepth)
}

// codecString returns the codec parameter string of a sample entry.
func codecString(entry string, configType string, cfg []byte) string {
	switch configType {
	case "avcC":
		return avcCodecString(entry, cfg)

	case "hvcC":
		return hevcCodecString(entry, cfg)

	case "vpcC":
		if strings.HasPrefix(entry, "vp09") {
			return vp9CodecString(entry, cfg)
		}

	case "av1C":
		return av1CodecString(entry, cfg)
	}

	return entry
}
