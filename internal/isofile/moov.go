package isofile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	gomp4 "github.com/abema/go-mp4"
)

// size of the fields of a VisualSampleEntry that precede its child boxes.
const visualSampleEntrySize = 78

// Info contains the informations contained in a moov box.
type Info struct {
	TimeScale  uint32
	Duration   uint64
	Fragmented bool
	Tracks     []*Track
}

// FindTrack returns the track with given ID.
func (i *Info) FindTrack(id int) *Track {
	for _, t := range i.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// FirstVideoTrack returns the first video track.
func (i *Info) FirstVideoTrack() *Track {
	for _, t := range i.Tracks {
		if t.Type == TrackTypeVideo {
			return t
		}
	}
	return nil
}

func isVisualSampleEntry(typ string) bool {
	switch typ {
	case "avc1", "avc3", "hvc1", "hev1", "vp08", "vp09", "av01", "mp4v", "encv":
		return true
	}
	return false
}

func isConfigBox(typ string) bool {
	switch typ {
	case "avcC", "hvcC", "vpcC", "av1C":
		return true
	}
	return false
}

// readSampleEntry reads the first entry of a stsd box.
// Raw bytes are used since go-mp4 does not know every sample entry.
func (t *Track) readSampleEntry(typ string, payload []byte) {
	t.SampleEntry = typ
	t.Codec = typ

	if !isVisualSampleEntry(typ) || len(payload) < visualSampleEntrySize {
		return
	}

	t.Width = int(binary.BigEndian.Uint16(payload[24:26]))
	t.Height = int(binary.BigEndian.Uint16(payload[26:28]))

	children := payload[visualSampleEntrySize:]
	for len(children) >= 8 {
		size := int(binary.BigEndian.Uint32(children[0:4]))
		if size < 8 || size > len(children) {
			break
		}

		childType := string(children[4:8])
		if isConfigBox(childType) {
			t.ConfigType = childType
			t.Config = append([]byte(nil), children[8:size]...)
			t.Codec = codecString(typ, childType, t.Config)
			return
		}

		children = children[size:]
	}
}

func parseMoov(byts []byte) (*Info, error) {
	info := &Info{}
	var curTrack *Track
	trexs := make(map[int]trackDefaults)

	_, err := gomp4.ReadBoxStructure(bytes.NewReader(byts), func(h *gomp4.ReadHandle) (any, error) {
		switch h.BoxInfo.Type.String() {
		case "moov", "mdia", "minf", "stbl", "edts":
			return h.Expand()

		case "mvhd":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			mvhd := box.(*gomp4.Mvhd)

			info.TimeScale = mvhd.Timescale
			if mvhd.GetVersion() == 0 {
				info.Duration = uint64(mvhd.DurationV0)
			} else {
				info.Duration = mvhd.DurationV1
			}

		case "trak":
			curTrack = &Track{}
			info.Tracks = append(info.Tracks, curTrack)
			return h.Expand()

		case "tkhd":
			if curTrack == nil {
				return nil, fmt.Errorf("unexpected box 'tkhd'")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tkhd := box.(*gomp4.Tkhd)

			curTrack.ID = int(tkhd.TrackID)

		case "mdhd":
			if curTrack == nil {
				return nil, fmt.Errorf("unexpected box 'mdhd'")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			mdhd := box.(*gomp4.Mdhd)

			curTrack.TimeScale = mdhd.Timescale
			if mdhd.GetVersion() == 0 {
				curTrack.Duration = uint64(mdhd.DurationV0)
			} else {
				curTrack.Duration = mdhd.DurationV1
			}

		case "hdlr":
			if curTrack == nil {
				return nil, nil
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			hdlr := box.(*gomp4.Hdlr)

			switch string(hdlr.HandlerType[:]) {
			case "vide":
				curTrack.Type = TrackTypeVideo
			case "soun":
				curTrack.Type = TrackTypeAudio
			}

		case "stsd":
			if curTrack == nil {
				return nil, fmt.Errorf("unexpected box 'stsd'")
			}

			// entry count, then the sample entries
			off := h.BoxInfo.Offset + h.BoxInfo.HeaderSize
			end := h.BoxInfo.Offset + h.BoxInfo.Size
			if end > uint64(len(byts)) || end < off+8+8 {
				return nil, nil
			}

			entries := byts[off+8 : end]
			size := binary.BigEndian.Uint32(entries[0:4])
			if size < 8 || int(size) > len(entries) {
				return nil, fmt.Errorf("invalid sample entry size")
			}

			curTrack.readSampleEntry(string(entries[4:8]), entries[8:size])

		case "stts", "ctts", "stss", "stsz", "stsc", "stco", "co64":
			if curTrack == nil {
				return nil, fmt.Errorf("unexpected box '%s'", h.BoxInfo.Type.String())
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}

			switch box := box.(type) {
			case *gomp4.Stts:
				curTrack.tables.stts = box
			case *gomp4.Ctts:
				curTrack.tables.ctts = box
			case *gomp4.Stss:
				curTrack.tables.stss = box
			case *gomp4.Stsz:
				curTrack.tables.stsz = box
			case *gomp4.Stsc:
				curTrack.tables.stsc = box
			case *gomp4.Stco:
				curTrack.tables.stco = box
			case *gomp4.Co64:
				curTrack.tables.co64 = box
			}

		case "mvex":
			info.Fragmented = true
			return h.Expand()

		case "trex":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			trex := box.(*gomp4.Trex)

			trexs[int(trex.TrackID)] = trackDefaults{
				sampleDuration: trex.DefaultSampleDuration,
				sampleSize:     trex.DefaultSampleSize,
				sampleFlags:    trex.DefaultSampleFlags,
			}
		}

		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	for _, t := range info.Tracks {
		if t.TimeScale == 0 {
			return nil, fmt.Errorf("track %d: invalid time scale", t.ID)
		}

		t.defaults = trexs[t.ID]

		err = t.expandSampleTables()
		if err != nil {
			return nil, err
		}
	}

	return info, nil
}
