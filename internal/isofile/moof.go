package isofile

import (
	"bytes"
	"fmt"

	gomp4 "github.com/abema/go-mp4"
)

const (
	tfhdFlagBaseDataOffsetPresent        = 0x01
	tfhdFlagDefaultSampleDurationPresent = 0x08
	tfhdFlagDefaultSampleSizePresent     = 0x10
	tfhdFlagDefaultSampleFlagsPresent    = 0x20
	tfhdFlagDefaultBaseIsMoof            = 0x020000
)

const (
	trunFlagDataOffsetPreset                       = 0x01
	trunFlagFirstSampleFlagsPresent                = 0x04
	trunFlagSampleDurationPresent                  = 0x100
	trunFlagSampleSizePresent                      = 0x200
	trunFlagSampleFlagsPresent                     = 0x400
	trunFlagSampleCompositionTimeOffsetPresentOrV1 = 0x800
)

const (
	sampleFlagIsNonSyncSample = 1 << 16
)

func fullBoxFlags(fb gomp4.FullBox) uint32 {
	return uint32(fb.Flags[0])<<16 | uint32(fb.Flags[1])<<8 | uint32(fb.Flags[2])
}

type fragmentState struct {
	track    *Track
	defaults trackDefaults
	base     uint64
	dataEnd  uint64
}

// parseMoof reads the samples described by a moof box located at moofOffset.
func parseMoof(byts []byte, moofOffset uint64, info *Info) (map[int][]*Sample, error) {
	ret := make(map[int][]*Sample)
	var cur *fragmentState
	dataEnd := moofOffset

	_, err := gomp4.ReadBoxStructure(bytes.NewReader(byts), func(h *gomp4.ReadHandle) (any, error) {
		switch h.BoxInfo.Type.String() {
		case "moof":
			return h.Expand()

		case "traf":
			cur = nil
			return h.Expand()

		case "tfhd":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfhd := box.(*gomp4.Tfhd)

			track := info.FindTrack(int(tfhd.TrackID))
			if track == nil {
				return nil, fmt.Errorf("fragment refers to unknown track %d", tfhd.TrackID)
			}

			flags := fullBoxFlags(tfhd.FullBox)

			cur = &fragmentState{
				track:    track,
				defaults: track.defaults,
			}

			switch {
			case (flags & tfhdFlagBaseDataOffsetPresent) != 0:
				cur.base = tfhd.BaseDataOffset
			case (flags&tfhdFlagDefaultBaseIsMoof) != 0 || len(ret) == 0:
				cur.base = moofOffset
			default:
				cur.base = dataEnd
			}
			cur.dataEnd = cur.base

			if (flags & tfhdFlagDefaultSampleDurationPresent) != 0 {
				cur.defaults.sampleDuration = tfhd.DefaultSampleDuration
			}
			if (flags & tfhdFlagDefaultSampleSizePresent) != 0 {
				cur.defaults.sampleSize = tfhd.DefaultSampleSize
			}
			if (flags & tfhdFlagDefaultSampleFlagsPresent) != 0 {
				cur.defaults.sampleFlags = tfhd.DefaultSampleFlags
			}

			if _, ok := ret[track.ID]; !ok {
				ret[track.ID] = nil
			}

		case "tfdt":
			if cur == nil {
				return nil, fmt.Errorf("unexpected box 'tfdt'")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfdt := box.(*gomp4.Tfdt)

			if tfdt.GetVersion() == 0 {
				cur.track.nextDTS = int64(tfdt.BaseMediaDecodeTimeV0)
			} else {
				cur.track.nextDTS = int64(tfdt.BaseMediaDecodeTimeV1)
			}

		case "trun":
			if cur == nil {
				return nil, fmt.Errorf("unexpected box 'trun'")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			trun := box.(*gomp4.Trun)

			flags := fullBoxFlags(trun.FullBox)

			offset := cur.dataEnd
			if (flags & trunFlagDataOffsetPreset) != 0 {
				offset = uint64(int64(cur.base) + int64(trun.DataOffset))
			}

			track := cur.track
			samples := make([]*Sample, len(trun.Entries))

			for i := range trun.Entries {
				e := &trun.Entries[i]

				duration := cur.defaults.sampleDuration
				if (flags & trunFlagSampleDurationPresent) != 0 {
					duration = e.SampleDuration
				}

				size := cur.defaults.sampleSize
				if (flags & trunFlagSampleSizePresent) != 0 {
					size = e.SampleSize
				}

				sampleFlags := cur.defaults.sampleFlags
				switch {
				case (flags & trunFlagSampleFlagsPresent) != 0:
					sampleFlags = e.SampleFlags
				case i == 0 && (flags&trunFlagFirstSampleFlagsPresent) != 0:
					sampleFlags = trun.FirstSampleFlags
				}

				var ptsOffset int64
				if (flags & trunFlagSampleCompositionTimeOffsetPresentOrV1) != 0 {
					if trun.GetVersion() == 0 {
						ptsOffset = int64(int32(e.SampleCompositionTimeOffsetV0))
					} else {
						ptsOffset = int64(e.SampleCompositionTimeOffsetV1)
					}
				}

				samples[i] = &Sample{
					TrackID:   track.ID,
					Number:    track.SampleCount + len(ret[track.ID]) + i + 1,
					TimeScale: track.TimeScale,
					Offset:    offset,
					Size:      size,
					DTS:       track.nextDTS,
					CTS:       track.nextDTS + ptsOffset,
					Duration:  duration,
					IsSync:    (sampleFlags & sampleFlagIsNonSyncSample) == 0,
				}

				track.nextDTS += int64(duration)
				offset += uint64(size)
			}

			cur.dataEnd = offset
			dataEnd = offset
			ret[track.ID] = append(ret[track.ID], samples...)
		}

		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	return ret, nil
}
