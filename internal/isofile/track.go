package isofile

import (
	"fmt"

	gomp4 "github.com/abema/go-mp4"
)

// TrackType is the type of a track.
type TrackType int

// track types.
const (
	TrackTypeOther TrackType = iota
	TrackTypeVideo
	TrackTypeAudio
)

// String implements fmt.Stringer.
func (t TrackType) String() string {
	switch t {
	case TrackTypeVideo:
		return "video"
	case TrackTypeAudio:
		return "audio"
	}
	return "other"
}

type trackDefaults struct {
	sampleDuration uint32
	sampleSize     uint32
	sampleFlags    uint32
}

type sampleTables struct {
	stts *gomp4.Stts
	ctts *gomp4.Ctts
	stss *gomp4.Stss
	stsz *gomp4.Stsz
	stsc *gomp4.Stsc
	stco *gomp4.Stco
	co64 *gomp4.Co64
}

// Track is a track of a File.
type Track struct {
	ID        int
	Type      TrackType
	TimeScale uint32
	Duration  uint64

	// sample entry
	SampleEntry string
	Codec       string
	Width       int
	Height      int

	// payload of the decoder configuration box (avcC, hvcC, vpcC, av1C)
	ConfigType string
	Config     []byte

	// number of samples found so far
	SampleCount int

	defaults trackDefaults
	tables   sampleTables
	nextDTS  int64

	pending   []*Sample
	minOffset []uint64
}

func (t *Track) addSamples(samples []*Sample) {
	prevLen := len(t.pending)
	t.pending = append(t.pending, samples...)
	t.minOffset = append(t.minOffset, make([]uint64, len(samples))...)
	t.SampleCount += len(samples)

	for i := len(t.pending) - 1; i >= 0; i-- {
		m := t.pending[i].Offset
		if i+1 < len(t.pending) && t.minOffset[i+1] < m {
			m = t.minOffset[i+1]
		}

		if i < prevLen && t.minOffset[i] == m {
			break
		}
		t.minOffset[i] = m
	}
}

func (t *Track) dropPending(n int) {
	t.pending = t.pending[n:]
	t.minOffset = t.minOffset[n:]
}

// expandSampleTables fills the pending samples from the sample tables of a progressive file.
func (t *Track) expandSampleTables() error {
	tb := &t.tables

	if tb.stsz == nil {
		return nil
	}

	count := int(tb.stsz.SampleCount)
	if count == 0 {
		return nil
	}

	if tb.stts == nil || tb.stsc == nil || (tb.stco == nil && tb.co64 == nil) {
		return fmt.Errorf("track %d: missing sample tables", t.ID)
	}
	if tb.stsz.SampleSize == 0 && len(tb.stsz.EntrySize) < count {
		return fmt.Errorf("track %d: stsz has less entries than samples", t.ID)
	}
	if len(tb.stsc.Entries) == 0 {
		return fmt.Errorf("track %d: empty stsc", t.ID)
	}

	var chunkOffsets []uint64
	if tb.co64 != nil {
		chunkOffsets = tb.co64.ChunkOffset
	} else {
		chunkOffsets = make([]uint64, len(tb.stco.ChunkOffset))
		for i, v := range tb.stco.ChunkOffset {
			chunkOffsets[i] = uint64(v)
		}
	}

	var syncSamples map[uint32]struct{}
	if tb.stss != nil {
		syncSamples = make(map[uint32]struct{}, len(tb.stss.SampleNumber))
		for _, n := range tb.stss.SampleNumber {
			syncSamples[n] = struct{}{}
		}
	}

	samples := make([]*Sample, count)

	sttsIndex := 0
	sttsRemaining := uint32(0)
	if len(tb.stts.Entries) != 0 {
		sttsRemaining = tb.stts.Entries[0].SampleCount
	}

	cttsIndex := 0
	cttsRemaining := uint32(0)
	if tb.ctts != nil && len(tb.ctts.Entries) != 0 {
		cttsRemaining = tb.ctts.Entries[0].SampleCount
	}

	stscIndex := 0
	chunk := uint32(1)
	sampleInChunk := uint32(0)
	offset := uint64(0)
	if len(chunkOffsets) != 0 {
		offset = chunkOffsets[0]
	}

	dts := int64(0)

	for i := 0; i < count; i++ {
		// sample sizes
		size := tb.stsz.SampleSize
		if size == 0 {
			size = tb.stsz.EntrySize[i]
		}

		// decoding times
		for sttsRemaining == 0 && sttsIndex+1 < len(tb.stts.Entries) {
			sttsIndex++
			sttsRemaining = tb.stts.Entries[sttsIndex].SampleCount
		}
		if sttsRemaining == 0 {
			return fmt.Errorf("track %d: stts has less entries than samples", t.ID)
		}
		duration := tb.stts.Entries[sttsIndex].SampleDelta
		sttsRemaining--

		// composition offsets
		var ptsOffset int64
		if tb.ctts != nil {
			for cttsRemaining == 0 && cttsIndex+1 < len(tb.ctts.Entries) {
				cttsIndex++
				cttsRemaining = tb.ctts.Entries[cttsIndex].SampleCount
			}
			if cttsRemaining != 0 {
				e := tb.ctts.Entries[cttsIndex]
				if tb.ctts.GetVersion() == 0 {
					ptsOffset = int64(int32(e.SampleOffsetV0))
				} else {
					ptsOffset = int64(e.SampleOffsetV1)
				}
				cttsRemaining--
			}
		}

		// chunk offsets
		if int(chunk) > len(chunkOffsets) {
			return fmt.Errorf("track %d: stco has less entries than chunks", t.ID)
		}

		isSync := true
		if syncSamples != nil {
			_, isSync = syncSamples[uint32(i+1)]
		}

		samples[i] = &Sample{
			TrackID:   t.ID,
			Number:    i + 1,
			TimeScale: t.TimeScale,
			Offset:    offset,
			Size:      size,
			DTS:       dts,
			CTS:       dts + ptsOffset,
			Duration:  duration,
			IsSync:    isSync,
		}

		dts += int64(duration)
		offset += uint64(size)
		sampleInChunk++

		if sampleInChunk == tb.stsc.Entries[stscIndex].SamplesPerChunk {
			sampleInChunk = 0
			chunk++

			if stscIndex+1 < len(tb.stsc.Entries) && chunk >= tb.stsc.Entries[stscIndex+1].FirstChunk {
				stscIndex++
			}

			if int(chunk) <= len(chunkOffsets) {
				offset = chunkOffsets[chunk-1]
			}
		}
	}

	t.nextDTS = dts
	t.tables = sampleTables{}
	t.addSamples(samples)

	return nil
}
