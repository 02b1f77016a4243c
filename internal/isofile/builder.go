package isofile

import (
	"fmt"

	gomp4 "github.com/abema/go-mp4"

	"github.com/bluenviron/mp4pipe/internal/mp4writer"
)

// BuilderTrack is a track of a Builder.
type BuilderTrack struct {
	ID          int
	TimeScale   uint32
	Width       int
	Height      int
	SampleEntry string
	ConfigType  string
	Config      []byte
}

// FragmentSample is a sample of a fragment.
type FragmentSample struct {
	Duration        uint32
	PTSOffset       int32
	IsNonSyncSample bool
	Payload         []byte
}

// FragmentTrack is the part of a fragment that belongs to a track.
type FragmentTrack struct {
	ID       int
	BaseTime uint64
	Samples  []*FragmentSample
}

// Builder builds a fragmented MP4 file into an append-only box log.
// Each top-level box is an entry of the log. Taking a box out of the log clears its slot.
type Builder struct {
	boxes         [][]byte
	firstFragment int
	sequence      uint32
	tracks        []*BuilderTrack
}

// Len returns the number of boxes written so far.
func (b *Builder) Len() int {
	return len(b.boxes)
}

// HasFragment returns whether a moof box has been written.
func (b *Builder) HasFragment() bool {
	return b.firstFragment > 0
}

// Take returns the box at index i and clears its slot.
func (b *Builder) Take(i int) []byte {
	byts := b.boxes[i]
	b.boxes[i] = nil
	return byts
}

func (b *Builder) push(byts []byte) {
	b.boxes = append(b.boxes, byts)
}

// WriteInit writes ftyp and moov.
func (b *Builder) WriteInit(tracks []*BuilderTrack) error {
	if b.tracks != nil {
		return fmt.Errorf("initialization already written")
	}
	if len(tracks) == 0 {
		return fmt.Errorf("no tracks provided")
	}

	/*
		|ftyp|
		|moov|
		|    |mvhd|
		|    |trak|
		|    |....|
		|    |mvex|
		|    |    |trex|
	*/

	w := mp4writer.New()

	_, err := w.WriteBox(&gomp4.Ftyp{ // <ftyp/>
		MajorBrand:   [4]byte{'i', 's', 'o', '5'},
		MinorVersion: 512,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', '5'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', '6'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	})
	if err != nil {
		return err
	}

	ftyp := w.Bytes()
	w = mp4writer.New()

	_, err = w.WriteBoxStart(&gomp4.Moov{}) // <moov>
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Mvhd{ // <mvhd/>
		Timescale:   1000,
		Rate:        65536,
		Volume:      256,
		Matrix:      [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
		NextTrackID: uint32(len(tracks) + 1),
	})
	if err != nil {
		return err
	}

	for _, track := range tracks {
		err = marshalInitTrack(w, track)
		if err != nil {
			return err
		}
	}

	_, err = w.WriteBoxStart(&gomp4.Mvex{}) // <mvex>
	if err != nil {
		return err
	}

	for _, track := range tracks {
		_, err = w.WriteBox(&gomp4.Trex{ // <trex/>
			TrackID:                       uint32(track.ID),
			DefaultSampleDescriptionIndex: 1,
		})
		if err != nil {
			return err
		}
	}

	err = w.WriteBoxEnd() // </mvex>
	if err != nil {
		return err
	}

	err = w.WriteBoxEnd() // </moov>
	if err != nil {
		return err
	}

	b.tracks = tracks
	b.push(ftyp)
	b.push(w.Bytes())

	return nil
}

func marshalInitTrack(w *mp4writer.Writer, track *BuilderTrack) error {
	/*
		|trak|
		|    |tkhd|
		|    |mdia|
		|    |    |mdhd|
		|    |    |hdlr|
		|    |    |minf|
		|    |    |    |vmhd|
		|    |    |    |dinf|
		|    |    |    |    |dref|
		|    |    |    |    |    |url|
		|    |    |    |stbl|
		|    |    |    |    |stsd|
		|    |    |    |    |    |avc1|
		|    |    |    |    |    |    |avcC|
		|    |    |    |    |stts|
		|    |    |    |    |stsc|
		|    |    |    |    |stsz|
		|    |    |    |    |stco|
	*/

	_, err := w.WriteBoxStart(&gomp4.Trak{}) // <trak>
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Tkhd{ // <tkhd/>
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 3},
		},
		TrackID: uint32(track.ID),
		Width:   uint32(track.Width * 65536),
		Height:  uint32(track.Height * 65536),
		Matrix:  [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
	})
	if err != nil {
		return err
	}

	_, err = w.WriteBoxStart(&gomp4.Mdia{}) // <mdia>
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Mdhd{ // <mdhd/>
		Timescale: track.TimeScale,
		Language:  [3]byte{'u', 'n', 'd'},
	})
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Hdlr{ // <hdlr/>
		HandlerType: [4]byte{'v', 'i', 'd', 'e'},
		Name:        "VideoHandler",
	})
	if err != nil {
		return err
	}

	_, err = w.WriteBoxStart(&gomp4.Minf{}) // <minf>
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Vmhd{ // <vmhd/>
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 1},
		},
	})
	if err != nil {
		return err
	}

	_, err = w.WriteBoxStart(&gomp4.Dinf{}) // <dinf>
	if err != nil {
		return err
	}

	_, err = w.WriteBoxStart(&gomp4.Dref{ // <dref>
		EntryCount: 1,
	})
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Url{ // <url/>
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 1},
		},
	})
	if err != nil {
		return err
	}

	err = w.WriteBoxEnd() // </dref>
	if err != nil {
		return err
	}

	err = w.WriteBoxEnd() // </dinf>
	if err != nil {
		return err
	}

	_, err = w.WriteBoxStart(&gomp4.Stbl{}) // <stbl>
	if err != nil {
		return err
	}

	_, err = w.WriteBoxStart(&gomp4.Stsd{ // <stsd>
		EntryCount: 1,
	})
	if err != nil {
		return err
	}

	_, err = w.WriteBoxStart(&gomp4.VisualSampleEntry{ // <avc1>
		SampleEntry: gomp4.SampleEntry{
			AnyTypeBox: gomp4.AnyTypeBox{
				Type: gomp4.StrToBoxType(track.SampleEntry),
			},
			DataReferenceIndex: 1,
		},
		Width:           uint16(track.Width),
		Height:          uint16(track.Height),
		Horizresolution: 4718592,
		Vertresolution:  4718592,
		FrameCount:      1,
		Depth:           24,
		PreDefined3:     -1,
	})
	if err != nil {
		return err
	}

	err = w.WriteRawBox(track.ConfigType, track.Config) // <avcC/>
	if err != nil {
		return err
	}

	err = w.WriteBoxEnd() // </avc1>
	if err != nil {
		return err
	}

	err = w.WriteBoxEnd() // </stsd>
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Stts{}) // <stts/>
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Stsc{}) // <stsc/>
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Stsz{}) // <stsz/>
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Stco{}) // <stco/>
	if err != nil {
		return err
	}

	err = w.WriteBoxEnd() // </stbl>
	if err != nil {
		return err
	}

	err = w.WriteBoxEnd() // </minf>
	if err != nil {
		return err
	}

	err = w.WriteBoxEnd() // </mdia>
	if err != nil {
		return err
	}

	return w.WriteBoxEnd() // </trak>
}

// WriteFragment writes a moof box and its mdat box.
func (b *Builder) WriteFragment(tracks []*FragmentTrack) error {
	if b.tracks == nil {
		return fmt.Errorf("initialization not written yet")
	}

	/*
		|moof|
		|    |mfhd|
		|    |traf|
		|    |traf|
		|    |....|
		|mdat|
	*/

	w := mp4writer.New()

	moofOffset, err := w.WriteBoxStart(&gomp4.Moof{}) // <moof>
	if err != nil {
		return err
	}

	b.sequence++

	_, err = w.WriteBox(&gomp4.Mfhd{ // <mfhd/>
		SequenceNumber: b.sequence,
	})
	if err != nil {
		return err
	}

	truns := make([]*gomp4.Trun, len(tracks))
	trunOffsets := make([]int, len(tracks))
	dataSize := 0

	for i, track := range tracks {
		var trun *gomp4.Trun
		var trunOffset int
		trun, trunOffset, err = marshalFragmentTrack(w, track)
		if err != nil {
			return err
		}

		truns[i] = trun
		trunOffsets[i] = trunOffset

		for _, sample := range track.Samples {
			dataSize += len(sample.Payload)
		}
	}

	err = w.WriteBoxEnd() // </moof>
	if err != nil {
		return err
	}

	moofSize := len(w.Bytes()) - moofOffset
	dataOffset := moofSize + 8

	for i, track := range tracks {
		truns[i].DataOffset = int32(dataOffset)

		err = w.RewriteBox(trunOffsets[i], truns[i])
		if err != nil {
			return err
		}

		for _, sample := range track.Samples {
			dataOffset += len(sample.Payload)
		}
	}

	moof := w.Bytes()

	mdat := make([]byte, 8, 8+dataSize)
	mdatSize := uint32(8 + dataSize)
	mdat[0] = byte(mdatSize >> 24)
	mdat[1] = byte(mdatSize >> 16)
	mdat[2] = byte(mdatSize >> 8)
	mdat[3] = byte(mdatSize)
	copy(mdat[4:], "mdat")

	for _, track := range tracks {
		for _, sample := range track.Samples {
			mdat = append(mdat, sample.Payload...)
		}
	}

	if b.firstFragment == 0 {
		b.firstFragment = len(b.boxes)
	}
	b.push(moof)
	b.push(mdat)

	return nil
}

func marshalFragmentTrack(w *mp4writer.Writer, track *FragmentTrack) (*gomp4.Trun, int, error) {
	/*
		|traf|
		|    |tfhd|
		|    |tfdt|
		|    |trun|
	*/

	_, err := w.WriteBoxStart(&gomp4.Traf{}) // <traf>
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBox(&gomp4.Tfhd{ // <tfhd/>
		FullBox: gomp4.FullBox{
			Flags: [3]byte{2, 0, 0},
		},
		TrackID: uint32(track.ID),
	})
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBox(&gomp4.Tfdt{ // <tfdt/>
		FullBox: gomp4.FullBox{
			Version: 1,
		},
		// sum of decode durations of all earlier samples
		BaseMediaDecodeTimeV1: track.BaseTime,
	})
	if err != nil {
		return nil, 0, err
	}

	flags := trunFlagDataOffsetPreset |
		trunFlagSampleDurationPresent |
		trunFlagSampleSizePresent |
		trunFlagSampleFlagsPresent |
		trunFlagSampleCompositionTimeOffsetPresentOrV1

	trun := &gomp4.Trun{ // <trun/>
		FullBox: gomp4.FullBox{
			Version: 1,
			Flags:   [3]byte{0, byte(flags >> 8), byte(flags)},
		},
		SampleCount: uint32(len(track.Samples)),
	}

	for _, sample := range track.Samples {
		var sampleFlags uint32
		if sample.IsNonSyncSample {
			sampleFlags |= sampleFlagIsNonSyncSample
		}

		trun.Entries = append(trun.Entries, gomp4.TrunEntry{
			SampleDuration:                sample.Duration,
			SampleSize:                    uint32(len(sample.Payload)),
			SampleFlags:                   sampleFlags,
			SampleCompositionTimeOffsetV1: sample.PTSOffset,
		})
	}

	trunOffset, err := w.WriteBox(trun)
	if err != nil {
		return nil, 0, err
	}

	err = w.WriteBoxEnd() // </traf>
	if err != nil {
		return nil, 0, err
	}

	return trun, trunOffset, nil
}
