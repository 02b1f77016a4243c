package test

import (
	"encoding/binary"

	gomp4 "github.com/abema/go-mp4"

	"github.com/bluenviron/mp4pipe/internal/mp4writer"
)

// MP4Sample is a sample of a MP4 file generated by MP4.
type MP4Sample struct {
	Duration  uint32
	PTSOffset int32
	IsSync    bool
	Payload   []byte
}

// MP4 generates a single-track MP4 file.
type MP4 struct {
	TimeScale   uint32
	HandlerType string // defaults to "vide"
	SampleEntry string // defaults to "avc1"
	ConfigType  string // when empty, no decoder configuration box is written
	Config      []byte
	Width       int
	Height      int
	Samples     []*MP4Sample

	// fragmented MP4 options
	Fragmented         bool
	SamplesPerFragment int
	TrunVersion        uint8

	// progressive MP4 options
	MoovAtEnd bool
}

// H264MP4 returns a MP4 with a H264 track and count samples lasting 40ms each.
// The first sample is a key frame, the others are delta frames.
func H264MP4(count int, fragmented bool) *MP4 {
	m := &MP4{
		TimeScale:          90000,
		ConfigType:         "avcC",
		Config:             AVCConfig(),
		Width:              1920,
		Height:             1080,
		Fragmented:         fragmented,
		SamplesPerFragment: count,
		TrunVersion:        1,
	}

	for i := 0; i < count; i++ {
		m.Samples = append(m.Samples, &MP4Sample{
			Duration: 3600,
			IsSync:   i == 0,
			Payload:  AccessUnit(i, i == 0),
		})
	}

	return m
}

func writeMdat(w *mp4writer.Writer, samples []*MP4Sample) error {
	var payload []byte
	for _, sa := range samples {
		payload = append(payload, sa.Payload...)
	}
	return w.WriteRawBox("mdat", payload)
}

// Marshal encodes the file.
func (m *MP4) Marshal() ([]byte, error) {
	w := mp4writer.New()

	_, err := w.WriteBox(&gomp4.Ftyp{ // <ftyp/>
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 1,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	})
	if err != nil {
		return nil, err
	}

	if m.Fragmented {
		err = m.marshalFragmented(w)
	} else {
		err = m.marshalProgressive(w)
	}
	if err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

func (m *MP4) marshalFragmented(w *mp4writer.Writer) error {
	_, _, err := m.marshalMoov(w, nil)
	if err != nil {
		return err
	}

	perFragment := m.SamplesPerFragment
	if perFragment <= 0 {
		perFragment = 1
	}

	baseTime := uint64(0)

	for i, seq := 0, uint32(1); i < len(m.Samples); i, seq = i+perFragment, seq+1 {
		end := min(i+perFragment, len(m.Samples))
		samples := m.Samples[i:end]

		moofOffset, err := w.WriteBoxStart(&gomp4.Moof{}) // <moof>
		if err != nil {
			return err
		}

		_, err = w.WriteBox(&gomp4.Mfhd{SequenceNumber: seq}) // <mfhd/>
		if err != nil {
			return err
		}

		_, err = w.WriteBoxStart(&gomp4.Traf{}) // <traf>
		if err != nil {
			return err
		}

		_, err = w.WriteBox(&gomp4.Tfhd{ // <tfhd/>
			FullBox: gomp4.FullBox{
				Flags: [3]byte{2, 0, 0},
			},
			TrackID: 1,
		})
		if err != nil {
			return err
		}

		_, err = w.WriteBox(&gomp4.Tfdt{ // <tfdt/>
			FullBox: gomp4.FullBox{
				Version: 1,
			},
			BaseMediaDecodeTimeV1: baseTime,
		})
		if err != nil {
			return err
		}

		trun := &gomp4.Trun{ // <trun/>
			FullBox: gomp4.FullBox{
				Version: m.TrunVersion,
				Flags:   [3]byte{0, 0x0F, 0x01},
			},
			SampleCount: uint32(len(samples)),
		}

		for _, sa := range samples {
			var flags uint32
			if !sa.IsSync {
				flags |= 1 << 16
			}

			e := gomp4.TrunEntry{
				SampleDuration: sa.Duration,
				SampleSize:     uint32(len(sa.Payload)),
				SampleFlags:    flags,
			}
			if m.TrunVersion == 0 {
				// negative offsets are stored in two's complement
				e.SampleCompositionTimeOffsetV0 = uint32(sa.PTSOffset)
			} else {
				e.SampleCompositionTimeOffsetV1 = sa.PTSOffset
			}
			trun.Entries = append(trun.Entries, e)

			baseTime += uint64(sa.Duration)
		}

		trunOffset, err := w.WriteBox(trun)
		if err != nil {
			return err
		}

		err = w.WriteBoxEnd() // </traf>
		if err != nil {
			return err
		}

		err = w.WriteBoxEnd() // </moof>
		if err != nil {
			return err
		}

		trun.DataOffset = int32(w.Offset() - moofOffset + 8)

		err = w.RewriteBox(trunOffset, trun)
		if err != nil {
			return err
		}

		err = writeMdat(w, samples)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *MP4) marshalProgressive(w *mp4writer.Writer) error {
	if m.MoovAtEnd {
		mdatOffset := w.Offset()

		err := writeMdat(w, m.Samples)
		if err != nil {
			return err
		}

		_, _, err = m.marshalMoov(w, m.chunkOffsets(uint64(mdatOffset)+8))
		return err
	}

	// offsets are known once the moov has been written
	stco, stcoOffset, err := m.marshalMoov(w, m.chunkOffsets(0))
	if err != nil {
		return err
	}

	moovEnd := w.Offset()

	for i := range stco.ChunkOffset {
		stco.ChunkOffset[i] += uint32(moovEnd) + 8
	}

	err = w.RewriteBox(stcoOffset, stco)
	if err != nil {
		return err
	}

	return writeMdat(w, m.Samples)
}

// chunkOffsets puts two samples in each chunk.
func (m *MP4) chunkOffsets(base uint64) []uint32 {
	var ret []uint32
	off := base

	for i, sa := range m.Samples {
		if i%2 == 0 {
			ret = append(ret, uint32(off))
		}
		off += uint64(len(sa.Payload))
	}

	return ret
}

func (m *MP4) marshalMoov(w *mp4writer.Writer, chunkOffsets []uint32) (*gomp4.Stco, int, error) {
	handlerType := m.HandlerType
	if handlerType == "" {
		handlerType = "vide"
	}

	sampleEntry := m.SampleEntry
	if sampleEntry == "" {
		sampleEntry = "avc1"
	}

	_, err := w.WriteBoxStart(&gomp4.Moov{}) // <moov>
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBox(&gomp4.Mvhd{ // <mvhd/>
		Timescale:   1000,
		Rate:        65536,
		Volume:      256,
		Matrix:      [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
		NextTrackID: 2,
	})
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBoxStart(&gomp4.Trak{}) // <trak>
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBox(&gomp4.Tkhd{ // <tkhd/>
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 3},
		},
		TrackID: 1,
		Width:   uint32(m.Width * 65536),
		Height:  uint32(m.Height * 65536),
		Matrix:  [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
	})
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBoxStart(&gomp4.Mdia{}) // <mdia>
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBox(&gomp4.Mdhd{ // <mdhd/>
		Timescale: m.TimeScale,
		Language:  [3]byte{'u', 'n', 'd'},
	})
	if err != nil {
		return nil, 0, err
	}

	hdlr := &gomp4.Hdlr{ // <hdlr/>
		Name: "Handler",
	}
	copy(hdlr.HandlerType[:], handlerType)

	_, err = w.WriteBox(hdlr)
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBoxStart(&gomp4.Minf{}) // <minf>
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBoxStart(&gomp4.Stbl{}) // <stbl>
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBoxStart(&gomp4.Stsd{EntryCount: 1}) // <stsd>
	if err != nil {
		return nil, 0, err
	}

	// visual sample entry written by hand, in order to support any entry type
	entry := make([]byte, 78)
	binary.BigEndian.PutUint16(entry[6:8], 1)
	binary.BigEndian.PutUint16(entry[24:26], uint16(m.Width))
	binary.BigEndian.PutUint16(entry[26:28], uint16(m.Height))
	binary.BigEndian.PutUint32(entry[28:32], 0x00480000)
	binary.BigEndian.PutUint32(entry[32:36], 0x00480000)
	binary.BigEndian.PutUint16(entry[40:42], 1)
	binary.BigEndian.PutUint16(entry[74:76], 0x18)
	binary.BigEndian.PutUint16(entry[76:78], 0xFFFF)

	if m.ConfigType != "" {
		cfg := binary.BigEndian.AppendUint32(nil, uint32(8+len(m.Config)))
		cfg = append(cfg, m.ConfigType...)
		cfg = append(cfg, m.Config...)
		entry = append(entry, cfg...)
	}

	err = w.WriteRawBox(sampleEntry, entry)
	if err != nil {
		return nil, 0, err
	}

	err = w.WriteBoxEnd() // </stsd>
	if err != nil {
		return nil, 0, err
	}

	var stco *gomp4.Stco
	stcoOffset := 0

	if m.Fragmented {
		stco, stcoOffset, err = m.marshalEmptyTables(w)
	} else {
		stco, stcoOffset, err = m.marshalSampleTables(w, chunkOffsets)
	}
	if err != nil {
		return nil, 0, err
	}

	err = w.WriteBoxEnd() // </stbl>
	if err != nil {
		return nil, 0, err
	}

	err = w.WriteBoxEnd() // </minf>
	if err != nil {
		return nil, 0, err
	}

	err = w.WriteBoxEnd() // </mdia>
	if err != nil {
		return nil, 0, err
	}

	err = w.WriteBoxEnd() // </trak>
	if err != nil {
		return nil, 0, err
	}

	if m.Fragmented {
		_, err = w.WriteBoxStart(&gomp4.Mvex{}) // <mvex>
		if err != nil {
			return nil, 0, err
		}

		_, err = w.WriteBox(&gomp4.Trex{ // <trex/>
			TrackID:                       1,
			DefaultSampleDescriptionIndex: 1,
		})
		if err != nil {
			return nil, 0, err
		}

		err = w.WriteBoxEnd() // </mvex>
		if err != nil {
			return nil, 0, err
		}
	}

	err = w.WriteBoxEnd() // </moov>
	if err != nil {
		return nil, 0, err
	}

	return stco, stcoOffset, nil
}

func (m *MP4) marshalEmptyTables(w *mp4writer.Writer) (*gomp4.Stco, int, error) {
	for _, box := range []gomp4.IImmutableBox{
		&gomp4.Stts{},
		&gomp4.Stsc{},
		&gomp4.Stsz{},
	} {
		_, err := w.WriteBox(box)
		if err != nil {
			return nil, 0, err
		}
	}

	stco := &gomp4.Stco{}
	off, err := w.WriteBox(stco)
	return stco, off, err
}

func (m *MP4) marshalSampleTables(w *mp4writer.Writer, chunkOffsets []uint32) (*gomp4.Stco, int, error) {
	stts := &gomp4.Stts{}
	ctts := &gomp4.Ctts{}
	stss := &gomp4.Stss{}
	stsz := &gomp4.Stsz{}
	hasCtts := false

	for i, sa := range m.Samples {
		if n := len(stts.Entries); n != 0 && stts.Entries[n-1].SampleDelta == sa.Duration {
			stts.Entries[n-1].SampleCount++
		} else {
			stts.Entries = append(stts.Entries, gomp4.SttsEntry{SampleCount: 1, SampleDelta: sa.Duration})
		}

		ctts.Entries = append(ctts.Entries, gomp4.CttsEntry{SampleCount: 1, SampleOffsetV0: uint32(sa.PTSOffset)})
		if sa.PTSOffset != 0 {
			hasCtts = true
		}

		if sa.IsSync {
			stss.SampleNumber = append(stss.SampleNumber, uint32(i+1))
		}

		stsz.EntrySize = append(stsz.EntrySize, uint32(len(sa.Payload)))
	}

	stts.EntryCount = uint32(len(stts.Entries))
	ctts.EntryCount = uint32(len(ctts.Entries))
	stss.EntryCount = uint32(len(stss.SampleNumber))
	stsz.SampleCount = uint32(len(stsz.EntrySize))

	stsc := &gomp4.Stsc{
		EntryCount: 1,
		Entries: []gomp4.StscEntry{{
			FirstChunk:             1,
			SamplesPerChunk:        2,
			SampleDescriptionIndex: 1,
		}},
	}

	stco := &gomp4.Stco{
		EntryCount:  uint32(len(chunkOffsets)),
		ChunkOffset: chunkOffsets,
	}

	boxes := []gomp4.IImmutableBox{stts}
	if hasCtts {
		boxes = append(boxes, ctts)
	}
	boxes = append(boxes, stss, stsc, stsz)

	for _, box := range boxes {
		_, err := w.WriteBox(box)
		if err != nil {
			return nil, 0, err
		}
	}

	off, err := w.WriteBox(stco)
	return stco, off, err
}
