package isofile

// Sample is a sample of a track.
type Sample struct {
	TrackID   int
	Number    int
	TimeScale uint32
	Offset    uint64
	Size      uint32
	DTS       int64
	CTS       int64
	Duration  uint32
	IsSync    bool

	// filled when the sample is extracted
	Data []byte
}
