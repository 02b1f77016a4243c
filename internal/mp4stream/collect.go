package mp4stream

import (
	"errors"
	"io"
)

const collectChunkSize = 64 * 1024

// Collect reads r until EOF and returns the concatenation of what has been read.
func Collect(r io.Reader) ([]byte, error) {
	var chunks [][]byte
	total := 0

	if s, ok := r.(*Stream); ok {
		for {
			byts, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, err
			}

			chunks = append(chunks, byts)
			total += len(byts)
		}
	} else {
		for {
			buf := make([]byte, collectChunkSize)
			n, err := r.Read(buf)
			if n > 0 {
				chunks = append(chunks, buf[:n])
				total += n
			}

			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, err
			}
		}
	}

	out := make([]byte, total)
	pos := 0
	for _, c := range chunks {
		pos += copy(out[pos:], c)
	}

	return out, nil
}
