package segmenter

import "errors"

const (
	// MaxSingleOctets is the short_message capacity for arbitrary octets.
	MaxSingleOctets = 140
	// MaxSingleGSM7 is the capacity in 7-bit characters once the SMSC packs them.
	MaxSingleGSM7 = 160
	// SARChunk leaves headroom for headers the SMSC adds to SAR segments.
	SARChunk = 130
	// UDHChunk leaves room for the 6-byte concatenation header.
	UDHChunk = 136
)

// Segmenter splits already-encoded content into parts.
type Segmenter interface {
	// GetSegments returns the content split into parts of at most the
	// segmenter's chunk size.
	GetSegments(content []byte) ([][]byte, error)
}

// ByteSegmenter splits on raw byte offsets. A split may fall inside a
// multi-byte character; receivers reassemble the bytes before decoding.
type ByteSegmenter struct {
	ChunkSize int
}

// NewSARSegmenter returns a segmenter sized for SAR TLV segments.
func NewSARSegmenter() *ByteSegmenter {
	return &ByteSegmenter{ChunkSize: SARChunk}
}

// NewUDHSegmenter returns a segmenter sized for UDH segments.
func NewUDHSegmenter() *ByteSegmenter {
	return &ByteSegmenter{ChunkSize: UDHChunk}
}

// GetSegments implements Segmenter.
func (s *ByteSegmenter) GetSegments(content []byte) ([][]byte, error) {
	if s.ChunkSize <= 0 {
		return nil, errors.New("segmenter: chunk size must be positive")
	}
	if len(content) == 0 {
		return [][]byte{{}}, nil
	}
	segments := make([][]byte, 0, (len(content)+s.ChunkSize-1)/s.ChunkSize)
	for start := 0; start < len(content); start += s.ChunkSize {
		end := start + s.ChunkSize
		if end > len(content) {
			end = len(content)
		}
		segments = append(segments, content[start:end:end])
	}
	return segments, nil
}

// FitsSingle reports whether encoded content fits one short_message. Pure
// printable ASCII may use the 160 character GSM allowance when allowGSM7 is set.
func FitsSingle(content []byte, allowGSM7 bool) bool {
	if len(content) <= MaxSingleOctets {
		return true
	}
	return allowGSM7 && len(content) <= MaxSingleGSM7 && isPrintableASCII(content)
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}
