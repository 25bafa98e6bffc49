package smpphelper

const (
	// IEIConcat8 is the concatenated short message IE with an 8-bit reference.
	IEIConcat8 = 0x00
	// IEIConcat16 is the concatenated short message IE with a 16-bit reference.
	IEIConcat16 = 0x08

	// ConcatUDHLen is the size of the header built by EncodeConcatenatedUDH.
	ConcatUDHLen = 6
)

// EncodeConcatenatedUDH creates the UDH byte slice for one part of a
// multipart message: \x05\x00\x03<ref><total><seq>.
func EncodeConcatenatedUDH(ref, totalSegments, sequenceNum uint8) []byte {
	return []byte{0x05, IEIConcat8, 0x03, ref, totalSegments, sequenceNum}
}

// ConcatInfo is the concatenation IE found in a user data header.
type ConcatInfo struct {
	Ref   uint16
	Total uint8
	Seq   uint8
}

// ParseConcatenatedUDH reads the user data header at the start of ud. It
// returns the concatenation IE and the user data following the header. ok is
// false when ud has no well-formed header or the header has no concatenation IE.
func ParseConcatenatedUDH(ud []byte) (info ConcatInfo, payload []byte, ok bool) {
	if len(ud) == 0 {
		return info, ud, false
	}
	udhl := int(ud[0])
	if len(ud) < udhl+1 {
		return info, ud, false
	}
	header := ud[1 : udhl+1]
	for len(header) >= 2 {
		iei, iel := header[0], int(header[1])
		if len(header) < 2+iel {
			return ConcatInfo{}, ud, false
		}
		data := header[2 : 2+iel]
		switch {
		case iei == IEIConcat8 && iel == 3:
			info = ConcatInfo{Ref: uint16(data[0]), Total: data[1], Seq: data[2]}
			ok = true
		case iei == IEIConcat16 && iel == 4:
			info = ConcatInfo{Ref: uint16(data[0])<<8 | uint16(data[1]), Total: data[2], Seq: data[3]}
			ok = true
		}
		header = header[2+iel:]
	}
	return info, ud[udhl+1:], ok
}
