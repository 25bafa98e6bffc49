package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLen is the size of the fixed PDU header.
	HeaderLen = 16
	// MaxLength bounds command_length. Anything larger is treated as a
	// framing error rather than buffered.
	MaxLength = 128 * 1024
)

// ErrInvalidLength is returned by ChopStream when the length prefix cannot
// describe a valid PDU. The stream cannot be resynchronised after this.
var ErrInvalidLength = errors.New("pdu: invalid command_length")

// DecodeError reports a complete but malformed PDU. The header fields are
// set whenever the header itself could be read, so the caller can still
// answer the request.
type DecodeError struct {
	CommandID CommandID
	Sequence  uint32
	Reason    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pdu: decode %s seq=%d: %s", e.CommandID, e.Sequence, e.Reason)
}

// PDU is one SMPP protocol data unit.
type PDU struct {
	Status   Status
	Sequence uint32
	Body     Body
	Options  Options
}

// CommandID returns the command of the PDU body.
func (p *PDU) CommandID() CommandID {
	return p.Body.CommandID()
}

// Pack serialises p, computing command_length.
func Pack(p *PDU) ([]byte, error) {
	if p.Body == nil {
		return nil, errors.New("pdu: pack: nil body")
	}
	w := &writer{buf: make([]byte, HeaderLen, 64)}
	p.Body.marshal(w)
	p.Options.marshal(w)
	if w.err != nil {
		return nil, fmt.Errorf("pdu: pack %s: %w", p.CommandID(), w.err)
	}
	if len(w.buf) > MaxLength {
		return nil, fmt.Errorf("pdu: pack %s: %d octets exceeds %d", p.CommandID(), len(w.buf), MaxLength)
	}
	binary.BigEndian.PutUint32(w.buf[0:], uint32(len(w.buf)))
	binary.BigEndian.PutUint32(w.buf[4:], uint32(p.CommandID()))
	binary.BigEndian.PutUint32(w.buf[8:], uint32(p.Status))
	binary.BigEndian.PutUint32(w.buf[12:], p.Sequence)
	return w.buf, nil
}

// Unpack parses one complete PDU. Malformed input yields a *DecodeError.
func Unpack(b []byte) (*PDU, error) {
	if len(b) < HeaderLen {
		return nil, &DecodeError{Reason: fmt.Sprintf("short header: %d octets", len(b))}
	}
	length := binary.BigEndian.Uint32(b[0:])
	id := CommandID(binary.BigEndian.Uint32(b[4:]))
	p := &PDU{
		Status:   Status(binary.BigEndian.Uint32(b[8:])),
		Sequence: binary.BigEndian.Uint32(b[12:]),
	}
	if int(length) != len(b) {
		return nil, &DecodeError{CommandID: id, Sequence: p.Sequence,
			Reason: fmt.Sprintf("command_length %d does not match %d octets", length, len(b))}
	}

	p.Body = newBody(id)
	r := &reader{buf: b[HeaderLen:]}
	if err := p.Body.unmarshal(r); err != nil {
		return nil, &DecodeError{CommandID: id, Sequence: p.Sequence, Reason: err.Error()}
	}
	opts, err := readOptions(r)
	if err != nil {
		return nil, &DecodeError{CommandID: id, Sequence: p.Sequence, Reason: err.Error()}
	}
	p.Options = opts
	return p, nil
}

// PeekHeader reads the header fields of a framed PDU without decoding the body.
func PeekHeader(b []byte) (id CommandID, status Status, seq uint32, ok bool) {
	if len(b) < HeaderLen {
		return 0, 0, 0, false
	}
	return CommandID(binary.BigEndian.Uint32(b[4:])),
		Status(binary.BigEndian.Uint32(b[8:])),
		binary.BigEndian.Uint32(b[12:]), true
}

// ChopStream splits one PDU off the front of an accumulating read buffer.
// ok is false when more bytes are needed; the caller keeps buf and retries
// after the next read. It can be called repeatedly to drain coalesced PDUs.
func ChopStream(buf []byte) (pdu, rest []byte, ok bool, err error) {
	if len(buf) < HeaderLen {
		return nil, buf, false, nil
	}
	n := binary.BigEndian.Uint32(buf)
	if n < HeaderLen || n > MaxLength {
		return nil, buf, false, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if uint32(len(buf)) < n {
		return nil, buf, false, nil
	}
	return buf[:n:n], buf[n:], true, nil
}

type writer struct {
	buf []byte
	err error
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) uint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) octets(v []byte) {
	w.buf = append(w.buf, v...)
}

// cstring writes s NUL-terminated; max includes the terminator.
func (w *writer) cstring(field, s string, max int) {
	if len(s)+1 > max {
		w.fail(fmt.Errorf("%s: %d octets exceeds maximum of %d", field, len(s), max-1))
		return
	}
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) uint8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, errors.New("unexpected end of body")
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) uint16() uint16 {
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) octets(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("need %d octets, have %d", n, r.remaining())
	}
	if n == 0 {
		return nil, nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+n])
	r.off += n
	return v, nil
}

// cstring reads a NUL-terminated string. Lengths are not enforced on the
// way in; SMSCs routinely exceed them for alphanumeric addresses.
func (r *reader) cstring(field string) (string, error) {
	for i := r.off; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			s := string(r.buf[r.off:i])
			r.off = i + 1
			return s, nil
		}
	}
	return "", fmt.Errorf("%s: missing NUL terminator", field)
}
