// Package charset maps SMPP data_coding values to character sets and
// converts short message content to and from them.
package charset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/linxGnu/gosmpp/data"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrUnknownCoding is returned for a data_coding with no charset mapped.
	ErrUnknownCoding = errors.New("charset: unmapped data_coding")
	// ErrUndecodable is returned when content is invalid in its charset.
	ErrUndecodable = errors.New("charset: undecodable content")
	// ErrUnencodable is returned when text cannot be represented in a charset.
	ErrUnencodable = errors.New("charset: unencodable content")
	// ErrUnknownCharset is returned by Lookup for unsupported names.
	ErrUnknownCharset = errors.New("charset: unknown charset")
)

// Codec converts between Go strings and one charset.
type Codec interface {
	Name() string
	Encode(s string) ([]byte, error)
	Decode(b []byte) (string, error)
}

// Lookup resolves a charset name. Common SMPP spellings are recognised
// directly, anything else is resolved through the IANA registry.
func Lookup(name string) (Codec, error) {
	switch normalize(name) {
	case "ascii", "usascii":
		return asciiCodec{}, nil
	case "utf8":
		return utf8Codec{}, nil
	case "latin1", "iso88591":
		return textCodec{name: "latin1", enc: charmap.ISO8859_1}, nil
	case "windows1252", "cp1252":
		return textCodec{name: "windows-1252", enc: charmap.Windows1252}, nil
	case "utf16be", "ucs2":
		return utf16Codec{enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}, nil
	case "gsm0338", "gsm", "gsm7":
		return smppCodec{name: "gsm0338", enc: data.GSM7BIT}, nil
	case "cyrillic", "iso88595":
		return smppCodec{name: "iso-8859-5", enc: data.CYRILLIC}, nil
	case "hebrew", "iso88598":
		return smppCodec{name: "iso-8859-8", enc: data.HEBREW}, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharset, name)
	}
	return textCodec{name: name, enc: enc}, nil
}

func normalize(name string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
}

type asciiCodec struct{}

func (asciiCodec) Name() string { return "ascii" }

func (asciiCodec) Encode(s string) ([]byte, error) {
	for i, r := range s {
		if r > 0x7F {
			return nil, fmt.Errorf("%w: %q at offset %d is not ascii", ErrUnencodable, r, i)
		}
	}
	return data.ASCII.Encode(s)
}

func (asciiCodec) Decode(b []byte) (string, error) {
	for i, c := range b {
		if c > 0x7F {
			return "", fmt.Errorf("%w: byte 0x%02x at offset %d is not ascii", ErrUndecodable, c, i)
		}
	}
	return data.ASCII.Decode(b)
}

type utf8Codec struct{}

func (utf8Codec) Name() string { return "utf-8" }

func (utf8Codec) Encode(s string) ([]byte, error) { return []byte(s), nil }

func (utf8Codec) Decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrUndecodable)
	}
	return string(b), nil
}

type textCodec struct {
	name string
	enc  encoding.Encoding
}

func (c textCodec) Name() string { return c.name }

func (c textCodec) Encode(s string) ([]byte, error) {
	b, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnencodable, c.name, err)
	}
	return b, nil
}

func (c textCodec) Decode(b []byte) (string, error) {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUndecodable, c.name, err)
	}
	return string(out), nil
}

type utf16Codec struct {
	enc encoding.Encoding
}

func (utf16Codec) Name() string { return "utf-16be" }

func (c utf16Codec) Encode(s string) ([]byte, error) {
	return c.enc.NewEncoder().Bytes([]byte(s))
}

func (c utf16Codec) Decode(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("%w: odd length %d for utf-16be", ErrUndecodable, len(b))
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: utf-16be: %v", ErrUndecodable, err)
	}
	return string(out), nil
}

type smppCodec struct {
	name string
	enc  data.Encoding
}

func (c smppCodec) Name() string { return c.name }

func (c smppCodec) Encode(s string) ([]byte, error) {
	b, err := c.enc.Encode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnencodable, c.name, err)
	}
	return b, nil
}

func (c smppCodec) Decode(b []byte) (string, error) {
	s, err := c.enc.Decode(b)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUndecodable, c.name, err)
	}
	return s, nil
}

// Table maps data_coding values to codecs.
type Table map[uint8]Codec

// DefaultTable is the stock data_coding mapping.
func DefaultTable() Table {
	return Table{
		1: asciiCodec{},
		3: textCodec{name: "latin1", enc: charmap.ISO8859_1},
		8: utf16Codec{enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)},
	}
}

// NewTable returns the default table with overrides applied. Keys must be
// decimal data_coding values, values charset names.
func NewTable(overrides map[string]string) (Table, error) {
	t := DefaultTable()
	for key, name := range overrides {
		code, err := strconv.ParseUint(strings.TrimSpace(key), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("data_coding_overrides: key %q is not an integer between 0 and 255", key)
		}
		codec, err := Lookup(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("data_coding_overrides[%d]: %w", code, err)
		}
		t[uint8(code)] = codec
	}
	return t, nil
}

// Decode converts content using the codec mapped to dataCoding.
func (t Table) Decode(dataCoding uint8, content []byte) (string, error) {
	codec, ok := t[dataCoding]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownCoding, dataCoding)
	}
	return codec.Decode(content)
}
