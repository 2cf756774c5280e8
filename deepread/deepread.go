// Package deepread reads text at an address whose layout is unknown: the bytes
// are tried as text first and, failing that, followed as a pointer.
package deepread

import (
	"bytes"

	"ptrtrail/process"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Decoder turns raw bytes into a candidate string
type Decoder struct {
	Name   string
	Decode func(raw []byte) (string, bool)
}

// Candidate encodings, in the order they are tried
var Decoders = []Decoder{
	{Name: "UTF-8", Decode: decodeUTF8},
	{Name: "UTF-16LE", Decode: decodeUTF16LE},
}

var (
	utf8Encoding    encoding.Encoding = unicode.UTF8
	utf16LEEncoding encoding.Encoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// decodeUTF8 truncates at the first NUL; invalid sequences become U+FFFD
func decodeUTF8(raw []byte) (string, bool) {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	out, err := utf8Encoding.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// decodeUTF16LE truncates at the first aligned NUL code unit
func decodeUTF16LE(raw []byte) (string, bool) {
	end := len(raw) &^ 1
	for i := 0; i+1 < end; i += 2 {
		if raw[i] == 0 && raw[i+1] == 0 {
			end = i
			break
		}
	}
	out, err := utf16LEEncoding.NewDecoder().Bytes(raw[:end])
	if err != nil {
		return "", false
	}
	return string(out), true
}

// EncodeUTF16LE encodes s the way DecodeUTF16LE expects it, without a terminator
func EncodeUTF16LE(s string) []byte {
	out, err := utf16LEEncoding.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return out
}

// Reader performs deep reads. The zero value is not usable; use New.
type Reader struct {
	MaxDepth    int
	MaxBytes    process.ProcessMemorySize
	PointerSize int
}

// Option configures a Reader
type Option func(*Reader)

func WithMaxDepth(depth int) Option {
	return func(r *Reader) {
		r.MaxDepth = depth
	}
}

func WithMaxBytes(n process.ProcessMemorySize) Option {
	return func(r *Reader) {
		r.MaxBytes = n
	}
}

func WithPointerSize(size int) Option {
	return func(r *Reader) {
		r.PointerSize = size
	}
}

func New(options ...Option) *Reader {
	r := &Reader{
		MaxDepth:    4,
		MaxBytes:    256,
		PointerSize: process.HostPointerSize,
	}
	for _, opt := range options {
		opt(r)
	}
	if !process.ValidPointerSize(r.PointerSize) {
		r.PointerSize = process.HostPointerSize
	}
	return r
}

// ReadString returns the first plausible string found at addr, following at
// most MaxDepth pointers. An empty result means nothing plausible was found.
func (r *Reader) ReadString(proc process.Process, addr process.ProcessMemoryAddress) string {
	visited := make(map[process.ProcessMemoryAddress]struct{})

	// Iterative form of the recursion: every step either returns or moves to
	// a new address at depth+1, so depth and visited bound the walk.
	for depth := 0; depth <= r.MaxDepth; depth++ {
		if addr == 0 {
			return ""
		}
		if _, seen := visited[addr]; seen {
			return ""
		}
		visited[addr] = struct{}{}

		raw := readSome(proc, addr, r.MaxBytes)
		if len(raw) == 0 {
			return ""
		}

		if s, ok := DecodeText(raw); ok {
			return s
		}

		next, ok := process.DecodePointer(raw, r.PointerSize)
		if !ok || !process.IsPlausibleAddress(next) {
			return ""
		}
		addr = next
	}
	return ""
}

// DecodeText tries each decoder in order and returns the first plausible result
func DecodeText(raw []byte) (string, bool) {
	for _, dec := range Decoders {
		s, ok := dec.Decode(raw)
		if ok && IsPlausibleText(s) {
			return s, true
		}
	}
	return "", false
}

// readSome reads up to size bytes, shrinking the request when the span crosses
// the end of a mapped region. An empty result means the address is unreadable.
func readSome(proc process.Process, addr process.ProcessMemoryAddress, size process.ProcessMemorySize) []byte {
	for size > 0 {
		data, err := proc.ReadMemory(addr, size)
		if err == nil && len(data) > 0 {
			return data
		}
		size /= 2
		if size < 8 {
			break
		}
	}
	return nil
}
