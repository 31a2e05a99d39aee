// Package safetensors reads and rewrites the safetensors weight format:
// an 8-byte little-endian header length, a JSON header describing each
// tensor, and the raw tensor data block.
package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// MaxHeaderSize caps the JSON header to keep a corrupt length from allocating gigabytes.
const MaxHeaderSize = 100 << 20

const metadataKey = "__metadata__"

var ErrInvalid = errors.New("safetensors: invalid file")

// Tensor describes one entry of the header.
type Tensor struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Header is the parsed JSON header.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]Tensor
}

// File is a fully loaded safetensors file.
type File struct {
	Header
	Data []byte
}

// ReadHeader parses only the header from r and returns it together with the
// size of the data block that follows, as declared by the tensor offsets.
func ReadHeader(r io.Reader) (*Header, int64, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, 0, fmt.Errorf("%w: header length: %v", ErrInvalid, err)
	}
	if n == 0 || n > MaxHeaderSize {
		return nil, 0, fmt.Errorf("%w: header length %d", ErrInvalid, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, fmt.Errorf("%w: header: %v", ErrInvalid, err)
	}
	return parseHeader(buf)
}

func parseHeader(buf []byte) (*Header, int64, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: header json: %v", ErrInvalid, err)
	}
	h := &Header{Tensors: make(map[string]Tensor, len(raw))}
	var end int64
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &h.Metadata); err != nil {
				return nil, 0, fmt.Errorf("%w: metadata: %v", ErrInvalid, err)
			}
			continue
		}
		var t Tensor
		if err := json.Unmarshal(msg, &t); err != nil {
			return nil, 0, fmt.Errorf("%w: tensor %q: %v", ErrInvalid, name, err)
		}
		if t.DataOffsets[0] < 0 || t.DataOffsets[1] < t.DataOffsets[0] {
			return nil, 0, fmt.Errorf("%w: tensor %q offsets %v", ErrInvalid, name, t.DataOffsets)
		}
		if t.DataOffsets[1] > end {
			end = t.DataOffsets[1]
		}
		h.Tensors[name] = t
	}
	return h, end, nil
}

// Read loads a whole file from r.
func Read(r io.Reader) (*File, error) {
	h, size, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("safetensors: data: %w", err)
	}
	if int64(len(data)) < size {
		return nil, fmt.Errorf("%w: data block is %d bytes, tensors need %d", ErrInvalid, len(data), size)
	}
	return &File{Header: *h, Data: data[:size]}, nil
}

// ReadFile loads the file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}

// ValidateFile checks that path holds a readable header whose offsets fit the file.
func ValidateFile(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	h, size, err := ReadHeader(f)
	if err != nil {
		return nil, err
	}
	hdrLen, _ := f.Seek(0, io.SeekCurrent)
	if hdrLen+size > fi.Size() {
		return nil, fmt.Errorf("%w: truncated data block", ErrInvalid)
	}
	if len(h.Tensors) == 0 {
		return nil, fmt.Errorf("%w: no tensors", ErrInvalid)
	}
	return h, nil
}

// Names returns the tensor names in sorted order.
func (h *Header) Names() []string {
	out := make([]string, 0, len(h.Tensors))
	for k := range h.Tensors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Rename applies fn to every tensor name. Returns the number of names changed.
// Two tensors mapping to the same name is an error and leaves f untouched.
func (f *File) Rename(fn func(string) string) (int, error) {
	next := make(map[string]Tensor, len(f.Tensors))
	changed := 0
	for name, t := range f.Tensors {
		nn := fn(name)
		if _, dup := next[nn]; dup {
			return 0, fmt.Errorf("safetensors: rename collision on %q", nn)
		}
		if nn != name {
			changed++
		}
		next[nn] = t
	}
	f.Tensors = next
	return changed, nil
}

// WriteTo serializes f. Tensor order in the header is sorted by name so the
// output is deterministic.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	hdr := make(map[string]any, len(f.Tensors)+1)
	for name, t := range f.Tensors {
		hdr[name] = t
	}
	if len(f.Metadata) > 0 {
		hdr[metadataKey] = f.Metadata
	}
	js, err := json.Marshal(hdr)
	if err != nil {
		return 0, err
	}
	// Pad the header to 8 bytes with spaces, as the reference writer does.
	if pad := len(js) % 8; pad != 0 {
		js = append(js, bytes.Repeat([]byte(" "), 8-pad)...)
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(js)))
	var total int64
	for _, chunk := range [][]byte{lenBuf[:], js, f.Data} {
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bytes is WriteTo into memory.
func (f *File) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
