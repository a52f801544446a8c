package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var codecMagic = [4]byte{'K', 'B', 'V', 'X'}

const codecVersion uint16 = 1

// ErrInvalidFormat is returned by ReadFlatIndex for data it cannot decode.
var ErrInvalidFormat = errors.New("invalid vector index format")

// WriteTo serializes the index: magic, version, dimension (uint32),
// count (uint64), then count*dimension little-endian float32.
func (f *FlatIndex) WriteTo(w io.Writer) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var written int64

	var header [4 + 2 + 4 + 8]byte
	copy(header[:4], codecMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], codecVersion)
	binary.LittleEndian.PutUint32(header[6:10], uint32(f.dimension))
	binary.LittleEndian.PutUint64(header[10:18], uint64(f.count))
	n, err := bw.Write(header[:])
	written += int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, 4)
	for _, v := range f.data[:f.count*f.dimension] {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		n, err = bw.Write(buf)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// ReadFlatIndex decodes an index written by WriteTo.
func ReadFlatIndex(r io.Reader) (*FlatIndex, error) {
	br := bufio.NewReader(r)

	var header [18]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidFormat, err)
	}
	if [4]byte(header[:4]) != codecMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, v)
	}
	dim := int(binary.LittleEndian.Uint32(header[6:10]))
	count := binary.LittleEndian.Uint64(header[10:18])
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrInvalidFormat, dim)
	}
	if count > math.MaxInt32 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidFormat, count)
	}

	idx, err := NewFlatIndex(dim)
	if err != nil {
		return nil, err
	}
	total := int(count) * dim
	raw := make([]byte, 4*dim)
	idx.data = make([]float32, 0, total)
	for i := 0; i < int(count); i++ {
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", ErrInvalidFormat, i, err)
		}
		for j := 0; j < dim; j++ {
			idx.data = append(idx.data, math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:])))
		}
	}
	idx.count = int(count)

	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidFormat)
	}
	return idx, nil
}
