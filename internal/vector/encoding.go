package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	encodingMagic   = "KVEC"
	encodingVersion = uint32(1)
)

// ErrBadEncoding is returned when decoding data that was not written by Encode.
var ErrBadEncoding = errors.New("invalid vector encoding")

// Encode writes vectors in the index binary format: magic, version,
// dimension, count, then count*dimension little-endian float32 values.
func Encode(w io.Writer, dimensions int, vectors [][]float32) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(encodingMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	header := []uint32{encodingVersion, uint32(dimensions), uint32(len(vectors))}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, vec := range vectors {
		if len(vec) != dimensions {
			return fmt.Errorf("%w: vector %d has %d, expected %d", ErrDimensionMismatch, i, len(vec), dimensions)
		}
		if _, err := bw.Write(EncodeVector(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return bw.Flush()
}

// Decode reads data written by Encode. The reader is consumed exactly up to
// the end of the encoded block.
func Decode(r io.Reader) (int, [][]float32, error) {
	magic := make([]byte, len(encodingMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != encodingMagic {
		return 0, nil, fmt.Errorf("%w: bad magic %q", ErrBadEncoding, magic)
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != encodingVersion {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrBadEncoding, header[0])
	}
	dim, n := int(header[1]), int(header[2])
	if dim <= 0 {
		return 0, nil, fmt.Errorf("%w: dimension %d", ErrBadEncoding, dim)
	}
	vectors := make([][]float32, 0, n)
	buf := make([]byte, dim*4)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors = append(vectors, DecodeVector(buf))
	}
	return dim, vectors, nil
}

// EncodeVector returns vec as little-endian float32 bytes.
func EncodeVector(vec []float32) []byte {
	const size = 4
	out := make([]byte, len(vec)*size)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

// DecodeVector is the inverse of EncodeVector. Trailing bytes that do not
// form a whole float32 are ignored.
func DecodeVector(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
