// Package codec turns one layer of one chunk into bytes and back, for
// persistence and for chunk transfer. The byte layout is private to this
// package: callers only rely on Decode(Encode(f)) == f.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/geom"
)

// ErrCorrupt is returned by Decode for data it did not produce.
var ErrCorrupt = errors.New("corrupt chunk frame")

const (
	formatVersion = 1
	headerSize    = 1 + 1 + 1 + 8 // format, kind, width, version
)

// Frame is one layer of one chunk.
type Frame struct {
	Kind    chunk.Kind
	Version uint64
	Values  []uint16 // geom.ChunkArea values, widened to uint16
}

// Chunk groups the frames of one chunk coordinate.
type Chunk struct {
	Coord  geom.ChunkCoord
	Frames []Frame
}

// Codec holds a zstd encoder/decoder pair. EncodeAll and DecodeAll are safe
// for concurrent use, so one Codec serves every goroutine.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func New() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Encode serialises and compresses f.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	if len(f.Values) != geom.ChunkArea {
		return nil, fmt.Errorf("encode %s: %d values, want %d", f.Kind, len(f.Values), geom.ChunkArea)
	}
	width := f.Kind.Width()
	raw := make([]byte, headerSize, headerSize+geom.ChunkArea*width)
	raw[0] = formatVersion
	raw[1] = byte(f.Kind)
	raw[2] = byte(width)
	binary.LittleEndian.PutUint64(raw[3:], f.Version)
	for _, v := range f.Values {
		if width == 2 {
			raw = binary.LittleEndian.AppendUint16(raw, v)
		} else {
			raw = append(raw, byte(v))
		}
	}
	return c.enc.EncodeAll(raw, nil), nil
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte) (Frame, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) < headerSize || raw[0] != formatVersion {
		return Frame{}, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	kind := chunk.Kind(raw[1])
	width := int(raw[2])
	if kind < chunk.Terrain || kind > chunk.Connectivity || width != kind.Width() {
		return Frame{}, fmt.Errorf("%w: kind %d width %d", ErrCorrupt, raw[1], width)
	}
	body := raw[headerSize:]
	if len(body) != geom.ChunkArea*width {
		return Frame{}, fmt.Errorf("%w: body %d bytes", ErrCorrupt, len(body))
	}
	f := Frame{
		Kind:    kind,
		Version: binary.LittleEndian.Uint64(raw[3:]),
		Values:  make([]uint16, geom.ChunkArea),
	}
	for i := range f.Values {
		if width == 2 {
			f.Values[i] = binary.LittleEndian.Uint16(body[2*i:])
		} else {
			f.Values[i] = uint16(body[i])
		}
	}
	return f, nil
}
