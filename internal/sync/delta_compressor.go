package sync

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"io"
)

// ErrCorruptBatch - пакет обрезан или поврежден
var ErrCorruptBatch = errors.New("sync: поврежденный пакет")

// DeltaCompressor кодирует/декодирует изменения (Change) в компактный вид.
type DeltaCompressor interface {
	Compress(changes []Change) ([]byte, error)
	Decompress(payload []byte) ([]Change, error)
}

// Формат пакета: [seq uint64][priority uint8][len uint32][data] ...
type passthroughCompressor struct{}

func NewPassthroughCompressor() DeltaCompressor { return &passthroughCompressor{} }

func (p *passthroughCompressor) Compress(changes []Change) ([]byte, error) {
	size := 0
	for _, c := range changes {
		size += 13 + len(c.Data)
	}
	buf := make([]byte, 0, size)
	for _, c := range changes {
		buf = binary.BigEndian.AppendUint64(buf, c.Seq)
		buf = append(buf, byte(c.Priority))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Data)))
		buf = append(buf, c.Data...)
	}
	return buf, nil
}

func (p *passthroughCompressor) Decompress(payload []byte) ([]Change, error) {
	var res []Change
	for i := 0; i < len(payload); {
		if i+13 > len(payload) {
			return res, ErrCorruptBatch
		}
		seq := binary.BigEndian.Uint64(payload[i:])
		prio := int(payload[i+8])
		n := int(binary.BigEndian.Uint32(payload[i+9:]))
		i += 13
		if i+n > len(payload) {
			return res, ErrCorruptBatch
		}
		res = append(res, Change{Seq: seq, Priority: prio, Data: payload[i : i+n]})
		i += n
	}
	return res, nil
}

// gzipCompressor применяет gzip поверх passthrough-формата
type gzipCompressor struct {
	raw passthroughCompressor
}

func NewGzipCompressor() DeltaCompressor { return &gzipCompressor{} }

func (g *gzipCompressor) Compress(changes []Change) ([]byte, error) {
	raw, err := g.raw.Compress(changes)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *gzipCompressor) Decompress(payload []byte) ([]Change, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}
	return g.raw.Decompress(raw)
}
