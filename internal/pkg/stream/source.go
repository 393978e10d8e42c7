package stream

import (
	"context"
	"encoding/json"
	"io"
)

// Source is a pull stream of records. Next returns io.EOF once the stream is
// exhausted.
type Source interface {
	Next(ctx context.Context) (Record, error)
}

// DecoderSource reads a sequence of JSON records, typically one per line.
type DecoderSource struct {
	dec *json.Decoder
}

func NewDecoderSource(r io.Reader) *DecoderSource {
	return &DecoderSource{dec: json.NewDecoder(r)}
}

func (s *DecoderSource) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var rec Record
	if err := s.dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// SliceSource replays records held in memory.
type SliceSource struct {
	records []Record
	pos     int
}

func NewSliceSource(records ...Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if s.pos >= len(s.records) {
		return Record{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}
