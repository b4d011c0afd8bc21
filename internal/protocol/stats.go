package protocol

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// Encode gob-encodes the payload for embedding in a Stats message's opaque
// Data field (§3.E). gob matches the teacher's own taste for stdlib
// binary encoding over a length-prefixed pipe, without tying the payload
// shape to the hand-rolled tag codec in codec.go.
func (p StatsPayload) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, errors.Wrap(err, "protocol: gob-encoding stats payload")
	}
	return buf.Bytes(), nil
}

// DecodeStatsPayload decodes a Stats message's Data field produced by Encode.
func DecodeStatsPayload(data []byte) (StatsPayload, error) {
	var p StatsPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return StatsPayload{}, errors.Wrap(err, "protocol: gob-decoding stats payload")
	}
	return p, nil
}
