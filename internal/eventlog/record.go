package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rzbill/evstore/internal/eventstore"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptRecord reports a stored value that fails to decode or checksum.
var ErrCorruptRecord = errors.New("eventlog: corrupt record")

func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, 10+len(header)+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

type Decoded struct {
	Header  []byte
	Payload []byte
}

func DecodeRecord(b []byte) (Decoded, bool) {
	if len(b) < 1+4 {
		return Decoded{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return Decoded{}, false
	}
	if int(n)+int(hlen)+4 > len(b) {
		return Decoded{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Decoded{}, false
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: append([]byte(nil), payload...)}, true
}

// eventHeader carries the event fields not derivable from the key.
type eventHeader struct {
	ID       uuid.UUID         `json:"id"`
	Type     string            `json:"type"`
	TsNanos  int64             `json:"ts"`
	Metadata map[string]string `json:"meta,omitempty"`
}

func encodeEvent(ev eventstore.Event) ([]byte, error) {
	h, err := json.Marshal(eventHeader{
		ID:       ev.ID,
		Type:     ev.Type,
		TsNanos:  ev.Timestamp.UnixNano(),
		Metadata: ev.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return EncodeRecord(h, ev.Data), nil
}

func decodeEvent(k EventKey, val []byte) (eventstore.Event, error) {
	dec, ok := DecodeRecord(val)
	if !ok {
		return eventstore.Event{}, ErrCorruptRecord
	}
	var h eventHeader
	if err := json.Unmarshal(dec.Header, &h); err != nil {
		return eventstore.Event{}, errors.Join(ErrCorruptRecord, err)
	}
	return eventstore.Event{
		ID:        h.ID,
		TenantID:  k.Stream.TenantID,
		StreamKey: k.Stream.Key,
		Sequence:  int64(k.Sequence),
		Type:      h.Type,
		Data:      dec.Payload,
		Metadata:  h.Metadata,
		Timestamp: time.Unix(0, h.TsNanos).UTC(),
		Archived:  k.Partition == eventstore.PartitionArchived,
	}, nil
}
