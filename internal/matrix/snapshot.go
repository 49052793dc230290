package matrix

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrCorruptSnapshot = errors.New("matrix: corrupt snapshot")

// Snapshot is a published master pair with the provenance needed to detect
// drift against the registry it was acquired for.
type Snapshot struct {
	Pair
	Fingerprint string
	AcquiredAt  time.Time
	Provider    string
}

// Validate checks that the pair is complete and every value is finite
func (s *Snapshot) Validate() error {
	if err := s.Pair.Validate(); err != nil {
		return err
	}
	for _, m := range []*Matrix{s.Distance, s.Duration} {
		for i, v := range m.data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				n := m.Len()
				return fmt.Errorf("%w at row %d column %d", ErrNotFinite, m.keys[i/n], m.keys[i%n])
			}
		}
	}
	return nil
}

// snapshotMagic prefixes every snapshot file; the byte after it is the
// format version.
var snapshotMagic = []byte("TRNS")

const snapshotVersion = 1

// Protobuf field numbers of the snapshot body
const (
	fieldFingerprint protowire.Number = 1
	fieldAcquiredAt  protowire.Number = 2
	fieldProvider    protowire.Number = 3
	fieldKeys        protowire.Number = 4
	fieldDistances   protowire.Number = 5
	fieldDurations   protowire.Number = 6
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("matrix: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("matrix: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeSnapshot serializes a snapshot as a protobuf-wire body compressed
// with zstd behind a short magic header.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var body []byte
	body = protowire.AppendTag(body, fieldFingerprint, protowire.BytesType)
	body = protowire.AppendString(body, s.Fingerprint)
	body = protowire.AppendTag(body, fieldAcquiredAt, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(s.AcquiredAt.UnixNano()))
	body = protowire.AppendTag(body, fieldProvider, protowire.BytesType)
	body = protowire.AppendString(body, s.Provider)

	var keys []byte
	for _, k := range s.Distance.keys {
		keys = protowire.AppendVarint(keys, protowire.EncodeZigZag(int64(k)))
	}
	body = protowire.AppendTag(body, fieldKeys, protowire.BytesType)
	body = protowire.AppendBytes(body, keys)

	body = appendPackedFloats(body, fieldDistances, s.Distance.data)
	body = appendPackedFloats(body, fieldDurations, s.Duration.data)

	out := make([]byte, 0, len(snapshotMagic)+1+len(body)/2)
	out = append(out, snapshotMagic...)
	out = append(out, snapshotVersion)
	return zstdEncoder.EncodeAll(body, out), nil
}

func appendPackedFloats(b []byte, num protowire.Number, values []float64) []byte {
	packed := make([]byte, 0, len(values)*8)
	for _, v := range values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// DecodeSnapshot parses the output of EncodeSnapshot
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) < len(snapshotMagic)+1 || !bytes.Equal(data[:len(snapshotMagic)], snapshotMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if v := data[len(snapshotMagic)]; v != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, v)
	}

	body, err := zstdDecoder.DecodeAll(data[len(snapshotMagic)+1:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptSnapshot, err)
	}

	var (
		snap       Snapshot
		keys       []int
		distances  []float64
		durations  []float64
		acquiredAt int64
	)
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, protowire.ParseError(n))
		}
		body = body[n:]

		switch {
		case num == fieldFingerprint && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: fingerprint: %v", ErrCorruptSnapshot, protowire.ParseError(n))
			}
			snap.Fingerprint = v
			body = body[n:]
		case num == fieldAcquiredAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: acquired_at: %v", ErrCorruptSnapshot, protowire.ParseError(n))
			}
			acquiredAt = protowire.DecodeZigZag(v)
			body = body[n:]
		case num == fieldProvider && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: provider: %v", ErrCorruptSnapshot, protowire.ParseError(n))
			}
			snap.Provider = v
			body = body[n:]
		case num == fieldKeys && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: keys: %v", ErrCorruptSnapshot, protowire.ParseError(n))
			}
			body = body[n:]
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return nil, fmt.Errorf("%w: keys: %v", ErrCorruptSnapshot, protowire.ParseError(m))
				}
				keys = append(keys, int(protowire.DecodeZigZag(v)))
				packed = packed[m:]
			}
		case (num == fieldDistances || num == fieldDurations) && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: values: %v", ErrCorruptSnapshot, protowire.ParseError(n))
			}
			body = body[n:]
			values, err := consumePackedFloats(packed)
			if err != nil {
				return nil, err
			}
			if num == fieldDistances {
				distances = values
			} else {
				durations = values
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrCorruptSnapshot, num, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}

	size := len(keys) * len(keys)
	if len(distances) != size || len(durations) != size {
		return nil, fmt.Errorf("%w: %d keys but %d distances and %d durations",
			ErrCorruptSnapshot, len(keys), len(distances), len(durations))
	}

	pair, err := NewPair(keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	copy(pair.Distance.data, distances)
	copy(pair.Duration.data, durations)

	snap.Pair = pair
	snap.AcquiredAt = time.Unix(0, acquiredAt).UTC()
	return &snap, nil
}

func consumePackedFloats(packed []byte) ([]float64, error) {
	if len(packed)%8 != 0 {
		return nil, fmt.Errorf("%w: packed doubles length %d", ErrCorruptSnapshot, len(packed))
	}
	values := make([]float64, 0, len(packed)/8)
	for len(packed) > 0 {
		v, n := protowire.ConsumeFixed64(packed)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, protowire.ParseError(n))
		}
		values = append(values, math.Float64frombits(v))
		packed = packed[n:]
	}
	return values, nil
}
