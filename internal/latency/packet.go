package latency

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	seqOffset       = 0
	timestampOffset = 8
	markerOffset    = 16
	headerSize      = 16

	// MinPacketSize is the smallest probe that can carry the marker.
	MinPacketSize = markerOffset + len(probeMarker)
)

// probeMarker tags stream and request probes so they can be told apart from
// other payloads on a shared channel.
var probeMarker = [4]byte{'L', 'A', 'T', 'P'}

var (
	errShortPacket = errors.New("probe packet too short")
	errBadMarker   = errors.New("probe marker mismatch")
)

// Packet is the header of one probe.
type Packet struct {
	Seq    uint64
	SentAt time.Time
}

// EncodePacket lays out p big-endian in a buffer of size bytes: sequence at
// offset 0, send time in unix nanoseconds at offset 8 and, when withMarker is
// set, the probe marker at offset 16. The rest is zero padding.
func EncodePacket(p Packet, size int, withMarker bool) []byte {
	minSize := headerSize
	if withMarker {
		minSize = MinPacketSize
	}
	if size < minSize {
		size = minSize
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint64(buf[seqOffset:], p.Seq)
	binary.BigEndian.PutUint64(buf[timestampOffset:], uint64(p.SentAt.UnixNano()))
	if withMarker {
		copy(buf[markerOffset:], probeMarker[:])
	}
	return buf
}

// DecodePacket reads the header written by EncodePacket.
func DecodePacket(data []byte, withMarker bool) (Packet, error) {
	if len(data) < headerSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", errShortPacket, len(data))
	}
	if withMarker {
		if len(data) < MinPacketSize {
			return Packet{}, fmt.Errorf("%w: %d bytes", errShortPacket, len(data))
		}
		if !bytes.Equal(data[markerOffset:MinPacketSize], probeMarker[:]) {
			return Packet{}, errBadMarker
		}
	}
	return Packet{
		Seq:    binary.BigEndian.Uint64(data[seqOffset:]),
		SentAt: time.Unix(0, int64(binary.BigEndian.Uint64(data[timestampOffset:]))),
	}, nil
}
