package transport

import "fmt"

// maxAbridgedPayload is the largest payload the abridged framing's
// three-byte extended length form can describe (16,777,215 words, i.e.
// just under 64 MiB).
const maxAbridgedPayload = 0xffffff * 4

// EncodeAbridgedFrame wraps payload in the abridged length header: a single
// length byte (payload length in 4-byte words) when that fits under 0x7f,
// or 0x7f followed by a 3-byte little-endian word count otherwise. payload
// must already be a whole number of words; this is enforced by convention
// rather than by this function, matching how callers build their packets.
func EncodeAbridgedFrame(payload []byte) ([]byte, error) {
	if len(payload) > maxAbridgedPayload {
		return nil, fmt.Errorf("transport: payload of %d bytes exceeds abridged frame limit", len(payload))
	}
	words := uint32(len(payload)) / 4
	if len(payload)%4 != 0 {
		words++
	}
	if words < 0x7f {
		frame := make([]byte, 1+len(payload))
		frame[0] = byte(words)
		copy(frame[1:], payload)
		return frame, nil
	}
	frame := make([]byte, 4+len(payload))
	frame[0] = 0x7f
	frame[1] = byte(words)
	frame[2] = byte(words >> 8)
	frame[3] = byte(words >> 16)
	copy(frame[4:], payload)
	return frame, nil
}
