package client

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const maxFrameLen = 64 << 20

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	payload := make([]byte, n)
	_, err := io.ReadFull(r, payload)
	return payload, err
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

func encodeF32(b []byte, f float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(f))
}

func decodeF32(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func decodeKeyList(resp []byte) ([]string, error) {
	if len(resp) < 4 {
		return nil, fmt.Errorf("truncated key list")
	}
	n := decodeU32(resp)
	off := 4
	keys := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(resp) < off+4 {
			return nil, fmt.Errorf("truncated key list entry")
		}
		klen := decodeU32(resp[off:])
		off += 4
		if len(resp) < off+int(klen) {
			return nil, fmt.Errorf("truncated key list key")
		}
		keys = append(keys, string(resp[off:off+int(klen)]))
		off += int(klen)
	}
	return keys, nil
}

func decodeScoredList(resp []byte) ([]ScoredKey, error) {
	if len(resp) < 4 {
		return nil, fmt.Errorf("truncated scored list")
	}
	n := decodeU32(resp)
	off := 4
	out := make([]ScoredKey, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(resp) < off+4 {
			return nil, fmt.Errorf("truncated scored list entry")
		}
		klen := decodeU32(resp[off:])
		off += 4
		if len(resp) < off+int(klen)+4 {
			return nil, fmt.Errorf("truncated scored list key/score")
		}
		key := string(resp[off : off+int(klen)])
		off += int(klen)
		score := decodeF32(resp[off : off+4])
		off += 4
		out = append(out, ScoredKey{Key: key, Score: score})
	}
	return out, nil
}
