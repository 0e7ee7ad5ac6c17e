// Package storage implements the node's durable storage engine: an
// append-only write-ahead log, atomic checkpointing, and crash recovery,
// as specified in spec §4.1.
//
// The WAL record framing below is the pattern shared by nearly every
// reference storage engine in the corpus (length-prefixed record, trailing
// CRC32 for torn-write detection): [len:u32][seq:u64][kind:u8][payload][crc32:u32].
// The CRC covers seq, kind, and payload so a truncated or bit-flipped tail
// is detected without ambiguity about which part failed.
package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// Kind tags a WAL entry's mutation type.
type Kind uint8

const (
	KindSet Kind = iota + 1
	KindDelete
	KindBulkSet
	KindCheckpoint
)

// headerLen is the fixed-size prefix before the variable-length payload:
// len(4) + seq(8) + kind(1).
const headerLen = 4 + 8 + 1

// trailerLen is the trailing CRC32.
const trailerLen = 4

// Entry is one decoded WAL record.
type Entry struct {
	Seq     uint64
	Kind    Kind
	Key     string
	Value   []byte
	Pairs   []KV // only set for KindBulkSet
	CkptSeq uint64 // only set for KindCheckpoint
}

// KV is one key/value pair inside a BULKSET entry.
type KV struct {
	Key   string
	Value []byte
}

// WAL is the append-only log backing one storage engine instance. All
// methods assume the caller already holds the engine's write gate — the WAL
// itself only adds a mutex around the raw file handle to keep Append()
// and ReadAll() from interleaving writes with a concurrent recovery scan.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	nextSeq  uint64
}

// OpenWAL opens (creating if absent) the WAL file at path. lastSeq is the
// highest seq already incorporated into a checkpoint (0 if none) — newly
// appended entries continue numbering from lastSeq+1.
func OpenWAL(path string, lastSeq uint64) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	return &WAL{file: f, path: path, nextSeq: lastSeq + 1}, nil
}

// Append frames a record from kind and payload (the payload built by the
// caller with encodeSet, encodeDelete, encodeBulkSet or encodeCheckpoint),
// assigns the next seq, writes it, and
// fsyncs before returning. The assigned seq is returned so the engine can
// apply it to memory and the index under the same write gate.
func (w *WAL) Append(kind Kind, payload []byte) (seq uint64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq = w.nextSeq

	buf := make([]byte, headerLen+len(payload)+trailerLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint64(buf[4:12], seq)
	buf[12] = byte(kind)
	copy(buf[headerLen:], payload)

	crc := crc32.ChecksumIEEE(buf[4 : headerLen+len(payload)])
	binary.BigEndian.PutUint32(buf[headerLen+len(payload):], crc)

	if _, err := w.file.Write(buf); err != nil {
		return 0, fmt.Errorf("wal write: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return 0, fmt.Errorf("wal fsync: %w", err)
	}

	w.nextSeq++
	return seq, nil
}

// ReadAll scans the WAL from the beginning and returns every well-formed
// entry, stopping at the first checksum failure, truncated tail, or seq
// gap — per spec §4.1 recovery algorithm step 4. expectFirstSeq is the seq
// the first entry in the file must carry (checkpoint_seq + 1); entries are
// rejected as soon as the running seq counter diverges from that
// expectation. validByteLen is the offset immediately after the last
// well-formed record — callers use it to truncate a corrupt tail.
func (w *WAL) ReadAll(expectFirstSeq uint64) (entries []Entry, validByteLen int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fileSize, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("wal seek end: %w", err)
	}

	var offset int64
	wantSeq := expectFirstSeq

	for offset < fileSize {
		header := make([]byte, headerLen)
		if _, readErr := w.file.ReadAt(header, offset); readErr != nil {
			break // short read at EOF: clean end of log
		}
		payloadLen := binary.BigEndian.Uint32(header[0:4])
		seq := binary.BigEndian.Uint64(header[4:12])
		kind := Kind(header[12])

		recordLen := int64(headerLen) + int64(payloadLen) + trailerLen
		if offset+recordLen > fileSize {
			break // torn write: payload/crc truncated
		}

		rest := make([]byte, int(payloadLen)+trailerLen)
		if _, readErr := w.file.ReadAt(rest, offset+headerLen); readErr != nil {
			break
		}
		payload := rest[:payloadLen]
		wantCRC := binary.BigEndian.Uint32(rest[payloadLen:])

		gotCRC := crc32.ChecksumIEEE(append(header[4:], payload...))
		if gotCRC != wantCRC {
			break // checksum mismatch: stop, leave tail for truncation
		}
		if seq != wantSeq {
			break // gap or out-of-order entry: corruption
		}

		entry, decErr := decodePayload(seq, kind, payload)
		if decErr != nil {
			break
		}
		entries = append(entries, entry)
		wantSeq++
		offset += recordLen
	}

	// Seek back to end so subsequent Append() calls continue appending.
	if _, seekErr := w.file.Seek(0, io.SeekEnd); seekErr != nil {
		return nil, 0, fmt.Errorf("wal seek end: %w", seekErr)
	}
	return entries, offset, nil
}

// TruncateAfter rewrites the WAL file so it contains exactly the given
// valid byte length, discarding any corrupt tail found during recovery.
func (w *WAL) TruncateAfter(validByteLen int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(validByteLen); err != nil {
		return fmt.Errorf("wal truncate tail: %w", err)
	}
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}

// Reset empties the WAL entirely — called right after a successful
// checkpoint, since every entry up to checkpoint_seq is now captured in the
// snapshot (spec §4.1).
func (w *WAL) Reset(nextSeq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal reset: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w.nextSeq = nextSeq
	return nil
}

// NextSeq reports the seq the next Append call will assign.
func (w *WAL) NextSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ─── payload encode/decode ─────────────────────────────────────────────────

func encodeSet(key string, value []byte) []byte {
	buf := make([]byte, 4+len(key)+4+len(value))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:], key)
	off := 4 + len(key)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(value)))
	copy(buf[off+4:], value)
	return buf
}

func encodeDelete(key string) []byte {
	buf := make([]byte, 4+len(key))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:], key)
	return buf
}

func encodeBulkSet(pairs []KV) []byte {
	size := 4
	for _, p := range pairs {
		size += 4 + len(p.Key) + 4 + len(p.Value)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(pairs)))
	off := 4
	for _, p := range pairs {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(p.Key)))
		off += 4
		copy(buf[off:], p.Key)
		off += len(p.Key)
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(p.Value)))
		off += 4
		copy(buf[off:], p.Value)
		off += len(p.Value)
	}
	return buf
}

func encodeCheckpoint(snapshotSeq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, snapshotSeq)
	return buf
}

func decodePayload(seq uint64, kind Kind, payload []byte) (Entry, error) {
	switch kind {
	case KindSet:
		if len(payload) < 4 {
			return Entry{}, fmt.Errorf("short SET payload")
		}
		keyLen := binary.BigEndian.Uint32(payload[0:4])
		if uint32(len(payload)) < 4+keyLen+4 {
			return Entry{}, fmt.Errorf("truncated SET payload")
		}
		key := string(payload[4 : 4+keyLen])
		off := 4 + keyLen
		valLen := binary.BigEndian.Uint32(payload[off : off+4])
		if uint32(len(payload)) < off+4+valLen {
			return Entry{}, fmt.Errorf("truncated SET value")
		}
		value := append([]byte(nil), payload[off+4:off+4+valLen]...)
		return Entry{Seq: seq, Kind: kind, Key: key, Value: value}, nil

	case KindDelete:
		if len(payload) < 4 {
			return Entry{}, fmt.Errorf("short DELETE payload")
		}
		keyLen := binary.BigEndian.Uint32(payload[0:4])
		if uint32(len(payload)) < 4+keyLen {
			return Entry{}, fmt.Errorf("truncated DELETE payload")
		}
		key := string(payload[4 : 4+keyLen])
		return Entry{Seq: seq, Kind: kind, Key: key}, nil

	case KindBulkSet:
		if len(payload) < 4 {
			return Entry{}, fmt.Errorf("short BULKSET payload")
		}
		n := binary.BigEndian.Uint32(payload[0:4])
		off := uint32(4)
		pairs := make([]KV, 0, n)
		for i := uint32(0); i < n; i++ {
			if uint32(len(payload)) < off+4 {
				return Entry{}, fmt.Errorf("truncated BULKSET entry")
			}
			keyLen := binary.BigEndian.Uint32(payload[off : off+4])
			off += 4
			if uint32(len(payload)) < off+keyLen+4 {
				return Entry{}, fmt.Errorf("truncated BULKSET key")
			}
			key := string(payload[off : off+keyLen])
			off += keyLen
			valLen := binary.BigEndian.Uint32(payload[off : off+4])
			off += 4
			if uint32(len(payload)) < off+valLen {
				return Entry{}, fmt.Errorf("truncated BULKSET value")
			}
			value := append([]byte(nil), payload[off:off+valLen]...)
			off += valLen
			pairs = append(pairs, KV{Key: key, Value: value})
		}
		return Entry{Seq: seq, Kind: kind, Pairs: pairs}, nil

	case KindCheckpoint:
		if len(payload) < 8 {
			return Entry{}, fmt.Errorf("short CHECKPOINT payload")
		}
		return Entry{Seq: seq, Kind: kind, CkptSeq: binary.BigEndian.Uint64(payload)}, nil

	default:
		return Entry{}, fmt.Errorf("unknown WAL entry kind %d", kind)
	}
}
