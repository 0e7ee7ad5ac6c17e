package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// checkpointFile writes/reads the full-state snapshot named in spec §4.1:
// a complete copy of S plus the seq of the last entry it incorporates,
// written atomically via temp-file-then-rename (the same idiom the teacher
// uses for its JSON snapshot, in a binary row format shaped like the WAL's
// SET payload; readCheckpoint is its own decoder, separate from the WAL's).
//
// On-disk layout: [seq:u64][count:u32] then count * [keyLen:u32][key][valLen:u32][value].

func writeCheckpoint(path string, seq uint64, data map[string][]byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint tmp: %w", err)
	}

	w := bufio.NewWriter(f)
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[0:8], seq)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		f.Close()
		return err
	}
	for k, v := range data {
		var lens [4]byte
		binary.BigEndian.PutUint32(lens[:], uint32(len(k)))
		if _, err := w.Write(lens[:]); err != nil {
			f.Close()
			return err
		}
		if _, err := w.WriteString(k); err != nil {
			f.Close()
			return err
		}
		binary.BigEndian.PutUint32(lens[:], uint32(len(v)))
		if _, err := w.Write(lens[:]); err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(v); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Atomic rename: a crash between Create and Rename leaves the previous
	// checkpoint intact and valid.
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func readCheckpoint(path string) (seq uint64, data map[string][]byte, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, map[string][]byte{}, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [12]byte
	if _, err := readFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("read checkpoint header: %w", err)
	}
	seq = binary.BigEndian.Uint64(hdr[0:8])
	count := binary.BigEndian.Uint32(hdr[8:12])

	data = make(map[string][]byte, count)
	for i := uint32(0); i < count; i++ {
		var lens [4]byte
		if _, err := readFull(r, lens[:]); err != nil {
			return 0, nil, fmt.Errorf("read checkpoint key len: %w", err)
		}
		keyLen := binary.BigEndian.Uint32(lens[:])
		key := make([]byte, keyLen)
		if _, err := readFull(r, key); err != nil {
			return 0, nil, fmt.Errorf("read checkpoint key: %w", err)
		}
		if _, err := readFull(r, lens[:]); err != nil {
			return 0, nil, fmt.Errorf("read checkpoint value len: %w", err)
		}
		valLen := binary.BigEndian.Uint32(lens[:])
		val := make([]byte, valLen)
		if _, err := readFull(r, val); err != nil {
			return 0, nil, fmt.Errorf("read checkpoint value: %w", err)
		}
		data[string(key)] = val
	}
	return seq, data, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
