// Package journal implements WriteJournal: the fixed-record, crash-durable
// log of in-flight remote PUTs described in §4.5. Grounded on the pack's
// fixed-slot-allocation idiom (reserve/release over a mmap-free on-disk
// array of fixed records, each fsync'd on mutation) and on the simple
// append/recover shape of a write-ahead log, adapted here to WHIP-LRU's
// exact 17-byte slot and 12-byte header layout rather than either source's
// own format.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Magic is the fixed 8-byte file identifier at offset 0.
const Magic = "WHIPLRU1"

const (
	headerLen = 8 + 4 // magic + record count
	slotLen   = 1 + 16
)

const (
	slotFree     byte = 0
	slotOccupied byte = 1
)

// Errors returned by WriteJournal operations.
var (
	ErrMagicMismatch = errors.New("journal: magic does not match")
	ErrCountMismatch = errors.New("journal: record count does not match existing file")
	ErrCorrupt       = errors.New("journal: corrupt slot record")
	ErrTimeout       = errors.New("journal: timed out waiting for a free slot")
	ErrUnknownSlot   = errors.New("journal: slot index out of range")
)

// Journal is the fixed-size on-disk log of pending remote writes.
type Journal struct {
	f           *os.File
	recordCount uint32

	mu   sync.Mutex
	free chan uint32
}

// OpenOrCreate opens the journal file at path, creating and zero-filling it
// if absent. If the file exists, its magic and record count must match
// recordCount.
func OpenOrCreate(path string, recordCount uint32) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	j := &Journal{f: f, recordCount: recordCount}

	if info.Size() == 0 {
		if err := j.initialize(recordCount); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := j.verifyHeader(recordCount); err != nil {
			f.Close()
			return nil, err
		}
	}

	j.free = make(chan uint32, recordCount)
	return j, nil
}

func (j *Journal) initialize(recordCount uint32) error {
	header := make([]byte, headerLen)
	copy(header[0:8], Magic)
	binary.BigEndian.PutUint32(header[8:12], recordCount)
	if _, err := j.f.WriteAt(header, 0); err != nil {
		return err
	}
	zeroed := make([]byte, int(recordCount)*slotLen)
	if _, err := j.f.WriteAt(zeroed, headerLen); err != nil {
		return err
	}
	return j.f.Sync()
}

func (j *Journal) verifyHeader(want uint32) error {
	header := make([]byte, headerLen)
	if _, err := j.f.ReadAt(header, 0); err != nil {
		return err
	}
	if !bytes.Equal(header[0:8], []byte(Magic)) {
		return ErrMagicMismatch
	}
	got := binary.BigEndian.Uint32(header[8:12])
	if got != want {
		return fmt.Errorf("%w: file has %d, want %d", ErrCountMismatch, got, want)
	}
	return nil
}

func slotOffset(i uint32) int64 {
	return headerLen + int64(i)*slotLen
}

// Recover scans every slot and returns the UUID of each occupied one. These
// are the PUTs that were in flight when the process last stopped. It also
// primes the free-slot pool with every slot not found occupied. Recover must
// be called exactly once, immediately after OpenOrCreate.
func (j *Journal) Recover() ([]uuid.UUID, error) {
	var pending []uuid.UUID
	buf := make([]byte, slotLen)
	for i := uint32(0); i < j.recordCount; i++ {
		if _, err := j.f.ReadAt(buf, slotOffset(i)); err != nil {
			return nil, err
		}
		switch buf[0] {
		case slotFree:
			j.free <- i
		case slotOccupied:
			id, err := uuid.FromBytes(buf[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: slot %d: %v", ErrCorrupt, i, err)
			}
			pending = append(pending, id)
		default:
			return nil, fmt.Errorf("%w: slot %d has status byte %#x", ErrCorrupt, i, buf[0])
		}
	}
	return pending, nil
}

// Reserve blocks until a free slot is available (or ctx is done), marks it
// occupied for id, fsyncs, and returns its index.
func (j *Journal) Reserve(ctx context.Context, id uuid.UUID) (uint32, error) {
	var idx uint32
	select {
	case idx = <-j.free:
	case <-ctx.Done():
		return 0, ErrTimeout
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rec := make([]byte, slotLen)
	rec[0] = slotOccupied
	copy(rec[1:], id[:])
	if _, err := j.f.WriteAt(rec, slotOffset(idx)); err != nil {
		j.free <- idx // give the slot back; reservation failed
		return 0, err
	}
	if err := j.f.Sync(); err != nil {
		j.free <- idx
		return 0, err
	}
	return idx, nil
}

// FindOccupiedSlot scans for the occupied slot holding id, returning its
// index. Used by StorageManager's startup recovery to learn which slot to
// Release once a recovered pending PUT has been retried to completion.
func (j *Journal) FindOccupiedSlot(id uuid.UUID) (uint32, bool, error) {
	buf := make([]byte, slotLen)
	for i := uint32(0); i < j.recordCount; i++ {
		if _, err := j.f.ReadAt(buf, slotOffset(i)); err != nil {
			return 0, false, err
		}
		if buf[0] != slotOccupied {
			continue
		}
		found, err := uuid.FromBytes(buf[1:])
		if err != nil {
			return 0, false, fmt.Errorf("%w: slot %d: %v", ErrCorrupt, i, err)
		}
		if found == id {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// Release marks slotIndex free again and fsyncs the status byte.
func (j *Journal) Release(slotIndex uint32) error {
	if slotIndex >= j.recordCount {
		return ErrUnknownSlot
	}

	j.mu.Lock()
	_, err := j.f.WriteAt([]byte{slotFree}, slotOffset(slotIndex))
	if err == nil {
		err = j.f.Sync()
	}
	j.mu.Unlock()
	if err != nil {
		return err
	}

	j.free <- slotIndex
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	return j.f.Close()
}
