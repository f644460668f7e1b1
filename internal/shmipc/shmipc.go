// Package shmipc implements the zero-copy shared-memory transport used
// by the IPC dispatcher plugin to exchange messages with an external
// process. Records are fixed-size, mmap-backed, and laid out so they
// can be read by a non-Go process without a deserialization step — the
// same "just read the bytes" goal the teacher's eventbus reaches for
// in-process with channels, extended here across a process boundary.
package shmipc

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	amadeus "github.com/amadeus-bus/amadeus"
)

// ServiceName is the name of Amadeus's external IPC service. Transports
// in this package are opened by backing-file path (see OpenFile), not by
// this name; nothing in this package looks the name up. The dispatcher's
// publisher and subscriber halves use two distinct ring segments (see
// IpcDispatcherPlugin's outTrans/inTrans) so a process's own outbound
// writes are never read back by its own inbound side.
const ServiceName = "Amadeus/Message/Service"

const (
	topicLen   = 64
	payloadLen = 4096
	sourceLen  = 64

	// recordSize is the fixed on-wire size of one Record: topic (64) +
	// payload (4096) + priority (1) + timestamp (8) + source (64) +
	// sequence (8), NUL-padded where shorter than its field.
	recordSize = topicLen + payloadLen + 1 + 8 + sourceLen + 8

	// slotCount is the number of fixed-size record slots in the ring
	// buffer. Combined with recordSize this determines the mmap segment
	// size: header + slotCount*recordSize.
	slotCount = 256

	headerSize = 16 // writeIndex uint64, readIndex uint64
)

// Record is the decoded, Go-friendly view of one fixed-layout shared
// memory slot.
type Record struct {
	Topic     string
	Payload   []byte
	Priority  byte
	Timestamp int64
	Source    string
	Sequence  uint64
}

// encode serializes r into a fixed recordSize-byte buffer suitable for
// writing directly into a shared memory slot. Oversize topic/payload/
// source fields are rejected rather than silently truncated.
func encode(r Record) ([]byte, error) {
	if len(r.Topic) > topicLen || len(r.Payload) > payloadLen || len(r.Source) > sourceLen {
		return nil, amadeus.ErrIPCTooLarge
	}

	buf := make([]byte, recordSize)
	off := 0
	copy(buf[off:off+topicLen], r.Topic)
	off += topicLen
	copy(buf[off:off+payloadLen], r.Payload)
	off += payloadLen
	buf[off] = r.Priority
	off++
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(r.Timestamp))
	off += 8
	copy(buf[off:off+sourceLen], r.Source)
	off += sourceLen
	binary.LittleEndian.PutUint64(buf[off:off+8], r.Sequence)
	return buf, nil
}

func decode(buf []byte) Record {
	off := 0
	topic := cstring(buf[off : off+topicLen])
	off += topicLen
	payload := trimTrailingZero(buf[off : off+payloadLen])
	off += payloadLen
	priority := buf[off]
	off++
	ts := int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	source := cstring(buf[off : off+sourceLen])
	off += sourceLen
	seq := binary.LittleEndian.Uint64(buf[off : off+8])

	return Record{
		Topic:     topic,
		Payload:   payload,
		Priority:  priority,
		Timestamp: ts,
		Source:    source,
		Sequence:  seq,
	}
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func trimTrailingZero(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	out := make([]byte, end)
	copy(out, b[:end])
	return out
}

// Transport is an mmap-backed ring buffer. One side writes via Send, the
// other drains via Recv, through the same segment. The header's
// writeIndex/readIndex are plain little-endian words updated under the
// Transport's mutex, which both Send and Recv take; that mutex serializes
// access within one process only. This package doesn't attempt true
// cross-process zero-copy framing beyond the mmap segment itself — the
// fixed record layout is what lets a foreign process parse slots without
// invoking Go's runtime, which is the property the spec calls out.
type Transport struct {
	mu      sync.Mutex
	region  []byte
	started bool
	closed  bool
}

// Open maps the shared memory segment backed by fd, an already-opened
// file descriptor for a file dedicated to this transport and sized to at
// least headerSize+slotCount*recordSize bytes. It neither creates nor
// sizes the file; OpenFile does both.
func Open(fd int) (*Transport, error) {
	size := headerSize + slotCount*recordSize
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, amadeus.ErrIPCSendFailed
	}
	return &Transport{region: data, started: true}, nil
}

// OpenFile opens (creating if needed) the backing file at path, sizes it
// for the ring buffer, and maps it. This is the entry point the
// dispatcher plugin uses in-process; Open is exposed separately for
// callers that already manage the file descriptor's lifetime themselves.
func OpenFile(path string) (*Transport, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, amadeus.ErrIPCSendFailed
	}
	defer f.Close()

	size := int64(headerSize + slotCount*recordSize)
	if err := f.Truncate(size); err != nil {
		return nil, amadeus.ErrIPCSendFailed
	}

	return Open(int(f.Fd()))
}

func (t *Transport) slot(i uint64) []byte {
	idx := i % slotCount
	start := headerSize + int(idx)*recordSize
	return t.region[start : start+recordSize]
}

func (t *Transport) writeIndex() uint64 {
	return binary.LittleEndian.Uint64(t.region[0:8])
}

func (t *Transport) setWriteIndex(v uint64) {
	binary.LittleEndian.PutUint64(t.region[0:8], v)
}

func (t *Transport) readIndex() uint64 {
	return binary.LittleEndian.Uint64(t.region[8:16])
}

func (t *Transport) setReadIndex(v uint64) {
	binary.LittleEndian.PutUint64(t.region[8:16], v)
}

// Send writes rec into the next ring slot. If the ring is full (writer
// has lapped the reader by a full slotCount) the oldest unread slot is
// overwritten and the read index is advanced to match — the transport
// favors freshness over completeness under sustained overload, the same
// trade the bus's reserved error topics make, and the opposite of the
// direct-message inbox, which drops the newest message when full.
func (t *Transport) Send(rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return amadeus.ErrIPCClosed
	}
	if !t.started {
		return amadeus.ErrIPCNotStarted
	}

	rec.Sequence = t.writeIndex()
	buf, err := encode(rec)
	if err != nil {
		return err
	}
	copy(t.slot(rec.Sequence), buf)

	next := rec.Sequence + 1
	t.setWriteIndex(next)
	if next-t.readIndex() > slotCount {
		t.setReadIndex(next - slotCount)
	}
	return nil
}

// Recv blocks, polling at the given interval, until a new record is
// available or ctx is canceled.
func (t *Transport) Recv(ctx context.Context, pollInterval time.Duration) (Record, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return Record{}, amadeus.ErrIPCClosed
		}
		ri, wi := t.readIndex(), t.writeIndex()
		if ri < wi {
			rec := decode(t.slot(ri))
			t.setReadIndex(ri + 1)
			t.mu.Unlock()
			return rec, nil
		}
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close unmaps the shared memory segment. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return unix.Munmap(t.region)
}
