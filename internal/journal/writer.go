package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// criticalEvents flush + fsync immediately per spec §4.4's default
// durability policy: trades, cash movements and liquidations cannot be
// allowed to vanish on crash between accept and ack.
var criticalEvents = map[EventType]bool{
	EventTrade:      true,
	EventDeposit:    true,
	EventWithdrawal: true,
	EventLiquidation: true,
}

// DurabilityPolicy configures the buffered-flush side of spec §4.4's
// default: "Other events -> buffered; flush every N records or every D,
// whichever first."
type DurabilityPolicy struct {
	FlushEveryRecords int
	FlushInterval     time.Duration

	// MaxFileSizeBytes rotates the active journal file to a sequenced
	// segment (events.<seq>.journal, per spec §6's persisted-state
	// layout) once its size would exceed this bound. Zero disables
	// rotation, which is what every existing test relies on by leaving
	// this field at its zero value.
	MaxFileSizeBytes int64
}

// DefaultDurabilityPolicy matches spec §4.4's literal default.
func DefaultDurabilityPolicy() DurabilityPolicy {
	return DurabilityPolicy{FlushEveryRecords: 100, FlushInterval: 50 * time.Millisecond, MaxFileSizeBytes: 64 << 20}
}

// Writer is the single writer for one journal file. Spec §4.4: "One writer
// per journal file; append-only. Concurrent callers serialize on an
// internal mutex." Per spec §5 the journal lock is held only for the
// append itself, never across a book operation — callers are expected to
// call Append after releasing the symbol lock's book mutation, or to accept
// that the append happens while still holding it for short critical
// sections; Writer does not reach back into the engine.
type Writer struct {
	mu           sync.Mutex
	file         *os.File
	buf          *bufio.Writer
	policy       DurabilityPolicy
	createdTs    uint64
	nextSeq      uint64
	sinceFlush   int
	path         string
	bytesWritten int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// OpenWriter creates (or truncates) path, writes the file header and starts
// the background flush worker described in spec §5 ("A batched-flush
// worker thread can offload non-critical flushes").
func OpenWriter(path string, policy DurabilityPolicy) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	createdTs := uint64(time.Now().UnixNano())
	hdr := FileHeader{Version: CurrentVersion, CreatedTs: createdTs}
	if _, err := f.Write(hdr.Encode()); err != nil {
		f.Close()
		return nil, err
	}
	w := &Writer{
		file:         f,
		buf:          bufio.NewWriter(f),
		policy:       policy,
		createdTs:    createdTs,
		path:         path,
		bytesWritten: int64(HeaderSize),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

// ResumeWriter reopens an existing journal file for append, continuing the
// sequence from lastSeq (cmd/server/main.go passes the last sequence its
// startup scan of the file found) and preserving the file's original
// CreatedTs.
func ResumeWriter(path string, createdTs uint64, lastSeq uint64, policy DurabilityPolicy) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, 2); err != nil {
		f.Close()
		return nil, err
	}
	size := int64(HeaderSize)
	if st, err := f.Stat(); err == nil && st.Size() > size {
		size = st.Size()
	}
	w := &Writer{
		file:         f,
		buf:          bufio.NewWriter(f),
		policy:       policy,
		createdTs:    createdTs,
		nextSeq:      lastSeq,
		path:         path,
		bytesWritten: size,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

// Append writes one record and returns its assigned sequence number.
// Durability-critical event types (spec §4.4) are flushed and fsync'd
// before Append returns; others are buffered per the configured policy.
func (w *Writer) Append(eventType EventType, body []byte, now int64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	frameLen := int64(EventHeaderSize + len(body) + ChecksumSize)
	if w.policy.MaxFileSizeBytes > 0 && w.bytesWritten > int64(HeaderSize) && w.bytesWritten+frameLen > w.policy.MaxFileSizeBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	w.nextSeq++
	seq := w.nextSeq

	eh := EventHeader{TimestampNs: uint64(now), Sequence: seq, Type: eventType, DataSize: uint16(len(body))}
	frame := make([]byte, 0, EventHeaderSize+len(body)+ChecksumSize)
	frame = append(frame, eh.Encode()...)
	frame = append(frame, body...)
	frame = append(frame, encodeChecksum(append(eh.Encode(), body...))...)

	if _, err := w.buf.Write(frame); err != nil {
		return 0, err
	}
	w.bytesWritten += int64(len(frame))
	w.sinceFlush++

	if criticalEvents[eventType] {
		if err := w.flushAndSyncLocked(); err != nil {
			return 0, err
		}
		return seq, nil
	}

	if w.sinceFlush >= w.policy.FlushEveryRecords {
		if err := w.flushAndSyncLocked(); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

func (w *Writer) flushAndSyncLocked() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.sinceFlush = 0
	return nil
}

// rotateLocked closes out the current file at its last-written sequence,
// renames it to its sequenced segment name and opens a fresh file at path
// to continue appending, per spec §6's "data/events.<seq>.journal
// (rotated)" layout. Sequence numbering continues across the rotation
// boundary: spec §3 only guarantees gap-free sequencing, and a single
// monotonic space keeps replay's ID recovery untouched by rotation.
func (w *Writer) rotateLocked() error {
	if err := w.flushAndSyncLocked(); err != nil {
		return err
	}
	hdr := FileHeader{Version: CurrentVersion, CreatedTs: w.createdTs, LastSeq: w.nextSeq}
	if _, err := w.file.Seek(0, 0); err == nil {
		w.file.WriteAt(hdr.Encode(), 0)
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := rotatedPath(w.path, w.nextSeq)
	if err := os.Rename(w.path, rotated); err != nil {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	newHdr := FileHeader{Version: CurrentVersion, CreatedTs: w.createdTs}
	if _, err := f.Write(newHdr.Encode()); err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.bytesWritten = int64(HeaderSize)
	log.Info().Str("rotated_to", rotated).Uint64("last_seq", w.nextSeq).Msg("journal: rotated")
	return nil
}

// rotatedPath derives a sequenced segment name from the active journal
// path, generalizing spec §6's literal "events.<seq>.journal" example to
// whatever filename storage.journal_file configures.
func rotatedPath(path string, seq uint64) string {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(dir, fmt.Sprintf("%s.%d%s", base, seq, ext))
}

func (w *Writer) flushLoop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.policy.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.sinceFlush > 0 {
				if err := w.flushAndSyncLocked(); err != nil {
					log.Error().Err(err).Msg("journal: periodic flush failed")
				}
			}
			w.mu.Unlock()
		}
	}
}

// LastSequence returns the most recently assigned sequence number.
func (w *Writer) LastSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

// Close stops the background flusher, flushes remaining buffered records,
// updates the header's LastSeq and closes the underlying file.
func (w *Writer) Close() error {
	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushAndSyncLocked(); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, 0); err == nil {
		hdr := FileHeader{Version: CurrentVersion, CreatedTs: w.createdTs, LastSeq: w.nextSeq}
		w.file.WriteAt(hdr.Encode(), 0)
	}
	return w.file.Close()
}
