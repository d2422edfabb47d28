package journal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Record is one decoded journal entry: header plus raw body bytes, which
// the caller decodes with the Decode*Body function matching Header.Type.
type Record struct {
	Header EventHeader
	Body   []byte
}

// Reader streams records from a journal file per spec §4.4's read path.
type Reader struct {
	f      *os.File
	Header FileHeader

	// TruncatedAt records the sequence at which reading stopped early due
	// to a checksum mismatch or a short tail record, or 0 if the whole
	// file read cleanly to EOF.
	TruncatedAt uint64

	// lastSeq is the sequence of the last record Next returned.
	lastSeq uint64
}

// OpenReader opens path and validates the file header's magic.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		f.Close()
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	hdr, err := DecodeFileHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{f: f, Header: hdr}, nil
}

// Next returns the next record, or io.EOF at a clean end of file. A
// checksum mismatch or a short tail record stops the stream early (rather
// than erroring the caller out of the whole recovery): Next returns io.EOF
// and sets TruncatedAt to the last valid sequence, per spec §4.4 ("report
// the truncation boundary to the recovery driver").
func (r *Reader) Next() (Record, error) {
	headerBuf := make([]byte, EventHeaderSize)
	n, err := io.ReadFull(r.f, headerBuf)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		// Short header at the tail: truncated write, stop here.
		r.TruncatedAt = r.lastSeq
		return Record{}, io.EOF
	}
	eh, err := DecodeEventHeader(headerBuf)
	if err != nil {
		return Record{}, io.EOF
	}

	body := make([]byte, eh.DataSize)
	if _, err := io.ReadFull(r.f, body); err != nil {
		r.TruncatedAt = r.lastSeq
		return Record{}, io.EOF
	}

	crcBuf := make([]byte, ChecksumSize)
	if _, err := io.ReadFull(r.f, crcBuf); err != nil {
		r.TruncatedAt = r.lastSeq
		return Record{}, io.EOF
	}

	check := append(append([]byte{}, headerBuf...), body...)
	if !verifyChecksum(check, crcBuf) {
		r.TruncatedAt = eh.Sequence - 1
		return Record{}, io.EOF
	}

	r.lastSeq = eh.Sequence
	return Record{Header: eh, Body: body}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Segments returns every on-disk file belonging to the journal at path —
// its rotated predecessors (events.<seq>.journal, oldest first) followed
// by the active file itself — so replay can stream the whole durable
// contract described in spec §6, not just the current segment.
func Segments(path string) ([]string, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type segment struct {
		seq  uint64
		path string
	}
	var rotated []segment
	prefix := base + "."
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		middle := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		seq, err := strconv.ParseUint(middle, 10, 64)
		if err != nil {
			continue
		}
		rotated = append(rotated, segment{seq: seq, path: filepath.Join(dir, name)})
	}
	sort.Slice(rotated, func(i, j int) bool { return rotated[i].seq < rotated[j].seq })

	out := make([]string, 0, len(rotated)+1)
	for _, s := range rotated {
		out = append(out, s.path)
	}
	if _, err := os.Stat(path); err == nil {
		out = append(out, path)
	}
	return out, nil
}

// ReadAll streams every valid record in the file via fn, stopping at EOF or
// at the first error fn returns. Returns the reader's TruncatedAt boundary.
func ReadAll(path string, fn func(Record) error) (truncatedAt uint64, err error) {
	r, err := OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return r.TruncatedAt, nil
			}
			return r.TruncatedAt, err
		}
		if err := fn(rec); err != nil {
			return r.TruncatedAt, err
		}
	}
}
