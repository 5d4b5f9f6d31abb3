package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/kv"
	"github.com/roach88/siglog/internal/reduction"
)

// Flat-file layout under the root directory.
const (
	envelopesDir  = "envelopes"
	publishersDir = "publishers"
	logFile       = "log"
	conflictsFile = "conflicts"
	reductionFile = "reduction"
)

// conflictRecordSize is index (8) + first (32) + second (32) + seen unix ms (8).
const conflictRecordSize = 8 + 2*envelope.DigestSize + 8

// FlatFile is a Backend that keeps logs in plain files and indexes in a kv
// store.
//
// Envelope content lives in envelopes/{digest}, created exclusively. Each
// identity has publishers/{pk}/log, a sequence of fixed-width digest records
// where the record of index i starts at i*DigestSize, plus side files for
// conflicts and the reduction.
//
// A commit touches several files and is not atomic. A crash between the log
// record and the reduction file leaves a stale reduction that Rereduce
// repairs.
type FlatFile struct {
	kvIndexes
	dir   string
	fsync bool

	// conflictMu serializes read-check-append on conflict files.
	conflictMu sync.Mutex
}

var _ Backend = (*FlatFile)(nil)

// FlatFileOption configures a FlatFile.
type FlatFileOption func(*FlatFile)

// WithSync fsyncs every file write before it is reported.
func WithSync(enabled bool) FlatFileOption {
	return func(f *FlatFile) { f.fsync = enabled }
}

// NewFlatFile opens the flat-file layout rooted at dir, creating it when
// missing. indexes holds the secondary indexes and is owned by the Backend.
func NewFlatFile(dir string, indexes kv.Store, opts ...FlatFileOption) (*FlatFile, error) {
	for _, sub := range []string{envelopesDir, publishersDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	f := &FlatFile{kvIndexes: kvIndexes{db: indexes}, dir: dir}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close closes the index store.
func (f *FlatFile) Close() error {
	return f.db.Close()
}

func (f *FlatFile) envelopePath(d envelope.Digest) string {
	return filepath.Join(f.dir, envelopesDir, d.String())
}

// publisherPath returns the path of one of pk's files. pk is validated so
// that it can never escape the publishers directory.
func (f *FlatFile) publisherPath(pk envelope.PublicKey, name string) (string, error) {
	if err := pk.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, publishersDir, string(pk), name), nil
}

// Head returns -1 for a malformed key, since nothing can be committed under
// one. The other read paths likewise see an empty identity; mentions may name
// such keys.
func (f *FlatFile) Head(_ context.Context, pk envelope.PublicKey) (int64, error) {
	path, err := f.publisherPath(pk, logFile)
	if err != nil {
		return -1, nil
	}
	size, err := fileSize(path)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", pk, err)
	}
	return size/envelope.DigestSize - 1, nil
}

// fileSize returns the size of path, or zero when it does not exist.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *FlatFile) EntryDigest(ctx context.Context, pk envelope.PublicKey, index int64) (envelope.Digest, error) {
	head, err := f.Head(ctx, pk)
	if err != nil {
		return envelope.Digest{}, err
	}
	if index < 0 || index > head {
		return envelope.Digest{}, ErrNotFound
	}
	path, _ := f.publisherPath(pk, logFile)
	file, err := os.Open(path)
	if err != nil {
		return envelope.Digest{}, fmt.Errorf("read %s[%d]: %w", pk, index, err)
	}
	defer file.Close()
	return readDigestAt(file, index)
}

func readDigestAt(r io.ReaderAt, index int64) (envelope.Digest, error) {
	var d envelope.Digest
	if _, err := r.ReadAt(d[:], index*envelope.DigestSize); err != nil {
		return d, fmt.Errorf("read digest record %d: %w", index, err)
	}
	return d, nil
}

func (f *FlatFile) Read(ctx context.Context, pk envelope.PublicKey, index int64) (envelope.Envelope, error) {
	d, err := f.EntryDigest(ctx, pk, index)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return f.Envelope(ctx, d)
}

func (f *FlatFile) Envelope(_ context.Context, d envelope.Digest) (envelope.Envelope, error) {
	b, err := os.ReadFile(f.envelopePath(d))
	if errors.Is(err, fs.ErrNotExist) {
		return envelope.Envelope{}, ErrNotFound
	}
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("read envelope %s: %w", d, err)
	}
	env, err := envelope.Decode(b)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("read envelope %s: %w", d, err)
	}
	return env, nil
}

func (f *FlatFile) Commit(ctx context.Context, c Commit) error {
	pk := c.Envelope.PublicKey
	index := c.Envelope.Message.Index
	logPath, err := f.publisherPath(pk, logFile)
	if err != nil {
		return err
	}
	encoded, err := commitBytes(c)
	if err != nil {
		return err
	}
	if err := f.writeEnvelope(c.Digest, encoded); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("commit %s[%d]: %w", pk, index, err)
	}
	if err := f.appendDigest(logPath, index, c.Digest); err != nil {
		return fmt.Errorf("commit %s[%d]: %w", pk, index, err)
	}
	return f.PutReduction(ctx, pk, c.Reduction)
}

// writeEnvelope creates the content file of d. An existing file with the same
// bytes is a duplicate; different bytes is ErrHashCollision.
func (f *FlatFile) writeEnvelope(d envelope.Digest, data []byte) error {
	path := f.envelopePath(d)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		existing, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("write envelope %s: %w", d, err)
		}
		if !bytes.Equal(existing, data) {
			return fmt.Errorf("write envelope %s: %w", d, ErrHashCollision)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("write envelope %s: %w", d, err)
	}
	if err := f.finish(file, data); err != nil {
		os.Remove(path)
		return fmt.Errorf("write envelope %s: %w", d, err)
	}
	return nil
}

// finish writes data, syncs when configured and closes file.
func (f *FlatFile) finish(file *os.File, data []byte) error {
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if f.fsync {
		if err := file.Sync(); err != nil {
			file.Close()
			return err
		}
	}
	return file.Close()
}

// appendDigest writes the record of index. Only the next index may be
// written; a torn trailing record from an earlier crash is overwritten.
func (f *FlatFile) appendDigest(path string, index int64, d envelope.Digest) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if next := info.Size() / envelope.DigestSize; index != next {
		return fmt.Errorf("log record %d out of sequence, next is %d", index, next)
	}
	if _, err := file.WriteAt(d[:], index*envelope.DigestSize); err != nil {
		return err
	}
	if f.fsync {
		return file.Sync()
	}
	return nil
}

func (f *FlatFile) RecordConflict(_ context.Context, c Conflict) (bool, error) {
	path, err := f.publisherPath(c.PublicKey, conflictsFile)
	if err != nil {
		return false, err
	}

	f.conflictMu.Lock()
	defer f.conflictMu.Unlock()

	records, err := readConflicts(path, c.PublicKey)
	if err != nil {
		return false, fmt.Errorf("record conflict: %w", err)
	}
	for _, r := range records {
		if r.First == c.First && r.Second == c.Second {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("record conflict: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("record conflict: %w", err)
	}
	if err := f.finish(file, encodeConflict(c)); err != nil {
		return false, fmt.Errorf("record conflict: %w", err)
	}
	return true, nil
}

func encodeConflict(c Conflict) []byte {
	buf := make([]byte, conflictRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(c.Index))
	copy(buf[8:40], c.First[:])
	copy(buf[40:72], c.Second[:])
	binary.BigEndian.PutUint64(buf[72:80], uint64(c.Seen.UnixMilli()))
	return buf
}

func decodeConflict(pk envelope.PublicKey, buf []byte) Conflict {
	c := Conflict{
		PublicKey: pk,
		Index:     int64(binary.BigEndian.Uint64(buf[0:8])),
		Seen:      time.UnixMilli(int64(binary.BigEndian.Uint64(buf[72:80]))).UTC(),
	}
	copy(c.First[:], buf[8:40])
	copy(c.Second[:], buf[40:72])
	return c
}

// compareConflicts orders conflicts the way the ordered store keys them.
func compareConflicts(a, b Conflict) int {
	if a.Index != b.Index {
		if a.Index < b.Index {
			return -1
		}
		return 1
	}
	if c := a.First.Compare(b.First); c != 0 {
		return c
	}
	return a.Second.Compare(b.Second)
}

// readConflicts loads every complete record of a conflict file.
func readConflicts(path string, pk envelope.PublicKey) ([]Conflict, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Conflict
	for off := 0; off+conflictRecordSize <= len(data); off += conflictRecordSize {
		out = append(out, decodeConflict(pk, data[off:off+conflictRecordSize]))
	}
	return out, nil
}

func (f *FlatFile) Reduction(_ context.Context, pk envelope.PublicKey) (reduction.State, error) {
	path, err := f.publisherPath(pk, reductionFile)
	if err != nil {
		return reduction.State{}, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return reduction.State{}, nil
	}
	if err != nil {
		return reduction.State{}, fmt.Errorf("read reduction %s: %w", pk, err)
	}
	return unmarshalReduction(b)
}

// PutReduction replaces the side file through a temp file and a rename, so
// readers see the old or the new state and never a torn one.
func (f *FlatFile) PutReduction(_ context.Context, pk envelope.PublicKey, state reduction.State) error {
	path, err := f.publisherPath(pk, reductionFile)
	if err != nil {
		return err
	}
	b, err := marshalReduction(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write reduction %s: %w", pk, err)
	}

	tmp := path + "." + uuid.Must(uuid.NewV7()).String() + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("write reduction %s: %w", pk, err)
	}
	if err := f.finish(file, b); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write reduction %s: %w", pk, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write reduction %s: %w", pk, err)
	}
	return nil
}

func (f *FlatFile) LogStream(ctx context.Context, pk envelope.PublicKey, opts LogOptions) Stream[Entry] {
	head, err := f.Head(ctx, pk)
	if err != nil {
		return errStream[Entry](err)
	}
	if head < 0 {
		return newFuncStream(func() (Entry, bool, error) { return Entry{}, false, nil }, nil)
	}
	path, _ := f.publisherPath(pk, logFile)
	file, err := os.Open(path)
	if err != nil {
		return errStream[Entry](fmt.Errorf("open log %s: %w", pk, err))
	}

	next, step := int64(0), int64(1)
	if opts.Reverse {
		next, step = head, -1
	}
	if opts.From != nil {
		next = *opts.From
		if opts.Reverse && next > head {
			next = head
		}
	}
	emitted := 0

	return newFuncStream(func() (Entry, bool, error) {
		if next < 0 || next > head || (opts.Limit > 0 && emitted >= opts.Limit) {
			return Entry{}, false, nil
		}
		if err := ctx.Err(); err != nil {
			return Entry{}, false, err
		}
		index := next
		d, err := readDigestAt(file, index)
		if err != nil {
			return Entry{}, false, err
		}
		env, err := f.Envelope(ctx, d)
		if err != nil {
			return Entry{}, false, err
		}
		next += step
		emitted++
		return Entry{Index: index, Digest: d, Envelope: env}, true, nil
	}, file.Close)
}

func (f *FlatFile) ConflictStream(_ context.Context, pk envelope.PublicKey) Stream[Conflict] {
	path, err := f.publisherPath(pk, conflictsFile)
	if err != nil {
		return sliceStream[Conflict](nil)
	}
	records, err := readConflicts(path, pk)
	if err != nil {
		return errStream[Conflict](fmt.Errorf("read conflicts %s: %w", pk, err))
	}
	slices.SortFunc(records, compareConflicts)
	return sliceStream(records)
}

// PublicKeyStream lists identities with at least one committed entry, in
// key order.
func (f *FlatFile) PublicKeyStream(ctx context.Context) Stream[envelope.PublicKey] {
	dirents, err := os.ReadDir(filepath.Join(f.dir, publishersDir))
	if err != nil {
		return errStream[envelope.PublicKey](fmt.Errorf("list publishers: %w", err))
	}
	pos := 0
	return newFuncStream(func() (envelope.PublicKey, bool, error) {
		for pos < len(dirents) {
			de := dirents[pos]
			pos++
			pk := envelope.PublicKey(de.Name())
			if !de.IsDir() || pk.Validate() != nil {
				continue
			}
			head, err := f.Head(ctx, pk)
			if err != nil {
				return "", false, err
			}
			if head >= 0 {
				return pk, true, nil
			}
		}
		return "", false, nil
	}, nil)
}

// sliceStream yields items in order.
func sliceStream[T any](items []T) Stream[T] {
	pos := 0
	return newFuncStream(func() (T, bool, error) {
		var zero T
		if pos >= len(items) {
			return zero, false, nil
		}
		pos++
		return items[pos-1], true, nil
	}, nil)
}
