package rdb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"emberdb/internal/store"
)

const (
	magic   = "REDIS"
	version = "0003"

	opAux          = 0xFA
	opSelectDB     = 0xFE
	opResizeDBHint = 0xFB
	opExpireSec    = 0xFD
	opEOF          = 0xFF

	dbNumber = "0"
)

const trailerSize = 8

// Logger is the narrow logging surface the engine depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Engine owns periodic snapshot writes and the startup load path. One
// Engine per store; Run should be started exactly once.
type Engine struct {
	store      *store.Store
	path       string
	flushEvery time.Duration
	codec      Codec
	log        Logger
}

// New creates an Engine. path == "" disables both load and periodic save.
func New(s *store.Store, path string, flushEvery time.Duration, codec Codec, log Logger) *Engine {
	return &Engine{store: s, path: path, flushEvery: flushEvery, codec: codec, log: log}
}

// Run starts the periodic snapshotter loop. It blocks until ctx is
// cancelled, writing a fresh snapshot every flushEvery. Save failures are
// logged and never abort the loop.
func (e *Engine) Run(ctx context.Context) {
	if e.path == "" {
		return
	}
	ticker := time.NewTicker(e.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Save(); err != nil {
				e.log.Error("rdb: snapshot save failed: %v", err)
				continue
			}
			e.log.Debug("rdb: snapshot written to %s", e.path)
		}
	}
}

// Save writes a fresh snapshot to a temporary sibling of path and renames it
// into place on success, so a crash mid-write never leaves a truncated file
// at the configured path.
func (e *Engine) Save() error {
	if e.path == "" {
		return nil
	}
	entries := e.store.Snapshot()

	tmpPath := e.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("rdb: create temp snapshot: %w", err)
	}

	hasher := xxhash.New()
	w := io.MultiWriter(f, hasher)
	if err := writeSnapshot(w, entries, e.codec); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("rdb: write snapshot: %w", err)
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint64(trailer[:], hasher.Sum64())
	if _, err := f.Write(trailer[:]); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("rdb: write checksum trailer: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rdb: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		return fmt.Errorf("rdb: rename temp snapshot into place: %w", err)
	}
	return nil
}

func writeSnapshot(w io.Writer, entries []store.Entry, codec Codec) error {
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if _, err := io.WriteString(w, version); err != nil {
		return err
	}

	if _, err := w.Write([]byte{opAux}); err != nil {
		return err
	}
	if err := writeString(w, "ctime"); err != nil {
		return err
	}
	if err := writeString(w, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	if _, err := w.Write([]byte{opSelectDB}); err != nil {
		return err
	}
	if err := writeString(w, dbNumber); err != nil {
		return err
	}

	ttlCount := 0
	for _, e := range entries {
		if e.ExpiresAt != nil {
			ttlCount++
		}
	}
	if _, err := w.Write([]byte{opResizeDBHint}); err != nil {
		return err
	}
	if err := writeLength(w, uint64(len(entries))); err != nil {
		return err
	}
	if err := writeLength(w, uint64(ttlCount)); err != nil {
		return err
	}

	for _, e := range entries {
		if err := writeRecord(w, e, codec); err != nil {
			return err
		}
	}

	_, err := w.Write([]byte{opEOF})
	return err
}

func writeRecord(w io.Writer, e store.Entry, codec Codec) error {
	if e.ExpiresAt != nil {
		if _, err := w.Write([]byte{opExpireSec}); err != nil {
			return err
		}
		var ttlBuf [4]byte
		binary.LittleEndian.PutUint32(ttlBuf[:], uint32(e.ExpiresAt.Unix()))
		if _, err := w.Write(ttlBuf[:]); err != nil {
			return err
		}
	}

	tag, payload := encodeValue(e.Value, codec)
	if err := writeString(w, tag); err != nil {
		return err
	}
	if err := writeString(w, e.Key); err != nil {
		return err
	}
	return writeString(w, string(payload))
}

// LoadedEntry is one record restored from a snapshot file.
type LoadedEntry struct {
	Key       string
	Value     []byte
	ExpiresAt *time.Time
}

// Load restores the store from the configured snapshot path. A missing or
// unset path is not an error: the caller continues with an empty store. A
// bad magic string or an unsupported value type is fatal.
func (e *Engine) Load() error {
	if e.path == "" {
		e.log.Info("rdb: no snapshot path configured, starting empty")
		return nil
	}
	f, err := os.Open(e.path)
	if errors.Is(err, os.ErrNotExist) {
		e.log.Info("rdb: no snapshot file at %s, starting empty", e.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("rdb: open snapshot: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("rdb: read snapshot: %w", err)
	}
	// The trailer, when present, is the file's last trailerSize bytes and
	// covers everything before it.
	hasher := xxhash.New()
	if len(data) >= trailerSize {
		hasher.Write(data[:len(data)-trailerSize])
	}
	r := bufio.NewReader(bytes.NewReader(data))

	loaded, trailerOK, err := loadSnapshot(r, hasher)
	if err != nil {
		return fmt.Errorf("rdb: load snapshot: %w", err)
	}
	if !trailerOK {
		e.log.Warn("rdb: snapshot %s has a missing or invalid checksum trailer, loading anyway", e.path)
	}

	now := time.Now()
	for _, le := range loaded {
		var ttl *time.Duration
		if le.ExpiresAt != nil {
			remaining := le.ExpiresAt.Sub(now)
			if remaining <= 0 {
				continue // already expired: drop
			}
			ttl = &remaining
		}
		e.store.Set(le.Key, le.Value, ttl)
	}
	e.log.Info("rdb: loaded %d key(s) from %s", len(loaded), e.path)
	return nil
}

func loadSnapshot(r *bufio.Reader, hasher *xxhash.Digest) ([]LoadedEntry, bool, error) {
	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, false, fmt.Errorf("read magic: %w", err)
	}
	if string(magicBuf) != magic {
		return nil, false, fmt.Errorf("bad magic %q, want %q", magicBuf, magic)
	}

	versionBuf := make([]byte, len(version))
	if _, err := io.ReadFull(r, versionBuf); err != nil {
		return nil, false, fmt.Errorf("read version: %w", err)
	}

	var loaded []LoadedEntry

	for {
		opcodeBuf, err := r.Peek(1)
		if err != nil {
			return nil, false, fmt.Errorf("read next opcode: %w", err)
		}
		opcode := opcodeBuf[0]

		switch opcode {
		case opAux:
			if _, err := r.Discard(1); err != nil {
				return nil, false, fmt.Errorf("consume aux opcode: %w", err)
			}
			if _, err := readString(r); err != nil {
				return nil, false, fmt.Errorf("read aux key: %w", err)
			}
			if _, err := readString(r); err != nil {
				return nil, false, fmt.Errorf("read aux value: %w", err)
			}

		case opSelectDB:
			if _, err := r.Discard(1); err != nil {
				return nil, false, fmt.Errorf("consume selectdb opcode: %w", err)
			}
			if _, err := readString(r); err != nil {
				return nil, false, fmt.Errorf("read db selector: %w", err)
			}

		case opResizeDBHint:
			if _, err := r.Discard(1); err != nil {
				return nil, false, fmt.Errorf("consume resizedb opcode: %w", err)
			}
			if _, _, err := readLength(r); err != nil {
				return nil, false, fmt.Errorf("read resizedb entry hint: %w", err)
			}
			if _, _, err := readLength(r); err != nil {
				return nil, false, fmt.Errorf("read resizedb ttl hint: %w", err)
			}

		case opExpireSec:
			if _, err := r.Discard(1); err != nil {
				return nil, false, fmt.Errorf("consume expiretime opcode: %w", err)
			}
			var ttlBuf [4]byte
			if _, err := io.ReadFull(r, ttlBuf[:]); err != nil {
				return nil, false, fmt.Errorf("read expire time: %w", err)
			}
			expireUnix := int64(binary.LittleEndian.Uint32(ttlBuf[:]))
			entry, err := readRecord(r)
			if err != nil {
				return nil, false, fmt.Errorf("read expiring record: %w", err)
			}
			at := time.Unix(expireUnix, 0)
			entry.ExpiresAt = &at
			loaded = append(loaded, entry)

		case opEOF:
			if _, err := r.Discard(1); err != nil {
				return nil, false, fmt.Errorf("consume eof opcode: %w", err)
			}
			sumBeforeTrailer := hasher.Sum64()
			var trailer [trailerSize]byte
			if _, err := io.ReadFull(r, trailer[:]); err != nil {
				// No complete trailer present: tolerate, but report it as
				// unverified.
				return loaded, false, nil
			}
			got := binary.LittleEndian.Uint64(trailer[:])
			return loaded, got == sumBeforeTrailer, nil

		default:
			entry, err := readRecord(r)
			if err != nil {
				return nil, false, fmt.Errorf("read record: %w", err)
			}
			loaded = append(loaded, entry)
		}
	}
}

// readRecord reads a value-type tag, key, and value, with no leading
// opcode byte (the caller has already peeked and decided this is a KV
// record, so the tag's own length prefix is still unconsumed in r).
func readRecord(r *bufio.Reader) (LoadedEntry, error) {
	tag, err := readString(r)
	if err != nil {
		return LoadedEntry{}, fmt.Errorf("read value type: %w", err)
	}
	key, err := readString(r)
	if err != nil {
		return LoadedEntry{}, fmt.Errorf("read key: %w", err)
	}
	rawValue, err := readString(r)
	if err != nil {
		return LoadedEntry{}, fmt.Errorf("read value: %w", err)
	}
	value, err := decodeValue(tag, []byte(rawValue))
	if err != nil {
		return LoadedEntry{}, err
	}
	return LoadedEntry{Key: key, Value: value}, nil
}

// SnapshotPath returns the configured path, possibly empty.
func (e *Engine) SnapshotPath() string {
	return e.path
}

// EnsureDir creates the parent directory of the configured snapshot path, if
// any, so the first Save doesn't fail on a missing directory.
func (e *Engine) EnsureDir() error {
	if e.path == "" {
		return nil
	}
	dir := filepath.Dir(e.path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
