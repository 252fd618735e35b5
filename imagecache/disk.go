package imagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// diskStore is the durable tier: a flat directory of content-addressed files
// (key hashed to the filename), no manifest. The directory is fully
// reconstructible by re-fetching, so every operation is best-effort and
// failures are logged rather than surfaced.
type diskStore struct {
	dir     string
	ceiling int64
	log     *slog.Logger
	nowFunc func() time.Time
}

func newDiskStore(dir string, ceiling int64, log *slog.Logger) (*diskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskStore{dir: dir, ceiling: ceiling, log: log, nowFunc: time.Now}, nil
}

// path maps a key to its content-addressed file. Hashing makes deletion
// idempotent and sidesteps filename restrictions in URLs.
func (d *diskStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:]))
}

// read returns the stored bytes for key. A read refreshes the file's
// modification time so eviction tracks recency of use, not just of writing.
func (d *diskStore) read(key string) ([]byte, bool) {
	p := d.path(key)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	now := d.nowFunc()
	if err := os.Chtimes(p, now, now); err != nil {
		d.log.Debug("imagecache: touch failed", slog.String("path", p), slog.Any("error", err))
	}
	return data, true
}

// contains reports whether key has a stored file, without reading it.
func (d *diskStore) contains(key string) bool {
	_, err := os.Stat(d.path(key))
	return err == nil
}

// write stores data under key and then enforces the usage ceiling. Failures
// are logged and ignored; the in-memory tier stays authoritative.
func (d *diskStore) write(key string, data []byte) {
	p := d.path(key)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		d.log.Warn("imagecache: disk write failed", slog.String("path", p), slog.Any("error", err))
		return
	}
	d.enforceCeiling()
}

// remove deletes the file for key if present.
func (d *diskStore) remove(key string) {
	if err := os.Remove(d.path(key)); err != nil && !os.IsNotExist(err) {
		d.log.Warn("imagecache: disk remove failed", slog.Any("error", err))
	}
}

// purge deletes every stored file.
func (d *diskStore) purge() {
	for _, f := range d.list() {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			d.log.Warn("imagecache: purge remove failed", slog.Any("error", err))
		}
	}
}

// usage returns the total size in bytes of all stored files.
func (d *diskStore) usage() int64 {
	var total int64
	for _, f := range d.list() {
		total += f.size
	}
	return total
}

// enforceCeiling deletes least-recently-modified files until usage falls to
// 80% of the ceiling. It runs after every write so a burst of large payloads
// cannot pin usage above the bound for long.
func (d *diskStore) enforceCeiling() {
	files := d.list()

	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= d.ceiling {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	target := d.ceiling * 8 / 10
	removed := 0
	for _, f := range files {
		if total <= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			if !os.IsNotExist(err) {
				d.log.Warn("imagecache: eviction remove failed", slog.Any("error", err))
			}
			continue
		}
		total -= f.size
		removed++
	}
	d.log.Debug("imagecache: disk eviction",
		slog.Int("removed", removed), slog.Int64("usage", total), slog.Int64("ceiling", d.ceiling))
}

// sweepOlderThan removes files whose modification time is older than age and
// returns the number removed. Runs once at cache startup.
func (d *diskStore) sweepOlderThan(age time.Duration) int {
	now := d.nowFunc()
	removed := 0
	for _, f := range d.list() {
		if now.Sub(f.modTime) <= age {
			continue
		}
		if err := os.Remove(f.path); err == nil || os.IsNotExist(err) {
			removed++
		}
	}
	return removed
}

type diskFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (d *diskStore) list() []diskFile {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.log.Warn("imagecache: read cache dir failed", slog.Any("error", err))
		return nil
	}
	files := make([]diskFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, diskFile{
			path:    filepath.Join(d.dir, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files
}
