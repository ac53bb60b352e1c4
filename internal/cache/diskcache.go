package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// cachedTrack is one file of the cache directory
type cachedTrack struct {
	name string // hashed key, also the file name
	size int64  // header included
}

// DiskCache keeps fetched tracks on disk, evicting the least recently played
// ones once the directory grows past its limit. Files survive restarts.
type DiskCache struct {
	dir    string
	limit  int64
	logger *zap.Logger

	mu      sync.Mutex
	used    int64
	byName  map[string]*list.Element
	recency *list.List // front is the most recently used

	// Keys currently being written by an Opener
	fetching sync.Map // map[string]struct{}
}

// NewDiskCache opens the cache in dir, picking up the tracks a previous run
// left there
func NewDiskCache(dir string, limit int64, logger *zap.Logger) (*DiskCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}

	c := &DiskCache{
		dir:     dir,
		limit:   limit,
		logger:  logger.Named("cache"),
		byName:  make(map[string]*list.Element),
		recency: list.New(),
	}
	if err := c.load(); err != nil {
		return nil, errors.Wrapf(err, "failed to load cache from %s", dir)
	}

	// The limit may have been lowered since the last run
	c.mu.Lock()
	c.shrinkLocked(0)
	c.mu.Unlock()

	c.logger.Debug("Cache ready", zap.Int("tracks", c.Len()), zap.Int64("bytes", c.Size()))
	return c, nil
}

// load indexes the files in the cache directory, most recently played first.
// Get touches a file's modification time, so that order survives restarts.
func (c *DiskCache) load() error {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}

	type found struct {
		track   cachedTrack
		modTime time.Time
	}
	var files []found
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		if filepath.Ext(d.Name()) == ".tmp" {
			// Left behind by an interrupted Put
			os.Remove(filepath.Join(c.dir, d.Name()))
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		files = append(files, found{cachedTrack{name: d.Name(), size: info.Size()}, info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	for _, f := range files {
		c.byName[f.track.name] = c.recency.PushBack(&f.track)
		c.used += f.track.size
	}
	return nil
}

// fileName maps a key to the name of its file
func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (c *DiskCache) keyToPath(key string) string {
	return filepath.Join(c.dir, fileName(key))
}

// Get returns the cached bytes for key, header skipped. A file whose header
// disagrees with its size is deleted and reported as a miss.
func (c *DiskCache) Get(key string) (io.ReadCloser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byName[fileName(key)]
	if !ok {
		return nil, false
	}
	track := elem.Value.(*cachedTrack)
	path := filepath.Join(c.dir, track.name)

	f, err := os.Open(path)
	if err != nil {
		c.dropLocked(elem, false)
		return nil, false
	}
	if err := checkFile(f); err != nil {
		f.Close()
		c.logger.Warn("Dropping damaged cache file", zap.String("path", path), zap.Error(err))
		c.dropLocked(elem, true)
		return nil, false
	}

	c.recency.MoveToFront(elem)
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return f, true
}

// checkFile reads the header of f and compares it with the file size
func checkFile(f *os.File) error {
	dataLen, err := ReadCacheHeader(f)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat cache file")
	}
	if have := info.Size() - cacheHeaderSize; int64(dataLen) != have {
		return errors.Wrapf(ErrBadHeader, "header announces %d bytes, file has %d", dataLen, have)
	}
	return nil
}

// Put stores everything read from r under key
func (c *DiskCache) Put(key string, r io.Reader) error {
	p, err := c.create(key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(p, r); err != nil {
		p.abort()
		return errors.Wrap(err, "failed to write cache file")
	}
	return p.commit()
}

// pendingTrack is a track being written. It only becomes visible to Get once
// committed.
type pendingTrack struct {
	c    *DiskCache
	name string
	tmp  string
	f    *os.File
	n    int64
}

func (c *DiskCache) create(key string) (*pendingTrack, error) {
	name := fileName(key)
	f, err := os.CreateTemp(c.dir, name+".*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cache file")
	}
	tmp := f.Name()
	// The length is unknown until the end; commit rewrites the header
	if err := WriteCacheHeader(f, 0); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	return &pendingTrack{c: c, name: name, tmp: tmp, f: f}, nil
}

func (p *pendingTrack) Write(b []byte) (int, error) {
	n, err := p.f.Write(b)
	p.n += int64(n)
	return n, err
}

func (p *pendingTrack) abort() {
	p.f.Close()
	os.Remove(p.tmp)
}

// commit finalizes the header and moves the file into place, evicting older
// tracks to make room
func (p *pendingTrack) commit() error {
	_, err := p.f.Seek(0, io.SeekStart)
	if err == nil {
		err = WriteCacheHeader(p.f, uint64(p.n))
	}
	if closeErr := p.f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(p.tmp)
		return errors.Wrap(err, "failed to write cache file")
	}

	c := p.c
	size := cacheHeaderSize + p.n

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byName[p.name]; ok {
		// Someone else stored it meanwhile
		c.recency.MoveToFront(elem)
		os.Remove(p.tmp)
		return nil
	}

	c.shrinkLocked(size)
	if err := os.Rename(p.tmp, filepath.Join(c.dir, p.name)); err != nil {
		os.Remove(p.tmp)
		return errors.Wrap(err, "failed to finalize cache file")
	}

	c.byName[p.name] = c.recency.PushFront(&cachedTrack{name: p.name, size: size})
	c.used += size
	return nil
}

// shrinkLocked evicts the least recently used tracks until incoming more
// bytes fit under the limit. A single track bigger than the limit is still
// stored; it goes with the next Put.
func (c *DiskCache) shrinkLocked(incoming int64) {
	for c.used+incoming > c.limit && c.recency.Len() > 0 {
		elem := c.recency.Back()
		track := elem.Value.(*cachedTrack)
		c.logger.Debug("Evicting track", zap.String("file", track.name), zap.Int64("bytes", track.size))
		c.dropLocked(elem, true)
	}
}

func (c *DiskCache) dropLocked(elem *list.Element, deleteFile bool) {
	track := c.recency.Remove(elem).(*cachedTrack)
	delete(c.byName, track.name)
	c.used -= track.size
	if deleteFile {
		os.Remove(filepath.Join(c.dir, track.name))
	}
}

// Invalidate forgets key and deletes its file
func (c *DiskCache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byName[fileName(key)]
	if !ok {
		return nil
	}
	c.dropLocked(elem, false)

	if err := os.Remove(c.keyToPath(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove cache file")
	}
	c.logger.Info("Invalidated cached track", zap.String("key", key))
	return nil
}

// Clear deletes every cached track
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byName = make(map[string]*list.Element)
	c.recency.Init()
	c.used = 0

	if err := os.RemoveAll(c.dir); err != nil {
		return errors.Wrap(err, "failed to clear cache")
	}
	return os.MkdirAll(c.dir, 0755)
}

// Size returns the bytes on disk, headers included
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Len returns the number of cached tracks
func (c *DiskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

// claim marks key as being fetched. It reports false when another fetch
// already holds it.
func (c *DiskCache) claim(key string) bool {
	_, held := c.fetching.LoadOrStore(key, struct{}{})
	return !held
}

func (c *DiskCache) unclaim(key string) {
	c.fetching.Delete(key)
}
