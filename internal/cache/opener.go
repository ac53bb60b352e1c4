package cache

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/backends"
	"github.com/disconic/disconic/internal/playlist"
)

// Opener serves track streams from the disk cache. On a miss it streams from
// upstream and fills the cache with what the player reads, so playback
// starts without waiting for the whole download.
type Opener struct {
	cache    *DiskCache
	upstream backends.StreamOpener
}

// NewOpener wraps upstream with c
func NewOpener(c *DiskCache, upstream backends.StreamOpener) *Opener {
	return &Opener{cache: c, upstream: upstream}
}

// Open implements backends.StreamOpener. The returned reader is bound to ctx
// the way the upstream reader is.
func (o *Opener) Open(ctx context.Context, locator playlist.StreamLocator) (io.ReadCloser, error) {
	key := string(locator)
	log := o.cache.logger.With(zap.String("locator", key))
	if r, ok := o.cache.Get(key); ok {
		log.Debug("Cache hit")
		return r, nil
	}

	src, err := o.upstream.Open(ctx, locator)
	if err != nil {
		return nil, err
	}

	if !o.cache.claim(key) {
		// Another play is already filling the cache for this track
		log.Debug("Cache miss, track being fetched elsewhere")
		return src, nil
	}
	track, err := o.cache.create(key)
	if err != nil {
		o.cache.unclaim(key)
		log.Warn("Streaming without caching", zap.Error(err))
		return src, nil
	}

	log.Debug("Cache miss, filling while streaming")
	return &fillingReader{
		src:   src,
		track: track,
		log:   log,
		done:  func() { o.cache.unclaim(key) },
	}, nil
}

// fillingReader copies what is read from src into a pending cache file. The
// file is committed when src reaches EOF and discarded otherwise.
type fillingReader struct {
	src io.ReadCloser
	log *zap.Logger

	mu    sync.Mutex
	track *pendingTrack // nil once committed or discarded
	done  func()
}

func (r *fillingReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.track == nil {
		return n, err
	}
	if n > 0 {
		if _, werr := r.track.Write(p[:n]); werr != nil {
			r.log.Warn("Failed to write cache file, giving up on caching", zap.Error(werr))
			r.finishLocked(false)
			return n, err
		}
	}
	if err == io.EOF {
		r.finishLocked(true)
	}
	return n, err
}

func (r *fillingReader) Close() error {
	r.mu.Lock()
	if r.track != nil {
		// Stopped or failed before the end; a partial track is useless
		r.finishLocked(false)
	}
	r.mu.Unlock()
	return r.src.Close()
}

func (r *fillingReader) finishLocked(complete bool) {
	if complete {
		if err := r.track.commit(); err != nil {
			r.log.Warn("Failed to keep track in the cache", zap.Error(err))
		}
	} else {
		r.track.abort()
	}
	r.track = nil
	r.done()
}
