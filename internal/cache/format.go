package cache

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

// Cache file format:
// - Magic bytes (4): "DCAC" (disconic audio cache)
// - Version (1): 0x01
// - Reserved (3): padding for alignment
// - Data length (8): uint64 little-endian
// - Total header: 16 bytes
// - Followed by the track bytes exactly as the catalog served them

const (
	cacheMagic      = "DCAC"
	cacheVersion    = 0x01
	cacheHeaderSize = 16
)

// ErrBadHeader reports a cache file that is truncated or not ours
var ErrBadHeader = errors.New("invalid cache header")

// WriteCacheHeader writes the cache file header
func WriteCacheHeader(w io.Writer, dataLen uint64) error {
	var hdr [cacheHeaderSize]byte
	copy(hdr[:4], cacheMagic)
	hdr[4] = cacheVersion
	binary.LittleEndian.PutUint64(hdr[8:], dataLen)

	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "failed to write cache header")
	}
	return nil
}

// ReadCacheHeader reads the header and returns the data length it announces
func ReadCacheHeader(r io.Reader) (uint64, error) {
	var hdr [cacheHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to read cache header"), ErrBadHeader)
	}
	if string(hdr[:4]) != cacheMagic {
		return 0, errors.Wrapf(ErrBadHeader, "bad magic %q", hdr[:4])
	}
	if hdr[4] != cacheVersion {
		return 0, errors.Wrapf(ErrBadHeader, "unsupported version %d", hdr[4])
	}
	return binary.LittleEndian.Uint64(hdr[8:]), nil
}
