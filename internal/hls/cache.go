package hls

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/marrow-wiki/mbr/internal/cache"
)

// Cache memoizes generated playlists and segments and ensures only one
// transcode runs per key at a time. singleflight.Group is the direct Go
// idiom for "only one generation runs per key, concurrent callers wait
// on the same result" rather than a hand-rolled state machine.
type Cache struct {
	bytes *cache.Cache[[]byte]
	group singleflight.Group
}

// NewCache creates an HLS content cache bounded to maxBytes. maxBytes ==
// 0 disables caching: every request re-transcodes.
func NewCache(maxBytes int64) *Cache {
	return &Cache{bytes: cache.New[[]byte](maxBytes, 0)}
}

func playlistKey(path string, target Target) string {
	return fmt.Sprintf("playlist:%s:%d", path, target)
}

func segmentKey(path string, target Target, segmentIndex uint32) string {
	return fmt.Sprintf("segment:%s:%d:%d", path, target, segmentIndex)
}

// Playlist returns the cached playlist for path/target, generating it
// via GeneratePlaylist if absent. Concurrent callers for the same key
// share one generation.
func (c *Cache) Playlist(ctx context.Context, path string, target Target, baseName string) ([]byte, error) {
	key := playlistKey(path, target)
	if data, ok := c.bytes.Get(key); ok {
		return data, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if data, ok := c.bytes.Get(key); ok {
			return data, nil
		}
		playlist, err := GeneratePlaylist(ctx, path, target, baseName)
		if err != nil {
			return nil, err
		}
		data := []byte(playlist)
		c.bytes.Insert(key, data, int64(len(data)))
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Segment returns the cached MPEG-TS segment for path/target/segmentIndex,
// transcoding it via TranscodeSegment if absent.
func (c *Cache) Segment(ctx context.Context, path string, target Target, segmentIndex uint32) ([]byte, error) {
	key := segmentKey(path, target, segmentIndex)
	if data, ok := c.bytes.Get(key); ok {
		return data, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if data, ok := c.bytes.Get(key); ok {
			return data, nil
		}
		data, err := TranscodeSegment(ctx, path, target, segmentIndex)
		if err != nil {
			return nil, err
		}
		c.bytes.Insert(key, data, int64(len(data)))
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
