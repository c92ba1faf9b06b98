package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// cachedFeed is the last good download of one feed URL.
type cachedFeed struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	Body         []byte    `json:"body"`
}

// feedCache stores one JSON document per feed URL in dir.
type feedCache struct {
	dir string
}

func (c feedCache) path(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+".json")
}

// load reports false for missing, corrupt or empty entries, and for hash
// collisions with another URL.
func (c feedCache) load(rawURL string) (cachedFeed, bool) {
	data, err := os.ReadFile(c.path(rawURL))
	if err != nil {
		return cachedFeed{}, false
	}
	var entry cachedFeed
	if err := json.Unmarshal(data, &entry); err != nil {
		return cachedFeed{}, false
	}
	if entry.URL != rawURL || len(entry.Body) == 0 {
		return cachedFeed{}, false
	}
	return entry, true
}

// save replaces the entry atomically so a crash never leaves half a feed.
func (c feedCache) save(entry cachedFeed) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, ".calgrid-feed-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, c.path(entry.URL))
}
