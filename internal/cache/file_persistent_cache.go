package cache

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// FilePersistentCache provides a file-backed cache that survives restarts.
// Values must be JSON-serializable; anything else is kept in memory only
// for the life of the process.
type FilePersistentCache struct {
	store    map[string]persistedItem
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
	logger   Logger
	stop     chan struct{}
	once     sync.Once
}

// persistedItem carries exported fields so the JSON round trip keeps the
// value and its expiry.
type persistedItem struct {
	Value      interface{} `json:"value"`
	Expiration int64       `json:"expiration"`
}

// NewFilePersistentCache creates a persistent cache with a default TTL and
// file path. A missing or unreadable file starts the cache empty.
func NewFilePersistentCache(defaultTTL time.Duration, filePath string, logger Logger) *FilePersistentCache {
	c := &FilePersistentCache{
		store:    make(map[string]persistedItem),
		ttl:      defaultTTL,
		filePath: filePath,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	if err := c.loadFromFile(); err != nil && c.logger != nil {
		c.logger.Error("Persistent cache load failed, starting empty", map[string]interface{}{
			"path":  filePath,
			"error": err.Error(),
		})
	}
	go c.cleanupLoop(10 * time.Minute)
	return c
}

// loadFromFile loads cache items from the file.
func (c *FilePersistentCache) loadFromFile() error {
	file, err := os.Open(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errbuilder.GenericErr("failed to open persistent cache file", err)
	}
	defer file.Close()

	loaded := make(map[string]persistedItem)
	if err := json.NewDecoder(file).Decode(&loaded); err != nil {
		return errbuilder.GenericErr("failed to decode persistent cache file", err)
	}

	c.mutex.Lock()
	c.store = loaded
	c.mutex.Unlock()
	return nil
}

// saveToFile snapshots the store and writes it out. The snapshot is taken
// under the read lock but the file write happens outside it, so a slow disk
// never stalls readers. The write goes through a temp file and rename to
// keep the on-disk copy whole under crashes.
func (c *FilePersistentCache) saveToFile() error {
	c.mutex.RLock()
	snapshot := make(map[string]persistedItem, len(c.store))
	for key, item := range c.store {
		snapshot[key] = item
	}
	c.mutex.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return errbuilder.GenericErr("failed to encode persistent cache", err)
	}

	tmpPath := c.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return errbuilder.GenericErr("failed to write persistent cache file", err)
	}
	if err := os.Rename(tmpPath, c.filePath); err != nil {
		return errbuilder.GenericErr("failed to replace persistent cache file", err)
	}
	return nil
}

// Get retrieves an item from the cache.
func (c *FilePersistentCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, false
	}

	c.mutex.RLock()
	item, found := c.store[key]
	c.mutex.RUnlock()
	if !found {
		return nil, false
	}
	if time.Now().UnixNano() > item.Expiration {
		return nil, false
	}
	return item.Value, true
}

// Set adds or updates an item in the cache and flushes to disk.
func (c *FilePersistentCache) Set(ctx context.Context, key string, value interface{}) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return
	}

	c.mutex.Lock()
	c.store[key] = persistedItem{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	c.mutex.Unlock()

	if err := c.saveToFile(); err != nil && c.logger != nil {
		c.logger.Error("Persistent cache flush failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// Stop terminates the background cleanup goroutine.
func (c *FilePersistentCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// cleanupLoop periodically removes expired items and flushes the file.
func (c *FilePersistentCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mutex.Lock()
			now := time.Now().UnixNano()
			removed := 0
			for key, item := range c.store {
				if now > item.Expiration {
					delete(c.store, key)
					removed++
				}
			}
			c.mutex.Unlock()
			if removed == 0 {
				continue
			}
			if err := c.saveToFile(); err != nil && c.logger != nil {
				c.logger.Error("Persistent cache sweep flush failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}
