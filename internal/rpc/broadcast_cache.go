package rpc

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	log "github.com/koinos/koinos-log-golang"
)

type void struct{}

type broadcastCacheItem struct {
	txID      chainhash.Hash
	timeAdded time.Time
}

// BroadcastCache remembers recently resubmitted transactions, so a transaction
// recovered from several peers or rounds is only resubmitted once per window
type BroadcastCache struct {
	txMap         map[chainhash.Hash]void
	items         []broadcastCacheItem
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewBroadcastCache creates a new broadcast cache
func NewBroadcastCache(cacheDuration time.Duration) *BroadcastCache {
	return &BroadcastCache{
		txMap:         make(map[chainhash.Hash]void),
		items:         make([]broadcastCacheItem, 0),
		cacheDuration: cacheDuration,
	}
}

// CheckAndAdd reports whether id is in the cache, adding it if it is not
func (c *BroadcastCache) CheckAndAdd(id chainhash.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.prune(now)

	if _, ok := c.txMap[id]; ok {
		return true
	}

	c.add(broadcastCacheItem{txID: id, timeAdded: now})
	return false
}

// Len returns the number of cached transactions
func (c *BroadcastCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Items are kept sorted by time added; an out of order item is inserted as if it were the newest
func (c *BroadcastCache) add(item broadcastCacheItem) {
	if n := len(c.items); n != 0 && item.timeAdded.Before(c.items[n-1].timeAdded) {
		item.timeAdded = c.items[n-1].timeAdded
	}

	c.txMap[item.txID] = void{}
	c.items = append(c.items, item)
}

func (c *BroadcastCache) prune(pruneTime time.Time) {
	pruneCount := 0
	for _, item := range c.items {
		if pruneTime.Sub(item.timeAdded) <= c.cacheDuration {
			break
		}
		delete(c.txMap, item.txID)
		pruneCount++
	}

	if pruneCount > 0 {
		c.items = c.items[pruneCount:]
		log.Debugf("BroadcastCache.prune: pruned %d transactions, %d remain", pruneCount, len(c.items))
	}
}
