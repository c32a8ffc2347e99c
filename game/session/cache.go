package session

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/m3rciful/questbot/game"
)

// cache is a read-through LRU over progress records. Keys are typed strings
// built by activeKey and pairKey; every write path that mutates persistence
// drops the affected keys explicitly.
type cache struct {
	lru *lru.Cache
	ttl time.Duration
	now game.Clock
}

type cacheEntry struct {
	record  game.PlayersQuest
	changes []int64
	stored  time.Time
}

func newCache(size int, ttl time.Duration, now game.Clock) (*cache, error) {
	if size <= 0 {
		size = 4096
	}
	inner, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("init lru: %w", err)
	}
	return &cache{lru: inner, ttl: ttl, now: now}, nil
}

func activeKey(playerID int64) string {
	return fmt.Sprintf("player:%d:active", playerID)
}

func pairKey(playerID, questID int64) string {
	return fmt.Sprintf("playerquest:%d:%d", playerID, questID)
}

// get returns a private copy so callers can mutate it freely.
func (c *cache) get(key string) (*game.PlayersQuest, bool) {
	if c == nil {
		return nil, false
	}
	raw, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := raw.(cacheEntry)
	if !ok {
		c.lru.Remove(key)
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.stored) > c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	record := entry.record
	record.Changes = append([]int64(nil), entry.changes...)
	return &record, true
}

// put stores a detached copy of the record.
func (c *cache) put(key string, pq *game.PlayersQuest) {
	if c == nil || pq == nil {
		return
	}
	entry := cacheEntry{
		record:  *pq,
		changes: append([]int64(nil), pq.Changes...),
		stored:  c.now(),
	}
	entry.record.Changes = nil
	c.lru.Add(key, entry)
}

func (c *cache) drop(keys ...string) {
	if c == nil {
		return
	}
	for _, key := range keys {
		c.lru.Remove(key)
	}
}
