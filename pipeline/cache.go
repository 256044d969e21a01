package pipeline

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DatasetCache keeps recently parsed dataset tables in memory, keyed by dataset id.
type DatasetCache struct {
	cache *lru.Cache[string, *Table]
}

// NewDatasetCache returns a cache holding at most size tables. A size below 1
// disables caching.
func NewDatasetCache(size int) (*DatasetCache, error) {
	if size < 1 {
		return &DatasetCache{}, nil
	}
	c, err := lru.New[string, *Table](size)
	if err != nil {
		return nil, err
	}
	return &DatasetCache{cache: c}, nil
}

func (c *DatasetCache) Get(id string) (*Table, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(id)
}

func (c *DatasetCache) Add(id string, table *Table) {
	if c.cache == nil {
		return
	}
	c.cache.Add(id, table)
}

func (c *DatasetCache) Remove(id string) {
	if c.cache == nil {
		return
	}
	c.cache.Remove(id)
}

func (c *DatasetCache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
