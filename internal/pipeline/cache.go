package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// IdentifierSource 提供已存公告的 idx 列表。
type IdentifierSource interface {
	ListIdentifiers(ctx context.Context) ([]string, error)
}

// IdentifierCache 是一次采集期间的已知 idx 集合，由 Pipeline 在每次运行开始时构建。
type IdentifierCache struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewIdentifierCache 用给定 idx 初始化缓存。
func NewIdentifierCache(ids ...string) *IdentifierCache {
	c := &IdentifierCache{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}
	return c
}

// LoadIdentifierCache 一次性读取全部 idx。
func LoadIdentifierCache(ctx context.Context, src IdentifierSource) (*IdentifierCache, error) {
	ids, err := src.ListIdentifiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identifier cache: %w", err)
	}
	return NewIdentifierCache(ids...), nil
}

func (c *IdentifierCache) Has(idx string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[idx]
	return ok
}

func (c *IdentifierCache) Add(idx string) {
	c.mu.Lock()
	c.ids[idx] = struct{}{}
	c.mu.Unlock()
}

func (c *IdentifierCache) Remove(idx string) {
	c.mu.Lock()
	delete(c.ids, idx)
	c.mu.Unlock()
}

func (c *IdentifierCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}
