// internal/service/order/numbering/counter.go
package numbering

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
)

const (
	// UpperBound 以上的订单号保留给随机编号模式，顺序编号扫描最大值时要排除它们
	UpperBound int64 = 100_000_000
	// BandSize 是顺序编号起始值与 UpperBound 之间至少保留的空间
	BandSize int64 = 10_000_000
)

// Cache 保存每个 scope 下一个可用的编号。启动时为空，第一次 Next 从持久化的最大值回填。
type Cache interface {
	Get(ctx context.Context, scope string) (next int64, ok bool, err error)
	// Claim 原子地领取一个编号：scope 已有缓存时返回缓存值并加一，
	// 否则返回 start 并缓存 start+1。共享同一个缓存的多个进程不会领到同一个编号。
	Claim(ctx context.Context, scope string, start int64) (int64, error)
	Delete(ctx context.Context, scope string) error
	Clear(ctx context.Context) error
}

// Counter 为命名的序列生成严格递增、不重复的整数。
// Counter 自己不做串行化：调用方必须在 scope 对应的串行队列 key 内调用 Next，
// 这样编号才能和同一个 key 下的库存修改保持一致。
type Counter struct {
	cache Cache
}

func NewCounter(cache Cache) *Counter {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Counter{cache: cache}
}

// Next 返回 scope 的下一个编号。缓存为空时调用 computeStart 得到起始值。
func (c *Counter) Next(ctx context.Context, scope string, computeStart func(ctx context.Context) (int64, error)) (int64, error) {
	_, ok, err := c.cache.Get(ctx, scope)
	if err != nil {
		return 0, errors.Wrapf(err, "read number cache for %s", scope)
	}
	var start int64
	if !ok {
		if start, err = computeStart(ctx); err != nil {
			return 0, errors.Wrapf(err, "compute start number for %s", scope)
		}
	}
	next, err := c.cache.Claim(ctx, scope, start)
	if err != nil {
		return 0, errors.Wrapf(err, "claim number for %s", scope)
	}
	return next, nil
}

// ResetNumbers 丢弃一个 scope 的缓存，批量重新编号之后调用
func (c *Counter) ResetNumbers(ctx context.Context, scope string) error {
	return c.cache.Delete(ctx, scope)
}

// ClearAll 丢弃所有 scope 的缓存
func (c *Counter) ClearAll(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

// MaxNumberStore 查询持久化的最大编号
type MaxNumberStore interface {
	MaxNumber(ctx context.Context, scope string, below int64) (number int64, ok bool, err error)
}

// StartFromStore 返回一个 computeStart：已有编号时从 max+1 继续，
// 否则从 max(1, configuredStart) 开始，且不超过 UpperBound-BandSize。
func StartFromStore(store MaxNumberStore, scope string, configuredStart int64) func(ctx context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		previous, ok, err := store.MaxNumber(ctx, scope, UpperBound)
		if err != nil {
			return 0, err
		}
		if ok {
			return previous + 1, nil
		}
		return min(max(1, configuredStart), UpperBound-BandSize), nil
	}
}

// Random 在 [UpperBound, 2*UpperBound) 中均匀抽取一个编号。
// 随机模式不经过缓存也不需要串行队列，接受理论上的碰撞概率。
func Random() int64 {
	return UpperBound + rand.Int64N(UpperBound)
}

// MemoryCache 是进程内的 Cache 实现
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]int64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]int64)}
}

func (m *MemoryCache) Get(_ context.Context, scope string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[scope]
	return v, ok, nil
}

func (m *MemoryCache) Claim(_ context.Context, scope string, start int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := m.items[scope]
	if !ok {
		next = start
	}
	m.items[scope] = next + 1
	return next, nil
}

func (m *MemoryCache) Delete(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, scope)
	return nil
}

func (m *MemoryCache) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.items)
	return nil
}
