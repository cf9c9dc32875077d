// Package assets loads and memoizes model templates and hands out independent
// instances of them.
package assets

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"holding-parade/server/internal/render"
	"holding-parade/server/internal/telemetry"
)

// ErrAssetLoad marks a model that could not be loaded after all retries.
var ErrAssetLoad = errors.New("asset load failed")

// RetryPolicy bounds how often a failing load is retried.
type RetryPolicy struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxTries == 0 {
		p.MaxTries = def.MaxTries
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// Record is a loaded template. It is shared by every requester of its key and
// never mutated after it is stored.
type Record struct {
	Key      string
	Template render.Node
	Clips    []render.Clip
}

// Instance is an independent clone of a Record's template. Skeletal and
// animation state belong to the clone alone.
type Instance struct {
	Key   string
	Node  render.Node
	Clips []render.Clip
}

// Clip returns the clip named name, or the first clip when none matches.
func (i Instance) Clip(name string) (render.Clip, bool) {
	for _, clip := range i.Clips {
		if clip.Name == name {
			return clip, true
		}
	}
	if len(i.Clips) > 0 {
		return i.Clips[0], true
	}
	return render.Clip{}, false
}

// Cache memoizes records by key for the lifetime of the process. Concurrent
// loads of a key that is not yet cached share one underlying load.
type Cache struct {
	loader render.ModelLoader
	policy RetryPolicy
	logger telemetry.Logger

	mu      sync.RWMutex
	records map[string]*Record
	group   singleflight.Group
}

func NewCache(loader render.ModelLoader, policy RetryPolicy, logger telemetry.Logger) *Cache {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Cache{
		loader:  loader,
		policy:  policy.normalized(),
		logger:  logger,
		records: make(map[string]*Record),
	}
}

// Load returns a fresh instance of key, loading it from locator the first time.
func (c *Cache) Load(ctx context.Context, key, locator string) (Instance, error) {
	record, err := c.record(ctx, key, locator)
	if err != nil {
		return Instance{}, err
	}
	node := c.loader.CloneInstantiable(record.Template)
	if node == nil {
		return Instance{}, errors.Mark(errors.Newf("clone %s: renderer returned no node", key), ErrAssetLoad)
	}
	return Instance{
		Key:   key,
		Node:  node,
		Clips: append([]render.Clip(nil), record.Clips...),
	}, nil
}

// Cached returns the stored record for key.
func (c *Cache) Cached(key string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.records[key]
	return record, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Cache) record(ctx context.Context, key, locator string) (*Record, error) {
	if record, ok := c.Cached(key); ok {
		return record, nil
	}
	result := c.group.DoChan(key, func() (any, error) {
		if record, ok := c.Cached(key); ok {
			return record, nil
		}
		record, err := c.fetch(ctx, key, locator)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.records[key] = record
		c.mu.Unlock()
		return record, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Record), nil
	}
}

func (c *Cache) fetch(ctx context.Context, key, locator string) (*Record, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.policy.InitialInterval
	policy.MaxInterval = c.policy.MaxInterval

	operation := func() (*Record, error) {
		node, clips, err := c.loader.LoadModel(ctx, locator)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return &Record{Key: key, Template: node, Clips: clips}, nil
	}
	record, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.policy.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Printf("asset %s: load from %s failed, retrying in %s: %v", key, locator, wait, err)
		}),
	)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "load %s from %s", key, locator), ErrAssetLoad)
	}
	return record, nil
}
