package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability/logctx"
	"golang.org/x/sync/singleflight"
)

const customerOperation = "customer"

// DirectoryOption configures a CustomerDirectory.
type DirectoryOption func(*CustomerDirectory)

// WithRequestCounter counts lookups as cache_requests_total{cache,outcome}.
func WithRequestCounter(c observability.Counter) DirectoryOption {
	return func(d *CustomerDirectory) {
		if c != nil {
			d.requests = c
		}
	}
}

// CustomerDirectory reads customers through a cache. Cache failures degrade to
// the underlying directory; missing customers are never cached.
type CustomerDirectory struct {
	next  customer.Directory
	cache Cache
	ttl   time.Duration
	log   observability.Logger

	requests observability.Counter
	group    singleflight.Group
}

var _ customer.Directory = (*CustomerDirectory)(nil)

func NewCustomerDirectory(next customer.Directory, c Cache, ttl time.Duration, log observability.Logger, opts ...DirectoryOption) *CustomerDirectory {
	if log == nil {
		log = observability.NopLogger()
	}
	d := &CustomerDirectory{next: next, cache: c, ttl: ttl, log: log, requests: observability.NopCounter()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *CustomerDirectory) count(outcome string) {
	d.requests.Add(1, observability.L("cache", customerOperation), observability.L("outcome", outcome))
}

func (d *CustomerDirectory) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	logger := logctx.FromOr(ctx, d.log)
	key := d.cache.GenerateKey(customerOperation, id)

	if raw, ok, err := d.cache.Get(ctx, key); err != nil {
		d.count("error")
		logger.Warn("cache_get_failed", observability.F("key", key), observability.F("error", err.Error()))
	} else if ok {
		var c customer.Customer
		if err := json.Unmarshal([]byte(raw), &c); err == nil {
			d.count("hit")
			return &c, nil
		}
		d.count("error")
		logger.Warn("cache_entry_corrupt", observability.F("key", key))
	} else {
		d.count("miss")
	}

	v, err, _ := d.group.Do(key, func() (any, error) {
		return d.next.FindByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	found, _ := v.(*customer.Customer)
	if found == nil {
		return nil, customer.ErrNotFound
	}

	if payload, err := json.Marshal(found); err == nil {
		if err := d.cache.Set(ctx, key, string(payload), d.ttl); err != nil {
			logger.Warn("cache_set_failed", observability.F("key", key), observability.F("error", err.Error()))
		}
	}

	clone := *found
	return &clone, nil
}

// Invalidate drops the cached entry for id.
func (d *CustomerDirectory) Invalidate(ctx context.Context, id string) error {
	return d.cache.Delete(ctx, d.cache.GenerateKey(customerOperation, id))
}
