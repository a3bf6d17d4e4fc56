package sandbox

import (
	"context"
	"runtime"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/patrickmn/go-cache"

	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/internal/metrics"
	"github.com/ytget/ytresolve/types"
	"github.com/ytget/ytresolve/youtube/cipher"
)

// Cache defaults.
const (
	DefaultCapacity    = 16
	DefaultNegativeTTL = 30 * time.Second
)

// ScriptFetcher returns the player script source. It is called at most once
// per build, and only when no stored fragments compile.
type ScriptFetcher func(ctx context.Context) (string, error)

// Config configures a Cache. Zero values select the defaults.
type Config struct {
	// Engine is EngineGoja or EngineOtto.
	Engine      string
	Capacity    int
	NegativeTTL time.Duration
	EvalTimeout time.Duration
	// Concurrency bounds synthesis, compilation and evaluation. Defaults to
	// GOMAXPROCS.
	Concurrency int
	Store       FragmentStore
	Synthesizer *cipher.Synthesizer
}

// Cache holds compiled programs by player version. Concurrent Get calls for
// the same key share one build; failed builds are remembered for
// NegativeTTL; only successful builds are inserted.
type Cache struct {
	engine Engine
	synth  *cipher.Synthesizer
	store  FragmentStore
	sem    *semaphore

	mu       sync.Mutex
	gen      uint64
	programs *lru.Cache[types.PlayerVersionKey, *Program]
	failures *cache.Cache
	inflight map[types.PlayerVersionKey]*call
}

type call struct {
	done chan struct{}
	prog *Program
	err  error
	// abandoned is set when the leader's context ended before the build
	// completed; waiters start over instead of sharing the error.
	abandoned bool
}

// NewCache creates an empty cache.
func NewCache(cfg Config) (*Cache, error) {
	engine, err := NewEngine(cfg.Engine, cfg.EvalTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = DefaultNegativeTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	synth := cfg.Synthesizer
	if synth == nil {
		synth = cipher.NewSynthesizer()
	}
	programs, err := lru.NewWithEvict(cfg.Capacity, func(key types.PlayerVersionKey, _ *Program) {
		logger.WithComponent(logger.ComponentSandbox).Debug("evicted program", map[string]interface{}{
			"key": string(key),
		})
	})
	if err != nil {
		return nil, err
	}
	return &Cache{
		engine:   engine,
		synth:    synth,
		store:    cfg.Store,
		sem:      newSemaphore(cfg.Concurrency),
		programs: programs,
		failures: cache.New(cfg.NegativeTTL, 2*cfg.NegativeTTL),
		inflight: make(map[types.PlayerVersionKey]*call),
	}, nil
}

// Engine returns the name of the engine programs are compiled for.
func (c *Cache) Engine() string { return c.engine.Name() }

// Len returns the number of cached programs.
func (c *Cache) Len() int { return c.programs.Len() }

// Get returns the program for key, building it with fetch when it is not
// cached. The cache lock is never held while building.
func (c *Cache) Get(ctx context.Context, key types.PlayerVersionKey, fetch ScriptFetcher) (*Program, error) {
	for {
		c.mu.Lock()
		if p, ok := c.programs.Get(key); ok {
			c.mu.Unlock()
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return p, nil
		}
		if v, ok := c.failures.Get(string(key)); ok {
			c.mu.Unlock()
			metrics.CacheLookups.WithLabelValues("negative").Inc()
			return nil, v.(error)
		}
		if cl, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			metrics.CacheLookups.WithLabelValues("shared").Inc()
			select {
			case <-cl.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if cl.abandoned {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				continue
			}
			return cl.prog, cl.err
		}

		cl := &call{done: make(chan struct{})}
		c.inflight[key] = cl
		gen := c.gen
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues("miss").Inc()

		cl.prog, cl.err = c.build(ctx, key, fetch)
		cl.abandoned = cl.err != nil && ctx.Err() != nil

		c.mu.Lock()
		if c.inflight[key] == cl {
			delete(c.inflight, key)
		}
		if c.gen == gen {
			switch {
			case cl.err == nil:
				c.programs.Add(key, cl.prog)
			case !cl.abandoned:
				c.failures.SetDefault(string(key), cl.err)
			}
		}
		metrics.CacheEntries.Set(float64(c.programs.Len()))
		c.mu.Unlock()
		close(cl.done)
		return cl.prog, cl.err
	}
}

// Reset drops every program and remembered failure. Builds already in
// flight complete for their callers but are not inserted.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.programs.Purge()
	c.failures.Flush()
	c.inflight = make(map[types.PlayerVersionKey]*call)
	metrics.CacheEntries.Set(0)
}

func (c *Cache) build(ctx context.Context, key types.PlayerVersionKey, fetch ScriptFetcher) (*Program, error) {
	log := logger.WithComponent(logger.ComponentSandbox).With(map[string]interface{}{
		"key":    string(key),
		"engine": c.engine.Name(),
	})
	start := time.Now()
	defer func() {
		metrics.CompileSeconds.WithLabelValues(c.engine.Name()).Observe(time.Since(start).Seconds())
	}()

	if frags := c.loadStored(key); frags != nil {
		p, err := c.compile(ctx, key, frags)
		if err == nil {
			log.Debug("compiled stored fragments")
			return p, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		log.Warn("stored fragments do not compile, synthesizing", map[string]interface{}{"error": err.Error()})
	}

	script, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	release, err := c.sem.acquire(ctx)
	if err != nil {
		return nil, err
	}
	frags, err := c.synth.Synthesize(script)
	release()
	if err != nil {
		log.Warn("synthesis failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	p, err := c.compile(ctx, key, frags)
	if err != nil {
		log.Warn("compilation failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	if c.store != nil {
		if err := c.store.Save(key, frags); err != nil {
			log.Warn("saving fragments failed", map[string]interface{}{"error": err.Error()})
		}
	}
	log.Info("built decode program", map[string]interface{}{
		"signature": frags.Signature.Entry,
		"n":         frags.N.Entry,
		"took":      time.Since(start).String(),
	})
	return p, nil
}

func (c *Cache) compile(ctx context.Context, key types.PlayerVersionKey, frags *cipher.Fragments) (*Program, error) {
	release, err := c.sem.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	p, err := Compile(ctx, c.engine, key, frags)
	if err != nil {
		return nil, err
	}
	p.sem = c.sem
	return p, nil
}

func (c *Cache) loadStored(key types.PlayerVersionKey) *cipher.Fragments {
	if c.store == nil {
		return nil
	}
	frags, ok, err := c.store.Load(key)
	if err != nil {
		logger.WithComponent(logger.ComponentSandbox).Warn("loading stored fragments failed", map[string]interface{}{
			"key":   string(key),
			"error": err.Error(),
		})
		return nil
	}
	if !ok {
		return nil
	}
	return frags
}
