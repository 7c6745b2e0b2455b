package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

var errNoAdapters = errors.New("llm chain has no configured adapters")

// Chain is primary -> with_fallbacks(fallback1, fallback2, ...) -> timeout,
// per spec §4.5/§6.2. On fallback the decision degrades but the cycle
// continues. Any adapter failure, ErrKindAuth included, moves on to the
// next adapter; only an expired call timeout stops the chain early.
type Chain interface {
	Complete(ctx context.Context, req Request) (Result, bool, error) // bool = true if a fallback was used
}

type chain struct {
	adapters []Adapter
	cache    *promptCache
}

// NewChain builds a fallback chain: the first adapter is primary, the
// rest are tried in order on failure.
func NewChain(adapters ...Adapter) Chain {
	return &chain{adapters: adapters, cache: newPromptCache()}
}

func (c *chain) Complete(ctx context.Context, req Request) (Result, bool, error) {
	if len(c.adapters) == 0 {
		return Result{}, false, &CallError{Kind: ErrKindAuth, Provider: "none", Wrapped: errNoAdapters}
	}
	if cached, ok := c.cache.get(req); ok {
		return cached, false, nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for i, a := range c.adapters {
		res, err := a.Complete(callCtx, req)
		if err == nil {
			c.cache.put(req, res)
			return res, i > 0, nil
		}
		lastErr = err
		if callCtx.Err() != nil {
			return Result{}, i > 0, &CallError{Kind: ErrKindTimeout, Provider: a.Name(), Wrapped: callCtx.Err()}
		}
	}
	return Result{}, len(c.adapters) > 1, lastErr
}

// promptCache holds identical-prompt results within one cycle; it is not
// reused across cycles (spec §4.5 Cache contract): the debate node calls
// Reset on its chains at the start of every run.
type promptCache struct {
	mu   sync.Mutex
	data map[string]Result
}

func newPromptCache() *promptCache { return &promptCache{data: make(map[string]Result)} }

func (p *promptCache) key(req Request) string {
	h := sha256.Sum256([]byte(req.Prompt))
	return hex.EncodeToString(h[:])
}

func (p *promptCache) get(req Request) (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.data[p.key(req)]
	return r, ok
}

func (p *promptCache) put(req Request, res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[p.key(req)] = res
}

// Reset clears the per-cycle prompt cache; call at the start of each new
// cycle so cross-cycle identical prompts are not served stale.
func Reset(c Chain) {
	if ch, ok := c.(*chain); ok {
		ch.cache = newPromptCache()
	}
}
