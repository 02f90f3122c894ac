package relay

import (
	"context"
	"sync"
	"time"

	"github.com/Routstr/sixty-nuts/nostr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Pool fans a publish/fetch operation out across every configured relay.
// burstMu serializes multi-relay bursts from the wallet's vantage point
// (§4.3); limiter enforces the minimum interval between such bursts.
type Pool struct {
	burstMu sync.Mutex
	limiter *rate.Limiter

	mu     sync.RWMutex
	relays map[string]*Relay
}

// NewPool constructs a Pool with no relays connected yet; call Add for
// each configured relay URL. minBurstInterval is the minimum spacing
// between multi-relay bursts (§5 rate limiting).
func NewPool(minBurstInterval time.Duration) *Pool {
	if minBurstInterval <= 0 {
		minBurstInterval = time.Second
	}
	return &Pool{
		limiter: rate.NewLimiter(rate.Every(minBurstInterval), 1),
		relays:  make(map[string]*Relay),
	}
}

// Add dials url, if not already connected, and keeps the connection for
// future bursts.
func (p *Pool) Add(ctx context.Context, url string) error {
	p.mu.RLock()
	_, ok := p.relays[url]
	p.mu.RUnlock()
	if ok {
		return nil
	}

	r, err := New(ctx, url)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if _, ok := p.relays[url]; ok {
		p.mu.Unlock()
		r.Close()
		return nil
	}
	p.relays[url] = r
	p.mu.Unlock()
	return nil
}

// URLs returns the set of relay URLs currently connected.
func (p *Pool) URLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	urls := make([]string, 0, len(p.relays))
	for u := range p.relays {
		urls = append(urls, u)
	}
	return urls
}

// Close tears down every relay connection in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, r := range p.relays {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.relays = make(map[string]*Relay)
	return firstErr
}

func (p *Pool) snapshot() []*Relay {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Relay, 0, len(p.relays))
	for _, r := range p.relays {
		out = append(out, r)
	}
	return out
}

func (p *Pool) throttle(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// PublishAll sends event to every connected relay in parallel, waits for
// all of them to finish, and returns true if any relay acknowledged it
// (quorum = 1), per §4.3/§5.
func (p *Pool) PublishAll(ctx context.Context, event *nostr.Event) (accepted bool, err error) {
	p.burstMu.Lock()
	defer p.burstMu.Unlock()
	if err := p.throttle(ctx); err != nil {
		return false, err
	}

	relays := p.snapshot()
	if len(relays) == 0 {
		return false, ErrUnreachable
	}

	var mu sync.Mutex
	var lastErr error
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range relays {
		r := r
		g.Go(func() error {
			ok, pubErr := r.Publish(gctx, event)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				accepted = true
			}
			if pubErr != nil {
				lastErr = pubErr
			}
			return nil
		})
	}
	_ = g.Wait()

	if !accepted {
		if lastErr != nil {
			return false, lastErr
		}
		return false, ErrUnreachable
	}
	return true, nil
}

// FetchAll queries every connected relay in parallel and returns the
// best-effort union of events, deduplicated by event id.
func (p *Pool) FetchAll(ctx context.Context, filters []nostr.Filter) ([]*nostr.Event, error) {
	p.burstMu.Lock()
	defer p.burstMu.Unlock()
	if err := p.throttle(ctx); err != nil {
		return nil, err
	}

	relays := p.snapshot()
	if len(relays) == 0 {
		return nil, ErrUnreachable
	}

	results := make([][]*nostr.Event, len(relays))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range relays {
		i, r := i, r
		g.Go(func() error {
			events, _ := r.Fetch(gctx, filters)
			results[i] = events
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var union []*nostr.Event
	for _, events := range results {
		for _, e := range events {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			union = append(union, e)
		}
	}
	return union, nil
}
