package market

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"langtrader-core/internal/events"
	"langtrader-core/pkg/exchanges/common"
)

// Channel names a stream kind for a symbol.
type Channel string

const (
	ChannelTicker Channel = "ticker"
	ChannelTrades Channel = "trades"
)

// SubState is the subscription lifecycle per spec §3 Subscription.
type SubState string

const (
	SubPending        SubState = "pending"
	SubActive         SubState = "active"
	SubFailed         SubState = "failed"
	SubRetryScheduled SubState = "retry_scheduled"
	SubDead           SubState = "dead"
)

// Key identifies one (symbol, channel) subscription slot.
type Key struct {
	Symbol  string
	Channel Channel
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.Symbol, k.Channel) }

type subscription struct {
	mu          sync.Mutex
	state       SubState
	retries     int
	lastAttempt time.Time
	cancel      context.CancelFunc
}

// Stats is the exposed subscription-table telemetry per spec §4.4.
type Stats struct {
	Active          int
	FailedRetries   int
	LastReconcileAt time.Time
}

const maxRetries = 5

func backoffFor(retry int) time.Duration {
	d := time.Duration(1) << uint(retry) // 2^retry seconds
	if d > 60 {
		d = 60
	}
	return d * time.Second
}

// StreamManager reconciles the desired (symbol, channel) subscription set
// against the exchange's WebSocket streams every cycle, per spec §4.4.
type StreamManager struct {
	tableMu sync.Mutex // guards add/remove of entries in subs/current/failed
	subs    map[Key]*subscription
	current map[Key]bool
	failed  map[Key]bool

	gateway common.Gateway
	bus     *events.Bus
}

// NewStreamManager builds a manager bound to one exchange gateway.
func NewStreamManager(gw common.Gateway, bus *events.Bus) *StreamManager {
	return &StreamManager{
		subs:    make(map[Key]*subscription),
		current: make(map[Key]bool),
		failed:  make(map[Key]bool),
		gateway: gw,
		bus:     bus,
	}
}

// Reconcile applies spec §4.4's algorithm: subscribe to new-or-previously-
// failed symbols, unsubscribe from no-longer-desired ones, and garbage
// collect lock objects that fell out of both sets.
func (m *StreamManager) Reconcile(ctx context.Context, desired map[Key]bool) Stats {
	m.tableMu.Lock()
	var toSubscribe, toUnsubscribe []Key
	for k := range desired {
		if !m.current[k] || m.failed[k] {
			toSubscribe = append(toSubscribe, k)
		}
	}
	for k := range m.current {
		if !desired[k] {
			toUnsubscribe = append(toUnsubscribe, k)
		}
	}
	m.tableMu.Unlock()

	for _, k := range toSubscribe {
		if err := m.subscribeOne(ctx, k); err != nil {
			m.tableMu.Lock()
			m.failed[k] = true
			m.tableMu.Unlock()
			log.Printf("market: subscribe %s failed: %v", k, err)
			continue
		}
		m.tableMu.Lock()
		delete(m.failed, k)
		m.current[k] = true
		m.tableMu.Unlock()
	}

	for _, k := range toUnsubscribe {
		m.unsubscribeOne(k)
		m.tableMu.Lock()
		delete(m.current, k)
		m.tableMu.Unlock()
	}

	m.gcStaleLocks(desired)

	return m.snapshotStats()
}

// subscribeOne attempts to establish one stream. The per-subscription
// lock is held only for the state transition, not the long-lived watch
// (spec §4.4 invariant a).
func (m *StreamManager) subscribeOne(ctx context.Context, k Key) error {
	sub := m.getOrCreate(k)
	sub.mu.Lock()
	if sub.state == SubActive {
		sub.mu.Unlock()
		return nil
	}
	if sub.state == SubRetryScheduled && time.Since(sub.lastAttempt) < backoffFor(sub.retries) {
		sub.mu.Unlock()
		return fmt.Errorf("backoff not elapsed for %s", k)
	}
	sub.state = SubPending
	sub.lastAttempt = time.Now()
	sub.mu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)

	var err error
	var stop func()
	switch k.Channel {
	case ChannelTicker:
		var ch <-chan common.Ticker
		ch, err = m.gateway.WatchTicker(watchCtx, k.Symbol)
		if err == nil {
			go m.drainTickers(k, ch)
		}
	case ChannelTrades:
		var ch <-chan common.Fill
		ch, err = m.gateway.WatchTrades(watchCtx, k.Symbol)
		if err == nil {
			go m.drainTrades(k, ch)
		}
	default:
		err = fmt.Errorf("unknown channel %q", k.Channel)
	}
	_ = stop

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if err != nil {
		cancel()
		sub.retries++
		if sub.retries >= maxRetries {
			sub.state = SubDead
		} else {
			sub.state = SubRetryScheduled
		}
		return err
	}
	sub.cancel = cancel
	sub.retries = 0
	sub.state = SubActive
	m.bus.Publish(events.EventSubscriptionChanged, k.String())
	return nil
}

func (m *StreamManager) unsubscribeOne(k Key) {
	m.tableMu.Lock()
	sub, ok := m.subs[k]
	m.tableMu.Unlock()
	if !ok {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.cancel != nil {
		sub.cancel()
		sub.cancel = nil
	}
	sub.state = SubDead
	m.bus.Publish(events.EventSubscriptionChanged, k.String())
}

func (m *StreamManager) getOrCreate(k Key) *subscription {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	sub, ok := m.subs[k]
	if !ok {
		sub = &subscription{state: SubPending}
		m.subs[k] = sub
	}
	return sub
}

// gcStaleLocks drops lock objects for keys no longer in the active or
// failed set, preventing unbounded growth (spec §4.4 invariant b).
func (m *StreamManager) gcStaleLocks(desired map[Key]bool) {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	for k := range m.subs {
		if m.current[k] || m.failed[k] || desired[k] {
			continue
		}
		delete(m.subs, k)
	}
}

func (m *StreamManager) snapshotStats() Stats {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	return Stats{Active: len(m.current), FailedRetries: len(m.failed), LastReconcileAt: time.Now()}
}

func (m *StreamManager) drainTickers(k Key, ch <-chan common.Ticker) {
	for t := range ch {
		m.bus.Publish(events.EventPriceTick, t)
	}
}

func (m *StreamManager) drainTrades(k Key, ch <-chan common.Fill) {
	for f := range ch {
		m.bus.Publish(events.EventPriceTick, f)
	}
}

// DesiredSet builds the D set from spec §4.4: symbols_trading ∪
// positions.symbols, each against both channels.
func DesiredSet(symbolsTrading []string, positionSymbols []string) map[Key]bool {
	seen := make(map[string]bool, len(symbolsTrading)+len(positionSymbols))
	d := make(map[Key]bool, (len(symbolsTrading)+len(positionSymbols))*2)
	add := func(sym string) {
		if seen[sym] {
			return
		}
		seen[sym] = true
		d[Key{Symbol: sym, Channel: ChannelTicker}] = true
		d[Key{Symbol: sym, Channel: ChannelTrades}] = true
	}
	for _, s := range symbolsTrading {
		add(s)
	}
	for _, s := range positionSymbols {
		add(s)
	}
	return d
}
