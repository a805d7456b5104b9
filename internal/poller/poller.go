package poller

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"lighter-broadcaster/internal/cache"
	"lighter-broadcaster/internal/errlog"
	"lighter-broadcaster/internal/health"
	"lighter-broadcaster/internal/lighter"
	"lighter-broadcaster/internal/model"
	"lighter-broadcaster/internal/retry"
)

// Account identifies the account a poller works for.
type Account struct {
	Index    int
	Name     string
	HasProxy bool
}

// Store is the optional persistence sink for periodic snapshots.
type Store interface {
	SaveSnapshot(ctx context.Context, state model.AccountState, orders []model.Order) error
}

// Broadcaster is nudged whenever a poll changes the cache.
type Broadcaster interface {
	Publish()
}

// Config holds poller configuration.
type Config struct {
	StateInterval    time.Duration // Account state poll interval (default: 500ms)
	OrdersInterval   time.Duration // Active orders poll interval (default: 2s)
	Timeout          time.Duration // Per-request timeout (default: 30s)
	SnapshotInterval time.Duration // Persistence cadence (default: 60s)
	Retry            retry.Config  // Retry schedule for this account
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StateInterval:    500 * time.Millisecond,
		OrdersInterval:   2 * time.Second,
		Timeout:          30 * time.Second,
		SnapshotInterval: 60 * time.Second,
		Retry:            retry.DefaultConfig(),
	}
}

// Deps are the collaborators a poller writes to.
type Deps struct {
	Client  *lighter.Client
	Cache   *cache.Cache
	Tracker *health.Tracker
	Errors  *errlog.Collector
	Store   Store       // nil disables persistence
	Hub     Broadcaster // nil disables broadcast nudges
}

// Poller polls the venue REST API for one account.
type Poller struct {
	cfg     Config
	account Account
	deps    Deps
	machine *retry.Machine
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	polling     atomic.Bool
	lastPersist time.Time // stateLoop goroutine only
}

// New creates a poller for one account.
func New(cfg Config, account Account, deps Deps, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		account: account,
		deps:    deps,
		machine: retry.NewMachine(cfg.Retry),
		logger:  logger.With("account", account.Index),
	}
}

// Machine exposes the account's retry machine.
func (p *Poller) Machine() *retry.Machine {
	return p.machine
}

// Record returns the poller's health record.
func (p *Poller) Record() health.Record {
	return health.Record{
		AccountIndex: p.account.Index,
		AccountName:  p.account.Name,
		HasProxy:     p.account.HasProxy,
		Stats:        p.machine.Snapshot(),
		Polling:      p.polling.Load(),
	}
}

// Start begins the polling loops.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.polling.Store(true)

	p.wg.Add(2)
	go p.stateLoop()
	go p.ordersLoop()

	p.logger.Info("poller started",
		"state_interval", p.cfg.StateInterval,
		"orders_interval", p.cfg.OrdersInterval,
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	p.polling.Store(false)
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stateLoop polls balance and positions.
func (p *Poller) stateLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.StateInterval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollState()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollState()
		}
	}
}

// ordersLoop polls active orders across position markets.
func (p *Poller) ordersLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.OrdersInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollOrders()
		}
	}
}

// pollState fetches the account state and caches it. The retry machine
// gates attempts; a gated tick is a silent skip so the cadence resumes
// the moment the machine allows it again.
func (p *Poller) pollState() {
	if !p.machine.ShouldAttempt(time.Now()) {
		p.logger.Debug("state poll gated by retry wait")
		return
	}
	if p.machine.State() == retry.StateIdle {
		p.machine.Connecting()
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	state, err := p.deps.Client.Account(ctx, p.account.Index)
	if err != nil {
		p.recordFailure(err)
		return
	}
	state.Name = p.account.Name

	p.machine.Success()
	p.deps.Tracker.RecordRESTRequest()
	p.deps.Cache.Put(cache.AccountKey(p.account.Index), state)
	if p.deps.Hub != nil {
		p.deps.Hub.Publish()
	}
	p.maybePersist(state)
}

// pollOrders fans out one active-orders request per position market.
// Each request is individually counted by the retry machine, matching
// how the venue sees them.
func (p *Poller) pollOrders() {
	if !p.machine.ShouldAttempt(time.Now()) {
		return
	}

	lookup, ok := p.deps.Cache.Get(cache.AccountKey(p.account.Index))
	if !ok {
		return
	}
	state, ok := lookup.Value.(model.AccountState)
	if !ok {
		return
	}
	marketIDs := state.PositionMarketIDs()
	if len(marketIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	var mu sync.Mutex
	var all []model.Order

	// Plain group: one failed market must not cancel the others.
	var g errgroup.Group
	for _, marketID := range marketIDs {
		g.Go(func() error {
			orders, err := p.deps.Client.ActiveOrders(ctx, p.account.Index, marketID)
			if err != nil {
				p.recordFailure(err)
				return err
			}
			p.machine.Success()
			p.deps.Tracker.RecordRESTRequest()

			mu.Lock()
			all = append(all, orders...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Warn("orders poll incomplete", "markets", len(marketIDs), "err", err)
		return
	}

	p.deps.Cache.Put(cache.OrdersKey(p.account.Index), all)
	if p.deps.Hub != nil {
		p.deps.Hub.Publish()
	}
}

func (p *Poller) recordFailure(err error) {
	p.machine.Failure(err)
	p.deps.Errors.Add(errlog.SourceREST, strconv.Itoa(p.account.Index), errlog.TypeRequest, err.Error())
	p.logger.Warn("poll failed",
		"err", err,
		"consecutive_failures", p.machine.Snapshot().ConsecutiveFailures,
	)
}

// maybePersist writes a periodic snapshot to the store, off the poll
// path.
func (p *Poller) maybePersist(state model.AccountState) {
	if p.deps.Store == nil || p.cfg.SnapshotInterval <= 0 {
		return
	}
	if time.Since(p.lastPersist) < p.cfg.SnapshotInterval {
		return
	}
	p.lastPersist = time.Now()

	var orders []model.Order
	if lookup, ok := p.deps.Cache.Get(cache.OrdersKey(p.account.Index)); ok {
		if cached, ok := lookup.Value.([]model.Order); ok {
			orders = cached
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
		defer cancel()

		if err := p.deps.Store.SaveSnapshot(ctx, state, orders); err != nil {
			p.deps.Errors.Add(errlog.SourceSystem, strconv.Itoa(p.account.Index), errlog.TypeStorage, err.Error())
			p.logger.Warn("snapshot persist failed", "err", err)
		}
	}()
}
