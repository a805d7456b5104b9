package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"lighter-broadcaster/internal/cache"
	"lighter-broadcaster/internal/errlog"
	"lighter-broadcaster/internal/health"
	"lighter-broadcaster/internal/model"
	"lighter-broadcaster/internal/normalize"
)

// Stream data outlives a dropped connection long enough to bridge a
// reconnect; trades stick around for the session history view.
const (
	positionsTTL = 2 * time.Minute
	ordersTTL    = 2 * time.Minute
	tradesTTL    = time.Hour

	storeTimeout = 10 * time.Second
)

// TradeStore persists freshly observed fills.
type TradeStore interface {
	SaveTrades(ctx context.Context, accountIndex int, trades []model.Trade) error
}

// Broadcaster is nudged whenever applied data changes the cache.
type Broadcaster interface {
	Publish()
}

// ApplierDeps are the sinks an Applier writes to. Store and Hub may be
// nil when persistence or broadcasting is disabled.
type ApplierDeps struct {
	Cache   *cache.Cache
	Tracker *health.Tracker
	Errors  *errlog.Collector
	Store   TradeStore
	Hub     Broadcaster
}

// Applier folds account-stream frames into the cache. One Applier is
// shared by all connections; per-account trade books live here so that
// a reconnect does not wipe trade history.
type Applier struct {
	deps   ApplierDeps
	logger *slog.Logger

	mu    sync.Mutex
	books map[int]*model.TradeBook

	wg sync.WaitGroup
}

// NewApplier creates an applier writing to the given sinks.
func NewApplier(deps ApplierDeps, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		deps:   deps,
		logger: logger,
		books:  make(map[int]*model.TradeBook),
	}
}

// Apply routes one data frame to its cache entry. Frames for channels
// that carry their own account index override the connection's.
func (a *Applier) Apply(accountIndex int, msg normalize.Message, raw []byte) {
	channel := msg.Channel
	if channel == "" {
		// Some frames carry the channel in the type, as
		// "update/account_all_trades:3".
		if i := strings.IndexByte(msg.Type, '/'); i >= 0 {
			channel = msg.Type[i+1:]
		}
	}

	kind, idx, ok := normalize.ParseChannel(channel)
	if !ok {
		return
	}
	if idx >= 0 {
		accountIndex = idx
	}

	switch kind {
	case normalize.KindPositions:
		positions, err := normalize.WSPositions(raw)
		if err != nil {
			a.parseError(accountIndex, err)
			return
		}
		a.deps.Cache.PutTTL(cache.WSPositionsKey(accountIndex), positions, positionsTTL)

	case normalize.KindOrders:
		orders, err := normalize.WSOrders(raw)
		if err != nil {
			a.parseError(accountIndex, err)
			return
		}
		a.deps.Cache.PutTTL(cache.WSOrdersKey(accountIndex), orders, ordersTTL)

	case normalize.KindTrades:
		byMarket, volumes, err := normalize.WSTrades(raw)
		if err != nil {
			a.parseError(accountIndex, err)
			return
		}
		book, fresh := a.mergeTrades(accountIndex, byMarket, volumes)
		a.deps.Cache.PutTTL(cache.WSTradesKey(accountIndex), book, tradesTTL)
		if len(fresh) > 0 && a.deps.Store != nil {
			a.persistTrades(accountIndex, fresh)
		}
	}

	if a.deps.Tracker != nil {
		a.deps.Tracker.RecordWSMessage()
	}
	if a.deps.Hub != nil {
		a.deps.Hub.Publish()
	}
}

// TradeBook returns a snapshot of one account's trade history.
func (a *Applier) TradeBook(accountIndex int) (model.TradeBook, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	book, ok := a.books[accountIndex]
	if !ok {
		return model.TradeBook{}, false
	}
	return book.Snapshot(), true
}

// Wait blocks until in-flight trade persistence finishes.
func (a *Applier) Wait() {
	a.wg.Wait()
}

func (a *Applier) mergeTrades(accountIndex int, byMarket map[string][]model.Trade, volumes model.Volumes) (model.TradeBook, []model.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	book, ok := a.books[accountIndex]
	if !ok {
		book = model.NewTradeBook()
		a.books[accountIndex] = book
	}

	var fresh []model.Trade
	for marketID, trades := range byMarket {
		fresh = append(fresh, book.Merge(marketID, trades, model.MaxTradesPerMarket)...)
	}

	if volumes.Total.Valid {
		book.Volumes.Total = volumes.Total
	}
	if volumes.Monthly.Valid {
		book.Volumes.Monthly = volumes.Monthly
	}
	if volumes.Weekly.Valid {
		book.Volumes.Weekly = volumes.Weekly
	}
	if volumes.Daily.Valid {
		book.Volumes.Daily = volumes.Daily
	}
	book.UpdatedAt = time.Now()

	return book.Snapshot(), fresh
}

// persistTrades writes new fills without blocking the read loop.
func (a *Applier) persistTrades(accountIndex int, trades []model.Trade) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		if err := a.deps.Store.SaveTrades(ctx, accountIndex, trades); err != nil {
			a.logger.Warn("trade persist failed", "account", accountIndex, "count", len(trades), "error", err)
			if a.deps.Errors != nil {
				a.deps.Errors.Add(errlog.SourceWS, strconv.Itoa(accountIndex), errlog.TypeStorage, err.Error())
			}
		}
	}()
}

func (a *Applier) parseError(accountIndex int, err error) {
	a.logger.Warn("unparseable stream frame", "account", accountIndex, "error", err)
	if a.deps.Errors != nil {
		a.deps.Errors.Add(errlog.SourceWS, strconv.Itoa(accountIndex), errlog.TypeParse, err.Error())
	}
}
