package book

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Registry maps a symbol to its OrderBook, creating books lazily. Each book
// runs its own loop, so commands for different symbols proceed fully in
// parallel with no shared state.
type Registry struct {
	isShutdown atomic.Bool
	books      sync.Map
	publisher  EventPublisher
	opts       []OrderBookOption
}

// NewRegistry creates a registry whose books share one event publisher and
// one set of book options.
func NewRegistry(publisher EventPublisher, opts ...OrderBookOption) *Registry {
	return &Registry{
		publisher: publisher,
		opts:      opts,
	}
}

// Book returns the order book for the symbol, creating and starting it on
// first use.
func (r *Registry) Book(symbol string) *OrderBook {
	if existing, found := r.books.Load(symbol); found {
		return existing.(*OrderBook)
	}

	newBook := NewOrderBook(symbol, r.publisher, r.opts...)
	actual, loaded := r.books.LoadOrStore(symbol, newBook)
	if !loaded {
		logger.Info().Str("symbol", symbol).Msg("order book created")
		go func() {
			_ = newBook.Start()
		}()
	}

	return actual.(*OrderBook)
}

// Insert routes the order to its symbol's book.
func (r *Registry) Insert(ctx context.Context, order Order) error {
	if r.isShutdown.Load() {
		return ErrShutdown
	}
	if len(order.Symbol) == 0 {
		return ErrInvalidParam
	}
	return r.Book(order.Symbol).Insert(ctx, order)
}

// Cancel routes the cancellation to the symbol's book.
func (r *Registry) Cancel(ctx context.Context, symbol, id string) error {
	if r.isShutdown.Load() {
		return ErrShutdown
	}
	book, err := r.lookup(symbol)
	if err != nil {
		return err
	}
	return book.Cancel(ctx, id)
}

// Modify routes the modification to its symbol's book.
func (r *Registry) Modify(ctx context.Context, order Order) error {
	if r.isShutdown.Load() {
		return ErrShutdown
	}
	book, err := r.lookup(order.Symbol)
	if err != nil {
		return err
	}
	return book.Modify(ctx, order)
}

// Match runs the matching algorithm on the symbol's book.
func (r *Registry) Match(ctx context.Context, symbol string) ([]TradeReport, error) {
	if r.isShutdown.Load() {
		return nil, ErrShutdown
	}
	book, err := r.lookup(symbol)
	if err != nil {
		return nil, err
	}
	return book.Match(ctx)
}

// MatchOrder executes an aggressive order against the symbol's book.
func (r *Registry) MatchOrder(ctx context.Context, order Order) (*MatchResult, error) {
	if r.isShutdown.Load() {
		return nil, ErrShutdown
	}
	if len(order.Symbol) == 0 {
		return nil, ErrInvalidParam
	}
	return r.Book(order.Symbol).MatchOrder(ctx, order)
}

// lookup returns the existing book for a symbol. Cancel/modify/match against
// a symbol that never saw an insert is an OrderNotFound, not a reason to
// create an empty book.
func (r *Registry) lookup(symbol string) (*OrderBook, error) {
	if existing, found := r.books.Load(symbol); found {
		return existing.(*OrderBook), nil
	}
	return nil, ErrOrderNotFound
}

// Shutdown gracefully shuts down all books in parallel and waits for each to
// drain. Returns the joined errors, if any.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.isShutdown.Store(true)

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	r.books.Range(func(key, value any) bool {
		wg.Add(1)
		go func(symbol string, book *OrderBook) {
			defer wg.Done()
			if err := book.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(key.(string), value.(*OrderBook))
		return true
	})

	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
