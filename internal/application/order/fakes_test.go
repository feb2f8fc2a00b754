package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-orders/internal/domain/product"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type fakeDirectory struct {
	customers map[string]*customer.Customer
	err       error
}

func (d *fakeDirectory) FindByID(_ context.Context, id string) (*customer.Customer, error) {
	if d.err != nil {
		return nil, d.err
	}
	c, ok := d.customers[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

type fakeCatalog struct {
	mu        sync.Mutex
	products  map[string]*product.Product
	findErr   error
	updateErr error
	lookups   [][]string
	updates   [][]product.StockAdjustment
}

func newFakeCatalog(products ...*product.Product) *fakeCatalog {
	c := &fakeCatalog{products: map[string]*product.Product{}}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *fakeCatalog) FindAllByID(_ context.Context, ids []string) ([]*product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups = append(c.lookups, append([]string(nil), ids...))
	if c.findErr != nil {
		return nil, c.findErr
	}
	var out []*product.Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (c *fakeCatalog) UpdateQuantity(_ context.Context, adjustments []product.StockAdjustment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, append([]product.StockAdjustment(nil), adjustments...))
	if c.updateErr != nil {
		return c.updateErr
	}
	for _, a := range adjustments {
		c.products[a.ProductID].Quantity = a.Quantity
	}
	return nil
}

func (c *fakeCatalog) quantity(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.products[id].Quantity
}

type fakeStore struct {
	mu         sync.Mutex
	seq        int
	orders     map[string]*domain.Order
	createErr  error
	findErr    error
	cancelErrs []error
	cancels    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]*domain.Order{}}
}

func (s *fakeStore) Create(_ context.Context, c *customer.Customer, items []domain.LineItem) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.seq++
	o, err := domain.New(fmt.Sprintf("order-%d", s.seq), c, items)
	if err != nil {
		return nil, err
	}
	s.orders[o.ID] = o
	return o.Clone(), nil
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *fakeStore) Cancel(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, id)
	if len(s.cancelErrs) > 0 {
		err := s.cancelErrs[0]
		s.cancelErrs = s.cancelErrs[1:]
		if err != nil {
			return err
		}
	}
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Cancel(reason)
	return nil
}

func (s *fakeStore) get(id string) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Clone()
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type txKey struct{}

// fakeTx hands fn a marked context and discards the orders created inside a
// failed scope, like a rollback would.
type fakeTx struct {
	store     *fakeStore
	commitErr error
	calls     int
	rollbacks int
}

func (tx *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.calls++
	before := map[string]bool{}
	if tx.store != nil {
		tx.store.mu.Lock()
		for id := range tx.store.orders {
			before[id] = true
		}
		tx.store.mu.Unlock()
	}
	rollback := func() {
		tx.rollbacks++
		if tx.store == nil {
			return
		}
		tx.store.mu.Lock()
		defer tx.store.mu.Unlock()
		for id := range tx.store.orders {
			if !before[id] {
				delete(tx.store.orders, id)
			}
		}
	}

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		rollback()
		return err
	}
	if tx.commitErr != nil {
		rollback()
		return tx.commitErr
	}
	return nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, e domoutbox.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type labeledCounter struct {
	mu     sync.Mutex
	counts map[string]float64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{counts: map[string]float64{}}
}

func (c *labeledCounter) Add(d float64, labels ...observability.Label) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ""
	for _, l := range labels {
		key += l.Key + "=" + l.Value + ","
	}
	c.counts[key] += d
}

func (c *labeledCounter) get(labels ...observability.Label) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ""
	for _, l := range labels {
		key += l.Key + "=" + l.Value + ","
	}
	return c.counts[key]
}

type testMetrics struct {
	counters map[observability.MetricKey]*labeledCounter
}

func newTestMetrics() *testMetrics {
	return &testMetrics{counters: map[observability.MetricKey]*labeledCounter{
		observability.MUsecaseRequests:  newLabeledCounter(),
		observability.MExternalRequests: newLabeledCounter(),
		observability.MCompensations:    newLabeledCounter(),
	}}
}

func (m *testMetrics) Counter(name observability.MetricKey) observability.Counter {
	if c, ok := m.counters[name]; ok {
		return c
	}
	return observability.NopCounter()
}

func (m *testMetrics) Histogram(observability.MetricKey) observability.Histogram {
	return observability.NopHistogram()
}

type testObservability struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics *testMetrics
}

func (o testObservability) Tracer() observability.Tracer   { return o.tracer }
func (o testObservability) Logger() observability.Logger   { return o.logger }
func (o testObservability) Metrics() observability.Metrics { return o.metrics }

func mustProduct(id string, price string, qty int) *product.Product {
	p, err := product.New(id, "product "+id, decimal.RequireFromString(price), qty)
	if err != nil {
		panic(err)
	}
	return p
}

func testCustomer(id string) *customer.Customer {
	return &customer.Customer{ID: id, Name: "Customer " + id, Email: id + "@example.com", CreatedAt: time.Now().UTC()}
}
