package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/quantops/vixroll/internal/models"
)

// MockStore implements Interface for testing.
type MockStore struct {
	mu sync.Mutex

	Quotes     map[string]*models.Quote // keyed symbol|date
	Securities []models.Security
	Orders     []models.Order
	LedgerData map[string][]string

	QuoteErr    error
	SecurityErr error
	OrderErr    error
	CreateErr   error
	SettleErr   error

	CreateCalls int
	SettleCalls int

	nextID int
}

// Ensure MockStore implements Interface.
var _ Interface = (*MockStore)(nil)

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		Quotes:     make(map[string]*models.Quote),
		LedgerData: make(map[string][]string),
	}
}

// AddQuote seeds a quote.
func (m *MockStore) AddQuote(q models.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Quotes[q.Symbol+"|"+q.Date] = &q
}

func (m *MockStore) GetQuote(_ context.Context, symbol, date string) (*models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QuoteErr != nil {
		return nil, m.QuoteErr
	}
	return m.Quotes[symbol+"|"+date], nil
}

func (m *MockStore) GetSecurities(_ context.Context, keys []SecurityKey) ([]models.Security, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SecurityErr != nil {
		return nil, m.SecurityErr
	}
	wanted := make(map[SecurityKey]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	out := []models.Security{}
	for _, sec := range m.Securities {
		if wanted[SecurityKey{Symbol: sec.Symbol, Broker: sec.Broker}] {
			out = append(out, sec)
		}
	}
	return out, nil
}

func (m *MockStore) GetOrdersBySymbolBroker(_ context.Context, symbol, broker string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	out := []models.Order{}
	for _, o := range m.Orders {
		if o.Symbol == symbol && o.Broker == broker {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockStore) CreateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if o.OrderID == "" {
		m.nextID++
		o.OrderID = fmt.Sprintf("mock-order-%d", m.nextID)
	}
	if o.TransactionTime == "" {
		o.TransactionTime = strconv.Itoa(1500000000 + m.nextID)
	}
	if o.Status == "" {
		o.Status = models.StatusPending
	}
	m.Orders = append(m.Orders, *o)
	return nil
}

func (m *MockStore) SettleOrder(_ context.Context, orderID, transactionTime string, status models.OrderStatus, trade *models.Trade) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SettleCalls++
	if m.SettleErr != nil {
		return false, m.SettleErr
	}
	for i := range m.Orders {
		o := &m.Orders[i]
		if o.OrderID != orderID || o.TransactionTime != transactionTime {
			continue
		}
		if o.Status != models.StatusPending {
			return false, nil
		}
		o.Status = status
		o.Trade = trade
		return true, nil
	}
	return false, nil
}

func (m *MockStore) LedgerHas(key, line string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.LedgerData[key] {
		if have == line {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) LedgerAppend(key, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LedgerData[key] = append(m.LedgerData[key], line)
	return nil
}

func (m *MockStore) Close() error { return nil }
