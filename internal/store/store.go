package store

import (
	"context"
	"errors"
	"sync"

	"noorsales/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOverReturn        = errors.New("return exceeds outstanding quantity")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
)

// Keys under which each collection is persisted.
const (
	KeyProducts        = "products"
	KeyCustomers       = "customers"
	KeyInvoices        = "invoices"
	KeyExpenses        = "expenses"
	KeyUsers           = "users"
	KeySettings        = "settings"
	KeyInvoiceSequence = "invoice_sequence"
)

// QuarantineKey names the key holding the original text of records that
// Load had to repair or drop.
func QuarantineKey(key string) string {
	return "quarantine:" + key
}

// AllKeys lists every persisted key in load order.
var AllKeys = []string{
	KeyProducts,
	KeyCustomers,
	KeyInvoices,
	KeyExpenses,
	KeyUsers,
	KeySettings,
	KeyInvoiceSequence,
}

// Repository is the authoritative in-memory state the service layer works
// against. Every mutation is atomic and is handed to a Persister before it
// returns.
type Repository interface {
	Load(ctx context.Context) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, req domain.ProductRequest) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id string, req domain.ProductRequest) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, req domain.CustomerRequest) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	ListExpenses(ctx context.Context) ([]domain.Expense, error)
	CreateExpense(ctx context.Context, req domain.ExpenseRequest) (*domain.Expense, error)
	UpdateExpense(ctx context.Context, id string, req domain.ExpenseRequest) (*domain.Expense, error)
	DeleteExpense(ctx context.Context, id string) error

	ListInvoices(ctx context.Context, status string) ([]domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest, createdBy string) (*domain.Invoice, error)
	RecordReturn(ctx context.Context, id string, lines []domain.ReturnLine) (*domain.Invoice, error)
	SetInvoiceStatus(ctx context.Context, id string, status string) (*domain.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) (*domain.Invoice, error)

	GetSettings(ctx context.Context) domain.Settings
	UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error)

	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, req domain.UserCreateRequest) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error

	Summary(ctx context.Context, lowStockThreshold int) domain.Summary
	Verify() []error
}

// Persister is the durable key-value store behind the in-memory collections.
// Load returns ErrNotFound for a key that was never saved. Save replaces the
// whole value stored under key.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte) error
}

// MapPersister keeps payloads in process memory.
type MapPersister struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMapPersister() *MapPersister {
	return &MapPersister{data: make(map[string][]byte)}
}

func (m *MapPersister) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	dup := make([]byte, len(payload))
	copy(dup, payload)
	return dup, nil
}

func (m *MapPersister) Save(_ context.Context, key string, payload []byte) error {
	dup := make([]byte, len(payload))
	copy(dup, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = dup
	return nil
}
