package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"noorsales/backend/internal/domain"
	"noorsales/backend/internal/invoicing"
	"noorsales/backend/internal/metrics"
	"noorsales/backend/internal/store"
	"noorsales/backend/internal/xid"
)

const (
	DefaultCompanyName = "برنامج نور لإدارة المبيعات"
	DefaultCurrency    = "BHD"
	DefaultAdminID     = "default-admin-01"

	legacyBahrainiDinar = "دينار بحريني"
)

type Options struct {
	Persister         store.Persister
	PersistTimeout    time.Duration
	SeedAdminPassword string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// ReadOnly stops the store from writing anything back to the Persister,
	// including the repairs Load makes.
	ReadOnly bool
	Logger   zerolog.Logger
}

var _ store.Repository = (*Store)(nil)

// Store holds every collection in memory. All mutations run under mu and
// hand the affected collections to the Persister before the lock is released.
type Store struct {
	mu        sync.RWMutex
	products  []domain.Product
	customers []domain.Customer
	invoices  []domain.Invoice
	expenses  []domain.Expense
	users     []domain.User
	settings  domain.Settings
	sequence  int64

	persister      store.Persister
	persistTimeout time.Duration
	seedPassword   string
	bcryptCost     int
	readOnly       bool
	log            zerolog.Logger
}

// New returns an empty store with default settings and the seeded
// administrator. Call Load to replace its state with persisted data.
func New(opts Options) (*Store, error) {
	s := &Store{
		persister:      opts.Persister,
		persistTimeout: opts.PersistTimeout,
		seedPassword:   opts.SeedAdminPassword,
		bcryptCost:     opts.BcryptCost,
		readOnly:       opts.ReadOnly,
		log:            opts.Logger,
		products:       []domain.Product{},
		customers:      []domain.Customer{},
		invoices:       []domain.Invoice{},
		expenses:       []domain.Expense{},
		settings:       DefaultSettings(),
	}
	if s.persister == nil {
		s.persister = store.NewMapPersister()
	}
	if s.persistTimeout <= 0 {
		s.persistTimeout = 5 * time.Second
	}
	if s.seedPassword == "" {
		s.seedPassword = "admin"
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = bcrypt.DefaultCost
	}

	admin, err := s.seedAdmin()
	if err != nil {
		return nil, err
	}
	s.users = []domain.User{admin}
	return s, nil
}

func DefaultSettings() domain.Settings {
	return domain.Settings{
		CompanyName:        DefaultCompanyName,
		Currency:           DefaultCurrency,
		BankAccountBalance: decimal.Zero,
	}
}

func (s *Store) seedAdmin() (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(s.seedPassword), s.bcryptCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash seed admin password: %w", err)
	}
	return domain.User{
		ID:       DefaultAdminID,
		Name:     "المدير",
		Username: "admin",
		Email:    "admin@system.com",
		Password: string(hash),
		Role:     domain.RoleAdmin,
		Language: domain.LanguageArabic,
	}, nil
}

func (s *Store) places() int32 {
	return invoicing.Precision(s.settings.Currency)
}

func (s *Store) productLookup(id string) (domain.Product, bool) {
	if idx := s.productIndex(id); idx >= 0 {
		return s.products[idx], true
	}
	return domain.Product{}, false
}

func (s *Store) productIndex(id string) int {
	return slices.IndexFunc(s.products, func(p domain.Product) bool { return p.ID == id })
}

func (s *Store) customerIndex(id string) int {
	return slices.IndexFunc(s.customers, func(c domain.Customer) bool { return c.ID == id })
}

func (s *Store) invoiceIndex(id string) int {
	return slices.IndexFunc(s.invoices, func(inv domain.Invoice) bool { return inv.ID == id })
}

func (s *Store) expenseIndex(id string) int {
	return slices.IndexFunc(s.expenses, func(e domain.Expense) bool { return e.ID == id })
}

func (s *Store) userIndex(id string) int {
	return slices.IndexFunc(s.users, func(u domain.User) bool { return u.ID == id })
}

// ---- products ----

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.products), nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.productLookup(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, req domain.ProductRequest) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.productFromRequest(req)
	if err != nil {
		return nil, err
	}
	product.ID = xid.New("prod")
	s.products = append(s.products, product)
	s.persist(ctx, store.KeyProducts)
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id string, req domain.ProductRequest) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.productIndex(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	product, err := s.productFromRequest(req)
	if err != nil {
		return nil, err
	}
	product.ID = id
	s.products[idx] = product
	s.persist(ctx, store.KeyProducts)
	return &product, nil
}

// DeleteProduct removes the product. Invoices keep their snapshots.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.productIndex(id)
	if idx < 0 {
		return store.ErrNotFound
	}
	s.products = slices.Delete(s.products, idx, idx+1)
	s.persist(ctx, store.KeyProducts)
	return nil
}

func (s *Store) productFromRequest(req domain.ProductRequest) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", store.ErrInvalidInput)
	}
	if req.Price.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
	}
	if req.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock must not be negative", store.ErrInvalidInput)
	}
	return domain.Product{
		Name:  name,
		Code:  strings.TrimSpace(req.Code),
		Price: req.Price.Round(s.places()),
		Stock: req.Stock,
	}, nil
}

// ---- customers ----

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.customers), nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.customerIndex(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	customer := s.customers[idx]
	return &customer, nil
}

func (s *Store) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, err := customerFromRequest(req)
	if err != nil {
		return nil, err
	}
	customer.ID = xid.New("cust")
	s.customers = append(s.customers, customer)
	s.persist(ctx, store.KeyCustomers)
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.customerIndex(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	customer, err := customerFromRequest(req)
	if err != nil {
		return nil, err
	}
	customer.ID = id
	s.customers[idx] = customer
	s.persist(ctx, store.KeyCustomers)
	return &customer, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.customerIndex(id)
	if idx < 0 {
		return store.ErrNotFound
	}
	s.customers = slices.Delete(s.customers, idx, idx+1)
	s.persist(ctx, store.KeyCustomers)
	return nil
}

func customerFromRequest(req domain.CustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", store.ErrInvalidInput)
	}
	return domain.Customer{
		Name:    name,
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
		Notes:   strings.TrimSpace(req.Notes),
	}, nil
}

// ---- expenses ----

func (s *Store) ListExpenses(_ context.Context) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.expenses), nil
}

func (s *Store) CreateExpense(ctx context.Context, req domain.ExpenseRequest) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expense, err := s.expenseFromRequest(req)
	if err != nil {
		return nil, err
	}
	expense.ID = xid.New("exp")
	s.expenses = append(s.expenses, expense)
	s.persist(ctx, store.KeyExpenses)
	return &expense, nil
}

func (s *Store) UpdateExpense(ctx context.Context, id string, req domain.ExpenseRequest) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.expenseIndex(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	expense, err := s.expenseFromRequest(req)
	if err != nil {
		return nil, err
	}
	expense.ID = id
	if req.Date == nil {
		expense.Date = s.expenses[idx].Date
	}
	s.expenses[idx] = expense
	s.persist(ctx, store.KeyExpenses)
	return &expense, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.expenseIndex(id)
	if idx < 0 {
		return store.ErrNotFound
	}
	s.expenses = slices.Delete(s.expenses, idx, idx+1)
	s.persist(ctx, store.KeyExpenses)
	return nil
}

func (s *Store) expenseFromRequest(req domain.ExpenseRequest) (domain.Expense, error) {
	name := strings.TrimSpace(req.ItemName)
	if name == "" {
		return domain.Expense{}, fmt.Errorf("%w: expense item name is required", store.ErrInvalidInput)
	}
	if !req.Quantity.IsPositive() {
		return domain.Expense{}, fmt.Errorf("%w: expense quantity must be positive", store.ErrInvalidInput)
	}
	if req.PricePerItem.IsNegative() {
		return domain.Expense{}, fmt.Errorf("%w: expense price must not be negative", store.ErrInvalidInput)
	}
	price := req.PricePerItem.Round(s.places())
	date := domain.NewTimestamp(time.Now())
	if req.Date != nil && !req.Date.IsZero() {
		date = *req.Date
	}
	return domain.Expense{
		Date:         date,
		ItemName:     name,
		Quantity:     req.Quantity,
		PricePerItem: price,
		Total:        req.Quantity.Mul(price),
	}, nil
}

// ---- invoices ----

// ListInvoices returns invoices newest number first. An empty status returns
// every invoice.
func (s *Store) ListInvoices(_ context.Context, status string) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		if status != "" && inv.Status != status {
			continue
		}
		invoices = append(invoices, cloneInvoice(inv))
	}
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		switch {
		case a.InvoiceNumber > b.InvoiceNumber:
			return -1
		case a.InvoiceNumber < b.InvoiceNumber:
			return 1
		default:
			return 0
		}
	})
	return invoices, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.invoiceIndex(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	inv := cloneInvoice(s.invoices[idx])
	return &inv, nil
}

// CreateInvoice validates every line against current stock before touching
// anything, then numbers the invoice, decrements stock and appends it.
func (s *Store) CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest, createdBy string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	places := s.places()
	items, err := invoicing.BuildItems(req.Items, s.productLookup, places)
	if err != nil {
		return nil, err
	}
	cidx := s.customerIndex(req.CustomerID)
	if cidx < 0 {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, req.CustomerID)
	}
	if err := invoicing.CheckStock(items, s.productLookup); err != nil {
		return nil, err
	}
	discount := req.Discount.Round(places)
	subtotal, total, err := invoicing.Totals(items, discount)
	if err != nil {
		return nil, err
	}

	date := domain.NewTimestamp(time.Now())
	if req.Date != nil && !req.Date.IsZero() {
		date = *req.Date
	}

	s.sequence++
	inv := domain.Invoice{
		ID:            xid.New("inv"),
		InvoiceNumber: s.sequence,
		CustomerID:    s.customers[cidx].ID,
		CustomerName:  s.customers[cidx].Name,
		Date:          date,
		Items:         items,
		Subtotal:      subtotal,
		Discount:      discount,
		Total:         total,
		Status:        domain.InvoiceStatusUnpaid,
		Returns:       []domain.InvoiceItem{},
		CreatedBy:     createdBy,
	}

	for productID, qty := range invoicing.RequiredStock(items) {
		s.products[s.productIndex(productID)].Stock -= qty
	}
	s.invoices = append(s.invoices, inv)
	metrics.InvoicesCreated.Inc()

	s.persist(ctx, store.KeyInvoices, store.KeyProducts, store.KeyInvoiceSequence)
	created := cloneInvoice(inv)
	return &created, nil
}

// RecordReturn appends return records and puts the units back on the shelf.
// Products deleted since the sale are skipped.
func (s *Store) RecordReturn(ctx context.Context, id string, lines []domain.ReturnLine) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.invoiceIndex(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	inv := &s.invoices[idx]
	records, err := invoicing.BuildReturn(*inv, lines)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		s.restock(rec.ProductID, rec.Quantity, inv.InvoiceNumber)
	}
	inv.Returns = append(inv.Returns, records...)
	metrics.InvoiceReturns.Inc()

	s.persist(ctx, store.KeyInvoices, store.KeyProducts)
	updated := cloneInvoice(*inv)
	return &updated, nil
}

func (s *Store) SetInvoiceStatus(ctx context.Context, id string, status string) (*domain.Invoice, error) {
	if status != domain.InvoiceStatusPaid && status != domain.InvoiceStatusUnpaid {
		return nil, fmt.Errorf("%w: status %q", store.ErrInvalidInput, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.invoiceIndex(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	s.invoices[idx].Status = status
	s.persist(ctx, store.KeyInvoices)
	updated := cloneInvoice(s.invoices[idx])
	return &updated, nil
}

// DeleteInvoice restores the units the customer still holds and drops the
// invoice. The number sequence is left alone.
func (s *Store) DeleteInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.invoiceIndex(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	inv := s.invoices[idx]
	for productID, qty := range invoicing.RestockOnDelete(inv) {
		s.restock(productID, qty, inv.InvoiceNumber)
	}
	s.invoices = slices.Delete(s.invoices, idx, idx+1)
	metrics.InvoicesDeleted.Inc()

	s.persist(ctx, store.KeyInvoices, store.KeyProducts)
	return &inv, nil
}

func (s *Store) restock(productID string, qty int, invoiceNumber int64) {
	pidx := s.productIndex(productID)
	if pidx < 0 {
		s.log.Warn().
			Str("product_id", productID).
			Int64("invoice_number", invoiceNumber).
			Int("quantity", qty).
			Msg("product no longer exists, stock not restored")
		return
	}
	s.products[pidx].Stock += qty
}

// ---- settings ----

func (s *Store) GetSettings(_ context.Context) domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	settings.CompanyName = strings.TrimSpace(settings.CompanyName)
	if settings.CompanyName == "" {
		return domain.Settings{}, fmt.Errorf("%w: company name is required", store.ErrInvalidInput)
	}
	settings.Currency = NormalizeCurrency(settings.Currency)
	if settings.Currency == "" {
		return domain.Settings{}, fmt.Errorf("%w: currency is required", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings
	s.persist(ctx, store.KeySettings)
	return s.settings, nil
}

// NormalizeCurrency upper-cases a currency code and maps the legacy Arabic
// label for the Bahraini dinar to its ISO code.
func NormalizeCurrency(currency string) string {
	currency = strings.TrimSpace(currency)
	if currency == legacyBahrainiDinar {
		return DefaultCurrency
	}
	return strings.ToUpper(currency)
}

// ---- users ----

// ListUsers returns every account without password hashes.
func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, len(s.users))
	for i, u := range s.users {
		users[i] = PublicUser(u)
	}
	return users, nil
}

// FindUserByUsername returns the stored account including its password hash.
func (s *Store) FindUserByUsername(_ context.Context, username string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.ToLower(u.Username) == username {
			found := u
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.userIndex(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	user := PublicUser(s.users[idx])
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, req domain.UserCreateRequest) (*domain.User, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	name := strings.TrimSpace(req.Name)
	if username == "" || name == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: name, username and password are required", store.ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return nil, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidInput)
	}
	role := req.Role
	if role == "" {
		role = domain.RoleEmployee
	}
	if role != domain.RoleAdmin && role != domain.RoleEmployee {
		return nil, fmt.Errorf("%w: role %q", store.ErrInvalidInput, role)
	}
	language := req.Language
	if language == "" {
		language = domain.LanguageArabic
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.ToLower(u.Username) == username {
			return nil, fmt.Errorf("%w: username %s is taken", store.ErrInvalidInput, username)
		}
	}
	user := domain.User{
		ID:       xid.New("user"),
		Name:     name,
		Username: username,
		Email:    strings.TrimSpace(req.Email),
		Password: string(hash),
		Role:     role,
		Language: language,
	}
	s.users = append(s.users, user)
	s.persist(ctx, store.KeyUsers)
	public := PublicUser(user)
	return &public, nil
}

// DeleteUser removes an account. The last administrator cannot be removed.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.userIndex(id)
	if idx < 0 {
		return store.ErrNotFound
	}
	if s.users[idx].Role == domain.RoleAdmin {
		admins := 0
		for _, u := range s.users {
			if u.Role == domain.RoleAdmin {
				admins++
			}
		}
		if admins == 1 {
			return fmt.Errorf("%w: cannot delete the last administrator", store.ErrForbidden)
		}
	}
	s.users = slices.Delete(s.users, idx, idx+1)
	s.persist(ctx, store.KeyUsers)
	return nil
}

func PublicUser(u domain.User) domain.User {
	u.Password = ""
	return u
}

// ---- reports ----

// Summary aggregates the dashboard figures. Products at or below
// lowStockThreshold are listed as low stock.
func (s *Store) Summary(_ context.Context, lowStockThreshold int) domain.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.Summary{
		Products:      len(s.products),
		Customers:     len(s.customers),
		Invoices:      len(s.invoices),
		GrossSales:    decimal.Zero,
		ReturnsValue:  decimal.Zero,
		PaidTotal:     decimal.Zero,
		UnpaidTotal:   decimal.Zero,
		ExpensesTotal: decimal.Zero,
		LowStock:      []domain.LowStockProduct{},
	}
	for _, inv := range s.invoices {
		returned := invoicing.ReturnedValue(inv)
		net := inv.Total.Sub(returned)
		summary.GrossSales = summary.GrossSales.Add(inv.Total)
		summary.ReturnsValue = summary.ReturnsValue.Add(returned)
		if inv.Status == domain.InvoiceStatusPaid {
			summary.PaidTotal = summary.PaidTotal.Add(net)
		} else {
			summary.UnpaidTotal = summary.UnpaidTotal.Add(net)
		}
	}
	for _, e := range s.expenses {
		summary.ExpensesTotal = summary.ExpensesTotal.Add(e.Total)
	}
	summary.NetSales = summary.GrossSales.Sub(summary.ReturnsValue)
	summary.NetProfit = summary.NetSales.Sub(summary.ExpensesTotal)

	for _, p := range s.products {
		if p.Stock <= lowStockThreshold {
			summary.LowStock = append(summary.LowStock, domain.LowStockProduct{ID: p.ID, Name: p.Name, Stock: p.Stock})
		}
	}
	slices.SortFunc(summary.LowStock, func(a, b domain.LowStockProduct) int {
		if a.Stock != b.Stock {
			return a.Stock - b.Stock
		}
		return strings.Compare(a.Name, b.Name)
	})
	return summary
}

// Verify reports every invoice invariant violation, negative stock, duplicate
// invoice numbers and a sequence behind the highest issued number.
func (s *Store) Verify() []error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var problems []error
	seen := make(map[int64]string, len(s.invoices))
	for _, inv := range s.invoices {
		problems = append(problems, invoicing.Verify(inv)...)
		if other, dup := seen[inv.InvoiceNumber]; dup {
			problems = append(problems, fmt.Errorf("invoice number %d used by %s and %s", inv.InvoiceNumber, other, inv.ID))
		}
		seen[inv.InvoiceNumber] = inv.ID
		if inv.InvoiceNumber > s.sequence {
			problems = append(problems, fmt.Errorf("invoice number %d is ahead of sequence %d", inv.InvoiceNumber, s.sequence))
		}
	}
	for _, p := range s.products {
		if p.Stock < 0 {
			problems = append(problems, fmt.Errorf("product %s has negative stock %d", p.ID, p.Stock))
		}
	}
	return problems
}

// Sequence is the highest invoice number ever issued.
func (s *Store) Sequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

// ---- persistence ----

// persist writes the named collections. Callers hold mu. Failures are logged
// and counted; in-memory state is kept.
func (s *Store) persist(ctx context.Context, keys ...string) {
	if s.readOnly || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	for _, key := range keys {
		payload, err := s.marshalKey(key)
		if err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("encode collection")
			metrics.PersistFailures.WithLabelValues(key).Inc()
			continue
		}
		if err := s.persister.Save(ctx, key, payload); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("persist collection failed, keeping in-memory state")
			metrics.PersistFailures.WithLabelValues(key).Inc()
		}
	}
}

func (s *Store) marshalKey(key string) ([]byte, error) {
	switch key {
	case store.KeyProducts:
		return json.Marshal(s.products)
	case store.KeyCustomers:
		return json.Marshal(s.customers)
	case store.KeyInvoices:
		return json.Marshal(s.invoices)
	case store.KeyExpenses:
		return json.Marshal(s.expenses)
	case store.KeyUsers:
		return json.Marshal(s.users)
	case store.KeySettings:
		return json.Marshal(s.settings)
	case store.KeyInvoiceSequence:
		return json.Marshal(s.sequence)
	default:
		return nil, fmt.Errorf("unknown collection key %q", key)
	}
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dst := src
	dst.Items = slices.Clone(src.Items)
	dst.Returns = make([]domain.InvoiceItem, len(src.Returns))
	for i, rec := range src.Returns {
		dst.Returns[i] = rec
		if rec.Line != nil {
			line := *rec.Line
			dst.Returns[i].Line = &line
		}
	}
	if dst.Items == nil {
		dst.Items = []domain.InvoiceItem{}
	}
	return dst
}
