package domain

import "github.com/shopspring/decimal"

func init() {
	// Saved collections carry plain JSON numbers for money.
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Code  string          `json:"code,omitempty"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type ProductRequest struct {
	Name  string          `json:"name" validate:"required"`
	Code  string          `json:"code"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock" validate:"gte=0"`
}

type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type CustomerRequest struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

// InvoiceItem is a snapshot of a sold (or returned) line. ProductName and
// Price are copied at creation time and never looked up again.
type InvoiceItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	// Line is set on return records only and points into Invoice.Items.
	Line *int `json:"line,omitempty"`
}

type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber int64           `json:"invoiceNumber"`
	CustomerID    string          `json:"customerId"`
	CustomerName  string          `json:"customerName"`
	Date          Timestamp       `json:"date"`
	Items         []InvoiceItem   `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"status"`
	Returns       []InvoiceItem   `json:"returns"`
	CreatedBy     string          `json:"createdBy,omitempty"`
}

type InvoiceSelection struct {
	ProductID string           `json:"productId" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type CreateInvoiceRequest struct {
	CustomerID string             `json:"customerId" validate:"required"`
	Items      []InvoiceSelection `json:"items" validate:"required,min=1,dive"`
	Discount   decimal.Decimal    `json:"discount"`
	Date       *Timestamp         `json:"date,omitempty"`
}

// ReturnLine references an invoice line either by index or by product id.
type ReturnLine struct {
	Line      *int   `json:"line,omitempty"`
	ProductID string `json:"productId,omitempty"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type RecordReturnRequest struct {
	Items []ReturnLine `json:"items" validate:"required,min=1,dive"`
}

type InvoiceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=paid unpaid"`
}

type InvoiceLineView struct {
	InvoiceItem
	Returned    int `json:"returned"`
	Outstanding int `json:"outstanding"`
}

// InvoiceView is the read model of an invoice with figures derived from its
// return ledger.
type InvoiceView struct {
	Invoice
	Lines         []InvoiceLineView `json:"lines"`
	ReturnedTotal decimal.Decimal   `json:"returnedTotal"`
	NetTotal      decimal.Decimal   `json:"netTotal"`
}

type Expense struct {
	ID           string          `json:"id"`
	Date         Timestamp       `json:"date"`
	ItemName     string          `json:"itemName"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerItem decimal.Decimal `json:"pricePerItem"`
	Total        decimal.Decimal `json:"total"`
}

type ExpenseRequest struct {
	Date         *Timestamp      `json:"date,omitempty"`
	ItemName     string          `json:"itemName" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerItem decimal.Decimal `json:"pricePerItem"`
}

type Settings struct {
	CompanyName        string          `json:"companyName"`
	Currency           string          `json:"currency"`
	Logo               *string         `json:"logo"`
	CompanyPhone       string          `json:"companyPhone,omitempty"`
	CompanyEmail       string          `json:"companyEmail,omitempty"`
	InstagramAccount   string          `json:"instagramAccount,omitempty"`
	InstagramQR        *string         `json:"instagramQR"`
	BankAccountBalance decimal.Decimal `json:"bankAccountBalance"`
}

// User is both the persisted account record and, with Password cleared, the
// public representation.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role"`
	Language string `json:"language,omitempty"`
}

type UserCreateRequest struct {
	Name     string `json:"name" validate:"required"`
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=4"`
	Role     string `json:"role" validate:"omitempty,oneof=admin employee"`
	Language string `json:"language" validate:"omitempty,oneof=ar en"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
	Language string
}

type LowStockProduct struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

type Summary struct {
	Products      int               `json:"products"`
	Customers     int               `json:"customers"`
	Invoices      int               `json:"invoices"`
	GrossSales    decimal.Decimal   `json:"grossSales"`
	ReturnsValue  decimal.Decimal   `json:"returnsValue"`
	NetSales      decimal.Decimal   `json:"netSales"`
	PaidTotal     decimal.Decimal   `json:"paidTotal"`
	UnpaidTotal   decimal.Decimal   `json:"unpaidTotal"`
	ExpensesTotal decimal.Decimal   `json:"expensesTotal"`
	NetProfit     decimal.Decimal   `json:"netProfit"`
	LowStock      []LowStockProduct `json:"lowStock"`
}

const (
	InvoiceStatusUnpaid = "unpaid"
	InvoiceStatusPaid   = "paid"
)

const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

const (
	LanguageArabic  = "ar"
	LanguageEnglish = "en"
)
