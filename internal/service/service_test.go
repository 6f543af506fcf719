package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"noorsales/backend/internal/domain"
	"noorsales/backend/internal/store"
	"noorsales/backend/internal/store/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo, err := memory.New(memory.Options{BcryptCost: bcrypt.MinCost, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return New(repo, 5, zerolog.Nop())
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   memory.DefaultAdminID,
		Username: "admin",
		Role:     domain.RoleAdmin,
	})
}

func employeeCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "user-emp",
		Username: "cashier",
		Role:     domain.RoleEmployee,
	})
}

func TestCreateInvoiceRecordsCreatorAndView(t *testing.T) {
	svc := newTestService(t)
	ctx := employeeCtx()

	p, err := svc.CreateProduct(ctx, domain.ProductRequest{Name: "Tea", Price: decimal.NewFromInt(2), Stock: 5})
	require.NoError(t, err)
	c, err := svc.CreateCustomer(ctx, domain.CustomerRequest{Name: "Ali"})
	require.NoError(t, err)

	view, err := svc.CreateInvoice(ctx, domain.CreateInvoiceRequest{
		CustomerID: c.ID,
		Items:      []domain.InvoiceSelection{{ProductID: p.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, "user-emp", view.CreatedBy)
	require.Equal(t, int64(1), view.InvoiceNumber)
	require.Len(t, view.Lines, 1)
	require.Equal(t, 3, view.Lines[0].Outstanding)

	view, err = svc.RecordReturn(ctx, view.ID, domain.RecordReturnRequest{Items: []domain.ReturnLine{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(6).Equal(view.Total))
	require.True(t, decimal.NewFromInt(4).Equal(view.NetTotal))
	require.Equal(t, 2, view.Lines[0].Outstanding)

	view, err = svc.SetInvoiceStatus(ctx, view.ID, " PAID ")
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusPaid, view.Status)

	paid, err := svc.ListInvoices(ctx, "paid")
	require.NoError(t, err)
	require.Len(t, paid, 1)
	_, err = svc.ListInvoices(ctx, "void")
	require.ErrorIs(t, err, store.ErrInvalidInput)

	require.NoError(t, svc.DeleteInvoice(ctx, view.ID))
	_, err = svc.GetInvoice(ctx, view.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	summary := svc.Summary(ctx)
	require.Equal(t, 0, summary.Invoices)
	require.Len(t, summary.LowStock, 1)
	require.Equal(t, 5, summary.LowStock[0].Stock)
}

func TestSettingsAndUsersRequireAdmin(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.UpdateSettings(employeeCtx(), domain.Settings{CompanyName: "X", Currency: "USD"})
	require.ErrorIs(t, err, store.ErrForbidden)
	_, err = svc.ListUsers(employeeCtx())
	require.ErrorIs(t, err, store.ErrForbidden)
	_, err = svc.CreateUser(context.Background(), domain.UserCreateRequest{Name: "A", Username: "abc", Password: "1234"})
	require.ErrorIs(t, err, store.ErrForbidden)

	updated, err := svc.UpdateSettings(adminCtx(), domain.Settings{CompanyName: "Noor", Currency: "usd"})
	require.NoError(t, err)
	require.Equal(t, "USD", updated.Currency)
	require.Equal(t, "USD", svc.GetSettings(employeeCtx()).Currency)

	created, err := svc.CreateUser(adminCtx(), domain.UserCreateRequest{Name: "Huda", Username: "huda", Password: "1234", Role: domain.RoleAdmin})
	require.NoError(t, err)

	users, err := svc.ListUsers(adminCtx())
	require.NoError(t, err)
	require.Len(t, users, 2)

	err = svc.DeleteUser(adminCtx(), memory.DefaultAdminID)
	require.ErrorIs(t, err, store.ErrForbidden, "cannot delete yourself")
	require.NoError(t, svc.DeleteUser(adminCtx(), created.ID))
}

func TestInventoryEditsLeaveInvoicesAlone(t *testing.T) {
	svc := newTestService(t)
	ctx := employeeCtx()

	p, err := svc.CreateProduct(ctx, domain.ProductRequest{Name: "Tea", Price: decimal.NewFromInt(2), Stock: 5})
	require.NoError(t, err)
	c, err := svc.CreateCustomer(ctx, domain.CustomerRequest{Name: "Ali"})
	require.NoError(t, err)
	view, err := svc.CreateInvoice(ctx, domain.CreateInvoiceRequest{
		CustomerID: c.ID,
		Items:      []domain.InvoiceSelection{{ProductID: p.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateProduct(ctx, p.ID, domain.ProductRequest{Name: "Green tea", Price: decimal.NewFromInt(3), Stock: 10})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteCustomer(ctx, c.ID))

	got, err := svc.GetInvoice(ctx, view.ID)
	require.NoError(t, err)
	require.Equal(t, "Tea", got.Items[0].ProductName)
	require.Equal(t, "Ali", got.CustomerName)
}
