package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"noorsales/backend/internal/domain"
	"noorsales/backend/internal/invoicing"
	"noorsales/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo              store.Repository
	lowStockThreshold int
	log               zerolog.Logger
}

func New(repo store.Repository, lowStockThreshold int, logger zerolog.Logger) *Service {
	if lowStockThreshold < 0 {
		lowStockThreshold = 5
	}
	return &Service{
		repo:              repo,
		lowStockThreshold: lowStockThreshold,
		log:               logger,
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context) *zerolog.Event {
	event := s.log.Info()
	if actor, ok := ActorFromContext(ctx); ok {
		event = event.Str("actor", actor.Username)
	}
	return event
}

// ---- products ----

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	created, err := s.repo.CreateProduct(ctx, req)
	if err != nil {
		return domain.Product{}, err
	}
	s.logEvent(ctx).Str("product_id", created.ID).Str("name", created.Name).Int("stock", created.Stock).Msg("product created")
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductRequest) (domain.Product, error) {
	updated, err := s.repo.UpdateProduct(ctx, id, req)
	if err != nil {
		return domain.Product{}, err
	}
	s.logEvent(ctx).Str("product_id", id).Int("stock", updated.Stock).Msg("product updated")
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logEvent(ctx).Str("product_id", id).Msg("product deleted")
	return nil
}

// ---- customers ----

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	created, err := s.repo.CreateCustomer(ctx, req)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logEvent(ctx).Str("customer_id", created.ID).Msg("customer created")
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (domain.Customer, error) {
	updated, err := s.repo.UpdateCustomer(ctx, id, req)
	if err != nil {
		return domain.Customer{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logEvent(ctx).Str("customer_id", id).Msg("customer deleted")
	return nil
}

// ---- expenses ----

func (s *Service) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	return s.repo.ListExpenses(ctx)
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseRequest) (domain.Expense, error) {
	created, err := s.repo.CreateExpense(ctx, req)
	if err != nil {
		return domain.Expense{}, err
	}
	s.logEvent(ctx).Str("expense_id", created.ID).Str("total", created.Total.String()).Msg("expense recorded")
	return *created, nil
}

func (s *Service) UpdateExpense(ctx context.Context, id string, req domain.ExpenseRequest) (domain.Expense, error) {
	updated, err := s.repo.UpdateExpense(ctx, id, req)
	if err != nil {
		return domain.Expense{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	return s.repo.DeleteExpense(ctx, id)
}

// ---- invoices ----

func (s *Service) ListInvoices(ctx context.Context, status string) ([]domain.InvoiceView, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && status != domain.InvoiceStatusPaid && status != domain.InvoiceStatusUnpaid {
		return nil, fmt.Errorf("%w: status %q", store.ErrInvalidInput, status)
	}
	invoices, err := s.repo.ListInvoices(ctx, status)
	if err != nil {
		return nil, err
	}
	views := make([]domain.InvoiceView, len(invoices))
	for i, inv := range invoices {
		views[i] = invoicing.View(inv)
	}
	return views, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.InvoiceView, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.InvoiceView{}, err
	}
	return invoicing.View(*inv), nil
}

// CreateInvoice records a sale. The authenticated actor, if any, is stored as
// the invoice's creator.
func (s *Service) CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (domain.InvoiceView, error) {
	createdBy := ""
	if actor, ok := ActorFromContext(ctx); ok {
		createdBy = actor.UserID
	}

	inv, err := s.repo.CreateInvoice(ctx, req, createdBy)
	if err != nil {
		return domain.InvoiceView{}, err
	}
	s.logEvent(ctx).
		Str("invoice_id", inv.ID).
		Int64("invoice_number", inv.InvoiceNumber).
		Int("lines", len(inv.Items)).
		Str("total", inv.Total.String()).
		Msg("invoice created")
	return invoicing.View(*inv), nil
}

func (s *Service) RecordReturn(ctx context.Context, id string, req domain.RecordReturnRequest) (domain.InvoiceView, error) {
	inv, err := s.repo.RecordReturn(ctx, id, req.Items)
	if err != nil {
		return domain.InvoiceView{}, err
	}
	view := invoicing.View(*inv)
	s.logEvent(ctx).
		Str("invoice_id", inv.ID).
		Int64("invoice_number", inv.InvoiceNumber).
		Str("returned_total", view.ReturnedTotal.String()).
		Msg("invoice return recorded")
	return view, nil
}

func (s *Service) SetInvoiceStatus(ctx context.Context, id string, status string) (domain.InvoiceView, error) {
	inv, err := s.repo.SetInvoiceStatus(ctx, id, strings.ToLower(strings.TrimSpace(status)))
	if err != nil {
		return domain.InvoiceView{}, err
	}
	s.logEvent(ctx).Str("invoice_id", inv.ID).Str("status", inv.Status).Msg("invoice status changed")
	return invoicing.View(*inv), nil
}

func (s *Service) DeleteInvoice(ctx context.Context, id string) error {
	inv, err := s.repo.DeleteInvoice(ctx, id)
	if err != nil {
		return err
	}
	s.logEvent(ctx).Str("invoice_id", inv.ID).Int64("invoice_number", inv.InvoiceNumber).Msg("invoice deleted")
	return nil
}

// ---- settings ----

func (s *Service) GetSettings(ctx context.Context) domain.Settings {
	return s.repo.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Settings{}, err
	}
	updated, err := s.repo.UpdateSettings(ctx, settings)
	if err != nil {
		return domain.Settings{}, err
	}
	s.logEvent(ctx).Str("currency", updated.Currency).Msg("settings updated")
	return updated, nil
}

// ---- users ----

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.User{}, err
	}
	created, err := s.repo.CreateUser(ctx, req)
	if err != nil {
		return domain.User{}, err
	}
	s.logEvent(ctx).Str("user_id", created.ID).Str("username", created.Username).Str("role", created.Role).Msg("user created")
	return *created, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if actor, _ := ActorFromContext(ctx); actor.UserID == id {
		return fmt.Errorf("%w: cannot delete the signed-in user", store.ErrForbidden)
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logEvent(ctx).Str("user_id", id).Msg("user deleted")
	return nil
}

// ---- reports ----

func (s *Service) Summary(ctx context.Context) domain.Summary {
	return s.repo.Summary(ctx, s.lowStockThreshold)
}
