package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"

	"noorsales/backend/internal/domain"
	"noorsales/backend/internal/i18n"
	"noorsales/backend/internal/metrics"
	"noorsales/backend/internal/service"
	"noorsales/backend/internal/store"
)

type Options struct {
	AllowedOrigin string
	Production    bool
	// LoginAttemptsPerMinute caps login requests per client IP.
	LoginAttemptsPerMinute int
	Logger                 zerolog.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	production    bool
	loginLimit    int
	validate      *validator.Validate
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.LoginAttemptsPerMinute < 1 {
		opts.LoginAttemptsPerMinute = 5
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		production:    opts.Production,
		loginLimit:    opts.LoginAttemptsPerMinute,
		validate:      validator.New(),
		log:           opts.Logger,
	}
}

type sessionContextKey struct{}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(a.securityHeaders)
	r.Use(a.cors)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.Limit(a.loginLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				a.writeMessage(w, r, http.StatusTooManyRequests, i18n.ErrTooManyRequests, "")
			}),
		)).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Post("/auth/logout", a.handleLogout)
			r.Get("/auth/me", a.handleMe)

			r.Get("/products", a.handleListProducts)
			r.Post("/products", a.handleCreateProduct)
			r.Put("/products/{id}", a.handleUpdateProduct)
			r.Delete("/products/{id}", a.handleDeleteProduct)

			r.Get("/customers", a.handleListCustomers)
			r.Post("/customers", a.handleCreateCustomer)
			r.Put("/customers/{id}", a.handleUpdateCustomer)
			r.Delete("/customers/{id}", a.handleDeleteCustomer)

			r.Get("/expenses", a.handleListExpenses)
			r.Post("/expenses", a.handleCreateExpense)
			r.Put("/expenses/{id}", a.handleUpdateExpense)
			r.Delete("/expenses/{id}", a.handleDeleteExpense)

			r.Get("/invoices", a.handleListInvoices)
			r.Post("/invoices", a.handleCreateInvoice)
			r.Get("/invoices/{id}", a.handleGetInvoice)
			r.Delete("/invoices/{id}", a.handleDeleteInvoice)
			r.Post("/invoices/{id}/returns", a.handleRecordReturn)
			r.Put("/invoices/{id}/status", a.handleSetInvoiceStatus)

			r.Get("/settings", a.handleGetSettings)
			r.Put("/settings", a.handleUpdateSettings)

			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
			r.Delete("/users/{id}", a.handleDeleteUser)

			r.Get("/reports/summary", a.handleSummary)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeMessage(w, r, http.StatusNotFound, i18n.ErrNotFound, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	})
	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeMessage(w, r, http.StatusUnauthorized, i18n.ErrUnauthorized, "")
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, sessionID, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				a.writeMessage(w, r, http.StatusUnauthorized, i18n.ErrUnauthorized, "")
				return
			}
			a.writeError(w, r, err)
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = context.WithValue(ctx, sessionContextKey{}, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           a.production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	}).Handler(next)
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(startedAt)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// ---- auth ----

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			a.writeMessage(w, r, http.StatusUnauthorized, i18n.ErrInvalidCredentials, "")
			return
		}
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := r.Context().Value(sessionContextKey{}).(string)
	if err := a.auth.Logout(r.Context(), sessionID); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": i18n.T(a.language(r), i18n.MsgLoggedOut, nil)})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := r.Context().Value(sessionContextKey{}).(string)
	user, err := a.auth.CurrentUser(r.Context(), sessionID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// ---- products ----

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- customers ----

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if !a.decode(w, r, &req) {
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if !a.decode(w, r, &req) {
		return
	}
	customer, err := a.service.UpdateCustomer(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCustomer(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- expenses ----

func (a *API) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := a.service.ListExpenses(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

func (a *API) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req domain.ExpenseRequest
	if !a.decode(w, r, &req) {
		return
	}
	expense, err := a.service.CreateExpense(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"expense": expense})
}

func (a *API) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req domain.ExpenseRequest
	if !a.decode(w, r, &req) {
		return
	}
	expense, err := a.service.UpdateExpense(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expense": expense})
}

func (a *API) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteExpense(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- invoices ----

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := a.service.ListInvoices(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateInvoiceRequest
	if !a.decode(w, r, &req) {
		return
	}
	invoice, err := a.service.CreateInvoice(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invoice": invoice})
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := a.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteInvoice(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRecordReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordReturnRequest
	if !a.decode(w, r, &req) {
		return
	}
	invoice, err := a.service.RecordReturn(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleSetInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceStatusRequest
	if !a.decode(w, r, &req) {
		return
	}
	invoice, err := a.service.SetInvoiceStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

// ---- settings ----

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"settings": a.service.GetSettings(r.Context())})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.Settings
	if !a.decode(w, r, &req) {
		return
	}
	settings, err := a.service.UpdateSettings(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// ---- users ----

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- reports ----

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"summary": a.service.Summary(r.Context())})
}

// ---- plumbing ----

// decode reads and validates a JSON body, writing a 400 response on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		a.writeMessage(w, r, http.StatusBadRequest, i18n.ErrInvalidInput, err.Error())
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		a.writeMessage(w, r, http.StatusBadRequest, i18n.ErrInvalidInput, validationDetail(err))
		return false
	}
	return true
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s:%s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(fields, ", ")
}

// language picks the response language from Accept-Language, then the
// signed-in user's preference.
func (a *API) language(r *http.Request) string {
	fallback := i18n.Default
	if actor, ok := service.ActorFromContext(r.Context()); ok && actor.Language != "" {
		fallback = actor.Language
	}
	return i18n.Negotiate(r.Header.Get("Accept-Language"), fallback)
}

type errorMapping struct {
	sentinel error
	status   int
	key      i18n.Key
	code     string
}

var errorMappings = []errorMapping{
	{store.ErrNotFound, http.StatusNotFound, i18n.ErrNotFound, "not_found"},
	{store.ErrInsufficientStock, http.StatusConflict, i18n.ErrInsufficientStock, "insufficient_stock"},
	{store.ErrOverReturn, http.StatusConflict, i18n.ErrOverReturn, "over_return"},
	{store.ErrInvalidInput, http.StatusBadRequest, i18n.ErrInvalidInput, "invalid_input"},
	{store.ErrForbidden, http.StatusForbidden, i18n.ErrForbidden, "forbidden"},
	{ErrUnauthorized, http.StatusUnauthorized, i18n.ErrUnauthorized, "unauthorized"},
}

var messageCodes = map[i18n.Key]string{
	i18n.ErrInvalidCredentials: "invalid_credentials",
	i18n.ErrTooManyRequests:    "too_many_requests",
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			detail := strings.TrimPrefix(strings.TrimPrefix(err.Error(), m.sentinel.Error()), ": ")
			a.writeCoded(w, r, m.status, m.key, m.code, detail)
			return
		}
	}
	// 5xx responses never carry internal details.
	a.log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
	a.writeCoded(w, r, http.StatusInternalServerError, i18n.ErrInternal, "internal", "")
}

func (a *API) writeMessage(w http.ResponseWriter, r *http.Request, status int, key i18n.Key, detail string) {
	code, ok := messageCodes[key]
	if !ok {
		for _, m := range errorMappings {
			if m.key == key {
				code = m.code
				break
			}
		}
	}
	a.writeCoded(w, r, status, key, code, detail)
}

func (a *API) writeCoded(w http.ResponseWriter, r *http.Request, status int, key i18n.Key, code string, detail string) {
	writeJSON(w, status, map[string]any{
		"error": i18n.T(a.language(r), key, map[string]any{"detail": detail}),
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
