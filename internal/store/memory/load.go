package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"noorsales/backend/internal/domain"
	"noorsales/backend/internal/invoicing"
	"noorsales/backend/internal/metrics"
	"noorsales/backend/internal/store"
)

// Load replaces the store's state with what the Persister holds. Missing keys
// fall back to defaults. A key holding malformed JSON is logged and replaced
// by its default. A record with an unreadable field keeps its other fields;
// a record that is not an object at all is dropped. The original text of
// every repaired or dropped record is appended under store.QuarantineKey.
// Legacy data is repaired in place: invoices get a status, a returns list and
// line-pinned return records, plain-text passwords are hashed and the sequence
// is raised to the highest invoice number, counting numbers on records that
// had to be repaired.
func (s *Store) Load(ctx context.Context) error {
	raw := make([][]byte, len(store.AllKeys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range store.AllKeys {
		g.Go(func() error {
			payload, err := s.persister.Load(gctx, key)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load %s: %w", key, err)
			}
			raw[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	payloads := make(map[string][]byte, len(raw))
	for i, key := range store.AllKeys {
		payloads[key] = raw[i]
	}

	var (
		products  []domain.Product
		customers []domain.Customer
		invoices  []domain.Invoice
		expenses  []domain.Expense
		users     []domain.User
	)
	quarantine := map[string][]json.RawMessage{}
	products, quarantine[store.KeyProducts] = decodeCollection[domain.Product](s, store.KeyProducts, payloads[store.KeyProducts])
	customers, quarantine[store.KeyCustomers] = decodeCollection[domain.Customer](s, store.KeyCustomers, payloads[store.KeyCustomers])
	invoices, quarantine[store.KeyInvoices] = decodeCollection[domain.Invoice](s, store.KeyInvoices, payloads[store.KeyInvoices])
	expenses, quarantine[store.KeyExpenses] = decodeCollection[domain.Expense](s, store.KeyExpenses, payloads[store.KeyExpenses])
	users, quarantine[store.KeyUsers] = decodeCollection[domain.User](s, store.KeyUsers, payloads[store.KeyUsers])

	settings := DefaultSettings()
	if payload := payloads[store.KeySettings]; payload != nil {
		merged := DefaultSettings()
		if err := json.Unmarshal(payload, &merged); err != nil {
			s.log.Warn().Err(err).Str("key", store.KeySettings).Msg("malformed settings, using defaults")
		} else {
			settings = merged
		}
	}
	settings.Currency = NormalizeCurrency(settings.Currency)
	if settings.Currency == "" {
		settings.Currency = DefaultCurrency
	}
	if strings.TrimSpace(settings.CompanyName) == "" {
		settings.CompanyName = DefaultCompanyName
	}

	var sequence int64
	if payload := payloads[store.KeyInvoiceSequence]; payload != nil {
		if err := json.Unmarshal(payload, &sequence); err != nil {
			s.log.Warn().Err(err).Str("key", store.KeyInvoiceSequence).Msg("malformed invoice sequence, deriving from invoices")
			sequence = 0
		}
	}

	places := invoicing.Precision(settings.Currency)
	for i := range invoices {
		invoicing.Normalize(&invoices[i], places)
		sequence = max(sequence, invoices[i].InvoiceNumber)
	}
	for _, rec := range quarantine[store.KeyInvoices] {
		sequence = max(sequence, rawInvoiceNumber(rec))
	}
	for i := range products {
		if products[i].Stock < 0 {
			s.log.Warn().Str("product_id", products[i].ID).Int("stock", products[i].Stock).Msg("negative stock in saved data")
		}
	}

	dirty := []string{}
	for _, key := range store.AllKeys {
		if len(quarantine[key]) == 0 || key == store.KeyUsers {
			continue
		}
		if s.saveQuarantine(ctx, key, quarantine[key]) {
			dirty = append(dirty, key)
		}
	}
	if raw := payloads[store.KeyInvoiceSequence]; raw == nil || sequence != decodeSequence(raw) {
		dirty = append(dirty, store.KeyInvoiceSequence)
	}

	usersChanged := false
	if len(users) == 0 {
		admin, err := s.seedAdmin()
		if err != nil {
			return err
		}
		users = []domain.User{admin}
		usersChanged = true
		s.log.Info().Str("username", admin.Username).Msg("no users saved, seeded default administrator")
	}
	for i := range users {
		if users[i].Role != domain.RoleAdmin {
			users[i].Role = domain.RoleEmployee
		}
		if users[i].Language == "" {
			users[i].Language = domain.LanguageArabic
		}
		if isBcryptHash(users[i].Password) {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(users[i].Password), s.bcryptCost)
		if err != nil {
			return fmt.Errorf("hash legacy password for %s: %w", users[i].Username, err)
		}
		users[i].Password = string(hash)
		usersChanged = true
		s.log.Info().Str("username", users[i].Username).Msg("upgraded plain-text password to bcrypt")
	}
	if len(quarantine[store.KeyUsers]) > 0 && s.saveQuarantine(ctx, store.KeyUsers, quarantine[store.KeyUsers]) {
		usersChanged = true
	}
	if usersChanged {
		dirty = append(dirty, store.KeyUsers)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.products = products
	s.customers = customers
	s.invoices = invoices
	s.expenses = expenses
	s.users = users
	s.settings = settings
	s.sequence = sequence

	s.persist(ctx, dirty...)
	s.log.Info().
		Int("products", len(products)).
		Int("customers", len(customers)).
		Int("invoices", len(invoices)).
		Int("expenses", len(expenses)).
		Int("users", len(users)).
		Int64("sequence", sequence).
		Msg("state loaded")
	return nil
}

// decodeCollection decodes a JSON array record by record so that one bad
// record does not take the rest of the collection with it. A record that
// fails to decode is retried without the fields that fail on their own. The
// original text of every repaired or dropped record is returned alongside.
func decodeCollection[T any](s *Store, key string, payload []byte) ([]T, []json.RawMessage) {
	out := []T{}
	if payload == nil {
		return out, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(payload, &records); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("malformed collection, starting empty")
		return out, nil
	}
	var quarantined []json.RawMessage
	for i, rec := range records {
		var v T
		err := json.Unmarshal(rec, &v)
		if err == nil {
			out = append(out, v)
			continue
		}
		quarantined = append(quarantined, rec)
		repaired, dropped, ok := repairRecord[T](rec)
		if !ok {
			s.log.Warn().Err(err).Str("key", key).Int("index", i).Msg("dropping malformed record")
			continue
		}
		s.log.Warn().Err(err).Str("key", key).Int("index", i).Strs("fields", dropped).Msg("cleared unreadable fields")
		out = append(out, repaired)
	}
	return out, quarantined
}

// repairRecord decodes rec after removing every field that cannot be decoded
// into T by itself. A record whose id cannot be read is not repaired.
func repairRecord[T any](rec json.RawMessage) (T, []string, bool) {
	var zero T
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec, &fields); err != nil || fields == nil {
		return zero, nil, false
	}
	var dropped []string
	for name, value := range fields {
		single, err := json.Marshal(map[string]json.RawMessage{name: value})
		if err != nil {
			return zero, nil, false
		}
		var v T
		if err := json.Unmarshal(single, &v); err != nil {
			dropped = append(dropped, name)
			delete(fields, name)
		}
	}
	if slices.Contains(dropped, "id") {
		return zero, nil, false
	}
	rest, err := json.Marshal(fields)
	if err != nil {
		return zero, nil, false
	}
	var v T
	if err := json.Unmarshal(rest, &v); err != nil {
		return zero, nil, false
	}
	sort.Strings(dropped)
	return v, dropped, true
}

// rawInvoiceNumber reads invoiceNumber from a record that did not decode,
// accepting a number or a numeric string. It returns 0 when there is none.
func rawInvoiceNumber(rec json.RawMessage) int64 {
	var fields struct {
		InvoiceNumber json.RawMessage `json:"invoiceNumber"`
	}
	if err := json.Unmarshal(rec, &fields); err != nil || fields.InvoiceNumber == nil {
		return 0
	}
	text := strings.Trim(string(fields.InvoiceNumber), `" `)
	n, err := strconv.ParseFloat(text, 64)
	if err != nil || n < 0 || n >= math.MaxInt64 {
		return 0
	}
	return int64(n)
}

// saveQuarantine appends records to the quarantine key for key. It reports
// whether the records are safely stored, so the repaired collection may be
// written over the originals.
func (s *Store) saveQuarantine(ctx context.Context, key string, records []json.RawMessage) bool {
	if s.readOnly {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	qkey := store.QuarantineKey(key)
	var kept []json.RawMessage
	existing, err := s.persister.Load(ctx, qkey)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		s.log.Warn().Err(err).Str("key", qkey).Msg("read quarantine failed, leaving originals in place")
		return false
	default:
		if err := json.Unmarshal(existing, &kept); err != nil {
			s.log.Warn().Err(err).Str("key", qkey).Msg("malformed quarantine, leaving originals in place")
			return false
		}
	}
	payload, err := json.Marshal(append(kept, records...))
	if err != nil {
		s.log.Error().Err(err).Str("key", qkey).Msg("encode quarantine")
		return false
	}
	if err := s.persister.Save(ctx, qkey, payload); err != nil {
		s.log.Warn().Err(err).Str("key", qkey).Msg("save quarantine failed, leaving originals in place")
		metrics.PersistFailures.WithLabelValues(qkey).Inc()
		return false
	}
	s.log.Warn().Str("key", qkey).Int("records", len(records)).Msg("quarantined unreadable records")
	return true
}

func decodeSequence(payload []byte) int64 {
	var seq int64
	if err := json.Unmarshal(payload, &seq); err != nil {
		return -1
	}
	return seq
}

func isBcryptHash(password string) bool {
	if !strings.HasPrefix(password, "$2") {
		return false
	}
	_, err := bcrypt.Cost([]byte(password))
	return err == nil
}
