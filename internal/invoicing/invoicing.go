// Package invoicing holds the arithmetic and return-ledger rules of an
// invoice. It never touches shared state: callers pass in what it needs and
// apply the result themselves.
package invoicing

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"noorsales/backend/internal/domain"
	"noorsales/backend/internal/store"
)

// ProductLookup resolves a product id against the current catalog.
type ProductLookup func(id string) (domain.Product, bool)

// Precision returns the number of minor-unit digits used for currency.
func Precision(currency string) int32 {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "BHD", "KWD", "OMR", "JOD", "IQD", "TND", "LYD":
		return 3
	case "JPY", "KRW", "VND", "CLP":
		return 0
	default:
		return 2
	}
}

// BuildItems snapshots the selected products into invoice lines. Selections
// without a price use the product's current price. Selections of the same
// product at the same price are merged into the first such line.
func BuildItems(selections []domain.InvoiceSelection, lookup ProductLookup, places int32) ([]domain.InvoiceItem, error) {
	if len(selections) == 0 {
		return nil, fmt.Errorf("%w: invoice needs at least one item", store.ErrInvalidInput)
	}

	items := make([]domain.InvoiceItem, 0, len(selections))
	for _, sel := range selections {
		if sel.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
		product, ok := lookup(sel.ProductID)
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, sel.ProductID)
		}
		price := product.Price
		if sel.Price != nil {
			price = *sel.Price
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
		}
		if sel.Quantity > product.Stock {
			return nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, product.Name, product.Stock, sel.Quantity)
		}
		price = price.Round(places)

		merged := false
		for i := range items {
			if items[i].ProductID == product.ID && items[i].Price.Equal(price) {
				qty, ok := addQuantity(items[i].Quantity, sel.Quantity)
				if !ok {
					return nil, fmt.Errorf("%w: %s quantity too large", store.ErrInsufficientStock, product.Name)
				}
				items[i].Quantity = qty
				items[i].Subtotal = LineSubtotal(items[i].Price, items[i].Quantity)
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		items = append(items, domain.InvoiceItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Price:       price,
			Quantity:    sel.Quantity,
			Subtotal:    LineSubtotal(price, sel.Quantity),
		})
	}
	return items, nil
}

func LineSubtotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// Totals returns subtotal and total for items after discount.
func Totals(items []domain.InvoiceItem, discount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Subtotal)
	}
	if discount.IsNegative() || discount.GreaterThan(subtotal) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: discount must be between 0 and %s", store.ErrInvalidInput, subtotal)
	}
	return subtotal, subtotal.Sub(discount), nil
}

// addQuantity adds two non-negative quantities, reporting false on overflow.
func addQuantity(a, b int) (int, bool) {
	if b > math.MaxInt-a {
		return 0, false
	}
	return a + b, true
}

// RequiredStock sums item quantities per product. Call it only on items that
// passed CheckStock.
func RequiredStock(items []domain.InvoiceItem) map[string]int {
	required := make(map[string]int, len(items))
	for _, item := range items {
		required[item.ProductID] += item.Quantity
	}
	return required
}

// CheckStock fails with ErrInsufficientStock when any product's available
// stock is below what items need, including sums too large to represent.
func CheckStock(items []domain.InvoiceItem, lookup ProductLookup) error {
	required := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
		qty, ok := addQuantity(required[item.ProductID], item.Quantity)
		if !ok {
			return fmt.Errorf("%w: %s quantity too large", store.ErrInsufficientStock, item.ProductName)
		}
		required[item.ProductID] = qty
	}
	for productID, qty := range required {
		product, ok := lookup(productID)
		if !ok {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		if product.Stock < qty {
			return fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, product.Name, product.Stock, qty)
		}
	}
	return nil
}

// ReturnedByLine returns the cumulative returned quantity of every line.
// Records without a line index are attributed to the invoice's lines for the
// same product in order, filling the earliest outstanding line first.
func ReturnedByLine(inv domain.Invoice) []int {
	returned := make([]int, len(inv.Items))
	legacy := make([]domain.InvoiceItem, 0)
	for _, rec := range inv.Returns {
		if rec.Line != nil && *rec.Line >= 0 && *rec.Line < len(inv.Items) {
			returned[*rec.Line] += rec.Quantity
			continue
		}
		legacy = append(legacy, rec)
	}
	for _, rec := range legacy {
		for _, alloc := range allocateByProduct(inv.Items, returned, rec.ProductID, rec.Quantity, true) {
			returned[alloc.line] += alloc.qty
		}
	}
	return returned
}

// Outstanding returns, per line, the quantity sold and not yet returned.
func Outstanding(inv domain.Invoice) []int {
	returned := ReturnedByLine(inv)
	outstanding := make([]int, len(inv.Items))
	for i, item := range inv.Items {
		outstanding[i] = item.Quantity - returned[i]
	}
	return outstanding
}

// ReturnedValue is the sale value of every returned unit.
func ReturnedValue(inv domain.Invoice) decimal.Decimal {
	value := decimal.Zero
	for _, rec := range inv.Returns {
		value = value.Add(LineSubtotal(rec.Price, rec.Quantity))
	}
	return value
}

// BuildReturn validates requested return lines against the invoice's
// outstanding quantities and returns the records to append. Nothing is
// returned unless every requested line fits.
func BuildReturn(inv domain.Invoice, lines []domain.ReturnLine) ([]domain.InvoiceItem, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: nothing to return", store.ErrInvalidInput)
	}

	taken := ReturnedByLine(inv)
	records := make([]domain.InvoiceItem, 0, len(lines))
	for _, req := range lines {
		if req.Quantity < 1 {
			return nil, fmt.Errorf("%w: return quantity must be positive", store.ErrInvalidInput)
		}

		if req.Line != nil {
			idx := *req.Line
			if idx < 0 || idx >= len(inv.Items) {
				return nil, fmt.Errorf("%w: line %d", store.ErrInvalidInput, idx)
			}
			item := inv.Items[idx]
			if req.ProductID != "" && req.ProductID != item.ProductID {
				return nil, fmt.Errorf("%w: line %d is not product %s", store.ErrInvalidInput, idx, req.ProductID)
			}
			if outstanding := item.Quantity - taken[idx]; req.Quantity > outstanding {
				return nil, fmt.Errorf("%w: %s has %d outstanding, requested %d", store.ErrOverReturn, item.ProductName, outstanding, req.Quantity)
			}
			taken[idx] += req.Quantity
			records = append(records, returnRecord(item, idx, req.Quantity))
			continue
		}

		if req.ProductID == "" {
			return nil, fmt.Errorf("%w: return line needs a line or product reference", store.ErrInvalidInput)
		}
		available := 0
		found := false
		for i, item := range inv.Items {
			if item.ProductID != req.ProductID {
				continue
			}
			found = true
			available += item.Quantity - taken[i]
		}
		if !found {
			return nil, fmt.Errorf("%w: product %s is not on this invoice", store.ErrInvalidInput, req.ProductID)
		}
		if req.Quantity > available {
			return nil, fmt.Errorf("%w: product %s has %d outstanding, requested %d", store.ErrOverReturn, req.ProductID, available, req.Quantity)
		}
		for _, alloc := range allocateByProduct(inv.Items, taken, req.ProductID, req.Quantity, false) {
			taken[alloc.line] += alloc.qty
			records = append(records, returnRecord(inv.Items[alloc.line], alloc.line, alloc.qty))
		}
	}
	return records, nil
}

// RestockOnDelete returns, per product, the units still held by the buyer.
func RestockOnDelete(inv domain.Invoice) map[string]int {
	restock := make(map[string]int, len(inv.Items))
	for i, qty := range Outstanding(inv) {
		if qty > 0 {
			restock[inv.Items[i].ProductID] += qty
		}
	}
	return restock
}

// View derives the read model of inv.
func View(inv domain.Invoice) domain.InvoiceView {
	returned := ReturnedByLine(inv)
	lines := make([]domain.InvoiceLineView, len(inv.Items))
	for i, item := range inv.Items {
		lines[i] = domain.InvoiceLineView{
			InvoiceItem: item,
			Returned:    returned[i],
			Outstanding: item.Quantity - returned[i],
		}
	}
	returnedValue := ReturnedValue(inv)
	return domain.InvoiceView{
		Invoice:       inv,
		Lines:         lines,
		ReturnedTotal: returnedValue,
		NetTotal:      inv.Total.Sub(returnedValue),
	}
}

// Verify reports every arithmetic or return-bound violation on inv.
func Verify(inv domain.Invoice) []error {
	var problems []error
	subtotal := decimal.Zero
	for i, item := range inv.Items {
		if item.Quantity < 1 {
			problems = append(problems, fmt.Errorf("invoice %d line %d: quantity %d", inv.InvoiceNumber, i, item.Quantity))
		}
		if want := LineSubtotal(item.Price, item.Quantity); !item.Subtotal.Equal(want) {
			problems = append(problems, fmt.Errorf("invoice %d line %d: subtotal %s, want %s", inv.InvoiceNumber, i, item.Subtotal, want))
		}
		subtotal = subtotal.Add(item.Subtotal)
	}
	if !inv.Subtotal.Equal(subtotal) {
		problems = append(problems, fmt.Errorf("invoice %d: subtotal %s, want %s", inv.InvoiceNumber, inv.Subtotal, subtotal))
	}
	if inv.Discount.IsNegative() || inv.Discount.GreaterThan(inv.Subtotal) {
		problems = append(problems, fmt.Errorf("invoice %d: discount %s out of range", inv.InvoiceNumber, inv.Discount))
	}
	if want := inv.Subtotal.Sub(inv.Discount); !inv.Total.Equal(want) {
		problems = append(problems, fmt.Errorf("invoice %d: total %s, want %s", inv.InvoiceNumber, inv.Total, want))
	}
	for i, qty := range Outstanding(inv) {
		if qty < 0 {
			problems = append(problems, fmt.Errorf("invoice %d line %d: returned %d more than sold", inv.InvoiceNumber, i, -qty))
		}
	}
	if inv.Status != domain.InvoiceStatusPaid && inv.Status != domain.InvoiceStatusUnpaid {
		problems = append(problems, fmt.Errorf("invoice %d: status %q", inv.InvoiceNumber, inv.Status))
	}
	return problems
}

// floatNoise bounds the binary floating point error cleared by cleanAmount.
var floatNoise = decimal.New(1, -9)

// cleanAmount rounds d to places when it differs from that rounding only by
// floating point noise (0.30000000000000004 becomes 0.3). Real sub-unit
// amounts are kept.
func cleanAmount(d decimal.Decimal, places int32) decimal.Decimal {
	rounded := d.Round(places)
	if d.Sub(rounded).Abs().LessThan(floatNoise) {
		return rounded
	}
	return d
}

// Normalize repairs an invoice read from storage: missing status and returns
// get their defaults, amounts saved as binary floats are rounded to places,
// missing subtotals and totals are recomputed and return records are pinned
// to the line they were attributed to.
func Normalize(inv *domain.Invoice, places int32) {
	if inv.Status != domain.InvoiceStatusPaid {
		inv.Status = domain.InvoiceStatusUnpaid
	}
	if inv.Items == nil {
		inv.Items = []domain.InvoiceItem{}
	}
	if inv.Returns == nil {
		inv.Returns = []domain.InvoiceItem{}
	}

	inv.Subtotal = cleanAmount(inv.Subtotal, places)
	inv.Discount = cleanAmount(inv.Discount, places)
	inv.Total = cleanAmount(inv.Total, places)
	for i := range inv.Returns {
		inv.Returns[i].Price = cleanAmount(inv.Returns[i].Price, places)
		inv.Returns[i].Subtotal = cleanAmount(inv.Returns[i].Subtotal, places)
	}

	subtotal := decimal.Zero
	for i := range inv.Items {
		item := &inv.Items[i]
		item.Price = cleanAmount(item.Price, places)
		item.Subtotal = cleanAmount(item.Subtotal, places)
		if item.Subtotal.IsZero() {
			item.Subtotal = LineSubtotal(item.Price, item.Quantity)
		}
		subtotal = subtotal.Add(item.Subtotal)
	}
	if inv.Subtotal.IsZero() {
		inv.Subtotal = subtotal
	}
	if inv.Total.IsZero() {
		inv.Total = inv.Subtotal.Sub(inv.Discount)
	}

	returned := make([]int, len(inv.Items))
	for _, rec := range inv.Returns {
		if rec.Line != nil && *rec.Line >= 0 && *rec.Line < len(inv.Items) {
			returned[*rec.Line] += rec.Quantity
		}
	}
	pinned := make([]domain.InvoiceItem, 0, len(inv.Returns))
	for _, rec := range inv.Returns {
		if rec.Line != nil && *rec.Line >= 0 && *rec.Line < len(inv.Items) {
			pinned = append(pinned, rec)
			continue
		}
		if rec.Subtotal.IsZero() {
			rec.Subtotal = LineSubtotal(rec.Price, rec.Quantity)
		}
		allocs := allocateByProduct(inv.Items, returned, rec.ProductID, rec.Quantity, true)
		if len(allocs) == 0 {
			rec.Line = nil
			pinned = append(pinned, rec)
			continue
		}
		for _, alloc := range allocs {
			returned[alloc.line] += alloc.qty
			split := rec
			line := alloc.line
			split.Line = &line
			split.Quantity = alloc.qty
			split.Subtotal = LineSubtotal(rec.Price, alloc.qty)
			pinned = append(pinned, split)
		}
	}
	inv.Returns = pinned
}

type allocation struct {
	line int
	qty  int
}

// allocateByProduct spreads qty over the lines of productID in order. With
// overflow set, any quantity beyond the outstanding total lands on the last
// matching line so that stored data is never silently dropped.
func allocateByProduct(items []domain.InvoiceItem, taken []int, productID string, qty int, overflow bool) []allocation {
	var allocs []allocation
	last := -1
	for i, item := range items {
		if qty == 0 {
			break
		}
		if item.ProductID != productID {
			continue
		}
		last = i
		free := item.Quantity - taken[i]
		if free <= 0 {
			continue
		}
		use := min(free, qty)
		allocs = append(allocs, allocation{line: i, qty: use})
		qty -= use
	}
	if qty > 0 && overflow && last >= 0 {
		allocs = append(allocs, allocation{line: last, qty: qty})
	}
	return allocs
}

func returnRecord(item domain.InvoiceItem, line int, qty int) domain.InvoiceItem {
	return domain.InvoiceItem{
		ProductID:   item.ProductID,
		ProductName: item.ProductName,
		Price:       item.Price,
		Quantity:    qty,
		Subtotal:    LineSubtotal(item.Price, qty),
		Line:        &line,
	}
}
