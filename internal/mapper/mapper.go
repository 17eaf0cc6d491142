// Package mapper turns decoded ERP records into orders and line items.
package mapper

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"erpsync/internal/model"
	"erpsync/internal/odata"
	"erpsync/internal/schema"
)

// Mapper reads the fixed fields named by a schema.
type Mapper struct {
	orders  schema.OrderSchema
	items   schema.LineItemSchema
	allowed map[string]struct{}
	piece   string
	norm    func(string) string
}

func New(s schema.Schema) *Mapper {
	unit := func(u string) string { return u }
	if s.LineItems.NormalizeUnits {
		unit = normalizeUnit
	}
	allowed := make(map[string]struct{}, len(s.LineItems.AllowedUnits))
	for _, u := range s.LineItems.AllowedUnits {
		allowed[unit(u)] = struct{}{}
	}
	return &Mapper{
		orders:  s.Orders,
		items:   s.LineItems,
		allowed: allowed,
		piece:   unit(s.LineItems.PieceUnit),
		norm:    unit,
	}
}

// FieldError names the entity and field a decode failure came from.
type FieldError struct {
	Entity string
	Field  string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Entity, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// MapOrder decodes one order record. Line items and weight stay empty until aggregation.
func (m *Mapper) MapOrder(rec *odata.Record) (string, model.Order, error) {
	const entity = "order"
	f := m.orders
	key, err := decodeKey(entity, f.RefKey, rec)
	if err != nil {
		return "", model.Order{}, err
	}
	number, err := odata.DecodeString(rec.Get(f.Number))
	if err != nil {
		return "", model.Order{}, &FieldError{entity, f.Number, err}
	}
	created, err := odata.DecodeDate(rec.Get(f.Date))
	if err != nil {
		return "", model.Order{}, &FieldError{entity, f.Date, err}
	}
	address, err := odata.DecodeString(rec.Get(f.Address))
	if err != nil {
		return "", model.Order{}, &FieldError{entity, f.Address, err}
	}
	client, err := odata.DecodeComposite(rec.Get(f.Client))
	if err != nil {
		return "", model.Order{}, &FieldError{entity, f.Client, err}
	}
	manager, err := odata.DecodeComposite(rec.Get(f.Manager))
	if err != nil {
		return "", model.Order{}, &FieldError{entity, f.Manager, err}
	}
	return key, model.Order{
		Key:             key,
		Number:          number,
		CreatedDate:     created,
		ClientName:      client,
		Address:         address,
		ManagerFullName: strings.TrimSpace(manager),
	}, nil
}

// MapLineItem decodes one line-item record and applies the weight policy:
// units outside the allowed set weigh 0, the piece unit weighs the fixed
// piece weight, other allowed units take the quantity field as weight.
// Units match exactly unless the schema sets NormalizeUnits.
func (m *Mapper) MapLineItem(rec *odata.Record) (string, model.LineItem, error) {
	const entity = "line_item"
	f := m.items
	parent, err := decodeKey(entity, f.ParentKey, rec)
	if err != nil {
		return "", model.LineItem{}, err
	}
	amount, err := odata.DecodeInt(rec.Get(f.Amount))
	if err != nil {
		return "", model.LineItem{}, &FieldError{entity, f.Amount, err}
	}
	unit, err := odata.DecodeComposite(rec.Get(f.Unit))
	if err != nil {
		return "", model.LineItem{}, &FieldError{entity, f.Unit, err}
	}
	product, err := odata.DecodeComposite(rec.Get(f.Product))
	if err != nil {
		return "", model.LineItem{}, &FieldError{entity, f.Product, err}
	}
	total, err := m.totalWeight(unit, rec)
	if err != nil {
		return "", model.LineItem{}, &FieldError{entity, f.Quantity, err}
	}
	item := model.LineItem{
		ParentKey:   parent,
		ProductName: product,
		Amount:      amount,
		StoreName:   f.StoreName,
	}
	return parent, item.WithTotalWeight(total), nil
}

func (m *Mapper) totalWeight(unit string, rec *odata.Record) (float64, error) {
	u := m.norm(unit)
	if _, ok := m.allowed[u]; !ok {
		return 0, nil
	}
	if u == m.piece {
		return m.items.PieceWeight, nil
	}
	return odata.DecodeFloat(rec.Get(m.items.Quantity))
}

func decodeKey(entity, field string, rec *odata.Record) (string, error) {
	key, err := odata.DecodeString(rec.Get(field))
	if err != nil {
		return "", &FieldError{entity, field, err}
	}
	if key == "" {
		return "", &FieldError{entity, field, &odata.TypeDecodeError{Op: "decode key", Want: "non-empty key", Got: "empty string"}}
	}
	return key, nil
}

func normalizeUnit(u string) string {
	return norm.NFC.String(strings.TrimSpace(u))
}
