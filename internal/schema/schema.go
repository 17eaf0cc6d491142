// Package schema holds the remote field and entity-set identifiers the sync
// depends on. They are names in the ERP's metadata and must match it exactly.
package schema

import (
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/civil"
	"gopkg.in/yaml.v3"

	"erpsync/internal/odata"
)

// Schema describes the order and line-item entity sets.
type Schema struct {
	Orders    OrderSchema    `yaml:"orders"`
	LineItems LineItemSchema `yaml:"line_items"`
}

type OrderSchema struct {
	EntitySet    string   `yaml:"entity_set"`
	ShipmentDate string   `yaml:"shipment_date_field"`
	RefKey       string   `yaml:"ref_key_field"`
	Number       string   `yaml:"number_field"`
	Date         string   `yaml:"date_field"`
	Address      string   `yaml:"address_field"`
	Client       string   `yaml:"client_field"`
	Manager      string   `yaml:"manager_field"`
	Expand       []string `yaml:"expand"`
	Select       []string `yaml:"select"`
}

// LineItemSchema names the line-item fields and the weight policy. Units are
// compared exactly unless NormalizeUnits is set, which trims and
// NFC-normalises them first.
type LineItemSchema struct {
	EntitySet      string   `yaml:"entity_set"`
	ParentKey      string   `yaml:"parent_key_field"`
	Product        string   `yaml:"product_field"`
	Amount         string   `yaml:"amount_field"`
	Unit           string   `yaml:"unit_field"`
	Quantity       string   `yaml:"quantity_field"`
	Expand         []string `yaml:"expand"`
	Select         []string `yaml:"select"`
	AllowedUnits   []string `yaml:"allowed_units"`
	PieceUnit      string   `yaml:"piece_unit"`
	PieceWeight    float64  `yaml:"piece_weight"`
	StoreName      string   `yaml:"store_name"`
	NormalizeUnits bool     `yaml:"normalize_units"`
}

// Default returns the 1C "Управление торговлей" layout.
func Default() Schema {
	return Schema{
		Orders: OrderSchema{
			EntitySet:    "Document_ЗаказПокупателя",
			ShipmentDate: "ДатаОтгрузки",
			RefKey:       "Ref_Key",
			Number:       "Number",
			Date:         "Date",
			Address:      "АдресДоставки",
			Client:       "Контрагент",
			Manager:      "Ответственный",
			Expand:       []string{"Ответственный/ФизЛицо", "Контрагент"},
			Select:       []string{"Ref_Key", "Number", "Date", "АдресДоставки", "Контрагент/Description", "Ответственный/Code"},
		},
		LineItems: LineItemSchema{
			EntitySet:    "Document_ЗаказПокупателя_Товары",
			ParentKey:    "Ref_Key",
			Product:      "Номенклатура",
			Amount:       "КоличествоМест",
			Unit:         "ЕдиницаИзмерения",
			Quantity:     "Количество",
			Expand:       []string{"Номенклатура", "ЕдиницаИзмерения"},
			Select:       []string{"Ref_Key", "Количество", "КоличествоМест", "Коэффициент", "ЕдиницаИзмерения/Description", "Номенклатура/Description"},
			AllowedUnits: []string{"кг", "л", "шт"},
			PieceUnit:    "шт",
			PieceWeight:  1.0,
			StoreName:    "Склад №1",
		},
	}
}

// Load reads a YAML file over Default. Fields missing from the file keep their defaults.
func Load(path string) (Schema, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("parse schema %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Schema{}, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

// Validate reports every empty identifier at once.
func (s Schema) Validate() error {
	var errs []error
	required := []struct{ name, value string }{
		{"orders.entity_set", s.Orders.EntitySet},
		{"orders.shipment_date_field", s.Orders.ShipmentDate},
		{"orders.ref_key_field", s.Orders.RefKey},
		{"orders.number_field", s.Orders.Number},
		{"orders.date_field", s.Orders.Date},
		{"orders.address_field", s.Orders.Address},
		{"orders.client_field", s.Orders.Client},
		{"orders.manager_field", s.Orders.Manager},
		{"line_items.entity_set", s.LineItems.EntitySet},
		{"line_items.parent_key_field", s.LineItems.ParentKey},
		{"line_items.product_field", s.LineItems.Product},
		{"line_items.amount_field", s.LineItems.Amount},
		{"line_items.unit_field", s.LineItems.Unit},
		{"line_items.quantity_field", s.LineItems.Quantity},
		{"line_items.piece_unit", s.LineItems.PieceUnit},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is empty", r.name))
		}
	}
	if len(s.LineItems.AllowedUnits) == 0 {
		errs = append(errs, errors.New("line_items.allowed_units is empty"))
	}
	return errors.Join(errs...)
}

// OrderQuery selects the orders due for shipment on date.
func (s Schema) OrderQuery(serviceRoot string, date civil.Date) odata.Query {
	filter := odata.DateFilter(s.Orders.ShipmentDate, odata.FormatDateTime(date))
	return odata.BuildQuery(serviceRoot, s.Orders.EntitySet, filter, s.Orders.Expand, s.Orders.Select)
}

// LineItemQuery selects the line items of the given order keys.
func (s Schema) LineItemQuery(serviceRoot string, keys []string) (odata.Query, error) {
	if len(keys) == 0 {
		return odata.Query{}, fmt.Errorf("%w: line item query needs at least one key", odata.ErrInvalidArgument)
	}
	filter := odata.DisjunctionFilter(s.LineItems.ParentKey, keys)
	return odata.BuildQuery(serviceRoot, s.LineItems.EntitySet, filter, s.LineItems.Expand, s.LineItems.Select), nil
}
