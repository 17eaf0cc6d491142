package schema

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpsync/internal/odata"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestLoad_OverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	doc := `
orders:
  entity_set: Document_SalesOrder
line_items:
  allowed_units: [kg, pcs]
  piece_unit: pcs
  store_name: Main
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Document_SalesOrder", s.Orders.EntitySet)
	assert.Equal(t, "ДатаОтгрузки", s.Orders.ShipmentDate)
	assert.Equal(t, []string{"kg", "pcs"}, s.LineItems.AllowedUnits)
	assert.Equal(t, "pcs", s.LineItems.PieceUnit)
	assert.Equal(t, 1.0, s.LineItems.PieceWeight)
	assert.Equal(t, "Main", s.LineItems.StoreName)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("orders: [\n"), 0o644))
	_, err = Load(bad)
	require.Error(t, err)

	blank := filepath.Join(dir, "blank.yaml")
	require.NoError(t, os.WriteFile(blank, []byte("orders:\n  entity_set: \"\"\n  ref_key_field: \"\"\n"), 0o644))
	_, err = Load(blank)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders.entity_set is empty")
	assert.Contains(t, err.Error(), "orders.ref_key_field is empty")
}

func TestOrderQuery(t *testing.T) {
	q := Default().OrderQuery("http://erp.local/odata", civil.Date{Year: 2020, Month: time.March, Day: 5})
	assert.Equal(t, "Document_ЗаказПокупателя", q.EntitySet)
	assert.Equal(t, "ДатаОтгрузки eq datetime'2020-03-05T00:00:00'", q.Filter)
	assert.Equal(t, []string{"Ответственный/ФизЛицо", "Контрагент"}, q.Expand)
	assert.Contains(t, q.Select, "Контрагент/Description")
}

func TestLineItemQuery(t *testing.T) {
	s := Default()
	q, err := s.LineItemQuery("http://erp.local/odata", []string{"k1", "k2"})
	require.NoError(t, err)
	assert.Equal(t, "Document_ЗаказПокупателя_Товары", q.EntitySet)
	assert.Equal(t, "Ref_Key eq guid'k1' or Ref_Key eq guid'k2'", q.Filter)

	_, err = s.LineItemQuery("http://erp.local/odata", nil)
	require.ErrorIs(t, err, odata.ErrInvalidArgument)
}
