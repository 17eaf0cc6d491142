package odata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const v3Payload = `{
  "odata.metadata": "http://erp.local/odata/$metadata#Orders",
  "value": [
    {
      "Ref_Key": "k1",
      "Ref_Key@odata.type": "Edm.Guid",
      "Number": "000123",
      "Date": "2020-03-05T00:00:00",
      "Date@odata.type": "Edm.DateTime",
      "Qty": 3,
      "Price": 2.50,
      "Posted": true,
      "Comment": null,
      "Контрагент": {"odata.type": "Catalog", "Description": "Acme", "Code": "001"},
      "Tags": ["a", "b"]
    },
    {"Ref_Key": "k2"}
  ]
}`

func TestDecodeEntitySet_JSONLight(t *testing.T) {
	recs, err := DecodeEntitySet(strings.NewReader(v3Payload))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	r := recs[0]
	assert.Equal(t, []string{"Ref_Key", "Number", "Date", "Qty", "Price", "Posted", "Comment", "Контрагент", "Tags"}, r.Names())
	assert.Equal(t, KindGuid, r.Get("Ref_Key").Kind())
	assert.Equal(t, KindDateTime, r.Get("Date").Kind())
	assert.Equal(t, KindInt64, r.Get("Qty").Kind())
	assert.Equal(t, KindDecimal, r.Get("Price").Kind())
	assert.Equal(t, "2.50", r.Get("Price").Raw())
	assert.Equal(t, KindBoolean, r.Get("Posted").Kind())
	assert.Equal(t, Unset, r.Get("Comment").Tag())
	assert.True(t, r.Has("Comment"))

	client := r.Get("Контрагент")
	require.Equal(t, Composite, client.Tag())
	assert.Equal(t, []string{"Description", "Code"}, client.Members().Names())
	name, err := DecodeComposite(client)
	require.NoError(t, err)
	assert.Equal(t, "Acme", name)

	tags := r.Get("Tags")
	require.Equal(t, Composite, tags.Tag())
	assert.Equal(t, "a", tags.Members().Get("0").Raw())

	assert.Equal(t, []string{"Ref_Key"}, recs[1].Names())
}

func TestDecodeEntitySet_Verbose(t *testing.T) {
	payload := `{"d": {"__count": "1", "results": [
		{"__metadata": {"uri": "x"}, "Ref_Key": "k1", "Amount": "4"}
	]}}`
	recs, err := DecodeEntitySet(strings.NewReader(payload))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"Ref_Key", "Amount"}, recs[0].Names())

	recs, err = DecodeEntitySet(strings.NewReader(`{"d": [{"Ref_Key": "k9"}]}`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "k9", recs[0].Get("Ref_Key").Raw())
}

func TestDecodeEntitySet_EmptyCollection(t *testing.T) {
	recs, err := DecodeEntitySet(strings.NewReader(`{"value": []}`))
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestDecodeEntitySet_Malformed(t *testing.T) {
	for name, payload := range map[string]string{
		"no collection": `{"odata.metadata": "x"}`,
		"not object":    `[1, 2]`,
		"truncated":     `{"value": [{"Ref_Key": "k1"`,
		"scalar rows":   `{"value": [1]}`,
		"empty body":    ``,
		"no results":    `{"d": {"__count": "0"}}`,
	} {
		_, err := DecodeEntitySet(strings.NewReader(payload))
		assert.Error(t, err, name)
	}
}
