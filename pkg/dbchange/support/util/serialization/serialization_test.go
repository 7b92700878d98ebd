package serialization_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/serialization"
)

func TestMasker_GetMaskedParametersMap(t *testing.T) {
	m := serialization.NewMasker([]string{"Password", " token ", ""})
	params := map[string]interface{}{
		"user":     "app",
		"password": "s3cret",
		"nested": map[string]interface{}{
			"TOKEN": "abc",
			"list":  []interface{}{map[string]interface{}{"password": "x"}, "plain"},
		},
	}

	masked := m.GetMaskedParametersMap(params)

	assert.Equal(t, "app", masked["user"])
	assert.Equal(t, serialization.Mask, masked["password"])
	nested := masked["nested"].(map[string]interface{})
	assert.Equal(t, serialization.Mask, nested["TOKEN"])
	list := nested["list"].([]interface{})
	assert.Equal(t, serialization.Mask, list[0].(map[string]interface{})["password"])
	assert.Equal(t, "plain", list[1])

	assert.Equal(t, "s3cret", params["password"], "input must not change")
	assert.Empty(t, m.GetMaskedParametersMap(nil))
}

func TestMasker_MaskJSON(t *testing.T) {
	m := serialization.NewMasker([]string{"password"})

	assert.JSONEq(t, `{"dataSourceName":"main","password":"********"}`, m.MaskJSON([]byte(`{"dataSourceName":"main","password":"p"}`)))
	assert.Equal(t, "<unparseable parameters>", m.MaskJSON([]byte(`{"password":`)))
	assert.Equal(t, "<unparseable parameters>", m.MaskJSON([]byte(`"password"`)))

	var nilMasker *serialization.Masker
	assert.JSONEq(t, `{"password":"p"}`, nilMasker.MaskJSON([]byte(`{"password":"p"}`)))
}
