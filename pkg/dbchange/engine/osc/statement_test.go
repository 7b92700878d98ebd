package osc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

func TestSplit(t *testing.T) {
	content := `
-- leading comment; with a delimiter
ALTER TABLE a ADD COLUMN note VARCHAR(10) DEFAULT 'x;y';
/* block; comment */
ALTER TABLE b ADD COLUMN c INT;

;`
	got := Split(content, ";")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "'x;y'")
	assert.Contains(t, got[1], "ALTER TABLE b")
}

func TestSplit_CustomDelimiter(t *testing.T) {
	got := Split("ALTER TABLE a ADD c INT $$ ALTER TABLE b ADD d INT", "$$")
	assert.Equal(t, []string{"ALTER TABLE a ADD c INT", "ALTER TABLE b ADD d INT"}, got)
}

func TestParse(t *testing.T) {
	cases := []struct {
		text  string
		kind  parameter.SqlType
		table string
	}{
		{"CREATE TABLE orders (id INT PRIMARY KEY)", parameter.SqlTypeCreate, "orders"},
		{"create table if not exists `shop`.`orders` (id int)", parameter.SqlTypeCreate, "shop.orders"},
		{"-- note\nALTER TABLE \"orders\" ADD COLUMN note TEXT", parameter.SqlTypeAlter, "orders"},
		{"ALTER TABLE ONLY public.orders ADD COLUMN note TEXT", parameter.SqlTypeAlter, "public.orders"},
	}
	for _, c := range cases {
		st, err := Parse(c.text)
		require.NoError(t, err, c.text)
		assert.Equal(t, c.kind, st.Kind, c.text)
		assert.Equal(t, c.table, st.Table, c.text)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, text := range []string{
		"DROP TABLE orders",
		"ALTER TABLE orders RENAME TO orders2",
		"UPDATE orders SET a = 1",
	} {
		_, err := Parse(text)
		require.Error(t, err, text)
		assert.Equal(t, exception.KindConfiguration, exception.KindOf(err), text)
	}
}

func TestStatement_Rewrite(t *testing.T) {
	st, err := Parse("ALTER TABLE `orders` ADD COLUMN note TEXT")
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE `_orders_osc_new_` ADD COLUMN note TEXT", st.Rewrite(database.MySQL{}, ShadowName(st.Table)))
}

func TestShadowAndReservedNames(t *testing.T) {
	assert.Equal(t, "_orders_osc_new_", ShadowName("orders"))
	assert.Equal(t, "_orders_osc_old_", ReservedName("orders"))
	assert.Equal(t, "shop._orders_osc_new_", ShadowName("shop.orders"))
}

func TestParseAll_TypeMismatch(t *testing.T) {
	_, err := ParseAll("ALTER TABLE a ADD c INT; CREATE TABLE b (id INT)", ";", parameter.SqlTypeAlter)
	require.Error(t, err)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))

	_, err = ParseAll(" ; -- nothing\n", ";", parameter.SqlTypeAlter)
	assert.Error(t, err)
}

func TestParseAll_SameTableTwice(t *testing.T) {
	_, err := ParseAll("ALTER TABLE a ADD c INT; ALTER TABLE b ADD d INT; ALTER TABLE A ADD e INT", ";", parameter.SqlTypeAlter)
	require.Error(t, err)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))
	assert.Contains(t, err.Error(), "statements 1 and 3")
}
