package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable_ResetColumns(t *testing.T) {
	table := Table{Category: CategoryWallet}
	table.Append(
		Row{"b": 1, "a": 2},
		Row{"c": 3},
	)
	table.ResetColumns()

	assert.Equal(t, []string{"a", "b", "c"}, table.Columns)
}

func TestTable_Empty(t *testing.T) {
	table := Table{}
	assert.True(t, table.Empty())

	table.Append(Row{"a": 1})
	assert.False(t, table.Empty())
}

func TestCategory_IsCard(t *testing.T) {
	assert.True(t, CategoryUzcard.IsCard())
	assert.True(t, CategoryHumo.IsCard())
	assert.True(t, CategoryVisa.IsCard())
	assert.False(t, CategoryWallet.IsCard())
	assert.False(t, CategoryAccount.IsCard())
	assert.False(t, CategoryDeposit.IsCard())
}
