package registry

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	moduledomain "github.com/smallbiznis/modulebilling/internal/module/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalog(t *testing.T) {
	catalog, err := Provide()
	require.NoError(t, err)

	def, err := catalog.Get("premium-club")
	require.NoError(t, err)
	assert.True(t, def.MonthlyPrice.Equal(decimal.RequireFromString("49.90")))
	assert.Equal(t, "ILS", def.Currency)
	assert.False(t, def.IsFree)

	_, err = catalog.Get("does-not-exist")
	assert.ErrorIs(t, err, moduledomain.ErrModuleNotFound)

	assert.Len(t, catalog.List(), 10)
	assert.Len(t, catalog.ListPaid(), 4)
	assert.Len(t, catalog.ListFree(), 6)
	assert.Len(t, catalog.ListByCategory(moduledomain.CategoryMarketing), 4)
	assert.Len(t, catalog.ListByType(moduledomain.ModuleTypeScript), 2)
}

func TestRegistryIsImmutable(t *testing.T) {
	catalog, err := Provide()
	require.NoError(t, err)

	def, err := catalog.Get("saturday-shutdown")
	require.NoError(t, err)
	def.DefaultConfig["store_closed"] = true
	def.Name = "changed"

	again, err := catalog.Get("saturday-shutdown")
	require.NoError(t, err)
	assert.Equal(t, false, again.DefaultConfig["store_closed"])
	assert.Equal(t, "Saturday Shutdown", again.Name)
}

func TestNewRejectsInvalidDefinitions(t *testing.T) {
	base := moduledomain.ModuleDefinition{
		ID:           "gift-cards",
		Name:         "Gift Cards",
		MonthlyPrice: decimal.RequireFromString("10"),
		Currency:     "ILS",
	}

	cases := map[string]func(d *moduledomain.ModuleDefinition){
		"bad slug":       func(d *moduledomain.ModuleDefinition) { d.ID = "Gift Cards" },
		"negative price": func(d *moduledomain.ModuleDefinition) { d.MonthlyPrice = decimal.RequireFromString("-1") },
		"free mismatch":  func(d *moduledomain.ModuleDefinition) { d.IsFree = true },
		"no name":        func(d *moduledomain.ModuleDefinition) { d.Name = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			def := base
			mutate(&def)
			_, err := New(def)
			assert.True(t, errors.Is(err, moduledomain.ErrInvalidModule), "got %v", err)
		})
	}

	_, err := New(base, base)
	assert.ErrorIs(t, err, moduledomain.ErrInvalidModule)
}
