package services_test

import (
	"slices"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferreirogomes/artmarket/ledger"
	"github.com/ferreirogomes/artmarket/models"
	"github.com/ferreirogomes/artmarket/services"
)

func names(seq func(func(models.Asset) bool)) []string {
	var out []string
	for a := range seq {
		out = append(out, a.Name)
	}
	return out
}

func seedMarket(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New()
	add := func(name string, c models.Category, creator string, list bool) models.Asset {
		a, err := l.Create(models.Draft{
			Name: name, Category: c, Price: "1", List: list,
			Image: models.ImageRef{Locator: "ipfs://" + name},
		}, creator, "")
		require.NoError(t, err)
		return a
	}
	add("Sunset Boulevard", models.CategoryPainting, alice, true)
	add("Oak Bowl", models.CategoryWoodCraft, alice, false)
	sold := add("Sunrise", models.CategoryPhotography, alice, true)
	add("Ring", models.CategoryJewelry, bob, true)

	_, err := l.Transfer(sold.ID, alice, bob, decimal.NewFromInt(1))
	require.NoError(t, err)
	return l
}

func TestViewOwnedAndCreated(t *testing.T) {
	v := services.NewViewService(seedMarket(t))

	assert.Equal(t, []string{"Sunset Boulevard", "Oak Bowl"}, names(v.OwnedBy(alice)))
	assert.Equal(t, []string{"Sunset Boulevard", "Oak Bowl", "Sunrise"}, names(v.CreatedBy(alice)))
	assert.Equal(t, []string{"Sunrise", "Ring"}, names(v.OwnedBy(bob)))
	assert.Empty(t, names(v.OwnedBy(carol)))
}

func TestViewForSaleFilters(t *testing.T) {
	v := services.NewViewService(seedMarket(t))

	assert.Equal(t, []string{"Sunset Boulevard", "Ring"}, names(v.ForSale(models.CategoryAll, "")))
	assert.Equal(t, []string{"Ring"}, names(v.ForSale(models.CategoryJewelry, "")))
	assert.Equal(t, []string{"Sunset Boulevard"}, names(v.ForSale(models.CategoryAll, "SUN")))
	assert.Empty(t, names(v.ForSale(models.CategoryWoodCraft, "")))
}

func TestViewRecomputesOnEveryRead(t *testing.T) {
	l := seedMarket(t)
	v := services.NewViewService(l)
	seq := v.ForSale(models.CategoryAll, "")
	before := slices.Collect(seq)

	for a := range l.Query(ledger.ForSale()) {
		_, err := l.CancelListing(a.ID, a.Owner)
		require.NoError(t, err)
	}
	assert.Len(t, before, 2)
	assert.Empty(t, slices.Collect(seq))
}

func TestDashboard(t *testing.T) {
	v := services.NewViewService(seedMarket(t))

	assert.Equal(t, services.Dashboard{Identity: alice, Owned: 2, Created: 3}, v.Dashboard(alice))
	assert.Equal(t, services.Dashboard{Identity: bob, Owned: 2, Created: 1}, v.Dashboard(bob))
	assert.Equal(t, services.Dashboard{}, v.Dashboard(""))
}
