package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/models"
	"github.com/dedesp/PancongKeceApp-sub001/utils"
	"github.com/shopspring/decimal"
)

// Seeds a small cafe catalog for local development: materials, a batched
// sub recipe, conversion rules, tax and rounding settings and opening stock.
// Safe to run once against an empty database only.
func main() {
	skipStock := flag.Bool("skip-stock", false, "Seed catalog only, without opening stock")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()
	ctx = utils.SetUsernameInContext(ctx, "SeedDev")

	existing, err := models.GetRawMaterials(ctx, nil)
	if err != nil {
		fail("list materials", err)
	}
	if len(existing) > 0 {
		fmt.Fprintln(os.Stderr, "database already has materials; refusing to seed")
		os.Exit(1)
	}

	dec := decimal.RequireFromString

	materials := map[string]*models.NewRawMaterial{}
	for _, input := range []*models.NewRawMaterial{
		{Code: "RM-001", Name: "Kailan", Unit: "Gram", InventoryUnit: "Kg", UnitCost: dec("0.04"), MinimumStock: dec("2")},
		{Code: "RM-002", Name: "Garlic", Unit: "Gram", InventoryUnit: "Kg", UnitCost: dec("0.06"), MinimumStock: dec("1")},
		{Code: "RM-003", Name: "Cooking Oil", Unit: "ml", InventoryUnit: "Liter", UnitCost: dec("0.02"), MinimumStock: dec("2")},
		{Code: "RM-004", Name: "Flour", Unit: "Gram", InventoryUnit: "Kg", UnitCost: dec("0.015"), MinimumStock: dec("5")},
		{Code: "RM-005", Name: "Water", Unit: "ml", UnitCost: dec("0.001"), MinimumStock: dec("1000")},
	} {
		material, err := models.CreateRawMaterial(ctx, input)
		if err != nil {
			fail("create material "+input.Name, err)
		}
		materials[material.Name] = input
		seedConversions(ctx, material)
	}

	kailan := mustMaterial(ctx, "Kailan")
	garlic := mustMaterial(ctx, "Garlic")
	oil := mustMaterial(ctx, "Cooking Oil")
	flour := mustMaterial(ctx, "Flour")
	water := mustMaterial(ctx, "Water")

	crispyKailan, err := models.CreateRecipeProduct(ctx, &models.NewRecipeProduct{
		Sku:         "PG-001",
		Name:        "Crispy Kailan",
		Category:    "PG",
		IsSubRecipe: utils.NewTrue(),
		BatchYield:  dec("10"),
	})
	if err != nil {
		fail("create sub recipe", err)
	}
	kailanDish, err := models.CreateRecipeProduct(ctx, &models.NewRecipeProduct{
		Sku:          "PRD-001",
		Name:         "Kailan Two Ways",
		Category:     "Main",
		SellingPrice: dec("45000"),
	})
	if err != nil {
		fail("create product", err)
	}

	for _, edge := range []*models.NewCompositionEdge{
		{ProductId: crispyKailan.ID, RawMaterialId: &kailan.ID, Quantity: dec("500"), Unit: "Gram"},
		{ProductId: crispyKailan.ID, RawMaterialId: &flour.ID, Quantity: dec("200"), Unit: "Gram"},
		{ProductId: crispyKailan.ID, RawMaterialId: &water.ID, Quantity: dec("150"), Unit: "ml"},
		{ProductId: crispyKailan.ID, RawMaterialId: &oil.ID, Quantity: dec("300"), Unit: "ml"},
		{ProductId: kailanDish.ID, RawMaterialId: &kailan.ID, Quantity: dec("120"), Unit: "Gram"},
		{ProductId: kailanDish.ID, RawMaterialId: &garlic.ID, Quantity: dec("10"), Unit: "Gram"},
		{ProductId: kailanDish.ID, RawMaterialId: &oil.ID, Quantity: dec("20"), Unit: "ml"},
		{ProductId: kailanDish.ID, SubRecipeId: &crispyKailan.ID, Quantity: dec("1"), Unit: "portion"},
	} {
		if _, err := models.CreateCompositionEdge(ctx, edge); err != nil {
			fail("create composition edge", err)
		}
	}

	for _, setting := range []*models.NewTaxSetting{
		{SettingKey: models.ServiceChargeKey, Name: "Service Charge", Percentage: dec("5"), ApplyBeforeService: utils.NewTrue()},
		{SettingKey: "ppn", Name: "PPN", Percentage: dec("11")},
	} {
		if _, err := models.CreateTaxSetting(ctx, setting); err != nil {
			fail("create tax setting "+setting.SettingKey, err)
		}
	}
	if _, err := models.SaveRoundingSetting(ctx, &models.RoundingSetting{
		Method:    models.RoundingMethodNearest,
		Increment: dec("100"),
	}); err != nil {
		fail("create rounding setting", err)
	}

	if !*skipStock {
		converter, err := models.LoadUnitConverter(ctx)
		if err != nil {
			fail("load converter", err)
		}
		ledger := models.NewStockLedger(models.NegativeStockReject, converter)
		for _, opening := range []struct {
			material *models.RawMaterial
			quantity string
			unit     string
		}{
			{kailan, "10", "Kg"},
			{garlic, "3", "Kg"},
			{oil, "8", "Liter"},
			{flour, "20", "Kg"},
			{water, "50000", "ml"},
		} {
			if _, err := ledger.Replenish(ctx, opening.material.ID, dec(opening.quantity), opening.unit,
				models.StockReferenceTypePurchase, "seed-opening-stock-"+opening.material.Code, "opening stock", "SeedDev"); err != nil {
				fail("seed stock for "+opening.material.Name, err)
			}
		}
	}

	fmt.Println("seeded", len(materials), "materials, 2 products, tax and rounding settings")
}

// seedConversions writes both directions for the material's inventory unit
// pair, and the literal Gram to ml identity for water.
func seedConversions(ctx context.Context, material *models.RawMaterial) {
	dec := decimal.RequireFromString
	pairs := map[string]string{
		"Kg":    "1000", // recipe Gram per Kg
		"Liter": "1000", // recipe ml per Liter
	}
	if factor, ok := pairs[material.InventoryUnit]; ok {
		if _, err := models.CreateUnitConversionRule(ctx, &models.NewUnitConversionRule{
			RawMaterialId: material.ID,
			FromUnit:      material.InventoryUnit,
			ToUnit:        material.Unit,
			Factor:        dec(factor),
		}); err != nil {
			fail("seed conversion for "+material.Name, err)
		}
	}
	if material.Name == "Water" {
		if _, err := models.CreateUnitConversionRule(ctx, &models.NewUnitConversionRule{
			RawMaterialId: material.ID,
			FromUnit:      "Gram",
			ToUnit:        "ml",
			Factor:        dec("1"),
		}); err != nil {
			fail("seed water conversion", err)
		}
	}
}

func mustMaterial(ctx context.Context, name string) *models.RawMaterial {
	materials, err := models.GetRawMaterials(ctx, &name)
	if err != nil || len(materials) == 0 {
		fail("lookup material "+name, err)
	}
	return materials[0]
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
