package models_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/models"
	"github.com/dedesp/PancongKeceApp-sub001/utils"
	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

// setupTestDB opens a fresh sqlite database in the test's temp dir, runs
// migrations and returns a context carrying a test actor.
func setupTestDB(t *testing.T) context.Context {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_NAME", filepath.Join(t.TempDir(), "test.db"))
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	return ctx
}

func createMaterial(t *testing.T, ctx context.Context, code, name, unit, inventoryUnit, unitCost string) *models.RawMaterial {
	t.Helper()
	material, err := models.CreateRawMaterial(ctx, &models.NewRawMaterial{
		Code:          code,
		Name:          name,
		Unit:          unit,
		InventoryUnit: inventoryUnit,
		UnitCost:      dec(t, unitCost),
	})
	if err != nil {
		t.Fatalf("CreateRawMaterial %s: %v", name, err)
	}
	return material
}

func createConversion(t *testing.T, ctx context.Context, materialId int, fromUnit, toUnit, factor string) {
	t.Helper()
	_, err := models.CreateUnitConversionRule(ctx, &models.NewUnitConversionRule{
		RawMaterialId: materialId,
		FromUnit:      fromUnit,
		ToUnit:        toUnit,
		Factor:        dec(t, factor),
	})
	if err != nil {
		t.Fatalf("CreateUnitConversionRule %s->%s: %v", fromUnit, toUnit, err)
	}
}

func createProduct(t *testing.T, ctx context.Context, sku, name, sellingPrice string, subRecipe bool, batchYield string) *models.RecipeProduct {
	t.Helper()
	input := &models.NewRecipeProduct{
		Sku:          sku,
		Name:         name,
		SellingPrice: dec(t, sellingPrice),
	}
	if subRecipe {
		input.IsSubRecipe = utils.NewTrue()
		input.BatchYield = dec(t, batchYield)
	}
	product, err := models.CreateRecipeProduct(ctx, input)
	if err != nil {
		t.Fatalf("CreateRecipeProduct %s: %v", name, err)
	}
	return product
}

func addMaterialEdge(t *testing.T, ctx context.Context, productId, materialId int, quantity, unit string) {
	t.Helper()
	_, err := models.CreateCompositionEdge(ctx, &models.NewCompositionEdge{
		ProductId:     productId,
		RawMaterialId: &materialId,
		Quantity:      dec(t, quantity),
		Unit:          unit,
	})
	if err != nil {
		t.Fatalf("CreateCompositionEdge material %d: %v", materialId, err)
	}
}

func addSubRecipeEdge(t *testing.T, ctx context.Context, productId, subRecipeId int, quantity string) {
	t.Helper()
	_, err := models.CreateCompositionEdge(ctx, &models.NewCompositionEdge{
		ProductId:   productId,
		SubRecipeId: &subRecipeId,
		Quantity:    dec(t, quantity),
		Unit:        "portion",
	})
	if err != nil {
		t.Fatalf("CreateCompositionEdge sub recipe %d: %v", subRecipeId, err)
	}
}

func replenish(t *testing.T, ctx context.Context, ledger *models.StockLedger, materialId int, quantity, unit string) {
	t.Helper()
	_, err := ledger.Replenish(ctx, materialId, dec(t, quantity), unit,
		models.StockReferenceTypePurchase, "", "opening stock", "test@local")
	if err != nil {
		t.Fatalf("Replenish material %d: %v", materialId, err)
	}
}

func loadResolver(t *testing.T, ctx context.Context) *models.RecipeResolver {
	t.Helper()
	resolver, err := models.LoadRecipeResolver(ctx)
	if err != nil {
		t.Fatalf("LoadRecipeResolver: %v", err)
	}
	return resolver
}

func loadLedger(t *testing.T, ctx context.Context, policy models.NegativeStockPolicy) *models.StockLedger {
	t.Helper()
	converter, err := models.LoadUnitConverter(ctx)
	if err != nil {
		t.Fatalf("LoadUnitConverter: %v", err)
	}
	return models.NewStockLedger(policy, converter)
}
