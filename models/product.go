package models

import (
	"context"
	"errors"
	"time"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/utils"
	"github.com/shopspring/decimal"
)

// RecipeProduct is a sellable POS product or an internal sub recipe ("PG").
// A PG is produced in batches; BatchYield is how many portions one batch
// makes. The model does not forbid selling a PG directly.
type RecipeProduct struct {
	ID           int             `gorm:"primary_key" json:"id"`
	Sku          string          `gorm:"size:50;not null;unique" json:"sku" binding:"required"`
	Name         string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Category     string          `gorm:"size:100" json:"category"`
	SellingPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"selling_price"`
	IsSubRecipe  *bool           `gorm:"not null;default:false" json:"is_sub_recipe"`
	// BatchYield only matters for sub recipes: portions produced per batch.
	BatchYield decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"batch_yield"`
	IsActive   *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRecipeProduct struct {
	Sku          string          `json:"sku" binding:"required"`
	Name         string          `json:"name" binding:"required"`
	Category     string          `json:"category"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	IsSubRecipe  *bool           `json:"is_sub_recipe"`
	BatchYield   decimal.Decimal `json:"batch_yield"`
}

func (input *NewRecipeProduct) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[RecipeProduct](ctx, "sku", input.Sku, id); err != nil {
		return err
	}
	if input.IsSubRecipe != nil && *input.IsSubRecipe && input.BatchYield.LessThanOrEqual(decimal.Zero) {
		return errors.New("sub recipe requires a positive batch yield")
	}
	return nil
}

func CreateRecipeProduct(ctx context.Context, input *NewRecipeProduct) (*RecipeProduct, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	batchYield := input.BatchYield
	if batchYield.LessThanOrEqual(decimal.Zero) {
		batchYield = decimal.NewFromInt(1)
	}

	product := RecipeProduct{
		Sku:          input.Sku,
		Name:         input.Name,
		Category:     input.Category,
		SellingPrice: input.SellingPrice,
		IsSubRecipe:  input.IsSubRecipe,
		BatchYield:   batchYield,
	}
	if product.IsSubRecipe == nil {
		product.IsSubRecipe = utils.NewFalse()
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func UpdateRecipeProduct(ctx context.Context, id int, input *NewRecipeProduct) (*RecipeProduct, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[RecipeProduct](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(product).Updates(map[string]interface{}{
		"Name":         input.Name,
		"Category":     input.Category,
		"SellingPrice": input.SellingPrice,
		"BatchYield":   input.BatchYield,
	}).Error
	if err != nil {
		return nil, err
	}
	return product, nil
}

func GetRecipeProduct(ctx context.Context, id int) (*RecipeProduct, error) {
	return utils.FetchModel[RecipeProduct](ctx, id)
}

func GetRecipeProducts(ctx context.Context, search *string) ([]*RecipeProduct, error) {
	db := config.GetDB()
	var results []*RecipeProduct

	dbCtx := db.WithContext(ctx)
	if search != nil && *search != "" {
		dbCtx = dbCtx.Where("name LIKE ? OR sku LIKE ?", "%"+*search+"%", "%"+*search+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveRecipeProduct(ctx context.Context, id int, isActive bool) (*RecipeProduct, error) {
	product, err := utils.FetchModel[RecipeProduct](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(product).Update("IsActive", isActive).Error; err != nil {
		return nil, err
	}
	return product, nil
}
