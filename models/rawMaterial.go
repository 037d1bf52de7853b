package models

import (
	"context"
	"time"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/utils"
	"github.com/shopspring/decimal"
)

// RawMaterial is catalog configuration: identity is immutable once created,
// price and threshold are maintained by purchasing workflows.
type RawMaterial struct {
	ID       int    `gorm:"primary_key" json:"id"`
	Code     string `gorm:"size:50;not null;unique" json:"code" binding:"required"`
	Name     string `gorm:"size:255;not null;unique" json:"name" binding:"required"`
	Category string `gorm:"size:100" json:"category"`
	// Unit is the canonical recipe unit the material is consumed in.
	Unit string `gorm:"size:20;not null;default:pcs" json:"unit" binding:"required"`
	// InventoryUnit is the canonical unit stock is tracked in.
	// Empty means stock is tracked in the recipe unit.
	InventoryUnit string          `gorm:"size:20" json:"inventory_unit"`
	UnitCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	MinimumStock  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum_stock"`
	Supplier      string          `gorm:"size:255" json:"supplier"`
	Description   string          `gorm:"type:text" json:"description"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRawMaterial struct {
	Code          string          `json:"code" binding:"required"`
	Name          string          `json:"name" binding:"required"`
	Category      string          `json:"category"`
	Unit          string          `json:"unit" binding:"required"`
	InventoryUnit string          `json:"inventory_unit"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	MinimumStock  decimal.Decimal `json:"minimum_stock"`
	Supplier      string          `json:"supplier"`
	Description   string          `json:"description"`
}

func (input *NewRawMaterial) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[RawMaterial](ctx, "code", input.Code, id); err != nil {
		return err
	}
	if err := utils.ValidateUnique[RawMaterial](ctx, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateRawMaterial(ctx context.Context, input *NewRawMaterial) (*RawMaterial, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	material := RawMaterial{
		Code:          input.Code,
		Name:          input.Name,
		Category:      input.Category,
		Unit:          input.Unit,
		InventoryUnit: input.InventoryUnit,
		UnitCost:      input.UnitCost,
		MinimumStock:  input.MinimumStock,
		Supplier:      input.Supplier,
		Description:   input.Description,
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&material).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	// every material starts with an empty stock record so movements always
	// have a row to mutate
	record := StockRecord{
		RawMaterialId: material.ID,
		Quantity:      decimal.Zero,
		Unit:          material.StockUnit(),
		MinimumStock:  material.MinimumStock,
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &material, nil
}

func UpdateRawMaterial(ctx context.Context, id int, input *NewRawMaterial) (*RawMaterial, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	material, err := utils.FetchModel[RawMaterial](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(material).Updates(map[string]interface{}{
		"Category":      input.Category,
		"InventoryUnit": input.InventoryUnit,
		"UnitCost":      input.UnitCost,
		"MinimumStock":  input.MinimumStock,
		"Supplier":      input.Supplier,
		"Description":   input.Description,
	}).Error
	if err != nil {
		return nil, err
	}
	return material, nil
}

func GetRawMaterial(ctx context.Context, id int) (*RawMaterial, error) {
	return utils.FetchModel[RawMaterial](ctx, id)
}

func GetRawMaterials(ctx context.Context, search *string) ([]*RawMaterial, error) {
	db := config.GetDB()
	var results []*RawMaterial

	dbCtx := db.WithContext(ctx)
	if search != nil && *search != "" {
		dbCtx = dbCtx.Where("name LIKE ? OR code LIKE ?", "%"+*search+"%", "%"+*search+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// StockUnit returns the unit stock is tracked in for this material.
func (m RawMaterial) StockUnit() string {
	if m.InventoryUnit != "" {
		return m.InventoryUnit
	}
	return m.Unit
}
