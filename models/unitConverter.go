package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/utils"
	"github.com/shopspring/decimal"
)

var ErrorNoConversionRule = errors.New("no conversion rule")

// UnitConversionRule maps a quantity of one material between two units.
// Rules are directional; the reverse direction is its own row.
type UnitConversionRule struct {
	ID            int             `gorm:"primary_key" json:"id"`
	RawMaterialId int             `gorm:"index:idx_conversion_rule,unique;not null" json:"raw_material_id" binding:"required"`
	FromUnit      string          `gorm:"index:idx_conversion_rule,unique;size:20;not null" json:"from_unit" binding:"required"`
	ToUnit        string          `gorm:"index:idx_conversion_rule,unique;size:20;not null" json:"to_unit" binding:"required"`
	Factor        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"factor" binding:"required"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUnitConversionRule struct {
	RawMaterialId int             `json:"raw_material_id" binding:"required"`
	FromUnit      string          `json:"from_unit" binding:"required"`
	ToUnit        string          `json:"to_unit" binding:"required"`
	Factor        decimal.Decimal `json:"factor" binding:"required"`
}

func (input *NewUnitConversionRule) validate(ctx context.Context) error {
	if input.FromUnit == input.ToUnit {
		return errors.New("from unit and to unit must differ")
	}
	if input.Factor.LessThanOrEqual(decimal.Zero) {
		return errors.New("factor must be positive")
	}
	if err := utils.ValidateResourceId[RawMaterial](ctx, input.RawMaterialId); err != nil {
		return errors.New("raw material not found")
	}
	return nil
}

// CreateUnitConversionRule stores a rule and its reverse in one transaction,
// so a pair set up once converts both ways.
func CreateUnitConversionRule(ctx context.Context, input *NewUnitConversionRule) (*UnitConversionRule, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()

	rule := UnitConversionRule{
		RawMaterialId: input.RawMaterialId,
		FromUnit:      input.FromUnit,
		ToUnit:        input.ToUnit,
		Factor:        input.Factor,
	}
	if err := tx.Create(&rule).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	var reverseCount int64
	if err := tx.Model(&UnitConversionRule{}).
		Where("raw_material_id = ? AND from_unit = ? AND to_unit = ?", input.RawMaterialId, input.ToUnit, input.FromUnit).
		Count(&reverseCount).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if reverseCount == 0 {
		reverse := UnitConversionRule{
			RawMaterialId: input.RawMaterialId,
			FromUnit:      input.ToUnit,
			ToUnit:        input.FromUnit,
			Factor:        decimal.NewFromInt(1).Div(input.Factor),
		}
		if err := tx.Create(&reverse).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func GetUnitConversionRules(ctx context.Context, rawMaterialId int) ([]UnitConversionRule, error) {
	db := config.GetDB()
	var rules []UnitConversionRule
	query := db.WithContext(ctx).Order("raw_material_id, from_unit")
	if rawMaterialId > 0 {
		query = query.Where("raw_material_id = ?", rawMaterialId)
	}
	if err := query.Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

type conversionKey struct {
	rawMaterialId int
	fromUnit      string
	toUnit        string
}

// UnitConverter answers unit conversions for a snapshot of the rule table.
// It is read-only after load and safe for concurrent use.
type UnitConverter struct {
	factors map[conversionKey]decimal.Decimal
}

func LoadUnitConverter(ctx context.Context) (*UnitConverter, error) {
	rules, err := GetUnitConversionRules(ctx, 0)
	if err != nil {
		return nil, err
	}
	return NewUnitConverter(rules), nil
}

func NewUnitConverter(rules []UnitConversionRule) *UnitConverter {
	converter := &UnitConverter{factors: make(map[conversionKey]decimal.Decimal, len(rules))}
	for _, rule := range rules {
		key := conversionKey{rule.RawMaterialId, rule.FromUnit, rule.ToUnit}
		converter.factors[key] = rule.Factor
	}
	return converter
}

// Convert returns quantity expressed in toUnit. Same-unit calls are the
// identity and never need a rule; anything else without a rule is a
// configuration error, not a silent passthrough.
func (c *UnitConverter) Convert(rawMaterialId int, quantity decimal.Decimal, fromUnit, toUnit string) (decimal.Decimal, error) {
	if fromUnit == toUnit {
		return quantity, nil
	}
	factor, ok := c.factors[conversionKey{rawMaterialId, fromUnit, toUnit}]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: material %d from %s to %s", ErrorNoConversionRule, rawMaterialId, fromUnit, toUnit)
	}
	return quantity.Mul(factor), nil
}

// ToStockUnit expresses a recipe-unit quantity in the material's inventory
// unit, the unit stock records and movements are kept in.
func (c *UnitConverter) ToStockUnit(material *RawMaterial, quantity decimal.Decimal, fromUnit string) (decimal.Decimal, error) {
	return c.Convert(material.ID, quantity, fromUnit, material.StockUnit())
}

// ToRecipeUnit expresses an inventory-unit quantity in the material's
// canonical recipe unit, used when costing and displaying requirements.
func (c *UnitConverter) ToRecipeUnit(material *RawMaterial, quantity decimal.Decimal, fromUnit string) (decimal.Decimal, error) {
	return c.Convert(material.ID, quantity, fromUnit, material.Unit)
}

// CheckAvailability reports whether onHand (in the material's inventory unit)
// covers required (in requiredUnit), converting the requirement first.
func (c *UnitConverter) CheckAvailability(material *RawMaterial, onHand, required decimal.Decimal, requiredUnit string) (bool, decimal.Decimal, error) {
	need, err := c.ToStockUnit(material, required, requiredUnit)
	if err != nil {
		return false, decimal.Zero, err
	}
	return onHand.GreaterThanOrEqual(need), need, nil
}
