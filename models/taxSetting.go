package models

import (
	"context"
	"errors"
	"time"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TaxSetting is one percentage applied at checkout. Settings flagged
// apply_before_service run on the bare subtotal; the rest compound on the
// running total after earlier settings. The service_charge key is reported
// separately from taxes on receipts.
type TaxSetting struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	SettingKey         string          `gorm:"uniqueIndex;size:50;not null" json:"setting_key" binding:"required"`
	Name               string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Percentage         decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"percentage" binding:"required"`
	ApplyBeforeService *bool           `gorm:"default:false" json:"apply_before_service"`
	IsActive           *bool           `gorm:"default:true" json:"is_active"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

const ServiceChargeKey = "service_charge"

type NewTaxSetting struct {
	SettingKey         string          `json:"setting_key" binding:"required"`
	Name               string          `json:"name" binding:"required"`
	Percentage         decimal.Decimal `json:"percentage" binding:"required"`
	ApplyBeforeService *bool           `json:"apply_before_service"`
}

func (input *NewTaxSetting) validate(ctx context.Context) error {
	if input.Percentage.IsNegative() {
		return errors.New("percentage must not be negative")
	}
	return utils.ValidateUnique[TaxSetting](ctx, "setting_key", input.SettingKey, 0)
}

func CreateTaxSetting(ctx context.Context, input *NewTaxSetting) (*TaxSetting, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	setting := TaxSetting{
		SettingKey:         input.SettingKey,
		Name:               input.Name,
		Percentage:         input.Percentage,
		ApplyBeforeService: input.ApplyBeforeService,
		IsActive:           utils.NewTrue(),
	}
	if setting.ApplyBeforeService == nil {
		setting.ApplyBeforeService = utils.NewFalse()
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

type UpdateTaxSettingInput struct {
	Name               *string          `json:"name"`
	Percentage         *decimal.Decimal `json:"percentage"`
	ApplyBeforeService *bool            `json:"apply_before_service"`
	IsActive           *bool            `json:"is_active"`
}

func UpdateTaxSetting(ctx context.Context, id int, input *UpdateTaxSettingInput) (*TaxSetting, error) {
	setting, err := utils.FetchModel[TaxSetting](ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		setting.Name = *input.Name
	}
	if input.Percentage != nil {
		if input.Percentage.IsNegative() {
			return nil, errors.New("percentage must not be negative")
		}
		setting.Percentage = *input.Percentage
	}
	if input.ApplyBeforeService != nil {
		setting.ApplyBeforeService = input.ApplyBeforeService
	}
	if input.IsActive != nil {
		setting.IsActive = input.IsActive
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Save(setting).Error; err != nil {
		return nil, err
	}
	return setting, nil
}

// GetTaxSettings lists every setting, active or not, for the admin screens.
func GetTaxSettings(ctx context.Context) ([]*TaxSetting, error) {
	return utils.FetchAllModels[TaxSetting](ctx)
}

// GetActiveTaxSettings returns active settings in application order:
// before-service settings first, then by setting key for a stable sequence.
func GetActiveTaxSettings(ctx context.Context) ([]TaxSetting, error) {
	db := config.GetDB()
	var settings []TaxSetting
	if err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("apply_before_service DESC, setting_key ASC").
		Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// TaxBreakdownLine records one applied setting with the base it was computed
// on and the rounded amount it added.
type TaxBreakdownLine struct {
	SettingKey string          `json:"setting_key"`
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
	Base       decimal.Decimal `json:"base"`
	Amount     decimal.Decimal `json:"amount"`
}

// TaxResult is the outcome of applying tax and service settings to a
// subtotal. Service charge lines are reported apart from tax lines.
type TaxResult struct {
	Subtotal       decimal.Decimal    `json:"subtotal"`
	TaxAmount      decimal.Decimal    `json:"tax_amount"`
	ServiceAmount  decimal.Decimal    `json:"service_amount"`
	Total          decimal.Decimal    `json:"total"`
	TaxDetails     []TaxBreakdownLine `json:"tax_details"`
	ServiceDetails []TaxBreakdownLine `json:"service_details"`
}

// CalculateTaxAndService applies the settings sequentially. Each amount is
// rounded to the nearest whole unit before it joins the running total, so
// later settings compound on already-rounded figures. The order of settings
// is part of the contract; pass them as GetActiveTaxSettings returns them.
func CalculateTaxAndService(subtotal decimal.Decimal, settings []TaxSetting) TaxResult {
	result := TaxResult{
		Subtotal:      subtotal,
		TaxAmount:     decimal.Zero,
		ServiceAmount: decimal.Zero,
	}
	currentAmount := subtotal
	hundred := decimal.NewFromInt(100)
	for _, setting := range settings {
		amount := currentAmount.Mul(setting.Percentage).Div(hundred).Round(0)
		line := TaxBreakdownLine{
			SettingKey: setting.SettingKey,
			Name:       setting.Name,
			Percentage: setting.Percentage,
			Base:       currentAmount,
			Amount:     amount,
		}
		if setting.SettingKey == ServiceChargeKey {
			result.ServiceAmount = result.ServiceAmount.Add(amount)
			result.ServiceDetails = append(result.ServiceDetails, line)
		} else {
			result.TaxAmount = result.TaxAmount.Add(amount)
			result.TaxDetails = append(result.TaxDetails, line)
		}
		currentAmount = currentAmount.Add(amount)
	}
	result.Total = currentAmount
	return result
}

// RoundingSetting rounds the final payable total to a cash-friendly
// increment.
type RoundingSetting struct {
	ID        int             `gorm:"primary_key" json:"id"`
	Method    RoundingMethod  `gorm:"size:10;not null" json:"method" binding:"required"`
	Increment decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"increment" binding:"required"`
	IsActive  *bool           `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *RoundingSetting) validate() error {
	switch s.Method {
	case RoundingMethodUp, RoundingMethodDown, RoundingMethodNearest:
	default:
		return errors.New("invalid rounding method")
	}
	one := decimal.NewFromInt(1)
	if s.Increment.LessThan(one) || s.Increment.GreaterThan(decimal.NewFromInt(1000)) {
		return errors.New("increment must be between 1 and 1000")
	}
	return nil
}

// SaveRoundingSetting upserts the single active rounding setting.
func SaveRoundingSetting(ctx context.Context, setting *RoundingSetting) (*RoundingSetting, error) {
	if err := setting.validate(); err != nil {
		return nil, err
	}
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Model(&RoundingSetting{}).
		Where("is_active = ?", true).
		Update("is_active", false).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	setting.ID = 0
	setting.IsActive = utils.NewTrue()
	if err := tx.Create(setting).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return setting, nil
}

func GetActiveRoundingSetting(ctx context.Context) (*RoundingSetting, error) {
	db := config.GetDB()
	var setting RoundingSetting
	err := db.WithContext(ctx).Where("is_active = ?", true).First(&setting).Error
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// ApplyRounding rounds amount to the setting's increment. A nil setting or
// an increment of one leaves the amount untouched.
func ApplyRounding(amount decimal.Decimal, setting *RoundingSetting) decimal.Decimal {
	if setting == nil || setting.Increment.LessThanOrEqual(decimal.NewFromInt(1)) {
		return amount
	}
	units := amount.Div(setting.Increment)
	switch setting.Method {
	case RoundingMethodUp:
		units = units.Ceil()
	case RoundingMethodDown:
		units = units.Floor()
	default:
		units = units.Round(0)
	}
	return units.Mul(setting.Increment)
}

// CheckoutTotal is the full checkout computation for a subtotal: taxes,
// service charge and cash rounding.
type CheckoutTotal struct {
	TaxResult
	RoundingAdjustment decimal.Decimal `json:"rounding_adjustment"`
	PayableTotal       decimal.Decimal `json:"payable_total"`
}

// CalculateCheckoutTotal loads the active tax and rounding settings and
// applies them to the subtotal.
func CalculateCheckoutTotal(ctx context.Context, subtotal decimal.Decimal) (*CheckoutTotal, error) {
	settings, err := GetActiveTaxSettings(ctx)
	if err != nil {
		return nil, err
	}
	result := CalculateTaxAndService(subtotal, settings)

	rounding, err := GetActiveRoundingSetting(ctx)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		rounding = nil
	}

	checkout := &CheckoutTotal{TaxResult: result}
	checkout.PayableTotal = ApplyRounding(result.Total, rounding)
	checkout.RoundingAdjustment = checkout.PayableTotal.Sub(result.Total)
	return checkout, nil
}
