package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleTransaction is one completed checkout: the priced line items plus the
// tax, service and rounding figures frozen at sale time.
type SaleTransaction struct {
	ID                 string            `gorm:"primary_key;size:36" json:"id"`
	TransactionNumber  string            `gorm:"uniqueIndex;size:30;not null" json:"transaction_number"`
	Subtotal           decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	TaxAmount          decimal.Decimal   `gorm:"type:decimal(20,4)" json:"tax_amount"`
	ServiceAmount      decimal.Decimal   `gorm:"type:decimal(20,4)" json:"service_amount"`
	RoundingAdjustment decimal.Decimal   `gorm:"type:decimal(20,4)" json:"rounding_adjustment"`
	TotalAmount        decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	PaymentMethod      PaymentMethodCode `gorm:"size:20;not null" json:"payment_method"`
	Status             SaleStatus        `gorm:"size:20;not null" json:"status"`
	Cashier            string            `gorm:"size:50" json:"cashier"`
	Notes              string            `gorm:"type:text" json:"notes"`
	Details            []SaleDetail      `json:"details"`
	CreatedAt          time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// SaleDetail is one product line on a sale.
type SaleDetail struct {
	ID                int             `gorm:"primary_key" json:"id"`
	SaleTransactionId string          `gorm:"index;size:36;not null" json:"sale_transaction_id"`
	ProductId         int             `gorm:"not null" json:"product_id"`
	ProductName       string          `gorm:"size:100" json:"product_name"`
	Quantity          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Subtotal          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
}

type SaleItemInput struct {
	ProductId int             `json:"product_id" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity" binding:"required"`
}

type SellProductInput struct {
	Items         []SaleItemInput   `json:"items" binding:"required,min=1,dive"`
	PaymentMethod PaymentMethodCode `json:"payment_method" binding:"required"`
	Notes         string            `json:"notes"`
}

// SaleResult is the outcome of a sale attempt. Exactly one of Transaction
// and Shortages is populated: shortages mean nothing was committed.
type SaleResult struct {
	Transaction *SaleTransaction `json:"transaction,omitempty"`
	Shortages   []StockShortage  `json:"shortages,omitempty"`
}

func (input *SellProductInput) validate() error {
	switch input.PaymentMethod {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer, PaymentMethodQris:
	default:
		return errors.New("invalid payment method")
	}
	for _, item := range input.Items {
		if item.Quantity.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("quantity for product %d must be positive", item.ProductId)
		}
	}
	return nil
}

// ProcessSale runs the whole checkout: price the items, apply tax and
// rounding, resolve recipes into material requirements and deduct stock, all
// in one transaction. Stock shortages abort the sale and come back as data
// so the caller can present them.
func ProcessSale(ctx context.Context, ledger *StockLedger, resolver *RecipeResolver, input *SellProductInput) (*SaleResult, error) {
	logger := config.GetLogger()

	if err := input.validate(); err != nil {
		return nil, err
	}

	subtotal := decimal.Zero
	details := make([]SaleDetail, 0, len(input.Items))
	totals := make(map[int]MaterialRequirement)
	for _, item := range input.Items {
		product, ok := resolver.graph.Products[item.ProductId]
		if !ok {
			return nil, fmt.Errorf("product %d not found", item.ProductId)
		}
		if product.IsActive != nil && !*product.IsActive {
			return nil, fmt.Errorf("product %s is not active", product.Name)
		}
		if product.IsSubRecipe != nil && *product.IsSubRecipe {
			return nil, fmt.Errorf("product %s is a sub recipe and cannot be sold", product.Name)
		}

		lineSubtotal := product.SellingPrice.Mul(item.Quantity)
		subtotal = subtotal.Add(lineSubtotal)
		details = append(details, SaleDetail{
			ProductId:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.SellingPrice,
			Subtotal:    lineSubtotal,
		})

		requirements, err := resolver.ResolveForQuantity(item.ProductId, item.Quantity)
		if err != nil {
			return nil, err
		}
		for _, requirement := range requirements {
			total, ok := totals[requirement.RawMaterialId]
			if !ok {
				totals[requirement.RawMaterialId] = requirement
				continue
			}
			total.Quantity = total.Quantity.Add(requirement.Quantity)
			totals[requirement.RawMaterialId] = total
		}
	}

	requirements := make([]MaterialRequirement, 0, len(totals))
	for _, requirement := range totals {
		requirements = append(requirements, requirement)
	}

	checkout, err := CalculateCheckoutTotal(ctx, subtotal)
	if err != nil {
		return nil, err
	}

	cashier, _ := utils.GetUsernameFromContext(ctx)

	saleId := uuid.NewString()
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()

	transactionNumber, err := nextTransactionNumber(tx, time.Now())
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	sale := SaleTransaction{
		ID:                 saleId,
		TransactionNumber:  transactionNumber,
		Subtotal:           subtotal,
		TaxAmount:          checkout.TaxAmount,
		ServiceAmount:      checkout.ServiceAmount,
		RoundingAdjustment: checkout.RoundingAdjustment,
		TotalAmount:        checkout.PayableTotal,
		PaymentMethod:      input.PaymentMethod,
		Status:             SaleStatusCompleted,
		Cashier:            cashier,
		Notes:              input.Notes,
	}
	if err := tx.Create(&sale).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range details {
		details[i].SaleTransactionId = saleId
		if err := tx.Create(&details[i]).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	shortages, err := ledger.TryCommitWithin(ctx, tx, StockReferenceTypeSale, saleId, requirements, sale.Cashier)
	if err != nil {
		tx.Rollback()
		config.LogError(logger, "models", "ProcessSale", "commit stock", sale.TransactionNumber, err)
		return nil, err
	}
	if len(shortages) > 0 {
		tx.Rollback()
		return &SaleResult{Shortages: shortages}, nil
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	sale.Details = details
	return &SaleResult{Transaction: &sale}, nil
}

// TransactionNumberSeries tracks the last issued sale number per day. One
// row per day; the increment runs inside the sale transaction, so a rolled
// back sale releases its number.
type TransactionNumberSeries struct {
	ID         int       `gorm:"primary_key" json:"id"`
	Period     string    `gorm:"uniqueIndex;size:8;not null" json:"period"`
	LastNumber int       `gorm:"not null;default:0" json:"last_number"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var transactionNumberMu sync.Mutex

// nextTransactionNumber issues TRX-YYYYMMDD-NNNN from the day's series row,
// numbering from 1 each day. The mutex orders in-process issuers; across
// processes the row update holds a lock until the sale transaction ends.
func nextTransactionNumber(tx *gorm.DB, at time.Time) (string, error) {
	transactionNumberMu.Lock()
	defer transactionNumberMu.Unlock()

	period := at.Format("20060102")
	series := TransactionNumberSeries{Period: period}
	if err := tx.Where("period = ?", period).FirstOrCreate(&series).Error; err != nil {
		return "", err
	}
	if err := tx.Model(&TransactionNumberSeries{}).
		Where("id = ?", series.ID).
		Update("last_number", gorm.Expr("last_number + 1")).Error; err != nil {
		return "", err
	}
	if err := tx.First(&series, series.ID).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("TRX-%s-%04d", period, series.LastNumber), nil
}

func GetSaleTransaction(ctx context.Context, id string) (*SaleTransaction, error) {
	db := config.GetDB()
	var sale SaleTransaction
	if err := db.WithContext(ctx).Preload("Details").First(&sale, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sale, nil
}

func GetSaleTransactions(ctx context.Context, from, to time.Time, limit int) ([]SaleTransaction, error) {
	db := config.GetDB()
	var sales []SaleTransaction
	query := db.WithContext(ctx).Preload("Details").Order("created_at DESC")
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("created_at < ?", to)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&sales).Error; err != nil {
		return nil, err
	}
	return sales, nil
}

// PotentialSales reports how many portions of a product current stock can
// still produce, and which material runs out first.
type PotentialSales struct {
	ProductId        int             `json:"product_id"`
	Portions         decimal.Decimal `json:"portions"`
	LimitingFactor   string          `json:"limiting_factor"`
	LimitingMaterial int             `json:"limiting_material_id"`
}

// EstimatePotentialSales divides each material's on-hand stock by the
// per-portion requirement and takes the floor of the tightest ratio.
func EstimatePotentialSales(ctx context.Context, resolver *RecipeResolver, productId int) (*PotentialSales, error) {
	requirements, err := resolver.Resolve(productId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	estimate := &PotentialSales{ProductId: productId}
	first := true
	for _, requirement := range requirements {
		if requirement.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		var record StockRecord
		if err := db.WithContext(ctx).Preload("RawMaterial").
			Where("raw_material_id = ?", requirement.RawMaterialId).
			First(&record).Error; err != nil {
			return nil, err
		}
		onHand, err := resolver.converter.ToRecipeUnit(record.RawMaterial, record.Quantity, record.Unit)
		if err != nil {
			return nil, err
		}
		portions := onHand.Div(requirement.Quantity).Floor()
		if portions.IsNegative() {
			portions = decimal.Zero
		}
		if first || portions.LessThan(estimate.Portions) {
			estimate.Portions = portions
			estimate.LimitingFactor = requirement.MaterialName
			estimate.LimitingMaterial = requirement.RawMaterialId
			first = false
		}
	}
	return estimate, nil
}
