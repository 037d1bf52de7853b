package models

import "errors"

type StockReferenceType string

const (
	StockReferenceTypeSale       StockReferenceType = "SALE"
	StockReferenceTypePurchase   StockReferenceType = "PURCHASE"
	StockReferenceTypeProduction StockReferenceType = "PRODUCTION"
	StockReferenceTypeAdjustment StockReferenceType = "ADJUSTMENT"
	StockReferenceTypeWaste      StockReferenceType = "WASTE"
)

type StockStatus string

const (
	StockStatusOutOfStock StockStatus = "OUT_OF_STOCK"
	StockStatusLowStock   StockStatus = "LOW_STOCK"
	StockStatusAdequate   StockStatus = "ADEQUATE"
)

// NegativeStockPolicy decides what a sale commit does when stock would go
// below zero: reject the sale, or record the deficit.
type NegativeStockPolicy string

const (
	NegativeStockReject NegativeStockPolicy = "reject"
	NegativeStockAllow  NegativeStockPolicy = "allow_negative"
)

func ParseNegativeStockPolicy(s string) (NegativeStockPolicy, error) {
	switch s {
	case string(NegativeStockReject), "":
		return NegativeStockReject, nil
	case string(NegativeStockAllow):
		return NegativeStockAllow, nil
	default:
		return "", errors.New("invalid negative stock policy")
	}
}

type RoundingMethod string

const (
	RoundingMethodUp      RoundingMethod = "up"
	RoundingMethodDown    RoundingMethod = "down"
	RoundingMethodNearest RoundingMethod = "nearest"
)

type PaymentMethodCode string

const (
	PaymentMethodCash     PaymentMethodCode = "CASH"
	PaymentMethodCard     PaymentMethodCode = "CARD"
	PaymentMethodTransfer PaymentMethodCode = "TRANSFER"
	PaymentMethodQris     PaymentMethodCode = "QRIS"
)

type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "COMPLETED"
	SaleStatusCancelled SaleStatus = "CANCELLED"
)
