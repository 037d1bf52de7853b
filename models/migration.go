package models

import (
	"log"

	"github.com/dedesp/PancongKeceApp-sub001/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&RawMaterial{}, &RecipeProduct{}, &CompositionEdge{}, &UnitConversionRule{},
		&StockRecord{}, &StockMovement{},
		&TaxSetting{}, &RoundingSetting{},
		&SaleTransaction{}, &SaleDetail{}, &TransactionNumberSeries{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
