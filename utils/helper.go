package utils

import (
	"context"

	"github.com/dedesp/PancongKeceApp-sub001/config"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// FetchModel loads a record by primary key, preloading the given associations.
func FetchModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {
	var result T
	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	for _, association := range associations {
		dbCtx = dbCtx.Preload(association)
	}
	if err := dbCtx.First(&result, id).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func FetchAllModels[T any](ctx context.Context, associations ...string) ([]*T, error) {
	var results []*T
	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	for _, association := range associations {
		dbCtx = dbCtx.Preload(association)
	}
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
