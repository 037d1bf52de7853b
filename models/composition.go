package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CompositionEdge is one line of a product's recipe: either a raw material
// quantity or a sub-recipe portion. Exactly one of RawMaterialId and
// SubRecipeId is set.
type CompositionEdge struct {
	ID            int             `gorm:"primary_key" json:"id"`
	ProductId     int             `gorm:"index;not null" json:"product_id" binding:"required"`
	RawMaterialId *int            `gorm:"index" json:"raw_material_id"`
	SubRecipeId   *int            `gorm:"index" json:"sub_recipe_id"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity" binding:"required"`
	Unit          string          `gorm:"size:20;not null" json:"unit" binding:"required"`
	Notes         string          `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCompositionEdge struct {
	ProductId     int             `json:"product_id" binding:"required"`
	RawMaterialId *int            `json:"raw_material_id"`
	SubRecipeId   *int            `json:"sub_recipe_id"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	Unit          string          `json:"unit" binding:"required"`
	Notes         string          `json:"notes"`
}

func (input *NewCompositionEdge) validate(ctx context.Context) error {
	hasMaterial := input.RawMaterialId != nil && *input.RawMaterialId > 0
	hasSubRecipe := input.SubRecipeId != nil && *input.SubRecipeId > 0
	if hasMaterial == hasSubRecipe {
		return errors.New("edge must target exactly one of raw material or sub recipe")
	}
	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return errors.New("quantity must be positive")
	}
	if err := utils.ValidateResourceId[RecipeProduct](ctx, input.ProductId); err != nil {
		return errors.New("product not found")
	}
	if hasMaterial {
		if err := utils.ValidateResourceId[RawMaterial](ctx, *input.RawMaterialId); err != nil {
			return errors.New("raw material not found")
		}
	}
	if hasSubRecipe {
		if *input.SubRecipeId == input.ProductId {
			return errors.New("product cannot be its own ingredient")
		}
		if err := utils.ValidateResourceId[RecipeProduct](ctx, *input.SubRecipeId); err != nil {
			return errors.New("sub recipe not found")
		}
	}
	return nil
}

func CreateCompositionEdge(ctx context.Context, input *NewCompositionEdge) (*CompositionEdge, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	edge := CompositionEdge{
		ProductId:     input.ProductId,
		RawMaterialId: input.RawMaterialId,
		SubRecipeId:   input.SubRecipeId,
		Quantity:      input.Quantity,
		Unit:          input.Unit,
		Notes:         input.Notes,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&edge).Error; err != nil {
		return nil, err
	}
	return &edge, nil
}

func DeleteCompositionEdge(ctx context.Context, id int) (*CompositionEdge, error) {
	edge, err := utils.FetchModel[CompositionEdge](ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(edge).Error; err != nil {
		return nil, err
	}
	return edge, nil
}

// CompositionGraph is an immutable in-memory arena of the whole catalog:
// products, materials and recipe edges indexed by id. It is rebuilt (not
// mutated) whenever composition data changes; Version identifies one build
// so resolver caches can detect staleness.
type CompositionGraph struct {
	Version   string
	Products  map[int]*RecipeProduct
	Materials map[int]*RawMaterial
	Edges     map[int][]CompositionEdge // keyed by product id
}

// LoadCompositionGraph reads the full catalog. A composition edge pointing at
// a missing material or product is a hard configuration error, reported at
// load time rather than mid-sale.
func LoadCompositionGraph(ctx context.Context) (*CompositionGraph, error) {
	db := config.GetDB()

	var products []RecipeProduct
	if err := db.WithContext(ctx).Find(&products).Error; err != nil {
		return nil, err
	}
	var materials []RawMaterial
	if err := db.WithContext(ctx).Find(&materials).Error; err != nil {
		return nil, err
	}
	var edges []CompositionEdge
	if err := db.WithContext(ctx).Order("product_id, id").Find(&edges).Error; err != nil {
		return nil, err
	}

	graph := &CompositionGraph{
		Version:   uuid.NewString(),
		Products:  make(map[int]*RecipeProduct, len(products)),
		Materials: make(map[int]*RawMaterial, len(materials)),
		Edges:     make(map[int][]CompositionEdge),
	}
	for i := range products {
		graph.Products[products[i].ID] = &products[i]
	}
	for i := range materials {
		graph.Materials[materials[i].ID] = &materials[i]
	}
	for _, edge := range edges {
		if _, ok := graph.Products[edge.ProductId]; !ok {
			return nil, fmt.Errorf("composition edge %d references missing product %d", edge.ID, edge.ProductId)
		}
		if edge.RawMaterialId != nil {
			if _, ok := graph.Materials[*edge.RawMaterialId]; !ok {
				return nil, fmt.Errorf("composition edge %d references missing raw material %d", edge.ID, *edge.RawMaterialId)
			}
		}
		if edge.SubRecipeId != nil {
			if _, ok := graph.Products[*edge.SubRecipeId]; !ok {
				return nil, fmt.Errorf("composition edge %d references missing sub recipe %d", edge.ID, *edge.SubRecipeId)
			}
		}
		graph.Edges[edge.ProductId] = append(graph.Edges[edge.ProductId], edge)
	}

	return graph, nil
}
