package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CostComponent is one raw material's contribution to a product's cost.
// Quantity is in the material's canonical recipe unit, which is the unit the
// material's unit cost is quoted in.
type CostComponent struct {
	RawMaterialId int             `json:"raw_material_id"`
	MaterialName  string          `json:"material_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

// ProductCost is the full ingredient cost of one portion of a product.
type ProductCost struct {
	ProductId  int             `json:"product_id"`
	Components []CostComponent `json:"components"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

// ProductMargin compares a product's selling price against its ingredient
// cost.
type ProductMargin struct {
	ProductId      int             `json:"product_id"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	IngredientCost decimal.Decimal `json:"ingredient_cost"`
	GrossMargin    decimal.Decimal `json:"gross_margin"`
	MarginPercent  decimal.Decimal `json:"margin_percent"`
}

// CostEngine prices products from their resolved material requirements.
type CostEngine struct {
	resolver *RecipeResolver
}

func NewCostEngine(resolver *RecipeResolver) *CostEngine {
	return &CostEngine{resolver: resolver}
}

// ComputeProductCost resolves the product and prices each requirement at the
// material's current unit cost. The total is the exact decimal sum of the
// components.
func (e *CostEngine) ComputeProductCost(productId int) (*ProductCost, error) {
	requirements, err := e.resolver.Resolve(productId)
	if err != nil {
		return nil, err
	}

	cost := &ProductCost{ProductId: productId, TotalCost: decimal.Zero}
	for _, requirement := range requirements {
		material := e.resolver.graph.Materials[requirement.RawMaterialId]
		lineCost := requirement.Quantity.Mul(material.UnitCost)
		cost.Components = append(cost.Components, CostComponent{
			RawMaterialId: requirement.RawMaterialId,
			MaterialName:  requirement.MaterialName,
			Quantity:      requirement.Quantity,
			Unit:          requirement.Unit,
			UnitCost:      material.UnitCost,
			TotalCost:     lineCost,
		})
		cost.TotalCost = cost.TotalCost.Add(lineCost)
	}
	return cost, nil
}

// ComputeProductMargin reports the gap between selling price and ingredient
// cost. Margin percent is the gross margin over the ingredient cost; a
// zero-cost product reports zero.
func (e *CostEngine) ComputeProductMargin(productId int) (*ProductMargin, error) {
	product, ok := e.resolver.graph.Products[productId]
	if !ok {
		return nil, fmt.Errorf("product %d not found", productId)
	}
	cost, err := e.ComputeProductCost(productId)
	if err != nil {
		return nil, err
	}

	margin := &ProductMargin{
		ProductId:      productId,
		SellingPrice:   product.SellingPrice,
		IngredientCost: cost.TotalCost,
		GrossMargin:    product.SellingPrice.Sub(cost.TotalCost),
	}
	if cost.TotalCost.GreaterThan(decimal.Zero) {
		margin.MarginPercent = margin.GrossMargin.
			Div(cost.TotalCost).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return margin, nil
}
