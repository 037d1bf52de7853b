package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrorCyclicComposition  = errors.New("cyclic composition")
	ErrorMissingComposition = errors.New("missing composition")
)

// MaterialRequirement is one raw material's total need for a resolved
// product, expressed in the material's canonical recipe unit.
type MaterialRequirement struct {
	RawMaterialId int             `json:"raw_material_id"`
	MaterialName  string          `json:"material_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
}

// RecipeResolver flattens product compositions into raw material
// requirements. Results are cached per product and invalidated whenever the
// graph it was built from is replaced.
type RecipeResolver struct {
	graph     *CompositionGraph
	converter *UnitConverter

	mu    sync.Mutex
	cache map[int][]MaterialRequirement
}

func NewRecipeResolver(graph *CompositionGraph, converter *UnitConverter) *RecipeResolver {
	return &RecipeResolver{
		graph:     graph,
		converter: converter,
		cache:     make(map[int][]MaterialRequirement),
	}
}

// LoadRecipeResolver builds a resolver from the current database state.
func LoadRecipeResolver(ctx context.Context) (*RecipeResolver, error) {
	graph, err := LoadCompositionGraph(ctx)
	if err != nil {
		return nil, err
	}
	converter, err := LoadUnitConverter(ctx)
	if err != nil {
		return nil, err
	}
	return NewRecipeResolver(graph, converter), nil
}

func (r *RecipeResolver) GraphVersion() string {
	return r.graph.Version
}

// Resolve returns the per-portion raw material requirements of a product,
// with sub-recipes expanded and scaled by their batch yield, aggregated per
// material and sorted by material name.
func (r *RecipeResolver) Resolve(productId int) ([]MaterialRequirement, error) {
	r.mu.Lock()
	cached, ok := r.cache[productId]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	totals := make(map[int]decimal.Decimal)
	path := []int{}
	onPath := make(map[int]bool)
	if err := r.walk(productId, decimal.NewFromInt(1), totals, path, onPath); err != nil {
		return nil, err
	}

	requirements := make([]MaterialRequirement, 0, len(totals))
	for materialId, quantity := range totals {
		material := r.graph.Materials[materialId]
		requirements = append(requirements, MaterialRequirement{
			RawMaterialId: materialId,
			MaterialName:  material.Name,
			Quantity:      quantity,
			Unit:          material.Unit,
		})
	}
	sort.Slice(requirements, func(i, j int) bool {
		return requirements[i].MaterialName < requirements[j].MaterialName
	})

	r.mu.Lock()
	r.cache[productId] = requirements
	r.mu.Unlock()
	return requirements, nil
}

func (r *RecipeResolver) walk(productId int, multiplier decimal.Decimal, totals map[int]decimal.Decimal, path []int, onPath map[int]bool) error {
	if onPath[productId] {
		return fmt.Errorf("%w: %s", ErrorCyclicComposition, formatCyclePath(r.graph, append(path, productId)))
	}

	product, ok := r.graph.Products[productId]
	if !ok {
		return fmt.Errorf("product %d not found", productId)
	}
	edges := r.graph.Edges[productId]
	if len(edges) == 0 {
		return fmt.Errorf("%w: product %s has no recipe", ErrorMissingComposition, product.Name)
	}

	onPath[productId] = true
	path = append(path, productId)
	defer delete(onPath, productId)

	for _, edge := range edges {
		scaled := multiplier.Mul(edge.Quantity)
		if edge.RawMaterialId != nil {
			material := r.graph.Materials[*edge.RawMaterialId]
			quantity, err := r.converter.ToRecipeUnit(material, scaled, edge.Unit)
			if err != nil {
				return err
			}
			totals[material.ID] = totals[material.ID].Add(quantity)
			continue
		}
		subRecipe := r.graph.Products[*edge.SubRecipeId]
		yield := subRecipe.BatchYield
		if yield.LessThanOrEqual(decimal.Zero) {
			yield = decimal.NewFromInt(1)
		}
		if err := r.walk(subRecipe.ID, scaled.Div(yield), totals, path, onPath); err != nil {
			return err
		}
	}
	return nil
}

func formatCyclePath(graph *CompositionGraph, path []int) string {
	names := make([]string, 0, len(path))
	for _, id := range path {
		if product, ok := graph.Products[id]; ok {
			names = append(names, product.Name)
		} else {
			names = append(names, fmt.Sprintf("#%d", id))
		}
	}
	return strings.Join(names, " -> ")
}

// ResolveForQuantity scales a single portion's requirements by the sold
// quantity.
func (r *RecipeResolver) ResolveForQuantity(productId int, quantity decimal.Decimal) ([]MaterialRequirement, error) {
	perPortion, err := r.Resolve(productId)
	if err != nil {
		return nil, err
	}
	scaled := make([]MaterialRequirement, len(perPortion))
	for i, requirement := range perPortion {
		scaled[i] = requirement
		scaled[i].Quantity = requirement.Quantity.Mul(quantity)
	}
	return scaled, nil
}
