package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrorDuplicateCommit = errors.New("stock already committed for reference")

// StockRecord is the current on-hand quantity of one raw material, kept in
// the material's inventory unit. One row per material, created with the
// material itself.
type StockRecord struct {
	ID            int             `gorm:"primary_key" json:"id"`
	RawMaterialId int             `gorm:"uniqueIndex;not null" json:"raw_material_id"`
	RawMaterial   *RawMaterial    `json:"raw_material,omitempty"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Unit          string          `gorm:"size:20;not null" json:"unit"`
	MinimumStock  decimal.Decimal `gorm:"type:decimal(20,4)" json:"minimum_stock"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockMovement is the append-only audit trail behind every quantity change.
// QuantityBefore and QuantityAfter snapshot the record around the movement so
// the history replays without joins.
type StockMovement struct {
	ID             string             `gorm:"primary_key;size:36" json:"id"`
	RawMaterialId  int                `gorm:"index;not null" json:"raw_material_id"`
	MovementType   string             `gorm:"size:10;not null" json:"movement_type"` // in | out
	Quantity       decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Unit           string             `gorm:"size:20;not null" json:"unit"`
	QuantityBefore decimal.Decimal    `gorm:"type:decimal(20,4)" json:"quantity_before"`
	QuantityAfter  decimal.Decimal    `gorm:"type:decimal(20,4)" json:"quantity_after"`
	ReferenceType  StockReferenceType `gorm:"size:20;index:idx_movement_reference" json:"reference_type"`
	ReferenceId    string             `gorm:"size:36;index:idx_movement_reference" json:"reference_id"`
	Notes          string             `gorm:"type:text" json:"notes"`
	CreatedBy      string             `gorm:"size:50" json:"created_by"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// StockShortage reports one material whose on-hand quantity does not cover a
// requested deduction. Quantities are in the material's inventory unit.
type StockShortage struct {
	RawMaterialId int             `json:"raw_material_id"`
	MaterialName  string          `json:"material_name"`
	Required      decimal.Decimal `json:"required"`
	Available     decimal.Decimal `json:"available"`
	Unit          string          `json:"unit"`
}

// StockStatusEntry is one material's position for status listings and
// low-stock alerts.
type StockStatusEntry struct {
	RawMaterialId int             `json:"raw_material_id"`
	MaterialName  string          `json:"material_name"`
	Code          string          `json:"code"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	MinimumStock  decimal.Decimal `json:"minimum_stock"`
	Status        StockStatus     `json:"status"`
}

// StockLedger serializes stock mutations. The mutex covers the whole
// check-then-deduct critical section; when Redis is configured a
// cross-process lock is taken as well.
type StockLedger struct {
	mu        sync.Mutex
	policy    NegativeStockPolicy
	converter *UnitConverter
}

func NewStockLedger(policy NegativeStockPolicy, converter *UnitConverter) *StockLedger {
	return &StockLedger{policy: policy, converter: converter}
}

func (l *StockLedger) lockDistributed(ctx context.Context) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	return locker.Obtain(ctx, "lock:stock-ledger", 10*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
}

// stockDemand is one material's total requirement in its inventory unit,
// paired with the stock record it was loaded from.
type stockDemand struct {
	record StockRecord
	need   decimal.Decimal
}

// aggregateDemand loads each referenced stock record once and sums the
// requirement lines per material in the record's inventory unit. A
// requirement list may name the same material on several lines; comparison
// and deduction see one total per material.
func (l *StockLedger) aggregateDemand(ctx context.Context, tx *gorm.DB, requirements []MaterialRequirement) ([]stockDemand, error) {
	index := make(map[int]int)
	demands := make([]stockDemand, 0, len(requirements))
	for _, requirement := range requirements {
		i, ok := index[requirement.RawMaterialId]
		if !ok {
			var record StockRecord
			if err := tx.WithContext(ctx).Preload("RawMaterial").
				Where("raw_material_id = ?", requirement.RawMaterialId).
				First(&record).Error; err != nil {
				return nil, fmt.Errorf("stock record for material %d: %w", requirement.RawMaterialId, err)
			}
			demands = append(demands, stockDemand{record: record, need: decimal.Zero})
			i = len(demands) - 1
			index[requirement.RawMaterialId] = i
		}
		need, err := l.converter.ToStockUnit(demands[i].record.RawMaterial, requirement.Quantity, requirement.Unit)
		if err != nil {
			return nil, err
		}
		demands[i].need = demands[i].need.Add(need)
	}
	return demands, nil
}

func (l *StockLedger) shortagesFor(demands []stockDemand) ([]StockShortage, error) {
	var shortages []StockShortage
	for _, demand := range demands {
		covered, need, err := l.converter.CheckAvailability(demand.record.RawMaterial, demand.record.Quantity, demand.need, demand.record.Unit)
		if err != nil {
			return nil, err
		}
		if !covered {
			shortages = append(shortages, StockShortage{
				RawMaterialId: demand.record.RawMaterialId,
				MaterialName:  demand.record.RawMaterial.Name,
				Required:      need,
				Available:     demand.record.Quantity,
				Unit:          demand.record.Unit,
			})
		}
	}
	return shortages, nil
}

// CheckAvailability converts each requirement into the material's inventory
// unit, sums lines referencing the same material and compares the totals
// against on-hand stock. Shortages are data, not an error; err is reserved
// for lookup and conversion failures.
func (l *StockLedger) CheckAvailability(ctx context.Context, tx *gorm.DB, requirements []MaterialRequirement) ([]StockShortage, error) {
	demands, err := l.aggregateDemand(ctx, tx, requirements)
	if err != nil {
		return nil, err
	}
	return l.shortagesFor(demands)
}

// TryCommit deducts the given requirements in its own transaction. See
// TryCommitWithin for semantics.
func (l *StockLedger) TryCommit(ctx context.Context, referenceType StockReferenceType, referenceId string, requirements []MaterialRequirement, actor string) ([]StockShortage, error) {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	shortages, err := l.TryCommitWithin(ctx, tx, referenceType, referenceId, requirements, actor)
	if err != nil || len(shortages) > 0 {
		tx.Rollback()
		return shortages, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return nil, nil
}

// TryCommitWithin checks and deducts stock inside a caller-owned transaction.
// Requirements are aggregated per material first, then committed as one
// movement per material. The commit is all-or-nothing: any shortage under the
// reject policy leaves every record untouched and returns the full shortage
// list. A reference that already has movements is a duplicate and commits
// nothing.
func (l *StockLedger) TryCommitWithin(ctx context.Context, tx *gorm.DB, referenceType StockReferenceType, referenceId string, requirements []MaterialRequirement, actor string) ([]StockShortage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := l.lockDistributed(ctx)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		defer lock.Release(ctx)
	}

	var existing int64
	if err := tx.WithContext(ctx).Model(&StockMovement{}).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrorDuplicateCommit, referenceType, referenceId)
	}

	demands, err := l.aggregateDemand(ctx, tx, requirements)
	if err != nil {
		return nil, err
	}
	shortages, err := l.shortagesFor(demands)
	if err != nil {
		return nil, err
	}
	if len(shortages) > 0 && l.policy == NegativeStockReject {
		return shortages, nil
	}

	for _, demand := range demands {
		after := demand.record.Quantity.Sub(demand.need)
		movement := StockMovement{
			ID:             uuid.NewString(),
			RawMaterialId:  demand.record.RawMaterialId,
			MovementType:   "out",
			Quantity:       demand.need,
			Unit:           demand.record.Unit,
			QuantityBefore: demand.record.Quantity,
			QuantityAfter:  after,
			ReferenceType:  referenceType,
			ReferenceId:    referenceId,
			CreatedBy:      actor,
		}
		if err := tx.Create(&movement).Error; err != nil {
			return nil, err
		}
		if err := tx.Model(&StockRecord{}).Where("id = ?", demand.record.ID).
			Update("quantity", after).Error; err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Replenish records an inbound movement, converting the received quantity to
// the material's inventory unit when needed.
func (l *StockLedger) Replenish(ctx context.Context, rawMaterialId int, quantity decimal.Decimal, unit string, referenceType StockReferenceType, referenceId, notes, actor string) (*StockMovement, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("quantity must be positive")
	}
	return l.applyMovement(ctx, rawMaterialId, quantity, unit, "in", referenceType, referenceId, notes, actor)
}

// RecordWaste records an outbound movement for spoiled or discarded stock.
// Waste may drive a record negative regardless of policy; the loss already
// happened.
func (l *StockLedger) RecordWaste(ctx context.Context, rawMaterialId int, quantity decimal.Decimal, unit, notes, actor string) (*StockMovement, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("quantity must be positive")
	}
	return l.applyMovement(ctx, rawMaterialId, quantity, unit, "out", StockReferenceTypeWaste, uuid.NewString(), notes, actor)
}

func (l *StockLedger) applyMovement(ctx context.Context, rawMaterialId int, quantity decimal.Decimal, unit, movementType string, referenceType StockReferenceType, referenceId, notes, actor string) (*StockMovement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()

	var record StockRecord
	if err := tx.Preload("RawMaterial").
		Where("raw_material_id = ?", rawMaterialId).
		First(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	converted, err := l.converter.ToStockUnit(record.RawMaterial, quantity, unit)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	after := record.Quantity.Add(converted)
	if movementType == "out" {
		after = record.Quantity.Sub(converted)
	}

	movement := StockMovement{
		ID:             uuid.NewString(),
		RawMaterialId:  rawMaterialId,
		MovementType:   movementType,
		Quantity:       converted,
		Unit:           record.Unit,
		QuantityBefore: record.Quantity,
		QuantityAfter:  after,
		ReferenceType:  referenceType,
		ReferenceId:    referenceId,
		Notes:          notes,
		CreatedBy:      actor,
	}
	if err := tx.Create(&movement).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Model(&StockRecord{}).Where("id = ?", record.ID).
		Update("quantity", after).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

// Adjust sets a material's on-hand quantity to a counted value in the
// material's inventory unit, recording the delta as an adjustment movement.
// The current quantity is read and the counted value applied inside the same
// critical section, so a concurrent movement cannot slip between the two. A
// zero delta records nothing.
func (l *StockLedger) Adjust(ctx context.Context, rawMaterialId int, countedQuantity decimal.Decimal, notes, actor string) (*StockMovement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()

	var record StockRecord
	if err := tx.Preload("RawMaterial").
		Where("raw_material_id = ?", rawMaterialId).
		First(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	delta := countedQuantity.Sub(record.Quantity)
	if delta.IsZero() {
		tx.Rollback()
		return nil, nil
	}
	movementType := "in"
	if delta.IsNegative() {
		movementType = "out"
	}

	movement := StockMovement{
		ID:             uuid.NewString(),
		RawMaterialId:  rawMaterialId,
		MovementType:   movementType,
		Quantity:       delta.Abs(),
		Unit:           record.Unit,
		QuantityBefore: record.Quantity,
		QuantityAfter:  countedQuantity,
		ReferenceType:  StockReferenceTypeAdjustment,
		ReferenceId:    uuid.NewString(),
		Notes:          notes,
		CreatedBy:      actor,
	}
	if err := tx.Create(&movement).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Model(&StockRecord{}).Where("id = ?", record.ID).
		Update("quantity", countedQuantity).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

// GetStockStatus lists every material with its on-hand quantity and a status
// derived from the minimum stock threshold: at or below zero is out of stock,
// at or below the minimum is low.
func GetStockStatus(ctx context.Context) ([]StockStatusEntry, error) {
	db := config.GetDB()
	var records []StockRecord
	if err := db.WithContext(ctx).Preload("RawMaterial").Find(&records).Error; err != nil {
		return nil, err
	}

	entries := make([]StockStatusEntry, 0, len(records))
	for _, record := range records {
		status := StockStatusAdequate
		switch {
		case record.Quantity.LessThanOrEqual(decimal.Zero):
			status = StockStatusOutOfStock
		case record.Quantity.LessThanOrEqual(record.MinimumStock):
			status = StockStatusLowStock
		}
		entries = append(entries, StockStatusEntry{
			RawMaterialId: record.RawMaterialId,
			MaterialName:  record.RawMaterial.Name,
			Code:          record.RawMaterial.Code,
			Quantity:      record.Quantity,
			Unit:          record.Unit,
			MinimumStock:  record.MinimumStock,
			Status:        status,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].MaterialName < entries[j].MaterialName
	})
	return entries, nil
}

// GetLowStockAlerts filters the status listing down to materials needing
// attention.
func GetLowStockAlerts(ctx context.Context) ([]StockStatusEntry, error) {
	entries, err := GetStockStatus(ctx)
	if err != nil {
		return nil, err
	}
	alerts := make([]StockStatusEntry, 0)
	for _, entry := range entries {
		if entry.Status != StockStatusAdequate {
			alerts = append(alerts, entry)
		}
	}
	return alerts, nil
}

// StockDrift is one material whose stored quantity disagrees with its
// replayed movement history.
type StockDrift struct {
	RawMaterialId int             `json:"raw_material_id"`
	MaterialName  string          `json:"material_name"`
	Code          string          `json:"code"`
	Stored        decimal.Decimal `json:"stored"`
	Replayed      decimal.Decimal `json:"replayed"`
	Unit          string          `json:"unit"`
}

// ReconcileStock replays each material's movement history and rewrites the
// stock record quantity from it. Returns the materials whose stored quantity
// disagreed with the replayed total.
func ReconcileStock(ctx context.Context) ([]StockDrift, error) {
	return replayStockRecords(ctx, true)
}

// PreviewStockDrift reports the same drift ReconcileStock would repair,
// without touching any record.
func PreviewStockDrift(ctx context.Context) ([]StockDrift, error) {
	return replayStockRecords(ctx, false)
}

func replayStockRecords(ctx context.Context, rewrite bool) ([]StockDrift, error) {
	db := config.GetDB()
	var records []StockRecord
	if err := db.WithContext(ctx).Preload("RawMaterial").Find(&records).Error; err != nil {
		return nil, err
	}

	var drifted []StockDrift
	for _, record := range records {
		var movements []StockMovement
		if err := db.WithContext(ctx).
			Where("raw_material_id = ?", record.RawMaterialId).
			Order("created_at, id").
			Find(&movements).Error; err != nil {
			return nil, err
		}
		replayed := decimal.Zero
		for _, movement := range movements {
			if movement.MovementType == "in" {
				replayed = replayed.Add(movement.Quantity)
			} else {
				replayed = replayed.Sub(movement.Quantity)
			}
		}
		if replayed.Equal(record.Quantity) {
			continue
		}
		if rewrite {
			if err := db.WithContext(ctx).Model(&StockRecord{}).
				Where("id = ?", record.ID).
				Update("quantity", replayed).Error; err != nil {
				return nil, err
			}
		}
		drifted = append(drifted, StockDrift{
			RawMaterialId: record.RawMaterialId,
			MaterialName:  record.RawMaterial.Name,
			Code:          record.RawMaterial.Code,
			Stored:        record.Quantity,
			Replayed:      replayed,
			Unit:          record.Unit,
		})
	}
	return drifted, nil
}

// GetStockMovements lists a material's movement history, newest first.
func GetStockMovements(ctx context.Context, rawMaterialId int, limit int) ([]StockMovement, error) {
	db := config.GetDB()
	var movements []StockMovement
	query := db.WithContext(ctx).Order("created_at DESC, id DESC")
	if rawMaterialId > 0 {
		query = query.Where("raw_material_id = ?", rawMaterialId)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}
