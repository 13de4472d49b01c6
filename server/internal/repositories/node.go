package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetd-io/fleetd/server/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// gormNodeRepository is the GORM implementation of NodeRepository.
type gormNodeRepository struct {
	db *gorm.DB
}

// NewNodeRepository returns a NodeRepository backed by the provided *gorm.DB.
func NewNodeRepository(db *gorm.DB) NodeRepository {
	return &gormNodeRepository{db: db}
}

// Create inserts a new node record into the database.
func (r *gormNodeRepository) Create(ctx context.Context, node *db.NodeRecord) error {
	if err := r.db.WithContext(ctx).Create(node).Error; err != nil {
		return fmt.Errorf("nodes: create: %w", err)
	}
	return nil
}

// GetByID retrieves a node by its UUID. Returns ErrNotFound if no record exists.
func (r *gormNodeRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.NodeRecord, error) {
	var node db.NodeRecord
	err := r.db.WithContext(ctx).First(&node, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("nodes: get by id: %w", err)
	}
	return &node, nil
}

// GetByName retrieves a node by its name, the identity a node registers
// under (spec §4.2). Returns ErrNotFound if no matching record exists.
func (r *gormNodeRepository) GetByName(ctx context.Context, name string) (*db.NodeRecord, error) {
	var node db.NodeRecord
	err := r.db.WithContext(ctx).First(&node, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("nodes: get by name: %w", err)
	}
	return &node, nil
}

// Update persists all fields of an existing node record.
func (r *gormNodeRepository) Update(ctx context.Context, node *db.NodeRecord) error {
	result := r.db.WithContext(ctx).Save(node)
	if result.Error != nil {
		return fmt.Errorf("nodes: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus updates only the status, ip_address, and last_seen_at columns
// of a node — called on every registry status-change callback, so updating
// only these columns avoids unnecessary write amplification on the full row.
func (r *gormNodeRepository) UpdateStatus(ctx context.Context, name, status, ipAddress string, lastSeenAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.NodeRecord{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{
			"status":       status,
			"ip_address":   ipAddress,
			"last_seen_at": lastSeenAt,
		})
	if result.Error != nil {
		return fmt.Errorf("nodes: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a node record permanently — nodes have no soft-delete tier
// because a removed node's allow-list membership should not linger.
func (r *gormNodeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.NodeRecord{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("nodes: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of nodes and the total count.
func (r *gormNodeRepository) List(ctx context.Context, opts ListOptions) ([]db.NodeRecord, int64, error) {
	var nodes []db.NodeRecord
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.NodeRecord{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("nodes: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at ASC").
		Find(&nodes).Error; err != nil {
		return nil, 0, fmt.Errorf("nodes: list: %w", err)
	}

	return nodes, total, nil
}
