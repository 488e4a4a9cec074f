package store

import (
	"time"

	"gorm.io/gorm"
)

// ==================== Grid Journal Models ====================
// These models mirror the grid package types but are defined here
// to avoid import cycles between store and grid packages.

// GridInstanceModel is one lifetime of a grid, from initialization to reset
// or shutdown
type GridInstanceModel struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	Symbol    string     `json:"symbol" gorm:"index;not null"`
	State     string     `json:"state" gorm:"not null"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	StopCause string     `json:"stop_cause"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	UpperPrice    float64 `json:"upper_price"`
	LowerPrice    float64 `json:"lower_price"`
	GridStep      float64 `json:"grid_step"`
	LevelCount    int     `json:"level_count"`
	ATR           float64 `json:"atr"`
	ATRMultiplier float64 `json:"atr_multiplier"`
	Regime        string  `json:"regime"`
	Leverage      int     `json:"leverage"`
	Investment    float64 `json:"investment"`
}

func (GridInstanceModel) TableName() string {
	return "grid_instances"
}

// GridEventModel is one journaled grid event
type GridEventModel struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	InstanceID string    `json:"instance_id" gorm:"index;not null"`
	Symbol     string    `json:"symbol"`
	EventType  string    `json:"event_type" gorm:"index;not null"`
	EventTime  time.Time `json:"event_time" gorm:"index"`
	Side       string    `json:"side"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	OrderID    string    `json:"order_id"`
	Message    string    `json:"message"`
}

func (GridEventModel) TableName() string {
	return "grid_events"
}

// GridStore grid journal storage
type GridStore struct {
	db *gorm.DB
}

// NewGridStore creates a grid store
func NewGridStore(db *gorm.DB) *GridStore {
	return &GridStore{db: db}
}

// InitTables migrates the grid tables
func (s *GridStore) InitTables() error {
	return s.db.AutoMigrate(&GridInstanceModel{}, &GridEventModel{})
}

// ==================== Instance Operations ====================

// SaveGridInstance creates or updates an instance
func (s *GridStore) SaveGridInstance(instance *GridInstanceModel) error {
	return s.db.Save(instance).Error
}

// StopGridInstance marks an instance stopped with a cause
func (s *GridStore) StopGridInstance(id, cause string, at time.Time) error {
	return s.db.Model(&GridInstanceModel{}).
		Where("id = ? AND stopped_at IS NULL", id).
		Updates(map[string]interface{}{
			"state":      "stopped",
			"stopped_at": at,
			"stop_cause": cause,
		}).Error
}

// LoadGridInstance loads an instance by ID
func (s *GridStore) LoadGridInstance(id string) (*GridInstanceModel, error) {
	var instance GridInstanceModel
	if err := s.db.Where("id = ?", id).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// ListGridInstances lists instances of a symbol, newest first. Empty symbol lists all.
func (s *GridStore) ListGridInstances(symbol string, limit int) ([]GridInstanceModel, error) {
	var instances []GridInstanceModel
	query := s.db.Order("started_at DESC")
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

// ==================== Event Operations ====================

// SaveGridEvent saves a grid event
func (s *GridStore) SaveGridEvent(event *GridEventModel) error {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now()
	}
	return s.db.Create(event).Error
}

// LoadRecentGridEvents loads recent events for an instance
func (s *GridStore) LoadRecentGridEvents(instanceID string, limit int) ([]GridEventModel, error) {
	var events []GridEventModel
	query := s.db.Where("instance_id = ?", instanceID).
		Order("event_time DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// LoadGridEventsByType loads events of a specific type
func (s *GridStore) LoadGridEventsByType(instanceID, eventType string, limit int) ([]GridEventModel, error) {
	var events []GridEventModel
	query := s.db.Where("instance_id = ? AND event_type = ?", instanceID, eventType).
		Order("event_time DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountGridEvents counts events of an instance by type
func (s *GridStore) CountGridEvents(instanceID string) (map[string]int64, error) {
	var rows []struct {
		EventType string
		Count     int64
	}
	err := s.db.Model(&GridEventModel{}).
		Select("event_type, COUNT(*) AS count").
		Where("instance_id = ?", instanceID).
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.EventType] = r.Count
	}
	return counts, nil
}
