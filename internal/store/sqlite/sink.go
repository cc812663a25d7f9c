// Package sqlite keeps a local copy of detected opportunities in a SQLite
// file through gorm. It is the sink of choice for single-host deployments
// without Postgres.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// OpportunityModel is the arbitrage_opportunities row.
type OpportunityModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Symbol        string    `gorm:"column:symbol;size:20;index:idx_opp_symbol_ts"`
	BuyExchange   string    `gorm:"column:buy_exchange;size:50"`
	SellExchange  string    `gorm:"column:sell_exchange;size:50"`
	BuyPrice      float64   `gorm:"column:buy_price"`
	SellPrice     float64   `gorm:"column:sell_price"`
	ProfitPercent float64   `gorm:"column:profit_percent"`
	ProfitUSD     float64   `gorm:"column:profit_usd"`
	Volume        float64   `gorm:"column:volume"`
	Timestamp     time.Time `gorm:"column:timestamp;index:idx_opp_symbol_ts"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName implements gorm's tabler.
func (OpportunityModel) TableName() string { return "arbitrage_opportunities" }

// Sink implements domain.Sink.
type Sink struct {
	db   *gorm.DB
	topN int
}

var _ domain.Sink = (*Sink)(nil)

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, topN int) (*Sink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	return NewFromDB(db, topN)
}

// NewFromDB wraps an open gorm handle and migrates the schema.
func NewFromDB(db *gorm.DB, topN int) (*Sink, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite: nil gorm db")
	}
	if err := db.AutoMigrate(&OpportunityModel{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	return &Sink{db: db, topN: topN}, nil
}

// Name implements domain.Sink.
func (s *Sink) Name() string { return "sqlite" }

// Write inserts the leading topN rows in one statement; duplicate ids are
// ignored.
func (s *Sink) Write(ctx context.Context, opps []domain.Opportunity, ts time.Time) error {
	if s.topN > 0 && len(opps) > s.topN {
		opps = opps[:s.topN]
	}
	if len(opps) == 0 {
		return nil
	}

	rows := make([]OpportunityModel, len(opps))
	for i, o := range opps {
		rows[i] = toModel(o, ts)
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("sqlite: insert opportunities: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	var rows []OpportunityModel
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite: list opportunities: %w", err)
	}
	out := make([]domain.Opportunity, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// Close closes the underlying connection.
func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(o domain.Opportunity, ts time.Time) OpportunityModel {
	at := o.DetectedAt
	if at.IsZero() {
		at = ts
	}
	return OpportunityModel{
		ID:            o.ID,
		Symbol:        o.Symbol,
		BuyExchange:   o.BuySource,
		SellExchange:  o.SellSource,
		BuyPrice:      o.BuyPrice,
		SellPrice:     o.SellPrice,
		ProfitPercent: o.ProfitPercent,
		ProfitUSD:     o.ProfitUSD,
		Volume:        o.Volume,
		Timestamp:     at.UTC(),
	}
}

func (m OpportunityModel) toDomain() domain.Opportunity {
	return domain.Opportunity{
		ID:            m.ID,
		Symbol:        m.Symbol,
		BuySource:     m.BuyExchange,
		SellSource:    m.SellExchange,
		BuyPrice:      m.BuyPrice,
		SellPrice:     m.SellPrice,
		ProfitPercent: m.ProfitPercent,
		ProfitUSD:     m.ProfitUSD,
		Volume:        m.Volume,
		DetectedAt:    m.Timestamp,
	}
}
