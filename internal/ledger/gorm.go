package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore keeps results in Postgres.
type GormStore struct {
	db *gorm.DB
}

func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore migrates the results table on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Result{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &GormStore{db: db}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func (g *GormStore) SaveResult(ctx context.Context, r Result) error {
	r.ID = 0
	err := g.db.WithContext(ctx).Create(&r).Error
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (g *GormStore) ResultsForSession(ctx context.Context, code string) ([]Result, error) {
	var out []Result
	err := g.db.WithContext(ctx).
		Where("session_code = ?", code).
		Order("round_start asc").
		Order("score desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	return out, nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
