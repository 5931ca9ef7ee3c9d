package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinpeak/exchange-api/internal/types"
)

// NewDatabase opens the database at path and migrates the exchange schema.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.User{},
		&types.Asset{},
		&types.Order{},
		&types.Trade{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// LockForUpdate adds a pessimistic row lock to the query on dialects that
// support SELECT ... FOR UPDATE. SQLite serializes writers at the transaction
// level instead, so the clause is skipped there; the mutual exclusion callers
// rely on still holds.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
