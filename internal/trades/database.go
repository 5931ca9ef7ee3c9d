package trades

import (
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetUserTrades returns one page of the user's trades on either side of the
// book, newest first.
func (d *Database) GetUserTrades(userID string, page, perPage int) ([]types.Trade, int64, error) {
	query := d.db.Model(&types.Trade{}).
		Where("buyer_id = ? OR seller_id = ?", userID, userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var results []types.Trade
	err := query.
		Order("created_at desc").Order("id desc").
		Limit(perPage).Offset((page - 1) * perPage).
		Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}
