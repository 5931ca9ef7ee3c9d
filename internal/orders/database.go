package orders

import (
	"errors"

	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(tx *gorm.DB, order *types.Order) error {
	return tx.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetUser(userID string) (*types.User, error) {
	var user types.User
	if err := d.db.Where("user_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetUserOrders returns one page of the user's orders, newest first,
// optionally filtered by status.
func (d *Database) GetUserOrders(userID, status string, page, perPage int) ([]types.Order, int64, error) {
	query := d.db.Model(&types.Order{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var results []types.Order
	err := query.
		Order("created_at desc").Order("id desc").
		Limit(perPage).Offset((page - 1) * perPage).
		Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// GetOrderBook returns the top depth open orders per side for a symbol,
// best price first with creation-time tiebreak.
func (d *Database) GetOrderBook(symbol string, depth int) (*types.OrderBook, error) {
	book := &types.OrderBook{
		Symbol:     symbol,
		BuyOrders:  []types.Order{},
		SellOrders: []types.Order{},
	}

	err := d.db.
		Where("symbol = ? AND side = ? AND status = ?", symbol, types.SideBuy, types.StatusOpen).
		Order("price desc").Order("created_at asc").Order("id asc").
		Limit(depth).
		Find(&book.BuyOrders).Error
	if err != nil {
		return nil, err
	}

	err = d.db.
		Where("symbol = ? AND side = ? AND status = ?", symbol, types.SideSell, types.StatusOpen).
		Order("price asc").Order("created_at asc").Order("id asc").
		Limit(depth).
		Find(&book.SellOrders).Error
	if err != nil {
		return nil, err
	}

	return book, nil
}
