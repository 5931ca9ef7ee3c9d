package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/database"
	"github.com/coinpeak/exchange-api/internal/ledger"
	"github.com/coinpeak/exchange-api/internal/types"
)

var defaultRate = decimal.RequireFromString("0.015")

func setupTestDB(t *testing.T) (*gorm.DB, *ledger.Service, *Engine) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	led := ledger.NewService(db)
	return db, led, New(led, defaultRate)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createUser(t *testing.T, db *gorm.DB, userID, balance string) {
	t.Helper()
	require.NoError(t, db.Create(&types.User{
		UserID:       userID,
		Name:         "Test " + userID,
		Email:        userID + "@example.com",
		PasswordHash: "x",
		Balance:      dec(balance),
	}).Error)
}

func createHolding(t *testing.T, db *gorm.DB, userID, symbol, amount string) {
	t.Helper()
	require.NoError(t, db.Create(&types.Asset{
		UserID: userID,
		Symbol: symbol,
		Amount: dec(amount),
	}).Error)
}

// placeOrder locks the order's funds and writes the row, the same way the
// order service does at placement.
func placeOrder(t *testing.T, db *gorm.DB, led *ledger.Service, userID, symbol, side, price, amount string, createdAt time.Time) *types.Order {
	t.Helper()

	order := &types.Order{
		OrderID: "ORD_" + uuid.New().String(),
		UserID:  userID,
		Symbol:  symbol,
		Side:    side,
		Price:   dec(price),
		Amount:  dec(amount),
		Status:  types.StatusOpen,
	}
	order.CreatedAt = createdAt

	err := db.Transaction(func(tx *gorm.DB) error {
		if side == types.SideBuy {
			required := types.MulFixed(order.Price, order.Amount)
			ok, err := led.LockFiat(tx, userID, required)
			require.NoError(t, err)
			require.True(t, ok, "fixture buyer must be funded")
			order.LockedFunds = required
		} else {
			ok, err := led.LockAsset(tx, userID, symbol, order.Amount)
			require.NoError(t, err)
			require.True(t, ok, "fixture seller must hold the asset")
			order.LockedFunds = order.Amount
		}
		return tx.Create(order).Error
	})
	require.NoError(t, err)
	return order
}

func match(t *testing.T, db *gorm.DB, eng *Engine, order *types.Order) *types.Trade {
	t.Helper()
	var trade *types.Trade
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		trade, err = eng.AttemptMatch(tx, order)
		return err
	})
	require.NoError(t, err)
	return trade
}

func reloadOrder(t *testing.T, db *gorm.DB, orderID string) types.Order {
	t.Helper()
	var order types.Order
	require.NoError(t, db.Where("order_id = ?", orderID).First(&order).Error)
	return order
}

func userBalance(t *testing.T, db *gorm.DB, userID string) decimal.Decimal {
	t.Helper()
	var user types.User
	require.NoError(t, db.Where("user_id = ?", userID).First(&user).Error)
	return user.Balance
}

func userHolding(t *testing.T, db *gorm.DB, userID, symbol string) types.Asset {
	t.Helper()
	var asset types.Asset
	require.NoError(t, db.Where("user_id = ? AND symbol = ?", userID, symbol).First(&asset).Error)
	return asset
}

func TestAttemptMatchEmptyBook(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")

	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "50000", "1", time.Now())
	trade := match(t, db, eng, buy)

	assert.Nil(t, trade)
	assert.Equal(t, types.StatusOpen, reloadOrder(t, db, buy.OrderID).Status)
}

func TestAttemptMatchExecutesAtMakerPrice(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")
	createUser(t, db, "USR_seller", "50000")
	createHolding(t, db, "USR_seller", "BTC", "10")

	placeOrder(t, db, led, "USR_seller", "BTC", types.SideSell, "50000", "1", time.Now().Add(-time.Second))
	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "50000", "1", time.Now())

	trade := match(t, db, eng, buy)
	require.NotNil(t, trade)

	assert.Equal(t, "50000", trade.Price.String())
	assert.Equal(t, "1", trade.Amount.String())
	assert.Equal(t, "50000", trade.Total.String())
	assert.Equal(t, "750", trade.Fee.String())
	assert.Equal(t, "USR_buyer", trade.BuyerID)
	assert.Equal(t, "USR_seller", trade.SellerID)

	// Buyer spent 50000 of the starting 100000; seller received the volume
	// net of the 1.5% commission.
	assert.Equal(t, "50000", userBalance(t, db, "USR_buyer").String())
	assert.Equal(t, "99250", userBalance(t, db, "USR_seller").String())

	assert.Equal(t, "1", userHolding(t, db, "USR_buyer", "BTC").Amount.String())
	sellerAsset := userHolding(t, db, "USR_seller", "BTC")
	assert.Equal(t, "9", sellerAsset.Amount.String())
	assert.Equal(t, "0", sellerAsset.LockedAmount.String())

	buyRow := reloadOrder(t, db, trade.BuyOrderID)
	sellRow := reloadOrder(t, db, trade.SellOrderID)
	assert.Equal(t, types.StatusFilled, buyRow.Status)
	assert.Equal(t, types.StatusFilled, sellRow.Status)
	assert.True(t, buyRow.LockedFunds.IsZero())
	assert.True(t, sellRow.LockedFunds.IsZero())
}

func TestAttemptMatchRefundsPriceImprovement(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")
	createUser(t, db, "USR_seller", "0")
	createHolding(t, db, "USR_seller", "BTC", "1")

	placeOrder(t, db, led, "USR_seller", "BTC", types.SideSell, "50000", "1", time.Now().Add(-time.Second))

	// The buyer is willing to pay 55000 but the resting sell asks 50000. The
	// trade executes at the maker's 50000 and the 5000 difference comes back.
	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "55000", "1", time.Now())
	trade := match(t, db, eng, buy)
	require.NotNil(t, trade)

	assert.Equal(t, "50000", trade.Price.String())
	assert.Equal(t, "750", trade.Fee.String())
	assert.Equal(t, "50000", userBalance(t, db, "USR_buyer").String())
	assert.Equal(t, "49250", userBalance(t, db, "USR_seller").String())
}

func TestAttemptMatchTakerSellHitsHighestBid(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_bidder_low", "100000")
	createUser(t, db, "USR_bidder_high", "100000")
	createUser(t, db, "USR_seller", "0")
	createHolding(t, db, "USR_seller", "BTC", "1")

	placeOrder(t, db, led, "USR_bidder_low", "BTC", types.SideBuy, "50000", "1", time.Now().Add(-2*time.Second))
	high := placeOrder(t, db, led, "USR_bidder_high", "BTC", types.SideBuy, "51000", "1", time.Now().Add(-time.Second))

	sell := placeOrder(t, db, led, "USR_seller", "BTC", types.SideSell, "50000", "1", time.Now())
	trade := match(t, db, eng, sell)
	require.NotNil(t, trade)

	// The maker is the best bid, so the sale executes at 51000.
	assert.Equal(t, high.OrderID, trade.BuyOrderID)
	assert.Equal(t, "51000", trade.Price.String())
	assert.Equal(t, "765", trade.Fee.String())
	assert.Equal(t, "50235", userBalance(t, db, "USR_seller").String())
}

func TestAttemptMatchPriceTimePriority(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")
	createUser(t, db, "USR_seller_first", "0")
	createUser(t, db, "USR_seller_second", "0")
	createHolding(t, db, "USR_seller_first", "BTC", "1")
	createHolding(t, db, "USR_seller_second", "BTC", "1")

	first := placeOrder(t, db, led, "USR_seller_first", "BTC", types.SideSell, "50000", "1", time.Now().Add(-2*time.Second))
	placeOrder(t, db, led, "USR_seller_second", "BTC", types.SideSell, "50000", "1", time.Now().Add(-time.Second))

	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "50000", "1", time.Now())
	trade := match(t, db, eng, buy)
	require.NotNil(t, trade)

	assert.Equal(t, first.OrderID, trade.SellOrderID)
}

func TestAttemptMatchBestPriceBeatsEarlierOrder(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")
	createUser(t, db, "USR_seller_early", "0")
	createUser(t, db, "USR_seller_cheap", "0")
	createHolding(t, db, "USR_seller_early", "BTC", "1")
	createHolding(t, db, "USR_seller_cheap", "BTC", "1")

	// The cheaper sell arrives later but still wins: price beats time.
	placeOrder(t, db, led, "USR_seller_early", "BTC", types.SideSell, "50000", "1", time.Now().Add(-2*time.Second))
	cheap := placeOrder(t, db, led, "USR_seller_cheap", "BTC", types.SideSell, "49000", "1", time.Now().Add(-time.Second))

	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "50000", "1", time.Now())
	trade := match(t, db, eng, buy)
	require.NotNil(t, trade)

	assert.Equal(t, cheap.OrderID, trade.SellOrderID)
	assert.Equal(t, "49000", trade.Price.String())
}

func TestAttemptMatchRequiresExactAmount(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")
	createUser(t, db, "USR_seller", "0")
	createHolding(t, db, "USR_seller", "BTC", "2")

	placeOrder(t, db, led, "USR_seller", "BTC", types.SideSell, "50000", "2", time.Now().Add(-time.Second))

	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "50000", "1", time.Now())
	trade := match(t, db, eng, buy)

	assert.Nil(t, trade)
	assert.Equal(t, types.StatusOpen, reloadOrder(t, db, buy.OrderID).Status)
}

func TestAttemptMatchSkipsOwnOrders(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_trader", "100000")
	createHolding(t, db, "USR_trader", "BTC", "1")

	placeOrder(t, db, led, "USR_trader", "BTC", types.SideSell, "50000", "1", time.Now().Add(-time.Second))
	buy := placeOrder(t, db, led, "USR_trader", "BTC", types.SideBuy, "50000", "1", time.Now())

	trade := match(t, db, eng, buy)
	assert.Nil(t, trade)
}

func TestAttemptMatchIgnoresCrossedSymbols(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")
	createUser(t, db, "USR_seller", "0")
	createHolding(t, db, "USR_seller", "ETH", "1")

	placeOrder(t, db, led, "USR_seller", "ETH", types.SideSell, "50000", "1", time.Now().Add(-time.Second))
	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "50000", "1", time.Now())

	trade := match(t, db, eng, buy)
	assert.Nil(t, trade)
}

func TestAttemptMatchIgnoresClosedOrders(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")
	createUser(t, db, "USR_seller", "0")
	createHolding(t, db, "USR_seller", "BTC", "1")

	sell := placeOrder(t, db, led, "USR_seller", "BTC", types.SideSell, "50000", "1", time.Now().Add(-time.Second))
	require.NoError(t, db.Model(&types.Order{}).
		Where("order_id = ?", sell.OrderID).
		Update("status", types.StatusCancelled).Error)

	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "50000", "1", time.Now())
	trade := match(t, db, eng, buy)
	assert.Nil(t, trade)
}

func TestAttemptMatchNoopWhenOrderAlreadyClosed(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")

	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "50000", "1", time.Now())
	require.NoError(t, db.Model(&types.Order{}).
		Where("order_id = ?", buy.OrderID).
		Update("status", types.StatusCancelled).Error)

	// A cancellation that won the race leaves nothing to match.
	trade := match(t, db, eng, buy)
	assert.Nil(t, trade)
}

func TestAttemptMatchExecutesAtMostOneTrade(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "200000")
	createUser(t, db, "USR_seller", "0")
	createHolding(t, db, "USR_seller", "BTC", "2")

	placeOrder(t, db, led, "USR_seller", "BTC", types.SideSell, "50000", "1", time.Now().Add(-2*time.Second))
	placeOrder(t, db, led, "USR_seller", "BTC", types.SideSell, "50000", "1", time.Now().Add(-time.Second))

	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "50000", "1", time.Now())
	trade := match(t, db, eng, buy)
	require.NotNil(t, trade)

	var open int64
	require.NoError(t, db.Model(&types.Order{}).
		Where("side = ? AND status = ?", types.SideSell, types.StatusOpen).
		Count(&open).Error)
	assert.EqualValues(t, 1, open)
}

func TestFeeTruncatesToEightDecimals(t *testing.T) {
	db, led, eng := setupTestDB(t)
	createUser(t, db, "USR_buyer", "100000")
	createUser(t, db, "USR_seller", "0")
	createHolding(t, db, "USR_seller", "BTC", "1")

	// Volume 0.33333333 * 100 = 33.333333; the exact fee 0.499999995
	// truncates to 0.49999999 rather than rounding up.
	placeOrder(t, db, led, "USR_seller", "BTC", types.SideSell, "100", "0.33333333", time.Now().Add(-time.Second))
	buy := placeOrder(t, db, led, "USR_buyer", "BTC", types.SideBuy, "100", "0.33333333", time.Now())

	trade := match(t, db, eng, buy)
	require.NotNil(t, trade)
	assert.Equal(t, "33.333333", trade.Total.String())
	assert.Equal(t, "0.49999999", trade.Fee.String())
}
