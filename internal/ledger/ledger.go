package ledger

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/database"
	"github.com/coinpeak/exchange-api/internal/types"
)

var (
	// ErrNonPositiveAmount is returned when a mutation is attempted with a
	// zero or negative amount.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")

	// ErrLockDesync signals that an unlock or settlement would drive a locked
	// amount or balance negative. That can only happen when lock accounting
	// broke somewhere else, so the surrounding transaction must abort.
	ErrLockDesync = errors.New("ledger: lock accounting out of sync")
)

// Service owns every mutation of user fiat balances and asset holdings. All
// mutating methods operate on the caller's transaction so that a fund lock,
// the order it backs and any resulting settlement commit or roll back as one
// unit. Rows are exclusively locked before they are read and updated.
type Service struct {
	db *gorm.DB
}

// NewService creates a new ledger service with the given database connection.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// LockFiat reserves amount from the user's fiat balance for a buy order.
// Returns false with no mutation when the balance is insufficient.
func (s *Service) LockFiat(tx *gorm.DB, userID string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, ErrNonPositiveAmount
	}

	var user types.User
	if err := database.LockForUpdate(tx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		return false, fmt.Errorf("failed to lock user row: %w", err)
	}

	if user.Balance.LessThan(amount) {
		return false, nil
	}

	user.Balance = user.Balance.Sub(amount)
	if err := tx.Save(&user).Error; err != nil {
		return false, fmt.Errorf("failed to debit fiat balance: %w", err)
	}

	log.Debug().
		Str("user_id", userID).
		Str("amount", amount.String()).
		Str("balance", user.Balance.String()).
		Msg("locked fiat")

	return true, nil
}

// UnlockFiat returns previously locked fiat to the user's balance. Callers
// must pass exactly the order's recorded locked funds; the ledger does not
// track per-order reservations itself.
func (s *Service) UnlockFiat(tx *gorm.DB, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return s.creditFiat(tx, userID, amount)
}

// LockAsset reserves amount of the user's holding for a sell order. Returns
// false with no mutation when no holding exists or the unreserved portion is
// insufficient.
func (s *Service) LockAsset(tx *gorm.DB, userID, symbol string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, ErrNonPositiveAmount
	}

	var asset types.Asset
	err := database.LockForUpdate(tx).
		Where("user_id = ? AND symbol = ?", userID, symbol).
		First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock asset row: %w", err)
	}

	if asset.Available().LessThan(amount) {
		return false, nil
	}

	asset.LockedAmount = asset.LockedAmount.Add(amount)
	if err := tx.Save(&asset).Error; err != nil {
		return false, fmt.Errorf("failed to reserve asset: %w", err)
	}

	log.Debug().
		Str("user_id", userID).
		Str("symbol", symbol).
		Str("amount", amount.String()).
		Str("locked_amount", asset.LockedAmount.String()).
		Msg("locked asset")

	return true, nil
}

// UnlockAsset releases a sell-order reservation. A missing holding is ignored;
// a release that would push the locked amount negative aborts with
// ErrLockDesync.
func (s *Service) UnlockAsset(tx *gorm.DB, userID, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}

	var asset types.Asset
	err := database.LockForUpdate(tx).
		Where("user_id = ? AND symbol = ?", userID, symbol).
		First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().
			Str("user_id", userID).
			Str("symbol", symbol).
			Msg("unlock requested for absent holding")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to lock asset row: %w", err)
	}

	remaining := asset.LockedAmount.Sub(amount)
	if remaining.IsNegative() {
		return fmt.Errorf("%w: unlocking %s %s leaves locked_amount %s", ErrLockDesync, amount, symbol, remaining)
	}

	asset.LockedAmount = remaining
	if err := tx.Save(&asset).Error; err != nil {
		return fmt.Errorf("failed to release asset: %w", err)
	}
	return nil
}

// SettleTrade moves value for one executed trade: the seller is credited the
// fiat volume net of fee, the seller's holding is reduced by assetAmount out
// of its locked portion, and the buyer's holding is credited. The buyer's
// fiat was debited when their order locked funds, so no buyer fiat movement
// happens here.
func (s *Service) SettleTrade(tx *gorm.DB, buyerID, sellerID, symbol string, usdVolume, fee, assetAmount decimal.Decimal) error {
	if !usdVolume.IsPositive() || !assetAmount.IsPositive() || fee.IsNegative() {
		return ErrNonPositiveAmount
	}

	proceeds := usdVolume.Sub(fee)
	if proceeds.IsNegative() {
		return fmt.Errorf("%w: fee %s exceeds volume %s", ErrLockDesync, fee, usdVolume)
	}
	if err := s.creditFiat(tx, sellerID, proceeds); err != nil {
		return err
	}

	var sellerAsset types.Asset
	err := database.LockForUpdate(tx).
		Where("user_id = ? AND symbol = ?", sellerID, symbol).
		First(&sellerAsset).Error
	if err != nil {
		return fmt.Errorf("failed to lock seller holding: %w", err)
	}

	sellerAsset.LockedAmount = sellerAsset.LockedAmount.Sub(assetAmount)
	sellerAsset.Amount = sellerAsset.Amount.Sub(assetAmount)
	if sellerAsset.LockedAmount.IsNegative() || sellerAsset.Amount.IsNegative() {
		return fmt.Errorf("%w: seller %s holding %s would go negative", ErrLockDesync, sellerID, symbol)
	}
	if err := tx.Save(&sellerAsset).Error; err != nil {
		return fmt.Errorf("failed to debit seller holding: %w", err)
	}

	return s.CreditAsset(tx, buyerID, symbol, assetAmount)
}

// RefundExcessFiat returns the buyer's price-improvement difference after a
// trade settles at a better price than their limit. Zero or negative amounts
// are a no-op.
func (s *Service) RefundExcessFiat(tx *gorm.DB, buyerID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	return s.creditFiat(tx, buyerID, amount)
}

// CreditAsset adds amount to the user's holding, creating it with a zero
// locked portion on first credit. Holdings are never deleted afterwards.
func (s *Service) CreditAsset(tx *gorm.DB, userID, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}

	var asset types.Asset
	err := database.LockForUpdate(tx).
		Where("user_id = ? AND symbol = ?", userID, symbol).
		First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		asset = types.Asset{
			UserID:       userID,
			Symbol:       symbol,
			Amount:       amount,
			LockedAmount: decimal.Zero,
		}
		if err := tx.Create(&asset).Error; err != nil {
			return fmt.Errorf("failed to create holding: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to lock holding: %w", err)
	}

	asset.Amount = asset.Amount.Add(amount)
	if err := tx.Save(&asset).Error; err != nil {
		return fmt.Errorf("failed to credit holding: %w", err)
	}
	return nil
}

// AvailableFiat returns the user's spendable fiat balance.
func (s *Service) AvailableFiat(userID string) (decimal.Decimal, error) {
	var user types.User
	if err := s.db.Where("user_id = ?", userID).First(&user).Error; err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

// AvailableAsset returns the unreserved portion of the user's holding, zero
// when no holding exists.
func (s *Service) AvailableAsset(userID, symbol string) (decimal.Decimal, error) {
	var asset types.Asset
	err := s.db.Where("user_id = ? AND symbol = ?", userID, symbol).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return asset.Available(), nil
}

// UserAssets returns all holdings for a user.
func (s *Service) UserAssets(userID string) ([]types.Asset, error) {
	var assets []types.Asset
	if err := s.db.Where("user_id = ?", userID).Order("symbol asc").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

func (s *Service) creditFiat(tx *gorm.DB, userID string, amount decimal.Decimal) error {
	var user types.User
	if err := database.LockForUpdate(tx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		return fmt.Errorf("failed to lock user row: %w", err)
	}

	user.Balance = user.Balance.Add(amount)
	if err := tx.Save(&user).Error; err != nil {
		return fmt.Errorf("failed to credit fiat balance: %w", err)
	}
	return nil
}
