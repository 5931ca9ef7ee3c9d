package main

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/auth"
	"github.com/coinpeak/exchange-api/internal/config"
	"github.com/coinpeak/exchange-api/internal/database"
	"github.com/coinpeak/exchange-api/internal/ledger"
	"github.com/coinpeak/exchange-api/internal/types"
)

type seedAccount struct {
	name     string
	email    string
	password string
	balance  string
	holdings map[string]string
}

// Demo accounts for local development: a buyer flush with fiat and a seller
// holding inventory to sell.
var seedAccounts = []seedAccount{
	{
		name:     "Buyer User",
		email:    "buyer@example.com",
		password: "password",
		balance:  "100000",
		holdings: map[string]string{"BTC": "2.5", "ETH": "10"},
	},
	{
		name:     "Seller User",
		email:    "seller@example.com",
		password: "password",
		balance:  "50000",
		holdings: map[string]string{"BTC": "5", "ETH": "20"},
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	authService := auth.NewService(db, cfg.JWTSecret, cfg.SignupBalance)
	ledgerService := ledger.NewService(db)

	for _, account := range seedAccounts {
		if err := seed(db, authService, ledgerService, account); err != nil {
			log.Fatal().Err(err).Str("email", account.email).Msg("Failed to seed account")
		}
	}

	log.Info().Int("accounts", len(seedAccounts)).Msg("Seeding complete")
}

func seed(db *gorm.DB, authService *auth.Service, ledgerService *ledger.Service, account seedAccount) error {
	user, _, err := authService.Register(account.name, account.email, account.password)
	if err == auth.ErrEmailTaken {
		log.Info().Str("email", account.email).Msg("account already seeded, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	balance, err := decimal.NewFromString(account.balance)
	if err != nil {
		return err
	}
	err = db.Model(&types.User{}).Where("user_id = ?", user.UserID).Update("balance", balance).Error
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for symbol, amount := range account.holdings {
			quantity, err := decimal.NewFromString(amount)
			if err != nil {
				return err
			}
			if err := ledgerService.CreditAsset(tx, user.UserID, symbol, quantity); err != nil {
				return err
			}
		}
		return nil
	})
}
