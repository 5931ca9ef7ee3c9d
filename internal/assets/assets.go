package assets

import (
	"github.com/gin-gonic/gin"

	"github.com/coinpeak/exchange-api/internal/ledger"
	"github.com/coinpeak/exchange-api/pkg/response"
)

// GinHandlers contains HTTP handlers for asset-holding endpoints. Balances
// are owned by the ledger; this package only reads them.
type GinHandlers struct {
	ledger *ledger.Service
}

// NewGinHandlers creates a new set of HTTP handlers for asset endpoints
func NewGinHandlers(ledgerService *ledger.Service) *GinHandlers {
	return &GinHandlers{
		ledger: ledgerService,
	}
}

// GetUserAssetsHandler handles GET requests listing the caller's holdings.
func (h *GinHandlers) GetUserAssetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		holdings, err := h.ledger.UserAssets(userID)
		if err != nil {
			response.InternalError(c, "Failed to fetch assets")
			return
		}
		response.Success(c, holdings)
	}
}
