package draws

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lootlabs/drawpool/internal/logging"
	"github.com/lootlabs/drawpool/internal/pool"
	"github.com/lootlabs/drawpool/internal/reserve"
	"github.com/lootlabs/drawpool/internal/treasury"
	"github.com/lootlabs/drawpool/internal/validation"
)

// RegisterRoutes registers the buyer-facing draw endpoints: opens and reads.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.POST("/draws/fixed", handleOpenFixed(svc))
	rg.POST("/draws/flex", handleOpenFlex(svc))
	rg.GET("/draws/:id", handleGetDraw(svc))
	rg.GET("/flex/status", handleFlexStatus(svc))
	rg.GET("/flex/preview", handleFlexPreview(svc))
}

// RegisterOperatorRoutes registers delivery and recovery endpoints. Fulfill
// is the randomness provider's callback; retry and cancel are the
// operator's. A buyer who can reach fulfill picks their own random value,
// so none of these belong on the open surface.
func RegisterOperatorRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.POST("/draws/:id/fulfill", handleFulfill(svc))
	rg.POST("/draws/:id/retry", handleRetry(svc))
	rg.POST("/draws/:id/cancel", handleCancel(svc))
}

func handleOpenFixed(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Buyer   string `json:"buyer" binding:"required"`
			PoolID  string `json:"poolId" binding:"required"`
			Payment string `json:"payment" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "buyer, poolId, and payment are required"})
			return
		}

		d, err := svc.OpenFixed(c.Request.Context(),
			validation.SanitizeString(req.Buyer, 200), req.PoolID, req.Payment)
		if err != nil {
			writeDrawError(c, err)
			return
		}
		c.JSON(http.StatusCreated, d)
	}
}

func handleOpenFlex(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Buyer   string `json:"buyer" binding:"required"`
			Payment string `json:"payment" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "buyer and payment are required"})
			return
		}

		d, err := svc.OpenFlex(c.Request.Context(),
			validation.SanitizeString(req.Buyer, 200), req.Payment)
		if err != nil {
			writeDrawError(c, err)
			return
		}
		c.JSON(http.StatusCreated, d)
	}
}

func handleGetDraw(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeDrawError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func handleFulfill(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			RandomValue string `json:"randomValue" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "randomValue is required"})
			return
		}

		value, ok := parseRandomValue(req.RandomValue)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid randomValue"})
			return
		}

		outcome, err := svc.Fulfill(c.Request.Context(), c.Param("id"), value)
		if err != nil {
			writeDrawError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

func handleRetry(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.Retry(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeDrawError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func handleCancel(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Cancel(c.Request.Context(), c.Param("id")); err != nil {
			writeDrawError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "drawId": c.Param("id")})
	}
}

func handleFlexStatus(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Status())
	}
}

func handleFlexPreview(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		payment := c.Query("payment")
		if payment == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payment query parameter is required"})
			return
		}

		preview, err := svc.FlexPreview(payment)
		if err != nil {
			writeDrawError(c, err)
			return
		}
		c.JSON(http.StatusOK, preview)
	}
}

// parseRandomValue accepts decimal or 0x-prefixed hex.
func parseRandomValue(s string) (*big.Int, bool) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func writeDrawError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownRequest), errors.Is(err, pool.ErrPoolNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrAlreadyFulfilled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrWrongPrice),
		errors.Is(err, treasury.ErrInsufficientBalance),
		errors.Is(err, reserve.ErrInsufficientReserve):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, ErrPaymentTooSmall),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, treasury.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pool.ErrEmptyPool),
		errors.Is(err, pool.ErrNoWeight),
		errors.Is(err, reserve.ErrFlexPoolEmpty):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("draw operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
