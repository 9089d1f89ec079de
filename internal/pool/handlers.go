package pool

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lootlabs/drawpool/internal/logging"
	"github.com/lootlabs/drawpool/internal/reserve"
	"github.com/lootlabs/drawpool/internal/validation"
)

// RegisterRoutes registers pool and flex-deposit endpoints on the router
// group. Deposit endpoints are operator-facing.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.POST("/pools", handleCreatePool(svc))
	rg.GET("/pools", handleListPools(svc))
	rg.GET("/pools/:id", handleGetPool(svc))
	rg.POST("/pools/:id/bundles", handleDepositBundle(svc))
	rg.POST("/flex/fungible", handleDepositFlexFungible(svc))
	rg.POST("/flex/tokens", handleDepositFlexToken(svc))
}

func handleCreatePool(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name  string `json:"name" binding:"required"`
			Price string `json:"price" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and price are required"})
			return
		}

		p, err := svc.CreatePool(c.Request.Context(), validation.SanitizeString(req.Name, 200), req.Price)
		if err != nil {
			if errors.Is(err, ErrInvalidPrice) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
				return
			}
			logging.L(c.Request.Context()).Error("create pool failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create pool"})
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

func handleListPools(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		pools, err := svc.ListPools(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pools"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pools": pools})
	}
}

func handleGetPool(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := svc.PoolStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, ErrPoolNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get pool"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func handleDepositBundle(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Weight  int64   `json:"weight" binding:"required"`
			Payload Payload `json:"payload"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "weight is required"})
			return
		}

		item, err := svc.DepositBundle(c.Request.Context(), c.Param("id"), req.Weight, req.Payload)
		if err != nil {
			switch {
			case errors.Is(err, ErrPoolNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "pool not found"})
			case errors.Is(err, ErrInvalidWeight), errors.Is(err, ErrInvalidPrice):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, ErrPoolFull):
				c.JSON(http.StatusConflict, gin.H{"error": "pool is at capacity"})
			default:
				logging.L(c.Request.Context()).Error("deposit bundle failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deposit bundle"})
			}
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func handleDepositFlexFungible(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Amount string `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
			return
		}

		if err := svc.DepositFlexFungible(c.Request.Context(), req.Amount); err != nil {
			if errors.Is(err, reserve.ErrInvalidAmount) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
				return
			}
			logging.L(c.Request.Context()).Error("flex fungible deposit failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "deposit failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deposited", "amount": req.Amount})
	}
}

func handleDepositFlexToken(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Ref string `json:"ref" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ref is required"})
			return
		}

		t, err := svc.DepositFlexToken(c.Request.Context(), validation.SanitizeString(req.Ref, 200))
		if err != nil {
			logging.L(c.Request.Context()).Error("flex token deposit failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "deposit failed"})
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}
