package treasury

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lootlabs/drawpool/internal/logging"
	"github.com/lootlabs/drawpool/internal/pagination"
	"github.com/lootlabs/drawpool/internal/validation"
)

// RegisterRoutes registers treasury endpoints on the router group.
func RegisterRoutes(rg *gin.RouterGroup, t *Treasury) {
	rg.GET("/accounts/:account/balance", handleGetBalance(t))
	rg.GET("/accounts/:account/history", handleGetHistory(t))
	rg.POST("/accounts/:account/deposit", handleDeposit(t))
}

func handleGetBalance(t *Treasury) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := validation.SanitizeString(c.Param("account"), 200)
		bal, err := t.GetBalance(c.Request.Context(), account)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
			return
		}
		c.JSON(http.StatusOK, bal)
	}
}

func handleGetHistory(t *Treasury) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := validation.SanitizeString(c.Param("account"), 200)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		cursor := c.Query("cursor")

		entries, next, hasMore, err := t.GetHistory(c.Request.Context(), account, limit, cursor)
		if err != nil {
			if errors.Is(err, pagination.ErrInvalidCursor) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get history"})
			return
		}
		resp := gin.H{"account": account, "entries": entries, "hasMore": hasMore}
		if next != "" {
			resp["nextCursor"] = next
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleDeposit(t *Treasury) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := validation.SanitizeString(c.Param("account"), 200)

		var req struct {
			Amount string `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
			return
		}

		if err := t.Deposit(c.Request.Context(), account, req.Amount); err != nil {
			if errors.Is(err, ErrInvalidAmount) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
				return
			}
			logging.L(c.Request.Context()).Error("deposit failed", "account", account, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "deposit failed"})
			return
		}

		bal, err := t.GetBalance(c.Request.Context(), account)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
			return
		}
		c.JSON(http.StatusOK, bal)
	}
}
