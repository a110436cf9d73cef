package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/annolab/annopipe/internal/accounts"
	"github.com/annolab/annopipe/internal/api/dto"
	"github.com/annolab/annopipe/internal/messages"
	"github.com/annolab/annopipe/shared/rabbitmq"
)

// UpgradeAccount handles POST /api/v1/accounts/:user_id/upgrade
// Moves the account to the premium tier and enqueues the restore
// request that thaws its archived results.
func (h *AccountHandler) UpgradeAccount(c *gin.Context) {
	userID := c.Param("user_id")

	if err := h.directory.Upgrade(c.Request.Context(), userID); err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Account not found",
			})
			return
		}
		h.logger.Error("Failed to upgrade account",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to upgrade account",
		})
		return
	}

	body, err := json.Marshal(messages.Restore{UserID: userID})
	if err != nil {
		h.logger.Error("Failed to marshal restore message", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to request restoration",
		})
		return
	}

	// The upgrade is durable at this point. A failed enqueue leaves
	// the results archived until a retried upgrade call re-sends it,
	// so the error is surfaced rather than swallowed.
	if err := h.sender.Send(c.Request.Context(), h.restoreQueue, rabbitmq.Publishing{
		Body:     body,
		DedupKey: userID,
	}); err != nil {
		h.logger.Error("Failed to publish restore message",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Account upgraded but restoration could not be requested",
		})
		return
	}

	h.logger.Info("Account upgraded, restoration requested",
		slog.String("user_id", userID),
	)

	c.JSON(http.StatusOK, dto.UpgradeAccountResponse{
		UserID: userID,
		Tier:   accounts.TierPremium,
	})
}
