package api

import (
	"errors"
	"net/http"

	"campus-market/internal/paystack"
	"campus-market/internal/service"
	"campus-market/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps service errors to HTTP responses.
func (h *Handler) respondError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var verificationErr *service.VerificationError
	var gatewayErr *paystack.Error

	switch {
	case errors.As(err, &validationErr), errors.As(err, &verificationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrTransactionNotFound),
		errors.Is(err, service.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrReferenceInUse),
		errors.Is(err, service.ErrOrderInProgress),
		errors.Is(err, service.ErrOrderAlreadyPaid):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway error", "details": err.Error()})
	default:
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body := gin.H{"error": "internal server error"}
		if !h.production {
			body["details"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}
