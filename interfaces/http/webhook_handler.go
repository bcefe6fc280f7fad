package http

import (
	"errors"
	"io"
	"net/http"

	"crm-sync/domain/dto"
	"crm-sync/domain/model"
	"crm-sync/infrastructure/logger"
	"crm-sync/usecase"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

type IWebhookHandler interface {
	Receive(ctx *gin.Context)
}

type WebhookHandler struct {
	WebhookUsecase usecase.IWebhookUsecase
}

func NewWebhookHandler(webhookUsecase usecase.IWebhookUsecase) IWebhookHandler {
	return &WebhookHandler{WebhookUsecase: webhookUsecase}
}

// Receive handles POST /webhooks/:provider. Once the signature is verified
// the provider always gets 200. A body over 1MB is refused with 413 before
// anything is verified.
func (h *WebhookHandler) Receive(ctx *gin.Context) {
	provider := ctx.Param("provider")
	header := h.WebhookUsecase.SignatureHeader(provider)
	if header == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": model.ErrInvalidProvider.Error()})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBody))
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		logger.GetLogger().WithField("provider", provider).WithField("limit", tooLarge.Limit).Warn("Webhook body too large")
		ctx.JSON(http.StatusRequestEntityTooLarge, dto.WebhookAck{Received: false, Error: "payload too large"})
		return
	case err != nil:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}

	ack, err := h.WebhookUsecase.HandleWebhook(ctx.Request.Context(), usecase.WebhookRequest{
		Provider:      provider,
		IntegrationID: ctx.Query("integration"),
		Signature:     ctx.GetHeader(header),
		Body:          body,
	})
	switch {
	case errors.Is(err, model.ErrInvalidProvider):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": model.ErrInvalidProvider.Error()})
	case errors.Is(err, model.ErrInvalidSignature):
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": model.ErrInvalidSignature.Error()})
	case err != nil:
		logger.GetLogger().WithField("provider", provider).WithField("error", err).Error("Webhook handling failed")
		ctx.JSON(http.StatusOK, dto.WebhookAck{Received: true, Error: "internal error"})
	default:
		ctx.JSON(http.StatusOK, ack)
	}
}
