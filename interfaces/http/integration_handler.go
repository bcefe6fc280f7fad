package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"crm-sync/domain/dto"
	"crm-sync/domain/model"
	"crm-sync/infrastructure/logger"
	"crm-sync/interfaces/middleware"
	"crm-sync/usecase"

	"github.com/gin-gonic/gin"
)

// IntegrationsPage is the UI page every OAuth redirect lands on.
const IntegrationsPage = "/integrations"

type IIntegrationHandler interface {
	Authorize(ctx *gin.Context)
	Callback(ctx *gin.Context)
	ConnectDemo(ctx *gin.Context)
	Status(ctx *gin.Context)
	TriggerSync(ctx *gin.Context)
	Disconnect(ctx *gin.Context)
}

type IntegrationHandler struct {
	OAuthUsecase usecase.IOAuthUsecase
	SyncUsecase  usecase.ISyncUsecase
}

func NewIntegrationHandler(oauthUsecase usecase.IOAuthUsecase, syncUsecase usecase.ISyncUsecase) IIntegrationHandler {
	return &IntegrationHandler{OAuthUsecase: oauthUsecase, SyncUsecase: syncUsecase}
}

// Authorize handles GET /integrations/:provider/authorize
func (h *IntegrationHandler) Authorize(ctx *gin.Context) {
	session, ok := middleware.SessionFrom(ctx)
	if !ok {
		redirectError(ctx, "not authenticated")
		return
	}
	provider := ctx.Param("provider")
	authURL, err := h.OAuthUsecase.AuthorizeURL(ctx.Request.Context(), session.OrganizationID, provider)
	if err != nil {
		logger.GetLogger().WithField("provider", provider).WithField("organization_id", session.OrganizationID).WithField("error", err).Warn("Cannot start CRM authorization")
		redirectError(ctx, errorText(err))
		return
	}
	ctx.Redirect(http.StatusFound, authURL)
}

// Callback handles GET /integrations/:provider/callback
func (h *IntegrationHandler) Callback(ctx *gin.Context) {
	provider := ctx.Param("provider")
	if errorParam := ctx.Query("error"); errorParam != "" {
		msg := errorParam
		if desc := ctx.Query("error_description"); desc != "" {
			msg += ": " + desc
		}
		logger.GetLogger().WithField("provider", provider).WithField("error", msg).Warn("CRM authorization declined")
		redirectError(ctx, msg)
		return
	}

	in, err := h.OAuthUsecase.HandleCallback(ctx.Request.Context(), provider, ctx.Query("code"), ctx.Query("state"))
	if err != nil {
		logger.GetLogger().WithField("provider", provider).WithField("error", err).Warn("CRM authorization callback failed")
		redirectError(ctx, errorText(err))
		return
	}

	// The initial sync must not hold up the redirect.
	if err := h.SyncUsecase.StartBackgroundSync(context.WithoutCancel(ctx.Request.Context()), in.OrganizationID, true); err != nil {
		logger.GetLogger().WithField("organization_id", in.OrganizationID).WithField("error", err).Warn("Initial sync not started")
	}
	q := url.Values{"connected": {string(in.Provider)}}
	ctx.Redirect(http.StatusFound, IntegrationsPage+"?"+q.Encode())
}

// ConnectDemo handles POST /integrations/demo/:provider
func (h *IntegrationHandler) ConnectDemo(ctx *gin.Context) {
	session, ok := middleware.SessionFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	summary, err := h.SyncUsecase.ConnectDemo(ctx.Request.Context(), session.OrganizationID, ctx.Param("provider"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": errorText(err)})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}

// Status handles GET /api/integrations
func (h *IntegrationHandler) Status(ctx *gin.Context) {
	session, _ := middleware.SessionFrom(ctx)
	status, err := h.SyncUsecase.Status(ctx.Request.Context(), session.OrganizationID)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": errorText(err)})
		return
	}
	ctx.JSON(http.StatusOK, status)
}

// TriggerSync handles POST /api/integrations/sync
func (h *IntegrationHandler) TriggerSync(ctx *gin.Context) {
	session, _ := middleware.SessionFrom(ctx)
	var req dto.TriggerSyncRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := h.SyncUsecase.StartBackgroundSync(context.WithoutCancel(ctx.Request.Context()), session.OrganizationID, req.Full); err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": errorText(err)})
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"accepted": true, "full": req.Full})
}

// Disconnect handles DELETE /api/integrations
func (h *IntegrationHandler) Disconnect(ctx *gin.Context) {
	session, _ := middleware.SessionFrom(ctx)
	if err := h.SyncUsecase.Disconnect(ctx.Request.Context(), session.OrganizationID); err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": errorText(err)})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func redirectError(ctx *gin.Context, msg string) {
	q := url.Values{"error": {msg}}
	ctx.Redirect(http.StatusFound, IntegrationsPage+"?"+q.Encode())
}

// statusFor maps domain errors to HTTP status codes for API routes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidProvider):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDemoDisabled):
		return http.StatusForbidden
	case errors.Is(err, model.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, model.ErrIntegrationNotConnected), errors.Is(err, model.ErrRecipientNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrInvalidSignature):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// errorText keeps internal failures out of user-facing messages.
func errorText(err error) string {
	var exchangeErr *model.OAuthExchangeError
	switch {
	case errors.Is(err, model.ErrInvalidProvider):
		return model.ErrInvalidProvider.Error()
	case errors.Is(err, model.ErrInvalidState):
		return model.ErrInvalidState.Error()
	case errors.As(err, &exchangeErr):
		return "authorization with " + string(exchangeErr.Provider) + " failed"
	case statusFor(err) != http.StatusInternalServerError:
		return err.Error()
	}
	return "internal error"
}
