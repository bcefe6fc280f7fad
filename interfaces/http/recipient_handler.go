package http

import (
	"net/http"

	"crm-sync/domain/dto"
	"crm-sync/interfaces/middleware"
	"crm-sync/usecase"

	"github.com/gin-gonic/gin"
)

type IRecipientHandler interface {
	Update(ctx *gin.Context)
}

type RecipientHandler struct {
	RecipientUsecase usecase.IRecipientUsecase
}

func NewRecipientHandler(recipientUsecase usecase.IRecipientUsecase) IRecipientHandler {
	return &RecipientHandler{RecipientUsecase: recipientUsecase}
}

// Update handles PATCH /api/recipients/:id
func (h *RecipientHandler) Update(ctx *gin.Context) {
	session, _ := middleware.SessionFrom(ctx)
	var req dto.RecipientUpdateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.RecipientUsecase.UpdateRecipient(ctx.Request.Context(), session.OrganizationID, ctx.Param("id"), req)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": errorText(err)})
		return
	}
	ctx.JSON(http.StatusOK, res)
}
