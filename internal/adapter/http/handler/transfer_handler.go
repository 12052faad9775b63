package handler

import (
	"adcoin-ledger/internal/adapter/http/dto"
	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"
	"adcoin-ledger/pkg/apperror"
	"adcoin-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// TransferHandler handles AdCoin movement submissions.
type TransferHandler struct {
	transferSvc ports.TransferService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transferSvc ports.TransferService) *TransferHandler {
	return &TransferHandler{transferSvc: transferSvc}
}

// Submit handles POST /api/v1/transfers.
func (h *TransferHandler) Submit(c *gin.Context) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.transferSvc.Submit(c.Request.Context(), ports.TransferRequest{
		Initiator:      domain.AccountRef{Kind: domain.AccountKind(req.Initiator.Kind), ID: req.Initiator.ID},
		Credential:     req.Credential,
		Type:           domain.TransactionType(req.Type),
		Sender:         req.Sender.Ref(),
		Receiver:       req.Receiver.Ref(),
		Direction:      domain.AdjustDirection(req.Direction),
		Amount:         req.Amount,
		Message:        req.Message,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewTransactionResponse(txn))
}
