package handler

import (
	"strconv"

	"adcoin-ledger/internal/adapter/http/dto"
	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"
	"adcoin-ledger/pkg/apperror"
	"adcoin-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AccountHandler serves the read side: balances, history and reconciliation.
type AccountHandler struct {
	historySvc ports.HistoryService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(historySvc ports.HistoryService) *AccountHandler {
	return &AccountHandler{historySvc: historySvc}
}

// Balance handles GET /api/v1/accounts/:kind/:id/balance.
func (h *AccountHandler) Balance(c *gin.Context) {
	ref, ok := refFromPath(c)
	if !ok {
		return
	}

	balance, err := h.historySvc.Balance(c.Request.Context(), ref)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		Kind:    string(ref.Kind),
		ID:      ref.ID,
		Balance: balance,
	})
}

// Transactions handles GET /api/v1/accounts/:kind/:id/transactions.
func (h *AccountHandler) Transactions(c *gin.Context) {
	ref, ok := refFromPath(c)
	if !ok {
		return
	}

	params, ok := listParamsFromQuery(c)
	if !ok {
		return
	}

	rows, total, err := h.historySvc.History(c.Request.Context(), ref, params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.HistoryItemResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.NewHistoryItemResponse(row))
	}

	totalPages := int(total) / params.PageSize
	if int(total)%params.PageSize > 0 {
		totalPages++
	}

	response.OK(c, dto.TransactionListResponse{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	})
}

// Reconcile handles GET /api/v1/accounts/:kind/:id/reconcile.
func (h *AccountHandler) Reconcile(c *gin.Context) {
	ref, ok := refFromPath(c)
	if !ok {
		return
	}

	result, err := h.historySvc.Reconcile(c.Request.Context(), ref)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ReconcileResponse{
		Stored:   result.Stored,
		Replayed: result.Replayed,
		Match:    result.Match,
	})
}

// refFromPath parses and validates the :kind/:id path segments. On failure it
// writes the error response and reports false.
func refFromPath(c *gin.Context) (domain.AccountRef, bool) {
	kind, err := domain.ParseAccountKind(c.Param("kind"))
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return domain.AccountRef{}, false
	}
	id := c.Param("id")
	if id == "" {
		response.Error(c, apperror.Validation("account id is required"))
		return domain.AccountRef{}, false
	}
	return domain.AccountRef{Kind: kind, ID: id}, true
}

// listParamsFromQuery parses pagination and filter query parameters.
func listParamsFromQuery(c *gin.Context) (ports.ListParams, bool) {
	params := ports.ListParams{Page: 1, PageSize: 20}

	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			response.Error(c, apperror.Validation("page must be a positive integer"))
			return params, false
		}
		params.Page = n
	}
	if v := c.Query("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			response.Error(c, apperror.Validation("page_size must be between 1 and 100"))
			return params, false
		}
		params.PageSize = n
	}
	if v := c.Query("type"); v != "" {
		t := domain.TransactionType(v)
		if _, ok := domain.PolicyFor(t); !ok && t != domain.TypeAdjusted {
			response.Error(c, apperror.Validation("unknown transaction type filter"))
			return params, false
		}
		params.Type = &t
	}
	if v := c.Query("from"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.Error(c, apperror.Validation("from must be a unix timestamp"))
			return params, false
		}
		params.From = &ts
	}
	if v := c.Query("to"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.Error(c, apperror.Validation("to must be a unix timestamp"))
			return params, false
		}
		params.To = &ts
	}

	return params, true
}
