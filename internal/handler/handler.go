package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger/internal/ledger"
	"ledger/internal/model"
	"ledger/internal/service"
	"ledger/pkg/response"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accounts *service.AccountService
	engine   *ledger.Engine
	logger   *zap.Logger
}

func NewHandler(accounts *service.AccountService, engine *ledger.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{accounts: accounts, engine: engine, logger: logger}
}

// ============================================================
// 账户相关接口
// ============================================================

// ListAccounts 当前用户的全部账户
// GET /api/v1/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.accounts.ListByUser(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, accounts)
}

// GetAccount GET /api/v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid account id")
		return
	}

	account, err := h.accounts.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !actorFrom(c).CanAccess(account.UserID) {
		response.Forbidden(c, "account belongs to another user")
		return
	}
	response.Success(c, account)
}

// GetAccountByNumber GET /api/v1/accounts/number/:accountNumber
func (h *Handler) GetAccountByNumber(c *gin.Context) {
	account, ok := h.ownedAccount(c, c.Param("accountNumber"))
	if !ok {
		return
	}
	response.Success(c, account)
}

type CreateAccountRequest struct {
	AccountName string `json:"account_name" binding:"required"`
	AccountType string `json:"account_type" binding:"required"`
}

// CreateAccount 为当前用户开户
// POST /api/v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	account, err := h.accounts.CreateAccount(c.Request.Context(), actorFrom(c).UserID, req.AccountName, req.AccountType)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Response{Code: response.CodeSuccess, Message: "success", Data: account})
}

// ============================================================
// 交易相关接口
// ============================================================

// ListTransactions 按账号查询流水，时间倒序分页
// GET /api/v1/transactions?account_number=xxx&page=1&size=10
//
// page 从 1 开始，缺省或小于 1 按第 1 页处理；size 缺省 10，最大 100
//
// 不带账号时普通用户 403，管理员返回空页
func (h *Handler) ListTransactions(c *gin.Context) {
	page, err := intQuery(c, "page")
	if err != nil {
		response.ParamError(c, "invalid page")
		return
	}
	size, err := intQuery(c, "size")
	if err != nil {
		response.ParamError(c, "invalid size")
		return
	}

	number := c.Query("account_number")
	if number == "" {
		if !actorFrom(c).IsAdmin() {
			response.Forbidden(c, "account_number is required")
			return
		}
		req := ledger.PageRequest{Page: page, Size: size}.Normalize()
		response.Success(c, &ledger.Page{Items: []*model.Transaction{}, Page: req.Page, Size: req.Size})
		return
	}

	account, ok := h.ownedAccount(c, number)
	if !ok {
		return
	}

	result, err := h.engine.ListTransactions(c.Request.Context(), account.ID, ledger.PageRequest{Page: page, Size: size})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// GetTransaction 任一侧账户属于当前用户即可查看
// GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid transaction id")
		return
	}

	ctx := c.Request.Context()
	trans, err := h.engine.GetTransaction(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}

	actor := actorFrom(c)
	if !actor.IsAdmin() {
		visible := false
		for _, accountID := range []*int64{trans.SourceAccountID, trans.DestinationAccountID} {
			if accountID == nil {
				continue
			}
			account, err := h.accounts.GetByID(ctx, *accountID)
			if err != nil && !errors.Is(err, ledger.ErrNotFound) {
				h.fail(c, err)
				return
			}
			if account != nil && account.UserID == actor.UserID {
				visible = true
				break
			}
		}
		if !visible {
			response.Forbidden(c, "transaction does not involve your accounts")
			return
		}
	}

	response.Success(c, trans)
}

type TransferRequest struct {
	SourceAccountNumber      string          `json:"source_account_number" binding:"required"`
	DestinationAccountNumber string          `json:"destination_account_number" binding:"required"`
	Amount                   decimal.Decimal `json:"amount"`
	Reference                string          `json:"reference"`
	Description              string          `json:"description"`
}

// Transfer 只能从自己的账户转出（管理员除外），目标账户不限
// POST /api/v1/transactions/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	if _, ok := h.ownedAccount(c, req.SourceAccountNumber); !ok {
		return
	}

	trans, err := h.engine.Transfer(c.Request.Context(), req.SourceAccountNumber, req.DestinationAccountNumber, req.Amount,
		ledger.Memo{Reference: req.Reference, Description: req.Description})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

// AmountRequest 存取款参数，JSON body 或 query（amount/reference/description）二选一
type AmountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

// Deposit POST /api/v1/transactions/deposit/:accountNumber
func (h *Handler) Deposit(c *gin.Context) {
	h.moveFunds(c, h.engine.Deposit)
}

// Withdraw POST /api/v1/transactions/withdraw/:accountNumber
func (h *Handler) Withdraw(c *gin.Context) {
	h.moveFunds(c, h.engine.Withdraw)
}

type singleAccountOp func(ctx context.Context, accountNumber string, amount decimal.Decimal, memo ledger.Memo) (*model.Transaction, error)

func (h *Handler) moveFunds(c *gin.Context, op singleAccountOp) {
	req, err := bindAmount(c)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	number := c.Param("accountNumber")
	if _, ok := h.ownedAccount(c, number); !ok {
		return
	}

	trans, err := op(c.Request.Context(), number, req.Amount, ledger.Memo{Reference: req.Reference, Description: req.Description})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

// ownedAccount 按账号查账户并校验归属，失败时已写好响应
func (h *Handler) ownedAccount(c *gin.Context, number string) (*model.Account, bool) {
	account, err := h.accounts.GetByNumber(c.Request.Context(), number)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if !actorFrom(c).CanAccess(account.UserID) {
		response.Forbidden(c, "account belongs to another user")
		return nil, false
	}
	return account, true
}

func bindAmount(c *gin.Context) (*AmountRequest, error) {
	var req AmountRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, errors.New("invalid request: " + err.Error())
		}
		return &req, nil
	}

	req.Reference = c.Query("reference")
	req.Description = c.Query("description")
	raw := c.Query("amount")
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, errors.New("invalid amount")
	}
	req.Amount = amount
	return &req, nil
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// fail 领域错误到 HTTP 状态码的映射
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		response.Error(c, http.StatusNotFound, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, ledger.ErrTransactionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, ledger.ErrSameAccount):
		response.Error(c, http.StatusBadRequest, response.CodeSameAccount, err.Error())
	case errors.Is(err, service.ErrInvalidAccountName), errors.Is(err, service.ErrInvalidAccountType):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidAccountRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		response.Error(c, http.StatusConflict, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, ledger.ErrStorageConflict):
		response.Error(c, http.StatusConflict, response.CodeStorageConflict, err.Error())
	case errors.Is(err, ledger.ErrLockNotAcquired):
		response.Error(c, http.StatusConflict, response.CodeAccountBusy, err.Error())
	case errors.Is(err, ledger.ErrNumberSpaceExhausted):
		h.logger.Error("account number space exhausted", zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, response.CodeNumberSpaceExhausted, err.Error())
	default:
		_ = c.Error(err)
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		response.ServerError(c, "internal server error")
	}
}
