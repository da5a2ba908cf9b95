// Package httpserver is the HTTP façade the marketplace application
// mounts in front of the ledger. It owns no money-movement logic; every
// handler maps a request onto one ledger or market call.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/quantbazaar/coinledger/internal/market"
	"github.com/quantbazaar/coinledger/pkg/coinledger"
	"go.uber.org/zap"
)

// Config carries the HTTP façade settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Run boots the HTTP façade using the supplied configuration.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, ledger *coinledger.Service, flows *market.Service) error {
	handler := &httpHandler{
		logger: logger,
		ledger: ledger,
		flows:  flows,
	}

	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coinledger api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/wallets/:user_id", handler.handleWallet)
	api.GET("/wallets/:user_id/history", handler.handleHistory)
	api.POST("/purchases", handler.handlePurchase)
	api.POST("/withdrawals", handler.handleWithdrawal)
	api.POST("/signup-bonus", handler.handleSignupBonus)
	api.GET("/admin/reconcile", handler.handleReconcile)

	return router
}

type httpHandler struct {
	logger *zap.Logger
	ledger *coinledger.Service
	flows  *market.Service
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := handler.bindUserID(ctx)
	if !ok {
		return
	}
	wallet, err := handler.ledger.GetWallet(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondLedgerError(ctx, "get wallet failed", err)
		return
	}
	ctx.JSON(http.StatusOK, walletResponse(wallet))
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	userID, ok := handler.bindUserID(ctx)
	if !ok {
		return
	}
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	entries, err := handler.ledger.GetTransactionHistory(ctx.Request.Context(), userID, limit)
	if err != nil {
		handler.respondLedgerError(ctx, "history failed", err)
		return
	}
	ctx.JSON(http.StatusOK, historyResponse(entries))
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	buyerUserID, err := coinledger.NewUserID(request.BuyerUserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user", "buyer_user_id is required"))
		return
	}
	sellerUserID, err := coinledger.NewUserID(request.SellerUserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user", "seller_user_id is required"))
		return
	}
	transaction, err := handler.flows.PurchaseContent(
		ctx.Request.Context(),
		buyerUserID,
		sellerUserID,
		request.ContentID,
		request.Price,
		coinledger.NewExternalRef(request.ExternalRef),
	)
	if err != nil {
		handler.respondLedgerError(ctx, "purchase failed", err)
		return
	}
	ctx.JSON(http.StatusOK, transactionResponse(transaction))
}

func (handler *httpHandler) handleWithdrawal(ctx *gin.Context) {
	var request withdrawalRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := coinledger.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user", "user_id is required"))
		return
	}
	transaction, err := handler.flows.Withdraw(ctx.Request.Context(), userID, request.Amount, coinledger.NewExternalRef(request.ExternalRef))
	if err != nil {
		if errors.Is(err, market.ErrBelowMinimumWithdrawal) {
			ctx.JSON(http.StatusBadRequest, errorResponse("below_minimum", err.Error()))
			return
		}
		handler.respondLedgerError(ctx, "withdrawal failed", err)
		return
	}
	ctx.JSON(http.StatusOK, transactionResponse(transaction))
}

func (handler *httpHandler) handleSignupBonus(ctx *gin.Context) {
	var request signupBonusRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := coinledger.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user", "user_id is required"))
		return
	}
	transaction, err := handler.flows.GrantSignupBonus(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondLedgerError(ctx, "signup bonus failed", err)
		return
	}
	ctx.JSON(http.StatusOK, transactionResponse(transaction))
}

func (handler *httpHandler) handleReconcile(ctx *gin.Context) {
	report, err := handler.ledger.ReconcileAllWallets(ctx.Request.Context())
	if err != nil {
		handler.respondLedgerError(ctx, "reconcile failed", err)
		return
	}
	ctx.JSON(http.StatusOK, reconcileResponse(report))
}

func (handler *httpHandler) bindUserID(ctx *gin.Context) (coinledger.UserID, bool) {
	userID, err := coinledger.NewUserID(ctx.Param("user_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user", "user_id is required"))
		return coinledger.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) respondLedgerError(ctx *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, coinledger.ErrInsufficientBalance):
		ctx.JSON(http.StatusConflict, errorResponse("insufficient_balance", "not enough coins"))
	case errors.Is(err, coinledger.ErrUnbalancedTransaction), errors.Is(err, coinledger.ErrEmptyPostings), errors.Is(err, coinledger.ErrInvalidPosting):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_postings", "transaction rejected"))
	case errors.Is(err, coinledger.ErrSerializationConflict):
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("conflict_retry", "temporary conflict, retry the request"))
	case errors.Is(err, coinledger.ErrUnsupportedOperation):
		ctx.JSON(http.StatusNotImplemented, errorResponse("unsupported", "ledger disabled in demo mode"))
	default:
		handler.logger.Error(message, zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", message))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": code, "message": message}
}
