package webapi

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/influelab/riskgate/internal/accounts"
	"github.com/influelab/riskgate/internal/aigateway"
	"github.com/influelab/riskgate/internal/payments"
	"github.com/influelab/riskgate/pkg/ledger"
)

const signatureHeader = "X-Webhook-Signature"

var allowedPhotoExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

type analyzeTextRequest struct {
	Text string `json:"text"`
}

type purchaseRequest struct {
	Package int64 `json:"package"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (server *Server) handleAnalyzePhoto(ctx *gin.Context) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		fileHeader, err = ctx.FormFile("photo")
	}
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_file", "expected a multipart file field"))
		return
	}

	extension := strings.ToLower(filepath.Ext(fileHeader.Filename))
	mimeType, allowed := allowedPhotoExtensions[extension]
	if !allowed {
		ctx.JSON(http.StatusBadRequest, errorResponse("unsupported_file_type", "only .jpg, .jpeg and .png are accepted"))
		return
	}
	if fileHeader.Size > server.cfg.MaxUploadBytes {
		ctx.JSON(http.StatusRequestEntityTooLarge, errorResponse("file_too_large", "upload exceeds the size limit"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("unreadable_file", "could not read the upload"))
		return
	}
	defer file.Close()
	imageData, err := io.ReadAll(io.LimitReader(file, server.cfg.MaxUploadBytes+1))
	if err != nil || int64(len(imageData)) > server.cfg.MaxUploadBytes {
		ctx.JSON(http.StatusRequestEntityTooLarge, errorResponse("file_too_large", "upload exceeds the size limit"))
		return
	}

	instruction := ctx.PostForm("instruction")
	if instruction == "" {
		instruction = ctx.PostForm("intention")
	}

	server.runAnalysis(ctx, accounts.AnalysisKindPhoto, func() (aigateway.Result, error) {
		return server.analyzer.AnalyzeImage(ctx.Request.Context(), imageData, mimeType, instruction)
	})
}

func (server *Server) handleAnalyzeText(ctx *gin.Context) {
	var request analyzeTextRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	text := strings.TrimSpace(request.Text)
	if text == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("empty_text", "text must not be empty"))
		return
	}

	server.runAnalysis(ctx, accounts.AnalysisKindText, func() (aigateway.Result, error) {
		return server.analyzer.AnalyzeText(ctx.Request.Context(), text)
	})
}

// runAnalysis spends one credit and invokes the gateway. The credit is
// consumed before the call and is not refunded when the gateway fails.
func (server *Server) runAnalysis(ctx *gin.Context, kind accounts.AnalysisKind, analyze func() (aigateway.Result, error)) {
	userID := requestUserID(ctx)
	sessionID := requestSessionID(ctx)

	funding, err := server.credits.Consume(ctx.Request.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			ctx.JSON(http.StatusPaymentRequired, errorResponse("insufficient_credit", "no credits left; purchase a package or register"))
			return
		}
		server.logger.Error("credit consumption failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "credit check failed"))
		return
	}

	result, err := analyze()
	if err != nil {
		server.logger.Error("analysis gateway failed", zap.String("kind", string(kind)), zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("gateway_failure", "analysis service unavailable, credit was spent"))
		return
	}

	record := accounts.AnalysisRecord{
		Kind:            kind,
		Summary:         result.Summary,
		RiskScore:       result.RiskScore,
		Tags:            result.Tags,
		Recommendations: result.Recommendations,
		FundedBy:        string(funding),
	}
	if userID != nil {
		raw := userID.Int64()
		record.UserID = &raw
	}
	if sessionID != nil {
		raw := sessionID.String()
		record.SessionID = &raw
	}
	if _, recordErr := server.accounts.RecordAnalysis(ctx.Request.Context(), record); recordErr != nil {
		server.logger.Error("analysis record failed", zap.Error(recordErr))
	}

	ctx.JSON(http.StatusOK, gin.H{
		"summary":         result.Summary,
		"score_risk":      result.RiskScore,
		"tags":            result.Tags,
		"recommendations": result.Recommendations,
		"funded_by":       string(funding),
	})
}

func (server *Server) handlePurchase(ctx *gin.Context) {
	userID := requestUserID(ctx)
	if userID == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "purchase requires a registered account"))
		return
	}
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	checkout, err := server.reconciler.StartCheckout(ctx.Request.Context(), *userID, request.Package)
	if err != nil {
		if errors.Is(err, payments.ErrUnknownPackage) {
			ctx.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":     "unknown_package",
					"message":  "package is not for sale",
					"packages": server.prices.Packages(),
				},
			})
			return
		}
		server.logger.Error("checkout failed", zap.Int64("package", request.Package), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "checkout failed"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"purchase_id":  checkout.PurchaseID,
		"provider_ref": checkout.ProviderRef,
		"redirect_url": checkout.RedirectURL,
		"status":       string(checkout.Status),
		"package":      request.Package,
	})
}

func (server *Server) handlePaymentWebhook(ctx *gin.Context) {
	rawBody, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("unreadable_body", "could not read callback body"))
		return
	}

	result, err := server.reconciler.HandleWebhook(ctx.Request.Context(), rawBody, ctx.GetHeader(signatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_signature", "signature verification failed"))
			return
		}
		server.logger.Error("webhook processing failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("webhook_failed", "callback could not be applied"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"outcome":         string(result.Outcome),
		"credits_granted": result.CreditsGranted,
	})
}

func (server *Server) handleCreditsStatus(ctx *gin.Context) {
	view, err := server.credits.Balances(ctx.Request.Context(), requestUserID(ctx), requestSessionID(ctx))
	if err != nil {
		server.logger.Error("balance read failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "balance unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_credits":    view.UserCredits,
		"session_credits": view.SessionCredits,
	})
}

func (server *Server) handleLoginGate(ctx *gin.Context) {
	view, err := server.credits.Balances(ctx.Request.Context(), requestUserID(ctx), requestSessionID(ctx))
	if err != nil {
		server.logger.Error("balance read failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "balance unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"require_login": !view.HasAnyCredit()})
}

func (server *Server) handleRegister(ctx *gin.Context) {
	var request credentialsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	user, migrated, err := server.accounts.Register(ctx.Request.Context(), request.Email, request.Password, requestSessionID(ctx))
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrEmailTaken):
			ctx.JSON(http.StatusConflict, errorResponse("email_taken", "email already registered"))
		case errors.Is(err, accounts.ErrInvalidEmail):
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_email", "email address is not usable"))
		case errors.Is(err, accounts.ErrWeakPassword):
			ctx.JSON(http.StatusBadRequest, errorResponse("weak_password", "password is too short"))
		default:
			server.logger.Error("registration failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "registration failed"))
		}
		return
	}

	token, err := server.tokens.Issue(user.ID)
	if err != nil {
		server.logger.Error("token issue failed", zap.Int64("user_id", user.ID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "token issue failed"))
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"token":            token,
		"user":             userPayload(user),
		"migrated_credits": migrated,
	})
}

func (server *Server) handleLogin(ctx *gin.Context) {
	var request credentialsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	user, err := server.accounts.Authenticate(ctx.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, accounts.ErrBadCredentials) {
			ctx.JSON(http.StatusUnauthorized, errorResponse("bad_credentials", "email or password is wrong"))
			return
		}
		server.logger.Error("login failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "login failed"))
		return
	}

	// Leftover anonymous credits follow the account on login as well.
	if sessionID := requestSessionID(ctx); sessionID != nil {
		if userID, idErr := ledger.NewUserID(user.ID); idErr == nil {
			moved, migrateErr := server.credits.Migrate(ctx.Request.Context(), *sessionID, userID)
			if migrateErr != nil {
				server.logger.Warn("session migration failed during login",
					zap.Int64("user_id", user.ID), zap.Error(migrateErr))
			} else {
				user.Credits += moved
			}
		}
	}

	token, err := server.tokens.Issue(user.ID)
	if err != nil {
		server.logger.Error("token issue failed", zap.Int64("user_id", user.ID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "token issue failed"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  userPayload(user),
	})
}

func (server *Server) handleProfile(ctx *gin.Context) {
	userID := requestUserID(ctx)
	if userID == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "profile requires a registered account"))
		return
	}

	user, err := server.accounts.Profile(ctx.Request.Context(), userID.Int64())
	if err != nil {
		if errors.Is(err, accounts.ErrUnknownAccount) {
			ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "account no longer exists"))
			return
		}
		server.logger.Error("profile read failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "profile unavailable"))
		return
	}

	history, err := server.accounts.History(ctx.Request.Context(), user.ID, server.cfg.HistoryLimit)
	if err != nil {
		server.logger.Error("history read failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "history unavailable"))
		return
	}

	analyses := make([]gin.H, 0, len(history))
	for _, record := range history {
		analyses = append(analyses, gin.H{
			"id":         record.ID,
			"kind":       string(record.Kind),
			"summary":    record.Summary,
			"score_risk": record.RiskScore,
			"tags":       record.Tags,
			"created_at": record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	ctx.JSON(http.StatusOK, gin.H{
		"user":     userPayload(user),
		"analyses": analyses,
	})
}

func userPayload(user accounts.User) gin.H {
	return gin.H{
		"id":      user.ID,
		"email":   user.Email,
		"credits": user.Credits,
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
