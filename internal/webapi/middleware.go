package webapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/influelab/riskgate/internal/identity"
	"github.com/influelab/riskgate/pkg/ledger"
)

const (
	contextKeyUserID    = "auth_user_id"
	contextKeySessionID = "session_id"
	bearerPrefix        = "Bearer "
)

// identityMiddleware resolves the caller: a valid bearer token yields a user
// id, and every request gets a cookie-backed anonymous session seeded with
// the free credit allowance.
func (server *Server) identityMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authorization := ctx.GetHeader("Authorization")
		if strings.HasPrefix(authorization, bearerPrefix) {
			userID, err := server.tokens.Parse(strings.TrimPrefix(authorization, bearerPrefix))
			if err != nil {
				// An unverifiable token is an absent identity, not a
				// rejection; the session balance still funds the request.
				server.logger.Warn("bearer token rejected", zap.Error(err))
			} else {
				ctx.Set(contextKeyUserID, userID)
			}
		}

		sessionValue, err := ctx.Cookie(server.cfg.SessionCookieName)
		if err != nil || strings.TrimSpace(sessionValue) == "" {
			sessionValue = uuid.NewString()
			ctx.SetCookie(
				server.cfg.SessionCookieName,
				sessionValue,
				int(server.cfg.SessionCookieMaxAge.Seconds()),
				"/",
				"",
				server.cfg.CookieSecure,
				true,
			)
		}

		sessionID, err := ledger.NewSessionID(sessionValue)
		if err == nil {
			record := ledger.SessionRecord{
				SessionID:     sessionID,
				IPHash:        identity.HashFingerprint(ctx.ClientIP()),
				UserAgentHash: identity.HashFingerprint(ctx.Request.UserAgent()),
				TempCredits:   server.cfg.FreeCredits,
			}
			if ensureErr := server.credits.EnsureSession(ctx.Request.Context(), record); ensureErr != nil {
				server.logger.Warn("session ensure failed",
					zap.String("session_id", sessionID.String()),
					zap.Error(ensureErr),
				)
			} else {
				ctx.Set(contextKeySessionID, sessionID.String())
			}
		}

		ctx.Next()
	}
}

// rateLimitMiddleware budgets requests per client address.
func (server *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !server.limiter.Allow(ctx.ClientIP()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse("rate_limited", "too many requests, slow down"))
			return
		}
		ctx.Next()
	}
}

func requestUserID(ctx *gin.Context) *ledger.UserID {
	value, ok := ctx.Get(contextKeyUserID)
	if !ok {
		return nil
	}
	raw, ok := value.(int64)
	if !ok {
		return nil
	}
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		return nil
	}
	return &userID
}

func requestSessionID(ctx *gin.Context) *ledger.SessionID {
	value, ok := ctx.Get(contextKeySessionID)
	if !ok {
		return nil
	}
	raw, ok := value.(string)
	if !ok {
		return nil
	}
	sessionID, err := ledger.NewSessionID(raw)
	if err != nil {
		return nil
	}
	return &sessionID
}
