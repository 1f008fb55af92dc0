package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"game-rewards/internal/eligibility"
	"game-rewards/internal/issuer"
	"game-rewards/internal/model"
	"game-rewards/internal/repository"
	"game-rewards/internal/service"
	"game-rewards/internal/webhook"
	"game-rewards/pkg/config"
	"game-rewards/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Connect to MongoDB
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoDB, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer func() {
		if err := mongoDB.Disconnect(context.Background()); err != nil {
			logrus.WithError(err).Error("Error disconnecting from MongoDB")
		}
	}()

	logrus.Info("Connected to MongoDB successfully")

	// Initialize repositories
	configRepo := repository.NewConfigRepository(mongoDB.Database)
	sessionRepo := repository.NewSessionRepository(mongoDB.Database)
	counterRepo := repository.NewCounterRepository(mongoDB.Database)
	codeRepo := repository.NewCodeRepository(mongoDB.Database)

	// Initialize services (atomicity comes from conditional writes and unique
	// indexes, not multi-document transactions)
	commerceClient := issuer.NewAdminAPIClient(cfg.CommerceAPIVersion, cfg.CommerceTimeout)
	discountIssuer := issuer.NewDiscountIssuer(codeRepo, configRepo, commerceClient, cfg.IssuerMaxRetries)
	playSvc := service.NewPlayService(configRepo, sessionRepo, counterRepo, discountIssuer)
	orderIntake := webhook.NewOrderIntake(codeRepo)

	// Sweep abandoned Pending sessions to Expired in the background
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepStaleSessions(sweepCtx, sessionRepo, cfg.SessionTTL, cfg.SweepInterval)

	// Setup Gin router
	router := setupRouter(playSvc, configRepo, codeRepo, orderIntake, cfg.WebhookSecret)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("port", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}

// sweepStaleSessions periodically marks abandoned Pending sessions Expired.
// Advisory bookkeeping only; whether a late finish is still honored is a
// per-shop policy.
func sweepStaleSessions(ctx context.Context, sessions repository.SessionRepository, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.ExpireStale(ctx, time.Now().Add(-ttl))
			if err != nil {
				logrus.WithError(err).Error("Session sweep failed")
				continue
			}
			if n > 0 {
				logrus.WithField("expired", n).Info("Session sweep marked stale sessions")
			}
		}
	}
}

func setupRouter(svc *service.PlayService, configRepo repository.ConfigRepository, codeRepo repository.CodeRepository, intake *webhook.OrderIntake, webhookSecret string) *gin.Engine {
	// Set Gin mode
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		api.POST("/eligibility/check", checkEligibilityHandler(configRepo))
		api.POST("/sessions/start", startSessionHandler(svc))
		api.POST("/sessions/finish", finishSessionHandler(svc))
		api.GET("/codes/:code", getCodeDetailsHandler(codeRepo))
	}

	router.POST("/webhooks/orders", orderWebhookHandler(intake, webhookSecret))

	return router
}

// eligibilityRequest is the storefront's pre-flight check. Purely advisory:
// the play caps and enabled flag are enforced again on start.
type eligibilityRequest struct {
	ShopDomain string `json:"shop_domain" binding:"required"`
	VisitorID  string `json:"visitor_id" binding:"required"`
	CustomerID string `json:"customer_id"`
	PageType   string `json:"page_type"`
	PageURL    string `json:"page_url"`
	Device     string `json:"device"`
}

// checkEligibilityHandler handles POST /api/eligibility/check
func checkEligibilityHandler(configRepo repository.ConfigRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req eligibilityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		cfg, err := configRepo.GetShopConfig(c.Request.Context(), req.ShopDomain)
		if err != nil {
			// Fail closed: unknown shop means no offer.
			c.JSON(http.StatusOK, gin.H{"offer": false})
			return
		}

		offer := eligibility.ShouldOffer(cfg, &model.VisitorContext{
			ShopDomain: req.ShopDomain,
			VisitorID:  req.VisitorID,
			CustomerID: req.CustomerID,
			PageType:   req.PageType,
			PageURL:    req.PageURL,
			Device:     req.Device,
		})
		c.JSON(http.StatusOK, gin.H{"offer": offer})
	}
}

// startSessionHandler handles POST /api/sessions/start
func startSessionHandler(svc *service.PlayService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.StartSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		session, remaining, err := svc.Start(c.Request.Context(), &req)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrShopDisabled):
				c.JSON(http.StatusForbidden, gin.H{"error": "game is not available for this shop"})
			case errors.Is(err, service.ErrRateLimited):
				logrus.WithFields(logrus.Fields{
					"shop_domain": req.ShopDomain,
				}).Info("Start: no plays remaining")
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "no plays remaining"})
			default:
				logrus.WithError(err).Error("Start: failed to start session")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
			}
			return
		}

		c.JSON(http.StatusCreated, model.StartSessionResponse{
			SessionID:      session.SessionID,
			CanPlay:        true,
			PlaysRemaining: remaining,
		})
	}
}

// finishSessionHandler handles POST /api/sessions/finish
func finishSessionHandler(svc *service.PlayService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.FinishSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		outcome, err := svc.Finish(c.Request.Context(), &req)
		if err != nil {
			log := logrus.WithFields(logrus.Fields{
				"session_id": req.SessionID,
			})
			switch {
			case errors.Is(err, service.ErrSessionNotFound):
				log.Warn("Finish: session not found")
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			case errors.Is(err, service.ErrSessionExpired):
				log.Warn("Finish: session can no longer be completed")
				c.JSON(http.StatusGone, gin.H{"error": "session can no longer be completed"})
			case errors.Is(err, service.ErrInvalidScore):
				log.Warn("Finish: invalid score")
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid score"})
			default:
				log.WithError(err).Error("Finish: failed to finish session")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to finish session"})
			}
			return
		}

		c.JSON(http.StatusOK, outcome)
	}
}

// getCodeDetailsHandler handles GET /api/codes/:code
func getCodeDetailsHandler(codeRepo repository.CodeRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("code")
		shopDomain := c.Query("shop")
		if code == "" || shopDomain == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code and shop are required"})
			return
		}

		dc, err := codeRepo.GetByCode(c.Request.Context(), shopDomain, code)
		if err != nil {
			if errors.Is(err, repository.ErrCodeNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "discount code not found"})
				return
			}
			logrus.WithError(err).Error("GetCode: failed to get discount code")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get discount code"})
			return
		}

		c.JSON(http.StatusOK, model.CodeDetailsResponse{
			Code:      dc.Code,
			Percent:   dc.Percent,
			Usable:    dc.Usable(time.Now()),
			IsUsed:    dc.IsUsed,
			UsedAt:    dc.UsedAt,
			ExpiresAt: dc.ExpiresAt,
		})
	}
}

// orderWebhookHandler handles POST /webhooks/orders
func orderWebhookHandler(intake *webhook.OrderIntake, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		signature := c.GetHeader("X-Webhook-Hmac-Sha256")
		if !webhook.VerifySignature(secret, body, signature) {
			logrus.Warn("Webhook: signature verification failed")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		var payload model.OrderWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		marked, err := intake.HandleOrderCompleted(c.Request.Context(), &payload)
		if err != nil {
			logrus.WithError(err).Error("Webhook: failed to process order")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process order"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"codes_marked_used": marked})
	}
}
