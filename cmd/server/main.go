// Package main runs the workspace tenancy HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ledgerly/backend/config"
	"github.com/ledgerly/backend/internal/access"
	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/mailer"
	"github.com/ledgerly/backend/internal/middleware"
	"github.com/ledgerly/backend/internal/organizations"
	"github.com/ledgerly/backend/internal/tenant"
	"github.com/ledgerly/backend/internal/workspaces"
	"github.com/ledgerly/backend/pkg/database"
	"github.com/ledgerly/backend/pkg/queue"
	"github.com/ledgerly/backend/pkg/redis"
	"github.com/ledgerly/backend/pkg/response"
	"github.com/ledgerly/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, cfg.Database.DSN()); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	custom, err := access.ParseStatements(cfg.Workspace.CustomRoles)
	if err != nil {
		logger.Fatal("workspace roles", zap.Error(err))
	}
	roles := access.NewTable(custom)
	if !roles.Valid(cfg.Workspace.CreatorRole) {
		logger.Fatal("workspace creator role is not defined", zap.String("role", cfg.Workspace.CreatorRole))
	}

	// Logo uploads are refused when no bucket is configured.
	var logos workspaces.LogoStore
	if cfg.AWS.LogoBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			LogoBucket:      cfg.AWS.LogoBucket,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			logos = s3Client
		}
	}

	// Invitations are refused when email is not configured.
	var rdb *redis.Client
	var invitationMailer mailer.Mailer
	if cfg.Email.Enabled() {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		jobQueue := queue.NewQueue(rdb.Client, logger)
		invitationMailer = mailer.NewQueueMailer(jobQueue, cfg.Email.InviteBaseURL, logger)
	} else {
		logger.Warn("email not configured; invitations disabled")
	}

	repo := tenant.NewRepository(pool)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	refresher := auth.NewRefresher(jwtService, cfg.JWT.CookieName, cfg.Server.Production)
	authHandler := auth.NewHandler(auth.NewIssuer(repo, jwtService), repo, refresher, logger)

	gate := workspaces.NewGate(roles, cfg.Workspace.CreatorRole)
	binder := workspaces.NewBinder(repo, logger)
	workspaceSvc := workspaces.NewService(repo, gate, binder, logos, workspaces.Options{
		AllowUserToCreateWorkspace: cfg.Workspace.AllowUserToCreateWorkspace,
		MaxLogoBytes:               cfg.AWS.MaxLogoBytes,
	}, logger)
	workspaceHandler := workspaces.NewHandler(workspaceSvc, binder, refresher, logger)

	orgOpts := organizations.Options{
		ExpiresIn:               cfg.Workspace.InvitationExpiresIn,
		InvitationLimit:         cfg.Workspace.InvitationLimit,
		MembershipLimit:         cfg.Workspace.MembershipLimit,
		CancelPendingOnReInvite: cfg.Workspace.CancelPendingInvitationsOnReInvite,
	}
	invitationSvc := organizations.NewInvitationService(repo, gate, binder, invitationMailer, orgOpts, logger)
	memberSvc := organizations.NewMemberService(repo, gate, binder, orgOpts, logger)
	orgHandler := organizations.NewHandler(invitationSvc, memberSvc, refresher, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Error: "database unavailable"})
			return
		}
		if rdb != nil {
			if err := rdb.Check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Error: "redis unavailable"})
				return
			}
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Server-only routes (X-Server-Key)
	server := router.Group("")
	server.Use(middleware.RequireServerKey(cfg.Server.AdminAPIKey))
	{
		server.POST("/auth/sessions", authHandler.IssueSession)
		server.POST("/organization/add-member", orgHandler.AddMember)
	}

	// Session-authenticated API
	api := router.Group("")
	api.Use(middleware.Session(jwtService, repo, cfg.JWT.CookieName))
	{
		api.GET("/auth/session", authHandler.Session)

		ws := api.Group("/workspace")
		ws.POST("/create", workspaceHandler.Create)
		ws.POST("/update", workspaceHandler.Update)
		ws.POST("/delete", workspaceHandler.Delete)
		ws.GET("/get-full-workspace", workspaceHandler.GetFull)
		ws.GET("/list", workspaceHandler.List)
		ws.POST("/set-active", workspaceHandler.SetActive)
		ws.POST("/check-slug", workspaceHandler.CheckSlug)
		ws.POST("/upload-logo", workspaceHandler.UploadLogo)

		org := api.Group("/organization")
		org.POST("/invite-member", orgHandler.InviteMember)
		org.POST("/accept-invitation", orgHandler.AcceptInvitation)
		org.POST("/reject-invitation", orgHandler.RejectInvitation)
		org.POST("/cancel-invitation", orgHandler.CancelInvitation)
		org.GET("/get-invitation", orgHandler.GetInvitation)
		org.GET("/list-invitations", orgHandler.ListInvitations)
		org.GET("/list-user-invitations", orgHandler.ListUserInvitations)
		org.POST("/remove-member", orgHandler.RemoveMember)
		org.POST("/leave", orgHandler.Leave)
		org.POST("/update-member-role", orgHandler.UpdateMemberRole)
		org.GET("/get-active-member", orgHandler.GetActiveMember)
		org.GET("/list-members", orgHandler.ListMembers)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
