package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/peyk/internal/auth"
	"github.com/4xmen/peyk/internal/blob"
	"github.com/4xmen/peyk/internal/db"
	"github.com/4xmen/peyk/internal/handlers"
	"github.com/4xmen/peyk/internal/models"
	"github.com/4xmen/peyk/internal/push"
	"github.com/4xmen/peyk/internal/scan"
	"github.com/4xmen/peyk/internal/sse"
	"github.com/4xmen/peyk/internal/store"
	"github.com/4xmen/peyk/pkg/config"
)

func rateLimitMiddleware(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiterContext, err := limiterInstance.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": __("rate limiter error")})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))

		if limiterContext.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": __("rate limit exceeded")})
			c.Abort()
			return
		}

		c.Next()
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func serverErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		blw := &responseBodyWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Printf(
				"HTTP %d %s %s ip=%s duration=%s errors=%q response=%q",
				c.Writer.Status(),
				c.Request.Method,
				c.Request.URL.Path,
				c.ClientIP(),
				time.Since(start).Truncate(time.Millisecond),
				c.Errors.ByType(gin.ErrorTypeAny).String(),
				strings.TrimSpace(blw.body.String()),
			)
		}
	}
}

func panicRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Printf(
			"panic recovered method=%s path=%s ip=%s error=%v\n%s",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			recovered,
			debug.Stack(),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": __("internal server error")})
	})
}

// liveNotifier routes delivery events: live connections get a stream event
// and the message is stamped delivered; offline recipients fall back to
// Web Push when it is configured.
type liveNotifier struct {
	registry *sse.Registry
	store    *store.Store
	push     *push.Notifier
}

func (n *liveNotifier) NotifyMessage(recipientID int64, msg *models.Message) {
	if n.registry.IsUserOnline(recipientID) {
		n.registry.SendToUser(recipientID, sse.Event{
			Type: sse.EventNotification,
			Payload: sse.NotificationPayload{
				Title:    msg.SenderName,
				Body:     msg.Content,
				Category: string(msg.Category),
				Priority: string(msg.Priority),
			},
		})
		if err := n.store.MarkDelivered(context.Background(), msg.ID); err != nil {
			log.Printf("failed to mark message %d delivered: %v", msg.ID, err)
		}
		return
	}
	if n.push != nil {
		n.push.SendNewMessageNotification(recipientID, msg.SenderName)
	}
}

func (n *liveNotifier) NotifyBroadcast(recipientID int64, b *models.Broadcast) {
	if n.registry.IsUserOnline(recipientID) {
		n.registry.SendToUser(recipientID, sse.Event{
			Type: sse.EventNotification,
			Payload: sse.NotificationPayload{
				Title:    b.SenderName,
				Body:     b.Content,
				Category: string(b.Category),
				Priority: string(b.Priority),
			},
		})
		return
	}
	if n.push != nil {
		n.push.SendBroadcastNotification(recipientID, b.SenderName)
	}
}

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  peyk           Start the messaging server")
	fmt.Fprintln(out, "  peyk status    Show application statistics")
	fmt.Fprintln(out, "  peyk status --json")
}

func runServer(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.MkdirAll(cfg.FileStoragePath, 0755)

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	authSvc := auth.New(database.GetConn(), cfg.JWTSecret)

	var blobs blob.Store
	if cfg.S3Bucket != "" {
		s3Store, err := blob.NewS3Store(ctx, cfg.S3Bucket, cfg.AWSRegion)
		if err != nil {
			return fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		blobs = s3Store
		log.Printf("using S3 storage bucket %s", cfg.S3Bucket)
	} else {
		blobs = blob.NewDiskStore(cfg.FileStoragePath)
		log.Printf("using disk storage at %s", cfg.FileStoragePath)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable, presence mirror disabled: %v", err)
			rdb = nil
		}
	}

	registry := sse.NewRegistry(rdb)
	go registry.Run(ctx)

	st := store.New(database.GetConn(), blobs, scan.NewKeywordScanner(), nil)
	notifier := push.NewNotifier(database.GetConn(), cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	st.SetNotifier(&liveNotifier{registry: registry, store: st, push: notifier})

	go st.RunScheduler(ctx, time.Minute)

	sseHandler := sse.NewHandler(registry, func(who models.Identity) (int64, error) {
		if who.Kind != models.KindStudent {
			return 0, nil
		}
		return st.StudentClass(ctx, who.ID)
	})

	authHandler := handlers.NewAuthHandler(authSvc)
	convHandler := handlers.NewConversationHandler(st)
	msgHandler := handlers.NewMessageHandler(st)
	broadcastHandler := handlers.NewBroadcastHandler(st)
	scheduledHandler := handlers.NewScheduledHandler(st)
	pushHandler := handlers.NewPushHandler(st, notifier)
	userHandler := handlers.NewUserHandler(st)
	eventHandler := handlers.NewEventHandler(registry)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger())
	router.Use(gin.Logger())
	router.Use(panicRecovery())
	router.MaxMultipartMemory = cfg.MaxUploadSize

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigins)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := router.Group("/api")
	{
		loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
		registerLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})

		api.POST("/auth/register", rateLimitMiddleware(registerLimiter), authHandler.Register)
		api.POST("/auth/login", rateLimitMiddleware(loginLimiter), authHandler.Login)
	}

	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		protected.GET("/me", authHandler.Me)

		// Users
		protected.GET("/users", userHandler.List)
		protected.GET("/users/:id", userHandler.Get)

		// Conversations
		protected.GET("/conversations", convHandler.List)
		protected.POST("/conversations", convHandler.Create)
		protected.GET("/conversations/:id", convHandler.Get)
		protected.PUT("/conversations/:id/pin", convHandler.Pin)
		protected.PUT("/conversations/:id/star", convHandler.Star)
		protected.PUT("/conversations/:id/archive", convHandler.Archive)
		protected.PUT("/conversations/:id/resolve", convHandler.Resolve)
		protected.PUT("/conversations/:id/mute", convHandler.Mute)
		protected.PUT("/conversations/:id/read", convHandler.MarkRead)
		protected.PUT("/conversations/:id/unread", convHandler.MarkUnread)
		protected.GET("/conversations/:id/messages", msgHandler.List)

		// Messages
		protected.POST("/messages", msgHandler.Send)
		protected.DELETE("/messages/:id", msgHandler.Delete)
		protected.GET("/messages/search", msgHandler.Search)
		protected.PUT("/messages/:id/pin", msgHandler.Pin)
		protected.DELETE("/messages/:id/pin", msgHandler.Unpin)
		protected.POST("/messages/:id/reactions", msgHandler.React)
		protected.DELETE("/messages/:id/reactions", msgHandler.Unreact)
		protected.POST("/messages/:id/forward", msgHandler.Forward)
		protected.POST("/messages/:id/attachments", msgHandler.UploadAttachment)
		protected.GET("/attachments/:id", msgHandler.DownloadAttachment)

		// Broadcasts
		protected.POST("/broadcasts", broadcastHandler.Send)
		protected.GET("/broadcasts", broadcastHandler.History)
		protected.GET("/broadcasts/:id", broadcastHandler.Get)
		protected.POST("/broadcasts/:id/retry", broadcastHandler.Retry)

		// Scheduled messages
		protected.POST("/scheduled", scheduledHandler.Create)
		protected.GET("/scheduled", scheduledHandler.List)
		protected.DELETE("/scheduled/:id", scheduledHandler.Cancel)

		// Live event publishing
		protected.POST("/events/attendance", eventHandler.PublishAttendance)
		protected.POST("/events/metrics", eventHandler.PublishMetrics)

		// Web Push
		protected.GET("/push/key", pushHandler.VAPIDKey)
		protected.POST("/push/subscribe", pushHandler.Subscribe)
		protected.POST("/push/unsubscribe", pushHandler.Unsubscribe)
	}

	// Live event stream
	router.GET("/events", authHandler.AuthMiddleware(), sseHandler.Stream)

	// Serve uploaded files from configured storage path
	router.Static("/api/files", cfg.FileStoragePath)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "connections": registry.Count()})
	})

	addr := fmt.Sprintf("0.0.0.0:%s", cfg.Port)
	log.Printf("Starting server on %s", addr)

	srv := &http.Server{Addr: addr, Handler: router}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigint
		log.Println("Shutting down gracefully...")
		cancel()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
