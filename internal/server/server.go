package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"collab-notes-backend/internal/ai"
	"collab-notes-backend/internal/auth"
	"collab-notes-backend/internal/config"
	"collab-notes-backend/internal/files"
	"collab-notes-backend/internal/handler"
	"collab-notes-backend/internal/note"
	"collab-notes-backend/internal/presence"
	"collab-notes-backend/internal/session"
	"collab-notes-backend/internal/storage"
	"collab-notes-backend/internal/store"
)

// Server Fiber 서버 래퍼
type Server struct {
	app              *fiber.App
	cfg              *config.Config
	jwtManager       *auth.JWTManager
	authHandler      *handler.AuthHandler
	meetingHandler   *handler.MeetingHandler
	tagHandler       *handler.TagHandler
	taskHandler      *handler.TaskHandler
	fileHandler      *handler.FileHandler
	meetingWSHandler *handler.MeetingWSHandler
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Collab Notes Backend",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       int(cfg.Sync.MaxFileSize) + 1024*1024,
	})

	clk := clock.New()
	dataStore := store.NewGormStore(db, rdb)

	// Auth 초기화
	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	var googleAuth *auth.GoogleAuthenticator
	if cfg.Auth.GoogleClientID != "" {
		googleAuth = auth.NewGoogleAuthenticator(cfg.Auth.GoogleClientID)
	}
	sessions := session.NewManager(dataStore, jwtManager, googleAuth)

	// 동기화 코어
	tracker := presence.NewTracker(dataStore, clk, cfg.Sync.PresenceWindow)
	coalescer := note.NewCoalescer(dataStore, clk, cfg.Sync.EditSessionWindow)

	// AI 요약 클라이언트
	aiClient := ai.NewClient(cfg.AI.BaseURL, cfg.AI.FunctionName, cfg.AI.Timeout, cfg.AI.Enabled)

	// S3 서비스 초기화 (선택적)
	var s3Service *storage.S3Service
	var fileService *files.Service
	if cfg.S3.BucketName != "" {
		var err error
		s3Service, err = storage.NewS3Service(&cfg.S3)
		if err != nil {
			log.Printf("⚠️ S3 service initialization failed: %v (file upload will be disabled)", err)
		} else {
			fileService = files.NewService(dataStore, s3Service, storage.ObjectKey,
				cfg.Sync.MaxFileSize, cfg.Sync.MaxFilesPerRoom)
			log.Printf("✅ S3 service initialized (bucket: %s)", cfg.S3.BucketName)
		}
	} else {
		log.Println("ℹ️ S3 service not configured (file upload will be disabled)")
	}

	return &Server{
		app:            app,
		cfg:            cfg,
		jwtManager:     jwtManager,
		authHandler:    handler.NewAuthHandler(sessions, tracker, cfg.Auth.SecureCookie),
		meetingHandler: handler.NewMeetingHandler(dataStore, aiClient, coalescer, cfg.Sync.ActivityFeedLimit),
		tagHandler:     handler.NewTagHandler(dataStore),
		taskHandler:    handler.NewTaskHandler(dataStore),
		fileHandler:    handler.NewFileHandler(fileService, s3Service),
		meetingWSHandler: handler.NewMeetingWSHandler(dataStore, clk, tracker, coalescer,
			cfg.Sync, cfg.WebSocket),
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Rate Limiter 설정 (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/register", authLimiter, s.authHandler.Register)
	authGroup.Post("/login", authLimiter, s.authHandler.Login)
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/anonymous", authLimiter, s.authHandler.Anonymous)
	authGroup.Get("/session", s.authHandler.Restore)
	authGroup.Post("/logout", s.authHandler.Logout)

	// Meeting 라우트 그룹 (인증 필요, 게스트 포함)
	meetings := s.app.Group("/api/meetings", auth.Middleware(s.jwtManager))
	meetings.Get("/", s.meetingHandler.ListMeetings)
	meetings.Post("/", auth.RegisteredOnly(), s.meetingHandler.CreateMeeting)
	meetings.Get("/:id", s.meetingHandler.GetMeeting)
	meetings.Get("/:id/note", s.meetingHandler.GetNote)
	meetings.Put("/:id/note", s.meetingHandler.UpdateNote)
	meetings.Get("/:id/activities", s.meetingHandler.GetActivities)
	meetings.Post("/:id/summary", s.meetingHandler.GenerateSummary)

	// Tag 라우트
	meetings.Get("/:id/tags", s.tagHandler.ListTags)
	meetings.Post("/:id/tags", s.tagHandler.CreateTag)

	// Task 라우트
	meetings.Get("/:id/tasks", s.taskHandler.ListTasks)
	meetings.Post("/:id/tasks", s.taskHandler.CreateTask)
	meetings.Put("/:id/tasks/:taskId/status", s.taskHandler.UpdateTaskStatus)
	meetings.Delete("/:id/tasks/:taskId", s.taskHandler.DeleteTask)

	// File 라우트
	meetings.Get("/:id/files", s.fileHandler.ListFiles)
	meetings.Post("/:id/files", s.fileHandler.UploadFile)
	meetings.Delete("/:id/files/:fileId", s.fileHandler.DeleteFile)
	meetings.Post("/:id/files/presign", s.fileHandler.GetPresignedURL)
	meetings.Get("/:id/files/download", s.fileHandler.GetDownloadURL)

	// WebSocket 회의 세션 엔드포인트
	s.app.Get("/ws/meetings/:id", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// 쿠키에서 JWT 토큰 추출
		accessToken := c.Cookies("access_token")
		if accessToken == "" {
			accessToken = c.Query("token")
		}
		if accessToken == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		// JWT 검증
		claims, err := s.jwtManager.ValidateAccessToken(accessToken)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		c.Locals("meetingId", c.Params("id"))
		c.Locals("displayName", claims.DisplayName)
		c.Locals("anonymous", claims.Anonymous)

		return c.Next()
	}, websocket.New(s.meetingWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Server listening on %s", s.cfg.Server.Port)
	return s.app.Listen(s.cfg.Server.Port)
}
