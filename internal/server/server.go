package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"clinic-backend/internal/auth"
	"clinic-backend/internal/collab"
	"clinic-backend/internal/config"
	"clinic-backend/internal/handler"
	"clinic-backend/internal/metrics"
	"clinic-backend/internal/middleware"
	"clinic-backend/internal/model"
	"clinic-backend/internal/presence"
	"clinic-backend/internal/repository"
	"clinic-backend/internal/service"
	"clinic-backend/internal/storage"
)

// Server Fiber 서버 래퍼
type Server struct {
	app              *fiber.App
	cfg              *config.Config
	hub              *collab.Hub
	presence         *presence.Mirror
	metrics          *metrics.Collectors
	jwtManager       *auth.JWTManager
	clinicMiddleware *middleware.ClinicMiddleware
	authHandler      *handler.AuthHandler
	healthHandler    *handler.HealthHandler
	boardHandler     *handler.BoardHandler
	boardWSHandler   *handler.BoardWSHandler
	uploadHandler    *handler.UploadHandler

	stopPresence context.CancelFunc
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Clinic Board Collaboration API",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       cfg.Server.BodyLimit,
		ErrorHandler:    handler.ErrorHandler,
	})

	// 메트릭
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Presence 미러 (선택적)
	hubOpts := []collab.HubOption{
		collab.WithGracePeriod(cfg.Board.CacheGracePeriod),
		collab.WithMetrics(m),
	}
	var mirror *presence.Mirror
	var pingRedis handler.PingFunc
	if cfg.Redis.Enabled {
		hostname, _ := os.Hostname()
		mirror = presence.NewMirror(presence.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB), hostname+"-"+uuid.NewString()[:8])
		hubOpts = append(hubOpts, collab.WithPresence(mirror))
		pingRedis = mirror.Ping
		log.Printf("✅ Board presence mirror enabled (redis: %s)", cfg.Redis.Addr)
	} else {
		log.Println("ℹ️ Redis not configured (board presence mirror disabled)")
	}
	hub := collab.NewHub(hubOpts...)

	// 저장소 / 서비스
	boardRepo := repository.NewBoardRepository(db)
	memberService := service.NewMemberService(repository.NewMemberRepository(db))
	boardService := service.NewBoardService(boardRepo, memberService, hub, m, cfg.Board.MaxElements)

	// Auth 초기화
	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	googleAuth := auth.NewGoogleAuthenticator(cfg.Auth.GoogleClientID)

	// S3 서비스 초기화 (선택적)
	var uploader handler.AssetUploader
	if cfg.S3.BucketName != "" && cfg.S3.AccessKeyID != "" {
		s3Service, err := storage.NewS3Service(context.Background(), cfg.S3)
		if err != nil {
			log.Printf("⚠️ S3 service initialization failed: %v (board asset upload will be disabled)", err)
		} else {
			uploader = s3Service
			log.Printf("✅ S3 service initialized (bucket: %s)", cfg.S3.BucketName)
		}
	} else {
		log.Println("ℹ️ S3 service not configured (board asset upload will be disabled)")
	}

	return &Server{
		app:              app,
		cfg:              cfg,
		hub:              hub,
		presence:         mirror,
		metrics:          m,
		jwtManager:       jwtManager,
		clinicMiddleware: middleware.NewClinicMiddleware(memberService),
		authHandler:      handler.NewAuthHandler(repository.NewUserRepository(db), jwtManager, googleAuth, cfg.Auth.AccessTokenExpiry, cfg.Auth.SecureCookie),
		healthHandler:    handler.NewHealthHandler(db, pingRedis),
		boardHandler:     handler.NewBoardHandler(boardService),
		boardWSHandler:   handler.NewBoardWSHandler(hub, boardService.JoinGate(), jwtManager, cfg.WebSocket.SendBufferSize, cfg.WebSocket.WriteTimeout),
		uploadHandler:    handler.NewUploadHandler(uploader),
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
		AllowCredentials: s.cfg.CORS.AllowOrigins != "*",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 / 메트릭
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)
	s.app.Get("/metrics", s.metrics.Handler())

	// Rate Limiter 설정 (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,              // 최대 10회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})
	requireAuth := auth.AuthMiddleware(s.jwtManager)

	// Auth 라우트 그룹
	authGroup := s.app.Group("/api/auth")
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/refresh", authLimiter, s.authHandler.RefreshToken)
	authGroup.Post("/logout", requireAuth, s.authHandler.Logout)
	authGroup.Get("/me", requireAuth, s.authHandler.GetMe)

	// Board 라우트 (클리닉 하위, 권한 검사는 서비스에서 수행)
	clinicGroup := s.app.Group("/api/clinics/:clinicId", requireAuth)
	clinicGroup.Get("/boards", s.boardHandler.ListBoards)
	clinicGroup.Post("/boards", s.boardHandler.CreateBoard)
	clinicGroup.Get("/boards/:boardId", s.boardHandler.GetBoard)
	clinicGroup.Put("/boards/:boardId", s.boardHandler.UpdateBoard)
	clinicGroup.Delete("/boards/:boardId", s.boardHandler.DeleteBoard)
	clinicGroup.Put("/boards/:boardId/elements", s.boardHandler.SaveElements)
	clinicGroup.Get("/boards/:boardId/active-users", s.boardHandler.ActiveUsers)

	// 보드 에셋 업로드 (클리닉 멤버만)
	clinicGroup.Post("/uploads/presign", s.clinicMiddleware.RequireMembership(), s.uploadHandler.Presign)

	// 실시간 허브 상태 (관리자 전용)
	s.app.Get("/api/boards/live", requireAuth, auth.RequireRole(model.RoleAdmin), func(c *fiber.Ctx) error {
		return c.JSON(s.hub.Stats())
	})

	// WebSocket 보드 협업 엔드포인트
	s.app.Get("/ws/boards", s.boardWSHandler.Upgrade, websocket.New(s.boardWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	if s.presence != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopPresence = cancel
		go s.presence.Run(ctx)
	}

	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.Shutdown(); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Clinic Board Collaboration API starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/boards", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	err := s.app.ShutdownWithTimeout(30 * time.Second)
	if s.stopPresence != nil {
		s.stopPresence()
	}
	if s.presence != nil {
		if cerr := s.presence.Close(); cerr != nil {
			log.Printf("[Presence] Close failed: %v", cerr)
		}
	}
	return err
}

// App fiber 앱 (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}
