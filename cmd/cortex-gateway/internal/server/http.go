package server

import (
	"context"
	"net/http"
	"time"

	"cortex/cmd/cortex-gateway/internal/service"
	"cortex/pkg/health"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config HTTP服务参数
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// HTTPServer HTTP服务器
type HTTPServer struct {
	engine  *gin.Engine
	srv     *http.Server
	checker *health.Checker
	log     *log.Helper
}

// NewHTTPServer 创建HTTP服务器并注册全部路由
func NewHTTPServer(
	cfg Config,
	collections *service.CollectionService,
	records *service.RecordService,
	providers *service.ProviderService,
	registry *prometheus.Registry,
	checker *health.Checker,
	logger log.Logger,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &HTTPServer{
		engine:  engine,
		checker: checker,
		log:     log.NewHelper(logger),
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	engine.Use(gin.Recovery())
	engine.Use(TracingMiddleware())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(corsMiddleware())

	engine.GET("/health", s.health)
	engine.GET("/ready", s.ready)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := engine.Group("/v1")
	{
		v1.POST("/collections", collections.Create)
		v1.GET("/collections", collections.List)
		v1.GET("/collections/:name", collections.Get)
		v1.POST("/collections/:name/fields", collections.Extend)
		v1.DELETE("/collections/:name", collections.Delete)

		v1.POST("/collections/:name/records", records.Create)
		v1.GET("/collections/:name/records/:id", records.Get)
		v1.PATCH("/collections/:name/records/:id", records.Update)
		v1.DELETE("/collections/:name/records/:id", records.Delete)
		v1.GET("/collections/:name/records/:id/vectors", records.Vectors)

		v1.POST("/collections/:name/query", records.Query)
		v1.POST("/collections/:name/search", records.Search)

		v1.POST("/providers", providers.Create)
		v1.GET("/providers", providers.List)
		v1.GET("/providers/:id", providers.Get)
		v1.DELETE("/providers/:id", providers.Delete)
	}

	return s
}

// Start 启动监听
func (s *HTTPServer) Start() error {
	s.log.Infof("http server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅停机
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// health 存活探针
func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ready 就绪探针：逐个探活存储后端，任一失败返回503
func (s *HTTPServer) ready(c *gin.Context) {
	report := s.checker.Check(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
