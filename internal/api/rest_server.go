package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/cubestack/internal/auth"
	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/middleware"
	"github.com/annel0/cubestack/internal/network"
	"github.com/annel0/cubestack/internal/protocol"
	"github.com/annel0/cubestack/internal/session"
	cubesync "github.com/annel0/cubestack/internal/sync"
)

// StatusSource - снимок состояния хоста
type StatusSource interface {
	Status() *session.StatusView
}

// Commander ставит административные команды в очередь хоста
type Commander interface {
	Submit(ctx context.Context, kind protocol.IntentKind) error
}

// SpectatorSource - реплика матча, восстановленная из шины событий
type SpectatorSource interface {
	View() cubesync.SpectatorView
}

// PeerSource - статистика сетевых подключений
type PeerSource interface {
	Peers() map[protocol.ParticipantID]network.ConnectionStats
}

// RestServer - REST API статуса и администрирования матча
type RestServer struct {
	router     *gin.Engine
	httpServer *http.Server
	status     StatusSource
	commands   Commander
	tokens     *auth.TokenIssuer
	spectator  SpectatorSource
	peers      PeerSource
	metrics    *ServerMetrics
	logger     *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr      string            // адрес для запуска сервера
	Status    StatusSource      // снимок матча
	Commands  Commander         // очередь команд хоста
	Tokens    *auth.TokenIssuer // проверка и выдача JWT
	Spectator SpectatorSource   // может быть nil
	Peers     PeerSource        // может быть nil
	// Registry - реестр для HTTP-метрик и /metrics; nil - новый реестр
	Registry *prometheus.Registry
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Addr == "" {
		config.Addr = ":8088"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// otelgin первым, чтобы trace-ID в логах совпадал со span
	router.Use(otelgin.Middleware("rest_api"))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware("rest_api", config.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Registry)

	rs := &RestServer{
		router:    router,
		status:    config.Status,
		commands:  config.Commands,
		tokens:    config.Tokens,
		spectator: config.Spectator,
		peers:     config.Peers,
		metrics:   NewServerMetrics(),
		logger:    logging.GetServerLogger(),
	}
	rs.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/match", rs.handleMatch)
		api.GET("/grid", rs.handleGrid)
		api.GET("/spectator", rs.handleSpectator)
		api.GET("/server", rs.handleServerInfo)
		api.GET("/peers", rs.handlePeers)
	}

	// Административные эндпоинты (только для админов)
	admin := api.Group("/")
	admin.Use(rs.jwtMiddleware(), rs.adminMiddleware())
	{
		admin.POST("/match/restart", rs.handleCommand(protocol.IntentRestart))
		admin.POST("/match/pause", rs.handleCommand(protocol.IntentPause))
		admin.POST("/match/resume", rs.handleCommand(protocol.IntentResume))
		admin.POST("/tokens", rs.handleIssueToken)
	}
}

// Handler возвращает http.Handler сервера
func (rs *RestServer) Handler() http.Handler { return rs.router }

// Start запускает HTTP сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API запущен на %s", rs.httpServer.Addr)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop останавливает HTTP сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.httpServer.Shutdown(ctx)
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// MatchResponse - состояние матча; вместо списка кубов только их количество
type MatchResponse struct {
	*session.StatusView
	Cubes int `json:"cubes"`
}

func (rs *RestServer) handleMatch(c *gin.Context) {
	view := rs.status.Status()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние матча",
		Data:    MatchResponse{StatusView: view, Cubes: len(view.Cubes)},
	})
}

func (rs *RestServer) handleGrid(c *gin.Context) {
	view := rs.status.Status()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Содержимое сетки",
		Data: gin.H{
			"dims":   view.Dims,
			"height": view.Height,
			"cubes":  view.Cubes,
		},
	})
}

func (rs *RestServer) handleSpectator(c *gin.Context) {
	if rs.spectator == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Синхронизация через шину событий выключена",
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Реплика наблюдателя",
		Data:    rs.spectator.View(),
	})
}

func (rs *RestServer) handlePeers(c *gin.Context) {
	peers := map[protocol.ParticipantID]network.ConnectionStats{}
	if rs.peers != nil {
		peers = rs.peers.Peers()
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Подключения участников",
		Data:    peers,
	})
}

func (rs *RestServer) handleServerInfo(c *gin.Context) {
	info := gin.H{
		"name":   "CubeStack host",
		"status": "running",
		"uptime": rs.metrics.GetUptime(),
		"memory": rs.metrics.GetDetailedMemoryStats(),
	}
	if cpuPercent, err := rs.metrics.GetCPUUsage(); err == nil {
		info["cpu_percent"] = cpuPercent
	}
	if rss, err := rs.metrics.GetResidentMemory(); err == nil {
		info["rss_mb"] = rss
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    info,
	})
}

func (rs *RestServer) handleCommand(kind protocol.IntentKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := rs.commands.Submit(ctx, kind); err != nil {
			rs.logger.Warn("⚠️ Команда %s не принята: %v", kind, err)
			c.JSON(http.StatusServiceUnavailable, GenericResponse{
				Success: false,
				Message: "Хост не принимает команды",
			})
			return
		}
		name, _ := c.Get("name")
		rs.logger.Info("🛠️ Команда %s поставлена в очередь (%v)", kind, name)
		c.JSON(http.StatusAccepted, GenericResponse{
			Success: true,
			Message: "Команда поставлена в очередь",
			Data:    gin.H{"command": kind.String()},
		})
	}
}

// TokenRequest - запрос на выдачу токена подключения
type TokenRequest struct {
	Name    string `json:"name" binding:"required"`
	Role    string `json:"role" binding:"required"`
	IsAdmin bool   `json:"is_admin"`
}

func (rs *RestServer) handleIssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}
	role, err := protocol.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	token, err := rs.tokens.Issue(req.Name, role, req.IsAdmin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Токен выдан",
		Data:    gin.H{"token": token, "role": role.String()},
	})
}
