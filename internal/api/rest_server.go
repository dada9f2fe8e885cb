package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/annel0/tilegrid/internal/eventbus"
	"github.com/annel0/tilegrid/internal/grid"
	"github.com/annel0/tilegrid/internal/logging"
	"github.com/annel0/tilegrid/internal/middleware"
	"github.com/annel0/tilegrid/internal/tile"
	"github.com/annel0/tilegrid/internal/vec"
	"github.com/annel0/tilegrid/internal/volume"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	serviceName = "tilegrid"
	version     = "v0.1.0"
)

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	volume     *volume.Volume
	events     *EventStream
	port       string
	metrics    *ServerMetrics
	httpServer *http.Server
	log        *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     string         // адрес для запуска сервера, например ":8088"
	Mode     string         // режим gin; пусто = release
	Volume   *volume.Volume // обязателен
	Bus      eventbus.EventBus
	Registry *prometheus.Registry // nil = дефолтный регистр
	Tracing  bool                 // otelgin middleware
	Logger   *logging.Logger
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.Volume == nil {
		return nil, errors.New("api: volume is required")
	}
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Mode == "" {
		config.Mode = gin.ReleaseMode
	}
	log := config.Logger
	if log == nil {
		log = logging.GetAPILogger()
	}

	gin.SetMode(config.Mode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	if config.Tracing {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(middleware.NewRequestLogger(log).Handler())

	var (
		reg      prometheus.Registerer
		gatherer prometheus.Gatherer
	)
	if config.Registry != nil {
		reg, gatherer = config.Registry, config.Registry
	}
	promMw, err := middleware.NewPrometheusMiddleware("rest_api", reg)
	if err != nil {
		return nil, err
	}
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, gatherer)

	server := &RestServer{
		router:  router,
		volume:  config.Volume,
		port:    config.Port,
		metrics: NewServerMetrics(),
		log:     log,

		httpServer: &http.Server{
			Addr:              config.Port,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	if config.Bus != nil {
		server.events = NewEventStream(config.Bus, log)
	}

	server.setupRoutes()

	return server, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")
	api.GET("/server", rs.handleServerInfo)

	vol := api.Group("/volume")
	{
		vol.GET("", rs.handleGetVolume)
		vol.POST("/relayout", rs.handleRelayout)
		vol.POST("/move", rs.handleMove)
		vol.POST("/resize", rs.handleResize)
		vol.POST("/hide", rs.handleHide)
	}

	tiles := api.Group("/tiles")
	{
		tiles.GET("", rs.handleListTiles)
		tiles.POST("", rs.handleAddTile)
		tiles.GET("/:id", rs.handleGetTile)
		tiles.DELETE("/:id", rs.handleRemoveTile)
		tiles.POST("/:id/tap", rs.handleTap)
		tiles.POST("/:id/release", rs.handleRelease)
		tiles.PUT("/:id/slot", rs.handlePlaceTile)
	}

	logs := api.Group("/logging")
	{
		logs.GET("", rs.handleLogLevels)
		logs.PUT("/:component", rs.handleSetLogLevel)
	}

	rs.router.GET("/ws/events", rs.handleEvents)
	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// TapRequest тело /tiles/:id/tap
type TapRequest struct {
	Interactor string `json:"interactor"`
}

// MoveRequest тело /volume/move
type MoveRequest struct {
	Offset vec.Vec3Float `json:"offset"`
}

// ResizeRequest тело /volume/resize
type ResizeRequest struct {
	Size vec.Vec3Float `json:"size"`
}

// HideRequest тело /volume/hide
type HideRequest struct {
	Hide bool `json:"hide"`
}

// SlotRequest тело /tiles/:id/slot; обе координаты обязательны
type SlotRequest struct {
	X *int `json:"x" binding:"required"`
	Y *int `json:"y" binding:"required"`
}

// LogLevelRequest тело /logging/:component; пустой file оставляет уровень консоли
type LogLevelRequest struct {
	Console string `json:"console" binding:"required"`
	File    string `json:"file"`
}

func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, GenericResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// handleServerInfo возвращает информацию о сервере
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	info := rs.metrics.Collect(serviceName, version)
	ok(c, http.StatusOK, "Информация о сервере", gin.H{
		"server":       info,
		"tweens":       rs.volume.TweenStats(),
		"live_sockets": rs.volume.LiveSockets(),
	})
}

func (rs *RestServer) handleGetVolume(c *gin.Context) {
	ok(c, http.StatusOK, "Раскладка объёма", rs.volume.Snapshot())
}

func (rs *RestServer) handleRelayout(c *gin.Context) {
	snap, err := rs.volume.Relayout(c.Request.Context())
	if err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Сетка перестроена", snap)
}

func (rs *RestServer) handleMove(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса")
		return
	}
	snap, err := rs.volume.Move(c.Request.Context(), req.Offset)
	if err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Объём перемещён", snap)
}

func (rs *RestServer) handleResize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса")
		return
	}
	snap, err := rs.volume.Resize(c.Request.Context(), req.Size)
	if err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Размер объёма изменён", snap)
}

func (rs *RestServer) handleHide(c *gin.Context) {
	var req HideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса")
		return
	}
	snap, err := rs.volume.SetHideTiles(c.Request.Context(), req.Hide)
	if err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Видимость тайлов обновлена", snap)
}

func (rs *RestServer) handleListTiles(c *gin.Context) {
	tiles := rs.volume.Tiles()
	ok(c, http.StatusOK, "Список тайлов", gin.H{
		"tiles": tiles,
		"total": len(tiles),
	})
}

func (rs *RestServer) handleAddTile(c *gin.Context) {
	var spec volume.TileSpec
	// пустое тело допустимо: тайл с UUID и масштабом по умолчанию
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&spec); err != nil {
			badRequest(c, "Неверный формат запроса")
			return
		}
	}
	st, err := rs.volume.AddTile(c.Request.Context(), spec)
	if err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, "Тайл добавлен", st)
}

func (rs *RestServer) handleGetTile(c *gin.Context) {
	st, err := rs.volume.Tile(c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Тайл", st)
}

func (rs *RestServer) handleRemoveTile(c *gin.Context) {
	if err := rs.volume.RemoveTile(c.Request.Context(), c.Param("id")); err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Тайл удалён", nil)
}

func (rs *RestServer) handleTap(c *gin.Context) {
	var req TapRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Неверный формат запроса")
			return
		}
	}
	if req.Interactor == "" {
		req.Interactor = "api"
	}
	st, err := rs.volume.Tap(c.Param("id"), tile.EntityRef(req.Interactor))
	if err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Нажатие обработано", st)
}

func (rs *RestServer) handleRelease(c *gin.Context) {
	st, err := rs.volume.ExitTap(c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Отпускание обработано", st)
}

func (rs *RestServer) handlePlaceTile(c *gin.Context) {
	var req SlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: нужны x и y")
		return
	}
	id := c.Param("id")
	if err := rs.volume.PlaceAt(id, grid.Coord{X: *req.X, Y: *req.Y}); err != nil {
		rs.fail(c, err)
		return
	}
	st, err := rs.volume.Tile(id)
	if err != nil {
		rs.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Тайл перемещён в ячейку", st)
}

func (rs *RestServer) handleEvents(c *gin.Context) {
	if rs.events == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Шина событий не настроена",
		})
		return
	}
	rs.events.ServeHTTP(c.Writer, c.Request)
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Handler возвращает http.Handler роутера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler { return rs.router }

// Start запускает REST сервер; блокирует до Stop
func (rs *RestServer) Start() error {
	rs.log.Info("REST API слушает %s", rs.port)

	err := rs.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop корректно останавливает сервер и закрывает websocket-подписчиков
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.events != nil {
		rs.events.Close()
	}
	return rs.httpServer.Shutdown(ctx)
}

// handleLogLevels возвращает уровни логгеров компонентов
func (rs *RestServer) handleLogLevels(c *gin.Context) {
	ok(c, http.StatusOK, "Уровни логирования", logging.GetLoggerManager().Levels())
}

// handleSetLogLevel меняет уровни компонента на лету
func (rs *RestServer) handleSetLogLevel(c *gin.Context) {
	var req LogLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Некорректный запрос: "+err.Error())
		return
	}
	console, err := logging.ParseLevel(req.Console)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	file := console
	if req.File != "" {
		if file, err = logging.ParseLevel(req.File); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	component := c.Param("component")
	if err := logging.GetLoggerManager().SetLogLevel(component, console, file); err != nil {
		badRequest(c, err.Error())
		return
	}
	rs.log.Info("Уровень логов %s: консоль %s, файл %s", component, console, file)
	ok(c, http.StatusOK, "Уровень обновлён", logging.ComponentLevel{
		Component: component, Console: console.String(), File: file.String(),
	})
}
