package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/connectivity"
	"github.com/langchou/fieldtrack/internal/models"
	"github.com/langchou/fieldtrack/internal/service"
	"github.com/langchou/fieldtrack/pkg/ws"
)

// TrackingService 追踪控制器，*service.Tracker 满足该接口
type TrackingService interface {
	Start(ctx context.Context, subjectID string, opts service.StartOptions) error
	Stop(ctx context.Context)
	State() string
	StateSince() time.Time
	Session() *models.TrackingSession
	LocalStatus() models.TrackingStatusSnapshot
	CurrentLocation(ctx context.Context) (models.GeoSample, error)
	TrackingStatus(ctx context.Context, subjectID string) (*models.TrackingStatusSnapshot, error)
	ActiveSubjects(ctx context.Context) ([]models.TrackingStatusSnapshot, error)
	ReportIncident(ctx context.Context, inc models.Incident) (models.Incident, service.Delivery, error)
}

// SyncService 同步引擎，*service.SyncEngine 满足该接口
type SyncService interface {
	Run(ctx context.Context) (service.Summary, error)
	PendingCount(ctx context.Context) (int, error)
}

// ConnectivityState 联网状态查询，*connectivity.Monitor 满足该接口
type ConnectivityState interface {
	State() connectivity.State
}

// Handler HTTP 处理器
type Handler struct {
	logger         *zap.Logger
	tracker        TrackingService
	sync           SyncService
	connectivity   ConnectivityState
	defaultSubject string
	wsHub          *ws.Hub
	upgrader       websocket.Upgrader
}

// NewHandler 创建处理器。defaultSubject 为请求未指定对象时使用的本机对象
func NewHandler(
	logger *zap.Logger,
	tracker TrackingService,
	sync SyncService,
	conn ConnectivityState,
	defaultSubject string,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:         logger,
		tracker:        tracker,
		sync:           sync,
		connectivity:   conn,
		defaultSubject: defaultSubject,
		wsHub:          wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 追踪
		api.POST("/tracking/start", h.StartTracking)
		api.POST("/tracking/stop", h.StopTracking)
		api.GET("/tracking/status", h.GetTrackingStatus)
		api.GET("/location/current", h.GetCurrentLocation)

		// 对象
		api.GET("/subjects/active", h.ListActiveSubjects)
		api.GET("/subjects/:id/status", h.GetSubjectStatus)

		// 事件
		api.POST("/incidents", h.ReportIncident)

		// 同步
		api.POST("/sync", h.TriggerSync)
		api.GET("/sync/pending", h.GetPendingCount)
		api.GET("/connectivity", h.GetConnectivity)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.wsHub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live feed disabled"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	clients := 0
	if h.wsHub != nil {
		clients = h.wsHub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"state":        h.tracker.State(),
		"state_since":  h.tracker.StateSince(),
		"connectivity": h.connectivity.State(),
		"ws_clients":   clients,
	})
}
