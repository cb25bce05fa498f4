package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"terminsync/internal/auth"
	"terminsync/internal/logging"
	"terminsync/internal/models"
	"terminsync/internal/owners"
	"terminsync/internal/partnersync"
	"terminsync/internal/records"
	"terminsync/internal/response"
	"terminsync/internal/store"
)

// Owners хранит аккаунты владельцев и выдает их рабочие пространства.
type Owners interface {
	Create(ctx context.Context, o *models.Owner) error
	FindByEmail(ctx context.Context, email string) (*models.Owner, error)
	Get(ctx context.Context, ownerID int64) (*models.Owner, error)
	Workspace(ctx context.Context, ownerID int64) (*owners.Workspace, error)
	SetSyncEnabled(ctx context.Context, ownerID int64, enabled bool) error
}

// Background сообщает состояние общей периодической сверки.
// Сам планировщик запускают конфигурация и terminctl worker, не HTTP.
type Background interface {
	Enabled() bool
	Running() bool
	Interval() time.Duration
}

// Stream рассылает отчеты сверки по WebSocket.
type Stream interface {
	Serve(w http.ResponseWriter, r *http.Request, ownerID int64)
	NotifySweep(r partnersync.Report)
}

type Deps struct {
	Owners     Owners
	Tokens     *auth.Issuer
	Background Background
	Stream     Stream
	Logger     *logging.Logger
}

// API содержит обработчики HTTP и их зависимости.
type API struct {
	owners     Owners
	tokens     *auth.Issuer
	background Background
	stream     Stream
	log        *logging.Logger
	now        func() time.Time
}

func New(d Deps) *API {
	log := d.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &API{
		owners:     d.Owners,
		tokens:     d.Tokens,
		background: d.Background,
		stream:     d.Stream,
		log:        log.With("http"),
		now:        time.Now,
	}
}

// Routes подключает маршруты. requireOwner проверяет авторизацию для /api.
func (a *API) Routes(r gin.IRouter, requireOwner gin.HandlerFunc) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", a.Register)
		authGroup.POST("/login", a.Login)
		authGroup.POST("/refresh", a.RefreshToken)
	}

	api := r.Group("/api", requireOwner)
	{
		api.POST("/appointments", a.CreateAppointment)
		api.GET("/appointments", a.ListAppointments)
		api.GET("/appointments.ics", a.ExportAppointments)
		api.PATCH("/appointments/:id", a.UpdateAppointment)
		api.PUT("/appointments/:id/partner", a.SetPartnerRelevance)
		api.DELETE("/appointments/:id", a.DeleteAppointment)

		api.GET("/sync/status", a.SyncStatus)
		api.POST("/sync/run", a.RunSync)
		api.POST("/sync/background", a.StartBackgroundSync)
		api.DELETE("/sync/background", a.StopBackgroundSync)
		api.GET("/sync/ws", a.SyncWebSocket)
	}
}

// workspace находит рабочее пространство текущего владельца или пишет ошибку.
func (a *API) workspace(c *gin.Context) (*owners.Workspace, bool) {
	ownerID, ok := auth.OwnerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{
			Code:    "INVALID_USER_ID",
			Message: "Невозможно извлечь user_id",
		})
		return nil, false
	}
	ws, err := a.owners.Workspace(c.Request.Context(), ownerID)
	if err != nil {
		a.fail(c, err)
		return nil, false
	}
	return ws, true
}

// fail переводит ошибку хранилища в ответ API.
func (a *API) fail(c *gin.Context, err error) {
	status, body := http.StatusInternalServerError, response.ErrorResponse{
		Code:    "STORE_ERROR",
		Message: "Ошибка хранилища",
	}
	switch {
	case errors.Is(err, store.ErrValidation):
		status, body = http.StatusBadRequest, response.ErrorResponse{Code: "VALIDATION_ERROR", Message: "Ошибка валидации данных"}
	case errors.Is(err, owners.ErrUnknownOwner):
		status, body = http.StatusNotFound, response.ErrorResponse{Code: "USER_NOT_FOUND", Message: "Пользователь не найден"}
	case errors.Is(err, store.ErrNotFound):
		status, body = http.StatusNotFound, response.ErrorResponse{Code: "APPOINTMENT_NOT_FOUND", Message: "Термин не найден"}
	case errors.Is(err, records.ErrMalformed):
		body = response.ErrorResponse{Code: "MALFORMED_RECORD", Message: "Запись в хранилище повреждена"}
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrTimeout), errors.Is(err, store.ErrRateLimited):
		status, body = http.StatusServiceUnavailable, response.ErrorResponse{Code: "STORE_UNAVAILABLE", Message: "Хранилище временно недоступно"}
	case errors.Is(err, store.ErrUnauthorized):
		body = response.ErrorResponse{Code: "STORE_UNAUTHORIZED", Message: "Нет доступа к хранилищу"}
	}
	body.Details = err.Error()
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, body)
}
