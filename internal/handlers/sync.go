package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"terminsync/internal/auth"
	"terminsync/internal/response"
)

// BackgroundSyncResponse участие владельца в фоновой сверке и состояние планировщика.
type BackgroundSyncResponse struct {
	SyncEnabled bool          `json:"sync_enabled"`
	Running     bool          `json:"running"`
	Interval    time.Duration `json:"interval" swaggertype:"integer"`
}

// SyncStatus возвращает состояние синхронизации владельца
// @Summary		Состояние синхронизации
// @Description	Число терминов для партнера, число синхронизированных и отчет последней сверки
// @Tags			sync
// @Produce		json
// @Security		BearerAuth
// @Success		200	{object}	partnersync.Snapshot	"Состояние"
// @Failure		503	{object}	response.ErrorResponse	"Хранилище недоступно (STORE_UNAVAILABLE)"
// @Router			/api/sync/status [get]
func (a *API) SyncStatus(c *gin.Context) {
	ws, ok := a.workspace(c)
	if !ok {
		return
	}
	snap, err := ws.Appointments.SyncStatus(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RunSync запускает сверку владельца немедленно
// @Summary		Сверка сейчас
// @Tags			sync
// @Produce		json
// @Security		BearerAuth
// @Success		200	{object}	partnersync.Report	"Отчет сверки"
// @Router			/api/sync/run [post]
func (a *API) RunSync(c *gin.Context) {
	ws, ok := a.workspace(c)
	if !ok {
		return
	}
	report := ws.Appointments.Reconcile(c.Request.Context())
	if a.stream != nil {
		a.stream.NotifySweep(report)
	}
	c.JSON(http.StatusOK, report)
}

// StartBackgroundSync включает владельца в периодическую сверку
// @Summary		Участие в фоновой сверке
// @Description	Владелец снова попадает в проходы планировщика. Остальных владельцев запрос не затрагивает
// @Tags			sync
// @Produce		json
// @Security		BearerAuth
// @Success		200	{object}	BackgroundSyncResponse	"Фоновая сверка включена"
// @Failure		404	{object}	response.ErrorResponse	"Владелец не найден (USER_NOT_FOUND)"
// @Router			/api/sync/background [post]
func (a *API) StartBackgroundSync(c *gin.Context) {
	a.setBackground(c, true)
}

// StopBackgroundSync исключает владельца из периодической сверки
// @Summary		Отказ от фоновой сверки
// @Description	Проходы планировщика пропускают владельца; ручная сверка и синхронизация при изменениях продолжают работать
// @Tags			sync
// @Produce		json
// @Security		BearerAuth
// @Success		200	{object}	BackgroundSyncResponse	"Фоновая сверка выключена"
// @Failure		404	{object}	response.ErrorResponse	"Владелец не найден (USER_NOT_FOUND)"
// @Router			/api/sync/background [delete]
func (a *API) StopBackgroundSync(c *gin.Context) {
	a.setBackground(c, false)
}

func (a *API) setBackground(c *gin.Context, enabled bool) {
	ownerID, ok := auth.OwnerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{
			Code:    "INVALID_USER_ID",
			Message: "Невозможно извлечь user_id",
		})
		return
	}
	if err := a.owners.SetSyncEnabled(c.Request.Context(), ownerID, enabled); err != nil {
		a.fail(c, err)
		return
	}
	a.log.Info("background sync switched", "owner", ownerID, "enabled", enabled)

	resp := BackgroundSyncResponse{SyncEnabled: enabled}
	if a.background != nil {
		resp.Running = a.background.Running()
		resp.Interval = a.background.Interval()
	}
	c.JSON(http.StatusOK, resp)
}

// SyncWebSocket подписывает клиента на отчеты сверки владельца
// @Summary		Поток отчетов сверки
// @Description	WebSocket: после каждой сверки владельца приходит сообщение {"type":"sweep","report":{...}}
// @Tags			sync
// @Security		BearerAuth
// @Router			/api/sync/ws [get]
func (a *API) SyncWebSocket(c *gin.Context) {
	ownerID, ok := auth.OwnerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{
			Code:    "INVALID_USER_ID",
			Message: "Невозможно извлечь user_id",
		})
		return
	}
	a.stream.Serve(c.Writer, c.Request, ownerID)
}
