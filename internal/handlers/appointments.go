package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"terminsync/internal/appointments"
	"terminsync/internal/calendar"
	"terminsync/internal/records"
	"terminsync/internal/response"
)

// CreateAppointmentRequest тело запроса на создание термина.
// Если End не указан, термин длится один час.
type CreateAppointmentRequest struct {
	Title           string    `json:"title" binding:"required"`
	Start           time.Time `json:"start" binding:"required"`
	End             time.Time `json:"end"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	ExternalID      string    `json:"external_id"`
	PartnerRelevant bool      `json:"partner_relevant"`
}

type PartnerRelevanceRequest struct {
	Relevant *bool `json:"relevant" binding:"required"`
}

// AppointmentResponse частный термин владельца.
type AppointmentResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Description     string    `json:"description,omitempty"`
	Location        string    `json:"location,omitempty"`
	PartnerRelevant bool      `json:"partner_relevant"`
	SyncedSharedID  string    `json:"synced_shared_id,omitempty"`
	ExternalID      string    `json:"external_id,omitempty"`
}

// SharedAppointmentResponse копия термина в общей коллекции.
type SharedAppointmentResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	SourcePrivateID string    `json:"source_private_id"`
	SourceOwnerID   int64     `json:"source_owner_id"`
}

type CreateAppointmentResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	// Пусто, если термин не для партнера или синхронизация отложена.
	Shared *SharedAppointmentResponse `json:"shared,omitempty"`
}

type AppointmentListResponse struct {
	Items []appointments.Entry `json:"items"`
	Total int                  `json:"total"`
}

func appointmentResponse(a *records.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		Title:           a.Title,
		Start:           a.Start,
		End:             a.End,
		Description:     a.Description,
		Location:        a.Location,
		PartnerRelevant: a.PartnerRelevant,
		SyncedSharedID:  a.SyncedSharedID,
		ExternalID:      a.ExternalID,
	}
}

func sharedResponse(s *records.SharedAppointment) *SharedAppointmentResponse {
	if s == nil {
		return nil
	}
	return &SharedAppointmentResponse{
		ID:              s.ID,
		Title:           s.Title,
		Start:           s.Start,
		End:             s.End,
		SourcePrivateID: s.SourcePrivateID,
		SourceOwnerID:   s.SourceOwnerID,
	}
}

// timeRange читает параметры start и end (RFC3339). Пустые значения не ограничивают выборку.
func timeRange(c *gin.Context) (from, to time.Time, err error) {
	if v := c.Query("start"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, fmt.Errorf("start: %w", err)
		}
	}
	if v := c.Query("end"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, fmt.Errorf("end: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return from, to, fmt.Errorf("end must be after start")
	}
	return from, to, nil
}

func invalidRange(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.ErrorResponse{
		Code:    "INVALID_TIME_RANGE",
		Message: "Неверный интервал времени",
		Details: err.Error(),
	})
}

// CreateAppointment создает термин и при необходимости копирует его партнеру
// @Summary		Создание термина
// @Description	Сохраняет термин в личной коллекции; если он важен для партнера, сразу создает копию в общей коллекции
// @Tags			appointments
// @Accept			json
// @Produce		json
// @Param			appointment	body		CreateAppointmentRequest	true	"Данные термина"
// @Security		BearerAuth
// @Success		201	{object}	CreateAppointmentResponse	"Термин создан"
// @Failure		400	{object}	response.ErrorResponse		"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		503	{object}	response.ErrorResponse		"Хранилище недоступно (STORE_UNAVAILABLE)"
// @Router			/api/appointments [post]
func (a *API) CreateAppointment(c *gin.Context) {
	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}
	ws, ok := a.workspace(c)
	if !ok {
		return
	}

	draft := appointments.Draft{
		Title:       req.Title,
		Start:       req.Start,
		End:         req.End,
		Description: req.Description,
		Location:    req.Location,
		ExternalID:  req.ExternalID,
	}
	created, shared, err := ws.Appointments.CreateWithPartnerRelevance(c.Request.Context(), draft, req.PartnerRelevant)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreateAppointmentResponse{
		Appointment: appointmentResponse(created),
		Shared:      sharedResponse(shared),
	})
}

// ListAppointments возвращает объединенный вид терминов
// @Summary		Список терминов
// @Description	Объединяет личные, деловые и (по желанию) общие термины партнеров; дубликаты показываются один раз
// @Tags			appointments
// @Produce		json
// @Param			start			query		string	false	"Начало интервала (RFC3339)"
// @Param			end				query		string	false	"Конец интервала (RFC3339)"
// @Param			include_shared	query		bool	false	"Показывать термины партнеров"	default(true)
// @Security		BearerAuth
// @Success		200	{object}	AppointmentListResponse	"Термины, отсортированные по началу"
// @Failure		400	{object}	response.ErrorResponse	"Неверный интервал (INVALID_TIME_RANGE)"
// @Failure		503	{object}	response.ErrorResponse	"Хранилище недоступно (STORE_UNAVAILABLE)"
// @Router			/api/appointments [get]
func (a *API) ListAppointments(c *gin.Context) {
	from, to, err := timeRange(c)
	if err != nil {
		invalidRange(c, err)
		return
	}
	ws, ok := a.workspace(c)
	if !ok {
		return
	}
	includeShared := c.DefaultQuery("include_shared", "true") != "false"

	entries, err := ws.Appointments.GetAppointments(c.Request.Context(), from, to, includeShared)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AppointmentListResponse{Items: entries, Total: len(entries)})
}

// ExportAppointments отдает объединенный вид в формате iCalendar
// @Summary		Экспорт терминов в iCalendar
// @Tags			appointments
// @Produce		text/calendar
// @Param			start	query	string	false	"Начало интервала (RFC3339)"
// @Param			end		query	string	false	"Конец интервала (RFC3339)"
// @Security		BearerAuth
// @Success		200	{string}	string					"Файл .ics"
// @Failure		400	{object}	response.ErrorResponse	"Неверный интервал (INVALID_TIME_RANGE)"
// @Router			/api/appointments.ics [get]
func (a *API) ExportAppointments(c *gin.Context) {
	from, to, err := timeRange(c)
	if err != nil {
		invalidRange(c, err)
		return
	}
	ws, ok := a.workspace(c)
	if !ok {
		return
	}
	entries, err := ws.Appointments.GetAppointments(c.Request.Context(), from, to, true)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/calendar; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="termine.ics"`)
	c.Status(http.StatusOK)
	if err := calendar.Write(c.Writer, ws.Owner.Name, entries, a.now()); err != nil {
		a.log.Error("export calendar", "owner", ws.OwnerID(), "err", err)
	}
}

// UpdateAppointment изменяет термин и обновляет копию партнера
// @Summary		Изменение термина
// @Tags			appointments
// @Accept			json
// @Produce		json
// @Param			id		path		string				true	"ID термина"
// @Param			patch	body		appointments.Patch	true	"Изменяемые поля"
// @Security		BearerAuth
// @Success		200	{object}	AppointmentResponse		"Термин изменен"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		404	{object}	response.ErrorResponse	"Термин не найден (APPOINTMENT_NOT_FOUND)"
// @Router			/api/appointments/{id} [patch]
func (a *API) UpdateAppointment(c *gin.Context) {
	var patch appointments.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}
	ws, ok := a.workspace(c)
	if !ok {
		return
	}
	updated, err := ws.Appointments.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, appointmentResponse(updated))
}

// SetPartnerRelevance включает или выключает показ термина партнеру
// @Summary		Важность термина для партнера
// @Tags			appointments
// @Accept			json
// @Produce		json
// @Param			id		path		string					true	"ID термина"
// @Param			body	body		PartnerRelevanceRequest	true	"Новое значение"
// @Security		BearerAuth
// @Success		200	{object}	AppointmentResponse		"Значение изменено"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		404	{object}	response.ErrorResponse	"Термин не найден (APPOINTMENT_NOT_FOUND)"
// @Router			/api/appointments/{id}/partner [put]
func (a *API) SetPartnerRelevance(c *gin.Context) {
	var req PartnerRelevanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}
	ws, ok := a.workspace(c)
	if !ok {
		return
	}
	updated, err := ws.Appointments.SetPartnerRelevance(c.Request.Context(), c.Param("id"), *req.Relevant)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, appointmentResponse(updated))
}

// DeleteAppointment удаляет термин вместе с копией партнера
// @Summary		Удаление термина
// @Tags			appointments
// @Produce		json
// @Param			id	path	string	true	"ID термина"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Термин удален"
// @Failure		404	{object}	response.ErrorResponse		"Термин не найден (APPOINTMENT_NOT_FOUND)"
// @Router			/api/appointments/{id} [delete]
func (a *API) DeleteAppointment(c *gin.Context) {
	ws, ok := a.workspace(c)
	if !ok {
		return
	}
	if err := ws.Appointments.Delete(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Термин удален"})
}
