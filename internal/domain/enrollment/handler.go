package enrollment

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/enrollments", h.Enroll)
	api.GET("/enrollments", h.ListBySubject)
	api.GET("/enrollments/:schedule/:subject", h.GetActive)
	api.POST("/enrollments/:schedule/:subject/fulfill", h.Fulfill)
	api.DELETE("/enrollments/:schedule/:subject", h.Unenroll)
}

type enrollRequest struct {
	SubjectID          string              `json:"subject_id"`
	ScheduleName       string              `json:"schedule_name"`
	PreferredAlertTime *schedule.TimeOfDay `json:"preferred_alert_time,omitempty"`
	ReferenceDate      string              `json:"reference_date,omitempty"`
	ReferenceTime      *schedule.TimeOfDay `json:"reference_time,omitempty"`
	EnrollmentDate     string              `json:"enrollment_date,omitempty"`
	EnrollmentTime     *schedule.TimeOfDay `json:"enrollment_time,omitempty"`
	StartingMilestone  string              `json:"starting_milestone,omitempty"`
	Metadata           map[string]string   `json:"metadata,omitempty"`
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func (h *Handler) Enroll(c echo.Context) error {
	var body enrollRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	refDate, err := parseDate(body.ReferenceDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reference_date, want YYYY-MM-DD")
	}
	enrollDate, err := parseDate(body.EnrollmentDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid enrollment_date, want YYYY-MM-DD")
	}

	req := EnrollRequest{
		SubjectID:          body.SubjectID,
		ScheduleName:       body.ScheduleName,
		PreferredAlertTime: body.PreferredAlertTime,
		ReferenceDate:      refDate,
		EnrollmentDate:     enrollDate,
		StartingMilestone:  body.StartingMilestone,
		Metadata:           body.Metadata,
	}
	if body.ReferenceTime != nil {
		req.ReferenceTime = *body.ReferenceTime
	}
	if body.EnrollmentTime != nil {
		req.EnrollmentTime = *body.EnrollmentTime
	}

	e, err := h.svc.Enroll(c.Request().Context(), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

type fulfillRequest struct {
	Date string              `json:"date,omitempty"`
	Time *schedule.TimeOfDay `json:"time,omitempty"`
}

func (h *Handler) Fulfill(c echo.Context) error {
	var body fulfillRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	date, err := parseDate(body.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
	}
	var tod schedule.TimeOfDay
	if body.Time != nil {
		tod = *body.Time
	}
	if date.IsZero() {
		now := h.svc.clock.Now()
		date = now
		tod = schedule.TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
	}

	e, err := h.svc.FulfillCurrentMilestone(c.Request().Context(),
		c.Param("subject"), c.Param("schedule"), date, tod)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Unenroll(c echo.Context) error {
	if err := h.svc.Unenroll(c.Request().Context(), c.Param("subject"), c.Param("schedule")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetActive(c echo.Context) error {
	e, err := h.svc.GetActive(c.Request().Context(), c.Param("subject"), c.Param("schedule"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListBySubject(c echo.Context) error {
	subject := c.QueryParam("subject")
	if subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBySubject(c.Request().Context(), subject, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrDuplicateEnrollment):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownEnrollment):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, schedule.ErrUnknownSchedule), errors.Is(err, ErrUnknownMilestone),
		errors.Is(err, schedule.ErrInvalidScheduleState):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
