package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/internal/services/metadata"
	xhttp "InsiderWatch/pkg/http"
	"InsiderWatch/pkg/http/middleware"
	xlogger "InsiderWatch/pkg/logger"
)

// AlertQuery is the read side of the alert registry.
type AlertQuery interface {
	Open() []*models.Alert
	All(status models.AlertStatus) []*models.Alert
	Get(id string) (*models.Alert, error)
	Sweep(asOf time.Time) int
}

// EventIngress accepts trade events from HTTP callers.
type EventIngress interface {
	Submit(raw *models.RawTradeEvent) error
	Do(ctx context.Context, raw *models.RawTradeEvent) (models.EventResult, error)
}

type DisclosureIngress interface {
	ProcessDisclosure(raw *models.RawDisclosureEvent) (*models.DisclosureEvent, bool, error)
}

type MetadataReloader interface {
	Reload(ctx context.Context) (*metadata.View, error)
}

// AlertsEchoHandler serves the surveillance desk: ranked alerts, manual sweeps,
// and direct event and disclosure ingestion.
type AlertsEchoHandler struct {
	logger      *xlogger.Logger
	alerts      AlertQuery
	events      EventIngress
	disclosures DisclosureIngress
	meta        MetadataReloader
	limiter     middleware.Allower
	now         func() time.Time
}

func NewAlertsEchoHandler(logger *xlogger.Logger, alerts AlertQuery, events EventIngress, disclosures DisclosureIngress, meta MetadataReloader) *AlertsEchoHandler {
	return &AlertsEchoHandler{
		logger:      logger,
		alerts:      alerts,
		events:      events,
		disclosures: disclosures,
		meta:        meta,
		now:         time.Now,
	}
}

// WithClock sets the instant a sweep without as_of runs at.
func (h *AlertsEchoHandler) WithClock(now func() time.Time) *AlertsEchoHandler {
	h.now = now
	return h
}

// WithIngestLimiter throttles the ingestion endpoints per caller.
func (h *AlertsEchoHandler) WithIngestLimiter(l middleware.Allower) *AlertsEchoHandler {
	h.limiter = l
	return h
}

func (h *AlertsEchoHandler) RegisterRoutes(e *echo.Echo) {
	var ingest []echo.MiddlewareFunc
	if h.limiter != nil {
		ingest = append(ingest, middleware.RateLimit(h.limiter))
	}
	g := e.Group("/api")
	g.GET("/alerts", h.List)
	g.GET("/alerts/:id", h.Get)
	g.POST("/alerts/sweep", h.Sweep)
	g.POST("/events", h.Events, ingest...)
	g.POST("/disclosures", h.Disclosures, ingest...)
	g.POST("/metadata/reload", h.ReloadMetadata)
	g.GET("/healthz", h.Health)
}

// List returns alerts ranked by peak score.
func (h *AlertsEchoHandler) List(c echo.Context) error {
	req := &models.AlertListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	var rows []*models.Alert
	if req.Status == "all" {
		rows = h.alerts.All("")
	} else {
		rows = h.alerts.All(models.AlertStatus(req.Status))
	}
	total := int64(len(rows))
	if len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	if rows == nil {
		rows = []*models.Alert{}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.ListResponse(c, rows, total)
}

func (h *AlertsEchoHandler) Get(c echo.Context) error {
	req := &models.AlertGetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	a, err := h.alerts.Get(req.ID)
	if err != nil {
		if errors.Is(err, models.ErrAlertNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("alert %s not found", req.ID))
		}
		h.logger.Error("alert lookup failed", xlogger.String("alert_id", req.ID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, a)
}

type sweepResponse struct {
	AsOf    time.Time `json:"as_of"`
	Expired int       `json:"expired"`
}

// Sweep expires silent alerts as of the given instant, or the handler clock.
func (h *AlertsEchoHandler) Sweep(c echo.Context) error {
	req := &models.SweepRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	asOf := h.now().UTC()
	if req.AsOf != "" {
		t, ok := xhttp.ParseTime(req.AsOf)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("as_of is not a valid timestamp").WithParam("as_of", req.AsOf))
		}
		asOf = t
	}
	n := h.alerts.Sweep(asOf)
	if n > 0 {
		h.logger.Info("manual sweep expired alerts", xlogger.Int("expired", n), xlogger.Time("as_of", asOf))
	}
	return xhttp.SuccessResponse(c, sweepResponse{AsOf: asOf, Expired: n})
}

type eventsResponse struct {
	Accepted     int                  `json:"accepted"`
	Dispositions []models.Disposition `json:"dispositions,omitempty"`
}

// Events ingests a batch. By default each event is processed before the response
// and its disposition returned. With async=true events are only queued; a full
// partition stops the batch with 429 and reports how many were accepted.
func (h *AlertsEchoHandler) Events(c echo.Context) error {
	req := &models.EventBatchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	async, _ := strconv.ParseBool(c.QueryParam("async"))

	resp := eventsResponse{}
	if async {
		for i := range req.Events {
			if err := h.events.Submit(&req.Events[i]); err != nil {
				appErr := xhttp.FromDomain(err).WithParam("accepted", resp.Accepted)
				return xhttp.AppErrorResponse(c, appErr)
			}
			resp.Accepted++
		}
		return xhttp.AcceptedResponse(c, resp)
	}

	ctx := c.Request().Context()
	resp.Dispositions = make([]models.Disposition, 0, len(req.Events))
	for i := range req.Events {
		res, err := h.events.Do(ctx, &req.Events[i])
		if err != nil {
			h.logger.Warn("event ingestion interrupted",
				xlogger.String("event_id", req.Events[i].EventID),
				xlogger.Int("accepted", resp.Accepted),
				xlogger.Error(err),
			)
			return xhttp.AppErrorResponse(c, xhttp.FromDomain(err).WithParam("accepted", resp.Accepted))
		}
		resp.Accepted++
		resp.Dispositions = append(resp.Dispositions, res.Disposition)
	}
	return xhttp.SuccessResponse(c, resp)
}

type disclosureResult struct {
	DisclosureID string `json:"disclosure_id"`
	Added        bool   `json:"added"`
	Error        string `json:"error,omitempty"`
}

// Disclosures adds corporate events to the calendar. Entries the normalizer rejects
// are reported per item; the rest are still applied.
func (h *AlertsEchoHandler) Disclosures(c echo.Context) error {
	req := &models.DisclosureBatchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	out := make([]disclosureResult, 0, len(req.Disclosures))
	for i := range req.Disclosures {
		raw := &req.Disclosures[i]
		r := disclosureResult{DisclosureID: raw.DisclosureID}
		_, added, err := h.disclosures.ProcessDisclosure(raw)
		if err != nil {
			r.Error = err.Error()
		}
		r.Added = added
		out = append(out, r)
	}
	return xhttp.SuccessResponse(c, out)
}

type reloadResponse struct {
	Version     string    `json:"version"`
	LoadedAt    time.Time `json:"loaded_at"`
	Disclosures int       `json:"disclosures"`
}

func (h *AlertsEchoHandler) ReloadMetadata(c echo.Context) error {
	v, err := h.meta.Reload(c.Request().Context())
	if err != nil {
		h.logger.Error("metadata reload failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("metadata reload failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, reloadResponse{
		Version:     v.Version(),
		LoadedAt:    v.LoadedAt(),
		Disclosures: v.DisclosureCount(),
	})
}

func (h *AlertsEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]int{"open_alerts": len(h.alerts.Open())})
}
