package ap

import (
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/hotaru-social/hotaru/sigverify"
)

var tracer = otel.Tracer("activitypub")

type Handler struct {
	service *Service
}

func NewHandler(service *Service) Handler {
	return Handler{service}
}

// UserInbox accepts activities addressed to one local account.
func (h Handler) UserInbox(c echo.Context) error {
	return h.inbox(c, c.Param("username"))
}

// SharedInbox accepts activities addressed to the whole instance.
func (h Handler) SharedInbox(c echo.Context) error {
	return h.inbox(c, "")
}

func (h Handler) inbox(c echo.Context, recipient string) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandlerInbox")
	defer span.End()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		span.RecordError(err)
		return c.String(http.StatusBadRequest, "could not read request body")
	}

	err = h.service.Inbox(ctx, c.Request(), body, recipient)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, errUnknownRecipient):
		return c.String(http.StatusNotFound, "account not found")
	case errors.Is(err, errBadPayload):
		return c.String(http.StatusBadRequest, "invalid request body")
	case sigverify.IsAuthError(err):
		span.RecordError(err)
		return c.String(http.StatusUnauthorized, "signature verification failed")
	case errors.Is(err, errMalformedShape):
		span.RecordError(err)
		return c.String(http.StatusUnprocessableEntity, err.Error())
	default:
		span.RecordError(err)
		return c.String(http.StatusInternalServerError, "internal server error")
	}
}

func (h Handler) WebFinger(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandlerWebFinger")
	defer span.End()

	resource := c.QueryParam("resource")
	result, err := h.service.WebFinger(ctx, resource)
	if err != nil {
		span.RecordError(err)
		return c.String(http.StatusNotFound, "resource not found")
	}

	c.Response().Header().Set("Content-Type", "application/jrd+json")
	return c.JSON(http.StatusOK, result)
}

func (h Handler) User(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandlerUser")
	defer span.End()

	username := c.Param("username")
	if username == "" {
		return c.String(http.StatusBadRequest, "invalid username")
	}

	if !acceptsActivityJSON(c) {
		return c.Redirect(http.StatusFound, "https://"+h.service.config.FQDN+"/@"+username)
	}

	result, err := h.service.User(ctx, username)
	if err != nil {
		span.RecordError(err)
		return c.String(http.StatusNotFound, "account not found")
	}

	c.Response().Header().Set("Content-Type", "application/activity+json")
	return c.JSON(http.StatusOK, result)
}

func (h Handler) Note(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandlerNote")
	defer span.End()

	id := c.Param("id")
	if id == "" {
		return c.String(http.StatusBadRequest, "invalid note id")
	}

	result, err := h.service.Note(ctx, id)
	if err != nil {
		span.RecordError(err)
		return c.String(http.StatusNotFound, "note not found")
	}

	c.Response().Header().Set("Content-Type", "application/activity+json")
	if result.Type == "Tombstone" {
		return c.JSON(http.StatusGone, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (h Handler) NodeInfo(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandlerNodeInfo")
	defer span.End()

	result, err := h.service.NodeInfo(ctx)
	if err != nil {
		span.RecordError(err)
		return c.String(http.StatusInternalServerError, "internal server error")
	}

	c.Response().Header().Set("Content-Type", "application/json")
	return c.JSON(http.StatusOK, result)
}

func (h Handler) NodeInfoWellKnown(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandlerNodeInfoWellKnown")
	defer span.End()

	result, err := h.service.NodeInfoWellKnown(ctx)
	if err != nil {
		span.RecordError(err)
		return c.String(http.StatusInternalServerError, "internal server error")
	}

	c.Response().Header().Set("Content-Type", "application/json")
	return c.JSON(http.StatusOK, result)
}

func (h Handler) HostMeta(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandlerHostMeta")
	defer span.End()

	c.Response().Header().Set("Content-Type", "application/xrd+xml")
	return c.String(http.StatusOK, h.service.HostMeta(ctx))
}

func acceptsActivityJSON(c echo.Context) bool {
	accept := strings.Split(c.Request().Header.Get("Accept"), ",")
	for i := range accept {
		accept[i] = strings.TrimSpace(strings.SplitN(accept[i], ";", 2)[0])
	}
	return slices.Contains(accept, "application/activity+json") ||
		slices.Contains(accept, "application/ld+json")
}
