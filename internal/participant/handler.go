package participant

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/wichananm65/participant-service/internal/logger"
)

// Handler exposes the participant service under /participants.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(s *Service, l *zap.Logger) *Handler {
	if l == nil {
		l = zap.NewNop()
	}
	return &Handler{service: s, logger: l}
}

// RegisterPublicRoutes mounts the participant routes. The literal
// /details/deleted is registered ahead of /details/:email so it is not
// captured as an email.
func (h *Handler) RegisterPublicRoutes(app *fiber.App) {
	grp := app.Group("/participants")
	grp.Get("/", h.listAll)
	grp.Post("/add", h.create)
	grp.Get("/details", h.listActive)
	grp.Get("/details/deleted", h.listInactive)
	grp.Get("/details/:email", h.getDetails)
	grp.Get("/work/:email", h.getWork)
	grp.Get("/home/:email", h.getHome)
	grp.Put("/:email", h.update)
	grp.Delete("/:email", h.deactivate)
}

func (h *Handler) listAll(c *fiber.Ctx) error {
	all, err := h.service.List(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, all)
}

func (h *Handler) listActive(c *fiber.Ctx) error {
	active, err := h.service.ListActive(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, active)
}

func (h *Handler) listInactive(c *fiber.Ctx) error {
	inactive, err := h.service.ListInactive(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, inactive)
}

func (h *Handler) getDetails(c *fiber.Ctx) error {
	p, err := h.service.Get(c.UserContext(), emailParam(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, p)
}

func (h *Handler) getWork(c *fiber.Ctx) error {
	work, err := h.service.GetWork(c.UserContext(), emailParam(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, work)
}

func (h *Handler) getHome(c *fiber.Ctx) error {
	home, err := h.service.GetHome(c.UserContext(), emailParam(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, home)
}

func (h *Handler) create(c *fiber.Ctx) error {
	payload := new(Input)
	if err := c.BodyParser(payload); err != nil {
		return h.fail(c, validationError(err.Error()))
	}

	res, err := h.service.Create(c.UserContext(), *payload)
	if err != nil {
		return h.fail(c, err)
	}
	h.requestLogger(c).Info("participant created", zap.String("email", res.Item.Email))
	return written(c, "Participant successfully created", res)
}

func (h *Handler) update(c *fiber.Ctx) error {
	payload := new(Input)
	if err := c.BodyParser(payload); err != nil {
		return h.fail(c, validationError(err.Error()))
	}

	res, err := h.service.Update(c.UserContext(), emailParam(c), *payload)
	if err != nil {
		return h.fail(c, err)
	}
	h.requestLogger(c).Info("participant updated", zap.String("email", res.Item.Email))
	return written(c, "Participant successfully updated", res)
}

func (h *Handler) deactivate(c *fiber.Ctx) error {
	email := emailParam(c)
	if err := h.service.Deactivate(c.UserContext(), email); err != nil {
		return h.fail(c, err)
	}
	h.requestLogger(c).Info("participant deactivated", zap.String("email", email))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  fiber.StatusCreated,
		"message": "Participant was successfully deleted.",
	})
}

func ok(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": fiber.StatusOK, "data": data})
}

func written(c *fiber.Ctx, message string, res Result) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":       fiber.StatusCreated,
		"message":      message,
		"Item":         res.Item,
		"WorkFragment": res.Work,
		"HomeFragment": res.Home,
	})
}

// fail writes the error envelope. The message is passed through verbatim.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := statusFor(KindOf(err))
	l := h.requestLogger(c).With(
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Error(err),
	)
	if status >= fiber.StatusInternalServerError {
		l.Error("participant request failed")
	} else {
		l.Warn("participant request rejected")
	}
	return c.Status(status).JSON(fiber.Map{"status": status, "error": err.Error()})
}

func statusFor(k Kind) int {
	switch k {
	case KindValidation, KindState:
		return fiber.StatusBadRequest
	case KindConflict:
		return fiber.StatusConflict
	case KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *Handler) requestLogger(c *fiber.Ctx) *zap.Logger {
	if id := logger.RequestID(c); id != "" {
		return h.logger.With(zap.String("request_id", id))
	}
	return h.logger
}

// emailParam copies the param out of the request buffer, which fasthttp
// reuses once the handler returns.
func emailParam(c *fiber.Ctx) string {
	raw := utils.CopyString(c.Params("email"))
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}
