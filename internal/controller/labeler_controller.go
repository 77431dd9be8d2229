package controller

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"image-labeler-be/internal/dto"
	"image-labeler-be/internal/pkg/serverutils"
	"image-labeler-be/internal/service"
	"image-labeler-be/pkg/export"
	"image-labeler-be/pkg/imageio"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	SessionCookie = "labeler_session"
	sessionLocal  = "session_id"
)

type ILabelerController interface {
	RegisterRoutes(r fiber.Router)
	GetPresets(ctx *fiber.Ctx) error
	Analyze(ctx *fiber.Ctx) error
	Vote(ctx *fiber.Ctx) error
	GetFeedback(ctx *fiber.Ctx) error
	Export(ctx *fiber.Ctx) error
	EndSession(ctx *fiber.Ctx) error
}

type labelerController struct {
	labelerService service.ILabelerService
	sessionTTL     time.Duration
}

func NewLabelerController(labelerService service.ILabelerService, sessionTTL time.Duration) ILabelerController {
	return &labelerController{
		labelerService: labelerService,
		sessionTTL:     sessionTTL,
	}
}

func (c *labelerController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/labeler/v1")
	h.Use(c.sessionMiddleware)
	h.Get("presets", c.GetPresets)
	h.Post("analyze", c.Analyze)
	h.Post("feedback", c.Vote)
	h.Get("feedback", c.GetFeedback)
	h.Get("export", c.Export)
	h.Delete("session", c.EndSession)
}

// sessionMiddleware binds every request to a browser session, issuing a new
// cookie when the client has none or sends a malformed one.
func (c *labelerController) sessionMiddleware(ctx *fiber.Ctx) error {
	id := ctx.Cookies(SessionCookie)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
		ctx.Cookie(&fiber.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
			MaxAge:   int(c.sessionTTL.Seconds()),
		})
	}
	ctx.Locals(sessionLocal, id)
	return ctx.Next()
}

func sessionID(ctx *fiber.Ctx) string {
	id, _ := ctx.Locals(sessionLocal).(string)
	return id
}

func (c *labelerController) GetPresets(ctx *fiber.Ctx) error {
	res := c.labelerService.GetPresets(ctx.UserContext())
	return ctx.JSON(serverutils.SuccessResponse("Success get presets", res))
}

func (c *labelerController) Analyze(ctx *fiber.Ctx) error {
	var req dto.AnalyzeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	file, err := ctx.FormFile("image")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "image file is required")
	}
	if !imageio.AllowedExtension(file.Filename) {
		return fmt.Errorf("%w: %s", imageio.ErrUnsupportedFormat, file.Filename)
	}

	f, err := file.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	res, err := c.labelerService.Analyze(ctx.UserContext(), sessionID(ctx), &req, &dto.ImageUpload{
		Filename: file.Filename,
		Data:     data,
	})
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse(res.Message, res))
}

func (c *labelerController) Vote(ctx *fiber.Ctx) error {
	var req dto.VoteRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.labelerService.Vote(ctx.UserContext(), sessionID(ctx), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Feedback recorded", res))
}

func (c *labelerController) GetFeedback(ctx *fiber.Ctx) error {
	res, err := c.labelerService.GetFeedback(ctx.UserContext(), sessionID(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get feedback", res))
}

func (c *labelerController) Export(ctx *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := c.labelerService.Export(ctx.UserContext(), sessionID(ctx), &buf); err != nil {
		if errors.Is(err, service.ErrNoAnalysis) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}

	filename := fmt.Sprintf("labels-%s.csv", time.Now().UTC().Format("20060102-150405"))
	ctx.Set(fiber.HeaderContentType, export.ContentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return ctx.Send(buf.Bytes())
}

func (c *labelerController) EndSession(ctx *fiber.Ctx) error {
	if err := c.labelerService.EndSession(ctx.UserContext(), sessionID(ctx)); err != nil {
		return err
	}
	ctx.ClearCookie(SessionCookie)
	return ctx.JSON(serverutils.SuccessResponse[any]("Session ended", nil))
}
