// FILE: internal/controller/admin_controller.go
package controller

import (
	"crypto/subtle"
	"strconv"

	"image-labeler-be/internal/pkg/serverutils"
	"image-labeler-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

// OracleStatus is the part of the oracle manager the health check reads.
type OracleStatus interface {
	Ready() bool
	ModelID() string
}

// SessionCounter reports how many sessions are alive.
type SessionCounter interface {
	Count() int
}

type IAdminController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
	GetAuditLogs(ctx *fiber.Ctx) error
}

type adminController struct {
	labelerService service.ILabelerService
	oracle         OracleStatus
	sessions       SessionCounter
	adminToken     string
}

func NewAdminController(
	labelerService service.ILabelerService,
	oracle OracleStatus,
	sessions SessionCounter,
	adminToken string,
) IAdminController {
	return &adminController{
		labelerService: labelerService,
		oracle:         oracle,
		sessions:       sessions,
		adminToken:     adminToken,
	}
}

func (c *adminController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Health)

	h := r.Group("/admin")
	h.Use(c.adminMiddleware)
	h.Get("/audit", c.GetAuditLogs)
}

// adminMiddleware requires X-Admin-Token when an admin token is configured.
func (c *adminController) adminMiddleware(ctx *fiber.Ctx) error {
	if c.adminToken == "" {
		return ctx.Next()
	}
	got := ctx.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(c.adminToken)) != 1 {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid admin token")
	}
	return ctx.Next()
}

func (c *adminController) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("OK", fiber.Map{
		"oracle_ready": c.oracle.Ready(),
		"model_id":     c.oracle.ModelID(),
		"sessions":     c.sessions.Count(),
	}))
}

func (c *adminController) GetAuditLogs(ctx *fiber.Ctx) error {
	page, _ := strconv.Atoi(ctx.Query("page", "1"))
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	level := ctx.Query("level", "")
	if page < 1 {
		page = 1
	}

	logs, err := c.labelerService.GetAuditLogs(ctx.UserContext(), level, limit, (page-1)*limit)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Audit logs", logs))
}
