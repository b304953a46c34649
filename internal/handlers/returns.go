package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/commerce/internal/models"
	"github.com/example/commerce/internal/services"
	"github.com/example/commerce/internal/utils"
)

// ReturnHandler exposes the return request workflow.
type ReturnHandler struct {
	returns *services.ReturnService
}

func NewReturnHandler(returns *services.ReturnService) *ReturnHandler {
	return &ReturnHandler{returns: returns}
}

type reviewReturnRequest struct {
	Remarks string `json:"remarks"`
}

func (h *ReturnHandler) Create(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var in services.CreateReturnInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	in.UserID = userID

	ret, err := h.returns.CreateReturn(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": ret})
}

func (h *ReturnHandler) List(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	return h.list(c, &userID)
}

func (h *ReturnHandler) ListAll(c *fiber.Ctx) error {
	return h.list(c, nil)
}

func (h *ReturnHandler) list(c *fiber.Ctx, userID *uuid.UUID) error {
	pg := utils.ParsePagination(c)
	returns, total, err := h.returns.ListReturns(c.UserContext(), services.ReturnFilter{
		UserID: userID,
		Status: c.Query("status"),
		Offset: pg.Offset,
		Limit:  pg.Limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"data":       returns,
		"pagination": pg.Meta(total),
	})
}

func (h *ReturnHandler) Get(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	ret, err := h.returns.GetReturn(c.UserContext(), userID, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": ret})
}

func (h *ReturnHandler) Cancel(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	ret, err := h.returns.CancelReturn(c.UserContext(), userID, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": ret})
}

// Approve approves a return and refunds it. A failed refund still answers
// with the approved return attached to the error.
func (h *ReturnHandler) Approve(c *fiber.Ctx) error {
	adminID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req reviewReturnRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ret, err := h.returns.ApproveReturn(c.UserContext(), adminID, id, req.Remarks)
	return respondReturn(c, ret, err)
}

func (h *ReturnHandler) Reject(c *fiber.Ctx) error {
	adminID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req reviewReturnRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ret, err := h.returns.RejectReturn(c.UserContext(), adminID, id, req.Remarks)
	return respondReturn(c, ret, err)
}

func respondReturn(c *fiber.Ctx, ret *models.ReturnOrder, err error) error {
	if err != nil {
		if ret != nil {
			return respondError(c, err, ret)
		}
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": ret})
}
