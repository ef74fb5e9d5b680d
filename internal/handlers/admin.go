package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/admosplace/food_ordering/internal/dashboard"
	"github.com/admosplace/food_ordering/internal/orders"
	"github.com/admosplace/food_ordering/internal/payment"
	"github.com/admosplace/food_ordering/internal/util"
)

// AdminHandler bundles the operator surface: dashboard stats, order
// progression and the consistency tooling.
type AdminHandler struct {
	Dashboard *dashboard.Service
	Orders    *orders.Service
	Payments  *payment.Service
	JWTSecret []byte
}

func (h *AdminHandler) Stats(c echo.Context) error {
	stats, err := h.Dashboard.Stats(c.Request().Context())
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *AdminHandler) TopCustomers(c echo.Context) error {
	limit := util.ParseIntDefault(c.QueryParam("limit"), 10)
	customers, err := h.Dashboard.TopCustomers(c.Request().Context(), limit)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, customers)
}

func (h *AdminHandler) RecentOrders(c echo.Context) error {
	limit := util.ParseIntDefault(c.QueryParam("limit"), 20)
	list, err := h.Dashboard.RecentOrders(c.Request().Context(), limit)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *AdminHandler) GetOrder(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	order, err := h.Orders.Get(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			return errorResponse(c, http.StatusNotFound, err)
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) AdvanceOrder(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	order, err := h.Orders.Advance(c.Request().Context(), uint(id), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			return errorResponse(c, http.StatusNotFound, err)
		case errors.Is(err, orders.ErrInvalidTransition):
			return errorResponse(c, http.StatusUnprocessableEntity, err)
		default:
			return errorResponse(c, http.StatusInternalServerError, err)
		}
	}
	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) Notifications(c echo.Context) error {
	notes, err := h.Orders.Notifications(c.Request().Context())
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, notes)
}

func (h *AdminHandler) MarkNotificationSeen(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if err := h.Orders.MarkNotificationSeen(c.Request().Context(), uint(id)); err != nil {
		return errorResponse(c, http.StatusNotFound, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AuditConsistency reports drift between payments and orders without
// changing anything.
func (h *AdminHandler) AuditConsistency(c echo.Context) error {
	payFindings, err := h.Payments.AuditPayments(c.Request().Context())
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	orderFindings, err := h.Payments.AuditOrders(c.Request().Context())
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"payment_findings": payFindings,
		"order_findings":   orderFindings,
		"clean":            len(payFindings) == 0 && len(orderFindings) == 0,
	})
}

// FixPayments rewrites drifted payment amounts. Deliberate, operator-only.
func (h *AdminHandler) FixPayments(c echo.Context) error {
	operatorID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}
	fixed, err := h.Payments.FixInconsistentPayments(c.Request().Context(), operatorID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"fixed": fixed})
}

// SweepPending re-verifies stale pending payments against the gateway.
func (h *AdminHandler) SweepPending(c echo.Context) error {
	minutes := util.ParseIntDefault(c.QueryParam("older_than_minutes"), 30)
	if minutes < 1 {
		return errorResponse(c, http.StatusBadRequest, fmt.Errorf("older_than_minutes must be positive"))
	}
	confirmed, err := h.Payments.SweepPending(c.Request().Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"confirmed": confirmed})
}
