package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/admosplace/food_ordering/internal/orders"
)

type OrderHandler struct {
	Orders    *orders.Service
	JWTSecret []byte
}

// History lists the caller's paid orders, newest first.
func (h *OrderHandler) History(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	entries, err := h.Orders.History(c.Request().Context(), userID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// Track returns one of the caller's orders.
func (h *OrderHandler) Track(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

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
	if order.UserID != userID {
		return errorResponse(c, http.StatusNotFound, orders.ErrOrderNotFound)
	}
	return c.JSON(http.StatusOK, order)
}
