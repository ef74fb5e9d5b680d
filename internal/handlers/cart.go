package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/admosplace/food_ordering/internal/cart"
	"github.com/admosplace/food_ordering/internal/logging"
	"github.com/admosplace/food_ordering/internal/models"
	"github.com/admosplace/food_ordering/internal/mykafka"
	"github.com/admosplace/food_ordering/internal/settings"
)

type CartHandler struct {
	DB        *gorm.DB
	Store     *cart.Store
	Settings  *settings.Service
	Producer  *mykafka.Producer
	JWTSecret []byte
}

func (h *CartHandler) publish(c echo.Context, userID uint, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, mykafka.TopicCartEvents, fmt.Sprint(userID), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish", "error", err)
	}
}

// load pulls the session cart and refreshes plate lines to the current fee.
func (h *CartHandler) load(c echo.Context, userID uint) (*cart.Cart, error) {
	crt, err := h.Store.Load(c.Request().Context(), sessionID(userID))
	if err != nil {
		return nil, err
	}
	crt.RefreshPlateFee(h.Settings.Get(settings.PlateFee))
	return crt, nil
}

func (h *CartHandler) save(c echo.Context, userID uint, crt *cart.Cart) error {
	return h.Store.Save(c.Request().Context(), sessionID(userID), crt)
}

func cartStatusCode(err error) int {
	switch {
	case errors.Is(err, cart.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, cart.ErrInvalidCartState):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *CartHandler) GetCart(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	crt, err := h.load(c, userID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"cart":     crt,
		"subtotal": crt.Subtotal(),
		"count":    crt.TotalCount(),
	})
}

func (h *CartHandler) AddItem(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req struct {
		FoodItemID uint `json:"food_item_id"`
		Quantity   int  `json:"quantity"`
		Plates     int  `json:"plates"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var item models.FoodItem
	if err := h.DB.Preload("Category").First(&item, req.FoodItemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, http.StatusNotFound, fmt.Errorf("food item %d not found", req.FoodItemID))
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	crt, err := h.load(c, userID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	if err := crt.AddItem(&item, req.Quantity, req.Plates, h.Settings.Get(settings.PlateFee)); err != nil {
		return errorResponse(c, cartStatusCode(err), err)
	}
	if err := h.save(c, userID, crt); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	h.publish(c, userID, map[string]any{
		"type":         "cart_item_added",
		"user_id":      userID,
		"food_item_id": item.ID,
		"quantity":     req.Quantity,
	})
	return c.JSON(http.StatusOK, crt)
}

func (h *CartHandler) UpdateQuantity(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	lineID := c.Param("id")
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	crt, err := h.load(c, userID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	// Plate lines carry no stock; food lines are checked against the live row.
	var item *models.FoodItem
	if foodID := foodItemIDFromLine(lineID); foodID != 0 {
		var row models.FoodItem
		if err := h.DB.Preload("Category").First(&row, foodID).Error; err == nil {
			item = &row
		}
	}

	if err := crt.UpdateQuantity(lineID, req.Quantity, item); err != nil {
		return errorResponse(c, cartStatusCode(err), err)
	}
	if err := h.save(c, userID, crt); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, crt)
}

func foodItemIDFromLine(lineID string) uint {
	raw, ok := strings.CutPrefix(lineID, "item_")
	if !ok {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

func (h *CartHandler) RemoveItem(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	crt, err := h.load(c, userID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	if err := crt.RemoveItem(c.Param("id")); err != nil {
		return errorResponse(c, cartStatusCode(err), err)
	}
	if err := h.save(c, userID, crt); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	h.publish(c, userID, map[string]any{
		"type":    "cart_item_removed",
		"user_id": userID,
		"line_id": c.Param("id"),
	})
	return c.JSON(http.StatusOK, crt)
}

func (h *CartHandler) CreateBag(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	crt, err := h.load(c, userID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	bag, err := crt.CreateBag()
	if err != nil {
		return errorResponse(c, cartStatusCode(err), err)
	}
	if err := h.save(c, userID, crt); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusCreated, bag)
}

func (h *CartHandler) SwitchBag(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	crt, err := h.load(c, userID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	bag, err := crt.SwitchBag(c.Param("id"))
	if err != nil {
		return errorResponse(c, cartStatusCode(err), err)
	}
	if err := h.save(c, userID, crt); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, bag)
}

func (h *CartHandler) DeleteBag(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	crt, err := h.load(c, userID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	if err := crt.DeleteBag(c.Param("id")); err != nil {
		return errorResponse(c, cartStatusCode(err), err)
	}
	if err := h.save(c, userID, crt); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, crt)
}

func (h *CartHandler) ClearCart(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	if err := h.Store.Clear(c.Request().Context(), sessionID(userID)); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	h.publish(c, userID, map[string]any{
		"type":    "cart_cleared",
		"user_id": userID,
	})
	return c.NoContent(http.StatusNoContent)
}
