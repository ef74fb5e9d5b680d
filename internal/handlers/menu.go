package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/admosplace/food_ordering/internal/logging"
	"github.com/admosplace/food_ordering/internal/models"
	"github.com/admosplace/food_ordering/internal/mykafka"
	"github.com/admosplace/food_ordering/internal/service/search"
	"github.com/admosplace/food_ordering/internal/settings"
	"github.com/admosplace/food_ordering/internal/util"
)

type MenuHandler struct {
	DB        *gorm.DB
	ES        *elasticsearch.Client
	Index     string
	Producer  *mykafka.Producer
	Settings  *settings.Service
	JWTSecret []byte
}

func (h *MenuHandler) publish(c echo.Context, key string, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, mykafka.TopicMenuEvents, key, event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish", "error", err)
	}
}

// reindex mirrors a food item into the search index. Search staleness is
// tolerated; failures only get logged.
func (h *MenuHandler) reindex(c echo.Context, item *models.FoodItem) {
	if h.ES == nil {
		return
	}
	ctx := c.Request().Context()
	if err := search.IndexItem(ctx, h.ES, h.Index, item); err != nil {
		logging.FromContext(ctx).Warn("search reindex", "food_item_id", item.ID, "error", err)
	}
}

func (h *MenuHandler) GetItem(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var item models.FoodItem
	if err := h.DB.Preload("Category").First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, http.StatusNotFound, err)
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *MenuHandler) GetItems(c echo.Context) error {
	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	q := h.DB.Model(&models.FoodItem{})
	if category := c.QueryParam("category"); category != "" {
		q = q.Joins("JOIN categories ON categories.id = food_items.category_id").
			Where("LOWER(categories.name) = LOWER(?)", category)
	}
	if c.QueryParam("available") == "true" {
		q = q.Where("availability = ? AND portions > 0", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	var items []models.FoodItem
	if err := q.Preload("Category").Order("food_items.id ASC").
		Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data": items,
		"meta": map[string]any{
			"page":        page,
			"size":        limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
			"has_prev":    page > 1,
			"has_next":    int64(offset+limit) < total,
		},
	})
}

type foodItemRequest struct {
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	CategoryID uint            `json:"category_id"`
	Portions   int             `json:"portions"`
	ImageURL   string          `json:"image_url"`
}

func (h *MenuHandler) CreateItem(c echo.Context) error {
	var req foodItemRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if req.Name == "" || !req.Price.GreaterThan(decimal.Zero) {
		return errorResponse(c, http.StatusBadRequest, fmt.Errorf("name and a positive price are required"))
	}
	if req.Portions < 0 {
		return errorResponse(c, http.StatusBadRequest, fmt.Errorf("portions cannot be negative"))
	}

	item := models.FoodItem{
		Name:         req.Name,
		Price:        req.Price,
		CategoryID:   req.CategoryID,
		Portions:     req.Portions,
		Availability: req.Portions > 0,
		ImageURL:     req.ImageURL,
	}
	if err := h.DB.Create(&item).Error; err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if err := h.DB.Preload("Category").First(&item, item.ID).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	h.reindex(c, &item)
	h.publish(c, fmt.Sprint(item.ID), map[string]any{
		"type":         "food_item_created",
		"food_item_id": item.ID,
		"name":         item.Name,
	})
	return c.JSON(http.StatusCreated, item)
}

func (h *MenuHandler) PatchItem(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var item models.FoodItem
	if err := h.DB.Preload("Category").First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, http.StatusNotFound, err)
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	var req foodItemRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	if req.Name != "" {
		item.Name = req.Name
	}
	if req.Price.GreaterThan(decimal.Zero) {
		item.Price = req.Price
	}
	if req.CategoryID != 0 {
		item.CategoryID = req.CategoryID
	}
	if req.ImageURL != "" {
		item.ImageURL = req.ImageURL
	}

	if err := h.DB.Save(&item).Error; err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if err := h.DB.Preload("Category").First(&item, item.ID).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	h.reindex(c, &item)
	h.publish(c, fmt.Sprint(item.ID), map[string]any{
		"type":         "food_item_updated",
		"food_item_id": item.ID,
		"name":         item.Name,
	})
	return c.JSON(http.StatusOK, item)
}

// Restock sets the absolute portion count. Availability follows portions.
func (h *MenuHandler) Restock(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var req struct {
		Portions int `json:"portions"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if req.Portions < 0 {
		return errorResponse(c, http.StatusBadRequest, fmt.Errorf("portions cannot be negative"))
	}

	var item models.FoodItem
	if err := h.DB.Preload("Category").First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, http.StatusNotFound, err)
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	item.Portions = req.Portions
	item.Availability = req.Portions > 0
	if err := h.DB.Save(&item).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	h.reindex(c, &item)
	h.publish(c, fmt.Sprint(item.ID), map[string]any{
		"type":         "food_item_restocked",
		"food_item_id": item.ID,
		"portions":     item.Portions,
	})
	return c.JSON(http.StatusOK, item)
}

// MarkOutOfStock zeroes portions, which is what out-of-stock means here.
func (h *MenuHandler) MarkOutOfStock(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var item models.FoodItem
	if err := h.DB.Preload("Category").First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, http.StatusNotFound, err)
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	item.Portions = 0
	item.Availability = false
	if err := h.DB.Save(&item).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	h.reindex(c, &item)
	h.publish(c, fmt.Sprint(item.ID), map[string]any{
		"type":         "food_item_out_of_stock",
		"food_item_id": item.ID,
	})
	return c.JSON(http.StatusOK, item)
}

func (h *MenuHandler) DeleteItem(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if err := h.DB.Delete(&models.FoodItem{}, id).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	if h.ES != nil {
		ctx := c.Request().Context()
		if err := search.DeleteItem(ctx, h.ES, h.Index, uint(id)); err != nil {
			logging.FromContext(ctx).Warn("search delete", "food_item_id", id, "error", err)
		}
	}
	h.publish(c, fmt.Sprint(id), map[string]any{
		"type":         "food_item_deleted",
		"food_item_id": id,
	})
	return c.NoContent(http.StatusNoContent)
}

func (h *MenuHandler) GetCategories(c echo.Context) error {
	var categories []models.Category
	if err := h.DB.Order("id ASC").Find(&categories).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, categories)
}

func (h *MenuHandler) CreateCategory(c echo.Context) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if req.Name == "" {
		return errorResponse(c, http.StatusBadRequest, fmt.Errorf("name is required"))
	}

	category := models.Category{Name: req.Name}
	if err := h.DB.Create(&category).Error; err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusCreated, category)
}

func (h *MenuHandler) GetSettings(c echo.Context) error {
	keys := []string{settings.ServiceCharge, settings.VATPercentage, settings.DeliveryFeeBase, settings.PlateFee}
	out := make(map[string]decimal.Decimal, len(keys))
	for _, k := range keys {
		out[k] = h.Settings.Get(k)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *MenuHandler) UpdateSetting(c echo.Context) error {
	operatorID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req struct {
		SettingType string          `json:"setting_type"`
		Value       decimal.Decimal `json:"value"`
		Description string          `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	setting, err := h.Settings.Set(req.SettingType, req.Value, req.Description, operatorID)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusOK, setting)
}
