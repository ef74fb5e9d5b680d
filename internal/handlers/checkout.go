package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/admosplace/food_ordering/internal/cart"
	"github.com/admosplace/food_ordering/internal/logging"
	"github.com/admosplace/food_ordering/internal/payment"
	"github.com/admosplace/food_ordering/internal/paystack"
	"github.com/admosplace/food_ordering/internal/pricing"
	"github.com/admosplace/food_ordering/internal/settings"
)

type CheckoutHandler struct {
	Store          *cart.Store
	Settings       *settings.Service
	Payments       *payment.Service
	Restaurant     string
	PaystackSecret string
	JWTSecret      []byte
}

func (h *CheckoutHandler) estimator() *pricing.DeliveryEstimator {
	return &pricing.DeliveryEstimator{
		Origin:  h.Restaurant,
		BaseFee: h.Settings.Get(settings.DeliveryFeeBase),
	}
}

// DeliveryFee quotes the fee for an address before checkout.
func (h *CheckoutHandler) DeliveryFee(c echo.Context) error {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if strings.TrimSpace(req.Address) == "" {
		return errorResponse(c, http.StatusBadRequest, fmt.Errorf("address is required"))
	}

	fee, distance := h.estimator().Estimate(req.Address)
	return c.JSON(http.StatusOK, map[string]any{
		"delivery_fee": fee,
		"distance_km":  distance,
	})
}

// Quote prices the current cart without touching the gateway.
func (h *CheckoutHandler) Quote(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req struct {
		Address string `json:"address"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	crt, err := h.Store.Load(c.Request().Context(), sessionID(userID))
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	crt.RefreshPlateFee(h.Settings.Get(settings.PlateFee))
	if !crt.HasItems() {
		return errorResponse(c, http.StatusUnprocessableEntity,
			fmt.Errorf("%w: cart is empty", cart.ErrInvalidCartState))
	}

	fee, _ := h.estimator().Estimate(req.Address)
	quote := pricing.Compute(crt.Bags,
		h.Settings.Get(settings.ServiceCharge),
		h.Settings.Get(settings.VATPercentage),
		fee)
	return c.JSON(http.StatusOK, quote)
}

// Initialize stages the checkout: it freezes the cart into a snapshot, opens
// the gateway transaction and hands back the authorization URL. No order is
// created here.
func (h *CheckoutHandler) Initialize(c echo.Context) error {
	userID, err := GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}
	email, err := GetEmail(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req struct {
		DeliveryAddress string `json:"delivery_address"`
		ContactPhone    string `json:"contact_phone"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if strings.TrimSpace(req.DeliveryAddress) == "" || strings.TrimSpace(req.ContactPhone) == "" {
		return errorResponse(c, http.StatusBadRequest,
			fmt.Errorf("delivery address and contact phone are required"))
	}

	session := sessionID(userID)
	crt, err := h.Store.Load(c.Request().Context(), session)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	crt.RefreshPlateFee(h.Settings.Get(settings.PlateFee))
	if !crt.HasItems() {
		return errorResponse(c, http.StatusUnprocessableEntity,
			fmt.Errorf("%w: cart is empty", cart.ErrInvalidCartState))
	}

	fee, _ := h.estimator().Estimate(req.DeliveryAddress)
	quote := pricing.Compute(crt.Bags,
		h.Settings.Get(settings.ServiceCharge),
		h.Settings.Get(settings.VATPercentage),
		fee)

	snap := &cart.Snapshot{
		UserID:          userID,
		SessionID:       session,
		Bags:            crt.Bags,
		DeliveryAddress: req.DeliveryAddress,
		ContactPhone:    req.ContactPhone,
		DeliveryFee:     quote.DeliveryFee,
		ServiceCharge:   quote.ServiceCharge,
		VATPercentage:   quote.VATPercentage,
		VATAmount:       quote.VATAmount,
		TakenAt:         time.Now().UTC(),
	}

	result, err := h.Payments.Initiate(c.Request().Context(), userID, email, snap)
	if err != nil {
		return errorResponse(c, paymentStatusCode(err), err)
	}
	return c.JSON(http.StatusOK, result)
}

func paymentStatusCode(err error) int {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, paystack.ErrGatewayUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, cart.ErrInvalidCartState):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Callback handles the browser redirect back from the gateway. It runs the
// same confirmation as the webhook and the manual verify; whichever path
// lands first creates the order, the rest see it already confirmed.
func (h *CheckoutHandler) Callback(c echo.Context) error {
	reference := c.QueryParam("reference")
	if reference == "" {
		reference = c.QueryParam("trxref")
	}
	if reference == "" {
		return errorResponse(c, http.StatusBadRequest, fmt.Errorf("missing payment reference"))
	}
	return h.confirmJSON(c, reference)
}

// Verify is the user-initiated "I paid, check again" endpoint.
func (h *CheckoutHandler) Verify(c echo.Context) error {
	return h.confirmJSON(c, c.Param("reference"))
}

func (h *CheckoutHandler) confirmJSON(c echo.Context, reference string) error {
	result, err := h.Payments.Confirm(c.Request().Context(), reference)
	if err != nil {
		return errorResponse(c, paymentStatusCode(err), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":            result.Payment.Status,
		"reference":         result.Payment.Reference,
		"order":             result.Order,
		"already_confirmed": result.AlreadyConfirmed,
	})
}

// Webhook receives gateway events. The signature covers the raw body, so the
// body must be read before any parsing. Unverifiable requests get 401 and no
// processing. Deterministic confirmation failures still return 200 so the
// gateway does not retry forever against the same outcome; a gateway outage
// during verify is transient, so that one returns 503 to request a retry.
func (h *CheckoutHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	signature := c.Request().Header.Get("x-paystack-signature")
	if !paystack.ValidSignature(body, signature, h.PaystackSecret) {
		return errorResponse(c, http.StatusUnauthorized, fmt.Errorf("invalid webhook signature"))
	}

	var event struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	log := logging.FromContext(c.Request().Context())
	if event.Event != "charge.success" {
		log.Info("webhook event ignored", "event", event.Event)
		return c.NoContent(http.StatusOK)
	}
	if event.Data.Reference == "" {
		return errorResponse(c, http.StatusBadRequest, fmt.Errorf("webhook missing reference"))
	}

	if _, err := h.Payments.Confirm(c.Request().Context(), event.Data.Reference); err != nil {
		log.Error("webhook confirmation", "reference", event.Data.Reference, "error", err)
		if errors.Is(err, paystack.ErrGatewayUnavailable) {
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}
