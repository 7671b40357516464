package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"reservation-service/internal/auth"
	"reservation-service/internal/domain"
	"reservation-service/internal/reservations"
	stderrors "reservation-service/pkg/errors"
	"reservation-service/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GuestSessionHeader lets clients send the guest session id without a body
const GuestSessionHeader = middleware.GuestSessionHeader

const maxBeaconBytes = 4 << 10

// ReservationService is the reservation core as seen by the HTTP layer
type ReservationService interface {
	CreateReservationsForCheckout(ctx context.Context, items []domain.Item, owner domain.Owner) (*reservations.CheckoutReservation, error)
	ReleaseReservations(ctx context.Context, ids []string) error
	ReleaseUserReservations(ctx context.Context, owner domain.Owner) error
	CleanupExpiredReservations(ctx context.Context) (int, error)
	CompleteReservations(ctx context.Context, checkoutSessionID string) error
	LinkReservationsToCheckout(ctx context.Context, ids []string, checkoutSessionID string) error
	GetUserReservationExpiry(ctx context.Context, owner domain.Owner) (*time.Time, error)
	GetAvailableStock(ctx context.Context, productID string) (int, error)
	GetAvailableStockBulk(ctx context.Context, productIDs []string) (map[string]int, error)
}

// TokenValidator verifies the shopper token a beacon carries in its body
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.ShopperClaims, error)
}

type ReservationHandler struct {
	logger  *zap.Logger
	service ReservationService
	tokens  TokenValidator
}

// NewReservationHandler builds the handler. tokens may be nil, in which case beacons only release guest holds.
func NewReservationHandler(service ReservationService, tokens TokenValidator, logger *zap.Logger) *ReservationHandler {
	return &ReservationHandler{
		logger:  logger,
		service: service,
		tokens:  tokens,
	}
}

// resolveOwner applies the identity precedence: bearer token, then body, then header, then query
func resolveOwner(c *gin.Context, bodySessionID string) (domain.Owner, error) {
	sessionID := bodySessionID
	if sessionID == "" {
		sessionID = c.GetHeader(GuestSessionHeader)
	}
	if sessionID == "" {
		sessionID = c.Query("guestSessionId")
	}
	return domain.ResolveOwner(middleware.GetUserID(c), strings.TrimSpace(sessionID))
}

// respondError maps core errors to the standard error body and hands it to ErrorHandler
func (h *ReservationHandler) respondError(c *gin.Context, operation string, err error) {
	var stdErr *stderrors.StandardError
	switch {
	case errors.Is(err, domain.ErrIdentificationRequired):
		stdErr = stderrors.NewIdentificationRequired(domain.ErrIdentificationRequired.Message)
	case errors.Is(err, domain.ErrInvalidItems):
		stdErr = stderrors.NewValidationError(domain.ErrInvalidItems.Message, "items")
	case errors.Is(err, domain.ErrCheckoutSessionRequired):
		stdErr = stderrors.NewValidationError(domain.ErrCheckoutSessionRequired.Message, "checkoutSessionId")
	case errors.Is(err, domain.ErrProductNotFound):
		stdErr = stderrors.NewProductNotFound(err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		stdErr = stderrors.NewInsufficientStock(err.Error())
	default:
		h.logger.Error("Reservation operation failed",
			zap.String("operation", operation),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
		stdErr = stderrors.NewStoreError(operation, err)
	}
	_ = c.Error(stdErr)
}

func (h *ReservationHandler) badRequest(c *gin.Context, err error) {
	h.logger.Warn("Invalid request", zap.String("path", c.FullPath()), zap.Error(err))
	_ = c.Error(stderrors.NewInvalidRequest("invalid request body", err.Error()))
}

// CreateReservations handles POST /api/v1/reservations
// @Summary      Hold cart contents for checkout
// @Description  Cancels the shopper's previous holds and creates one hold per item, all expiring together.
// @Description  **Idempotency**: send X-Request-ID to have a retried request replay the first response.
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        X-Request-ID        header    string                      false  "Request ID for idempotency"
// @Param        X-Guest-Session-ID  header    string                      false  "Guest session id"
// @Param        request             body      CreateReservationsRequest  true   "Cart contents"
// @Success      201                 {object}  CreateReservationsResponse
// @Success      200                 {object}  CreateReservationsResponse  "Duplicate request, cached response"
// @Failure      400                 {object}  ErrorResponse  "No shopper identity or invalid items"
// @Failure      401                 {object}  ErrorResponse  "Invalid bearer token"
// @Failure      404                 {object}  ErrorResponse  "Unknown product"
// @Failure      409                 {object}  ErrorResponse  "Not enough stock (strict mode only)"
// @Failure      500                 {object}  ErrorResponse
// @Router       /reservations [post]
func (h *ReservationHandler) CreateReservations(c *gin.Context) {
	var req CreateReservationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	owner, err := resolveOwner(c, req.GuestSessionID)
	if err != nil {
		h.respondError(c, "create reservations", err)
		return
	}

	items := make([]domain.Item, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.Item{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	result, err := h.service.CreateReservationsForCheckout(c.Request.Context(), items, owner)
	if err != nil {
		h.respondError(c, "create reservations", err)
		return
	}

	c.JSON(http.StatusCreated, CreateReservationsResponse{
		Success:        true,
		ReservationIDs: result.ReservationIDs,
		ExpiresAt:      result.ExpiresAt,
	})
}

// ReleaseReservations handles POST /api/v1/reservations/release
// @Summary      Release holds by id
// @Description  Unknown ids and holds that already ended are ignored.
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Param        request  body      ReleaseReservationsRequest  true  "Reservation ids"
// @Success      200      {object}  SuccessResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /reservations/release [post]
func (h *ReservationHandler) ReleaseReservations(c *gin.Context) {
	var req ReleaseReservationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.service.ReleaseReservations(c.Request.Context(), req.ReservationIDs); err != nil {
		h.respondError(c, "release reservations", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// ReleaseUserReservations handles POST /api/v1/reservations/release-user
// @Summary      Release every hold of the current shopper
// @Description  Called when the shopper leaves checkout. Safe to repeat.
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        X-Guest-Session-ID  header    string        false  "Guest session id"
// @Param        request             body      OwnerRequest  false  "Guest session id"
// @Success      200                 {object}  SuccessResponse
// @Failure      400                 {object}  ErrorResponse
// @Failure      500                 {object}  ErrorResponse
// @Router       /reservations/release-user [post]
func (h *ReservationHandler) ReleaseUserReservations(c *gin.Context) {
	var req OwnerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	owner, err := resolveOwner(c, req.GuestSessionID)
	if err != nil {
		h.respondError(c, "release shopper reservations", err)
		return
	}

	if err := h.service.ReleaseUserReservations(c.Request.Context(), owner); err != nil {
		h.respondError(c, "release shopper reservations", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// ReleaseBeacon handles POST /api/v1/reservations/beacon
// @Summary      Unload beacon release
// @Description  Fire-and-forget release sent by navigator.sendBeacon. Accepts any content type and always answers 204.
// @Description  sendBeacon cannot set headers, so signed-in shoppers put their access token in the body.
// @Tags         reservations
// @Accept       plain
// @Param        request  body  BeaconRequest  true  "Guest session id or access token"
// @Success      204
// @Router       /reservations/beacon [post]
func (h *ReservationHandler) ReleaseBeacon(c *gin.Context) {
	defer c.Status(http.StatusNoContent)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBeaconBytes))
	if err != nil {
		h.logger.Debug("Unreadable beacon body", zap.Error(err))
		return
	}

	var req BeaconRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.logger.Debug("Malformed beacon body", zap.Error(err))
		}
	}

	owner, err := h.beaconOwner(c, req)
	if err != nil {
		return
	}

	// the page is already gone; finish the release even if the connection drops
	ctx := context.WithoutCancel(c.Request.Context())
	if err := h.service.ReleaseUserReservations(ctx, owner); err != nil {
		h.logger.Warn("Beacon release failed",
			zap.String("owner", owner.String()),
			zap.Error(err),
		)
	}
}

// beaconOwner prefers a valid token from the body over the request identity
func (h *ReservationHandler) beaconOwner(c *gin.Context, req BeaconRequest) (domain.Owner, error) {
	if req.Token != "" && h.tokens != nil {
		claims, err := h.tokens.ValidateToken(req.Token)
		if err == nil {
			return domain.ResolveOwner(claims.UserID(), "")
		}
		h.logger.Debug("Beacon token rejected", zap.Error(err))
	}
	return resolveOwner(c, req.SessionID)
}

// GetReservationExpiry handles GET /api/v1/reservations/expiry
// @Summary      Current hold expiry
// @Description  Earliest expiry among the shopper's live holds; null when there are none. Drives the checkout countdown.
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        guestSessionId      query     string  false  "Guest session id"
// @Param        X-Guest-Session-ID  header    string  false  "Guest session id"
// @Success      200                 {object}  ExpiryResponse
// @Failure      400                 {object}  ErrorResponse
// @Failure      500                 {object}  ErrorResponse
// @Router       /reservations/expiry [get]
func (h *ReservationHandler) GetReservationExpiry(c *gin.Context) {
	owner, err := resolveOwner(c, "")
	if err != nil {
		h.respondError(c, "reservation expiry", err)
		return
	}

	expiresAt, err := h.service.GetUserReservationExpiry(c.Request.Context(), owner)
	if err != nil {
		h.respondError(c, "reservation expiry", err)
		return
	}
	c.JSON(http.StatusOK, ExpiryResponse{Success: true, ExpiresAt: expiresAt})
}

// LinkReservations handles POST /api/v1/reservations/link
// @Summary      Link holds to a payment session
// @Description  Attaches the payment provider's checkout session id so the order finalizer can complete the holds.
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Param        request  body      LinkReservationsRequest  true  "Reservation ids and checkout session id"
// @Success      200      {object}  SuccessResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /reservations/link [post]
func (h *ReservationHandler) LinkReservations(c *gin.Context) {
	var req LinkReservationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.service.LinkReservationsToCheckout(c.Request.Context(), req.ReservationIDs, req.CheckoutSessionID); err != nil {
		h.respondError(c, "link reservations", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// GetAvailableStock handles GET /api/v1/stock/:productId
// @Summary      Available stock of one product
// @Tags         stock
// @Produce      json
// @Param        productId  path      string  true  "Product ID"
// @Success      200        {object}  StockResponse
// @Failure      404        {object}  ErrorResponse
// @Failure      500        {object}  ErrorResponse
// @Router       /stock/{productId} [get]
func (h *ReservationHandler) GetAvailableStock(c *gin.Context) {
	productID := c.Param("productId")

	available, err := h.service.GetAvailableStock(c.Request.Context(), productID)
	if err != nil {
		h.respondError(c, "available stock", err)
		return
	}
	c.JSON(http.StatusOK, StockResponse{
		Success:        true,
		ProductID:      productID,
		AvailableStock: available,
	})
}

// GetAvailableStockBulk handles GET /api/v1/stock?ids=a,b
// @Summary      Available stock of many products
// @Description  Computed from one grouped query. Unknown product ids are omitted.
// @Tags         stock
// @Produce      json
// @Param        ids  query     string  true  "Comma-separated product ids"
// @Success      200  {object}  BulkStockResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /stock [get]
func (h *ReservationHandler) GetAvailableStockBulk(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		_ = c.Error(stderrors.NewValidationError("at least one product id is required", "ids"))
		return
	}

	stock, err := h.service.GetAvailableStockBulk(c.Request.Context(), ids)
	if err != nil {
		h.respondError(c, "available stock", err)
		return
	}
	c.JSON(http.StatusOK, BulkStockResponse{Success: true, Stock: stock})
}

// CleanupExpiredReservations handles POST /api/v1/internal/reservations/cleanup
// @Summary      Run the expiry sweep
// @Description  Intended for a scheduled job. Safe to call concurrently.
// @Tags         internal
// @Produce      json
// @Param        X-Internal-Token  header    string  true  "Internal API token"
// @Success      200               {object}  CleanupResponse
// @Failure      401               {object}  ErrorResponse
// @Failure      500               {object}  ErrorResponse
// @Router       /internal/reservations/cleanup [post]
func (h *ReservationHandler) CleanupExpiredReservations(c *gin.Context) {
	count, err := h.service.CleanupExpiredReservations(c.Request.Context())
	if err != nil {
		h.respondError(c, "cleanup expired reservations", err)
		return
	}
	c.JSON(http.StatusOK, CleanupResponse{Success: true, ReleasedCount: count})
}

// CompleteReservations handles POST /api/v1/internal/checkout-sessions/:id/complete
// @Summary      Complete the holds of a paid checkout session
// @Description  Called by the order finalizer after payment succeeds. Safe to repeat.
// @Tags         internal
// @Produce      json
// @Param        X-Internal-Token  header    string  true  "Internal API token"
// @Param        id                path      string  true  "Checkout session id"
// @Success      200               {object}  SuccessResponse
// @Failure      401               {object}  ErrorResponse
// @Failure      500               {object}  ErrorResponse
// @Router       /internal/checkout-sessions/{id}/complete [post]
func (h *ReservationHandler) CompleteReservations(c *gin.Context) {
	if err := h.service.CompleteReservations(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "complete reservations", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// RegisterRoutes mounts the reservation and stock endpoints on v1.
// shopperAuth identifies shoppers; internalAuth alone guards the endpoints reserved for cron jobs and the order finalizer.
func (h *ReservationHandler) RegisterRoutes(v1 *gin.RouterGroup, shopperAuth, internalAuth gin.HandlerFunc) {
	reservationRoutes := v1.Group("/reservations")
	reservationRoutes.Use(shopperAuth)
	{
		reservationRoutes.POST("", h.CreateReservations)
		reservationRoutes.POST("/release", h.ReleaseReservations)
		reservationRoutes.POST("/release-user", h.ReleaseUserReservations)
		reservationRoutes.POST("/beacon", h.ReleaseBeacon)
		reservationRoutes.GET("/expiry", h.GetReservationExpiry)
		reservationRoutes.POST("/link", h.LinkReservations)
	}

	stock := v1.Group("/stock")
	stock.Use(shopperAuth)
	{
		stock.GET("", h.GetAvailableStockBulk)
		stock.GET("/:productId", h.GetAvailableStock)
	}

	internal := v1.Group("/internal")
	internal.Use(internalAuth)
	{
		internal.POST("/reservations/cleanup", h.CleanupExpiredReservations)
		internal.POST("/checkout-sessions/:id/complete", h.CompleteReservations)
	}
}
