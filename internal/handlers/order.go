package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/avdonin/webmarket/internal/middleware"
	"github.com/avdonin/webmarket/internal/models"
	"github.com/avdonin/webmarket/internal/mykafka"
	"github.com/avdonin/webmarket/internal/order"
)

type OrderHandler struct {
	Orders   *order.Service
	Producer *mykafka.Producer
}

func (h *OrderHandler) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	id := middleware.FromContext(c)
	if !id.Authenticated() {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var req struct {
		Items []order.Item `json:"items"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	ord, items, err := h.Orders.Create(ctx, id.User.ID, req.Items)
	if err != nil {
		return httpError(err)
	}

	publish(ctx, c, h.Producer, "order_events", fmt.Sprint(id.User.ID), map[string]any{
		"type":     "order_created",
		"user_id":  id.User.ID,
		"order_id": ord.ID,
		"total":    ord.Total,
	})

	return c.JSON(http.StatusCreated, echo.Map{
		"order_id": ord.ID,
		"total":    ord.Total,
		"status":   ord.Status,
		"items":    items,
	})
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()

	id := middleware.FromContext(c)
	if !id.Authenticated() {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	orders, err := h.Orders.List(ctx, id.User.ID, limit, offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) GetProduct(c echo.Context) error {
	pid, err := strconv.Atoi(c.Param("id"))
	if err != nil || pid <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	p, err := h.Orders.GetProduct(c.Request().Context(), uint(pid))
	if err != nil {
		if errors.Is(err, order.ErrProductNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *OrderHandler) ListProducts(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	products, err := h.Orders.ListProducts(c.Request().Context(), limit, offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, products)
}

func (h *OrderHandler) CreateProduct(c echo.Context) error {
	var p models.Product
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := h.Orders.CreateProduct(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}
