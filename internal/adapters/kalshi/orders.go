package kalshi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// PlaceExit implements ports.OrderExecutor with a limit sell of the whole
// held side.
func (c *Client) PlaceExit(ctx context.Context, order ports.ExitOrder) (string, error) {
	if order.Quantity <= 0 {
		return "", fmt.Errorf("kalshi.PlaceExit: quantity must be positive, got %d", order.Quantity)
	}
	resp, err := c.placeOrder(ctx, "sell", order.MarketID, order.Side, order.Quantity, order.Price)
	if err != nil {
		return "", fmt.Errorf("kalshi.PlaceExit %s: %w", order.MarketID, err)
	}
	slog.Info("kalshi: exit placed",
		"market", order.MarketID,
		"side", order.Side,
		"qty", order.Quantity,
		"price", order.Price,
		"reason", order.Reason,
		"order_id", resp.OrderID,
	)
	return resp.OrderID, nil
}

// PlaceEntry implements ports.EntryExecutor with a limit buy. The returned
// fill carries what executed immediately; a resting order reports zero.
func (c *Client) PlaceEntry(ctx context.Context, order ports.EntryOrder) (ports.Fill, error) {
	if order.Quantity <= 0 {
		return ports.Fill{}, fmt.Errorf("kalshi.PlaceEntry: quantity must be positive, got %d", order.Quantity)
	}
	resp, err := c.placeOrder(ctx, "buy", order.MarketID, order.Side, order.Quantity, order.Price)
	if err != nil {
		return ports.Fill{}, fmt.Errorf("kalshi.PlaceEntry %s: %w", order.MarketID, err)
	}

	filled := resp.FillCount
	if filled == 0 && resp.Status == "executed" {
		filled = order.Quantity - resp.RemainingCount
	}
	price := order.Price
	cents := resp.YesPrice
	if order.Side == domain.SideNo {
		cents = resp.NoPrice
	}
	if cents > 0 {
		price = centsToDollars(int64(cents))
	}
	return ports.Fill{OrderID: resp.OrderID, Quantity: filled, Price: price}, nil
}

// GetOrder implements ports.OrderTracker.
func (c *Client) GetOrder(ctx context.Context, orderID string) (ports.OrderStatus, error) {
	var resp orderResponse
	if err := c.get(ctx, "/portfolio/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return ports.OrderStatus{}, fmt.Errorf("kalshi.GetOrder %s: %w", orderID, err)
	}
	o := resp.Order
	if o.OrderID == "" {
		o.OrderID = orderID
	}
	return ports.OrderStatus{
		OrderID:   o.OrderID,
		Status:    o.Status,
		Filled:    o.FillCount,
		Remaining: o.RemainingCount,
	}, nil
}

// CancelOrder implements ports.OrderTracker. Contracts that already filled
// stay filled.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	var resp orderResponse
	if err := c.send(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return fmt.Errorf("kalshi.CancelOrder %s: %w", orderID, err)
	}
	slog.Info("kalshi: order canceled", "order_id", orderID, "filled", resp.Order.FillCount)
	return nil
}

func (c *Client) placeOrder(ctx context.Context, action, ticker string, side domain.Side, qty int, price float64) (apiOrder, error) {
	req := orderRequest{
		Ticker:        domain.NormalizeTicker(ticker),
		Action:        action,
		Side:          string(side),
		Count:         qty,
		Type:          "limit",
		ClientOrderID: uuid.NewString(),
	}
	if side == domain.SideNo {
		req.NoPrice = toCents(price)
	} else {
		req.YesPrice = toCents(price)
	}

	var resp orderResponse
	if err := c.post(ctx, "/portfolio/orders", req, &resp); err != nil {
		return apiOrder{}, err
	}
	if resp.Order.OrderID == "" {
		return apiOrder{}, c.fail(ports.KindMalformed, 0, errors.New("order response without order_id"))
	}
	return resp.Order, nil
}
