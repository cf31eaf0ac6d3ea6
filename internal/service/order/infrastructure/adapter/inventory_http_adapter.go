package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"orderflow/internal/pkg/httpclient"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/order/domain/port"
)

// stockResponse 是库存服务扣减成功时的响应体
type stockResponse struct {
	Message     string `json:"message"`
	ProductID   int64  `json:"product_id"`
	NewQuantity int    `json:"new_quantity"`
}

// InventoryHTTPAdapter 实现了 port.InventoryService 接口。
type InventoryHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

// NewInventoryHTTPAdapter 创建一个新的库存服务适配器。
func NewInventoryHTTPAdapter(client *httpclient.Client, baseURL string) *InventoryHTTPAdapter {
	return &InventoryHTTPAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// DecreaseStock 调用 PATCH {base}/products/{id}/stock/decrease?qty=N，只尝试一次。
func (a *InventoryHTTPAdapter) DecreaseStock(ctx context.Context, orderID string, productID int64, quantity int) error {
	fail := func(kind port.FailureKind, reason string, err error) error {
		return &port.InventoryError{ProductID: productID, Quantity: quantity, Kind: kind, Reason: reason, Err: err}
	}

	resp, err := a.client.Do(ctx, "inventory.DecreaseStock", httpclient.Request{
		Method: http.MethodPatch,
		URL:    fmt.Sprintf("%s/products/%d/stock/decrease", a.baseURL, productID),
		Query:  url.Values{"qty": []string{strconv.Itoa(quantity)}},
		Header: http.Header{"Idempotency-Key": []string{orderID}},
	})
	if err != nil {
		reason := "inventory service unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "inventory service timed out"
		}
		return fail(port.FailureUnavailable, reason, err)
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		var body stockResponse
		if err := json.Unmarshal(resp.Body, &body); err == nil {
			logger.Ctx(ctx).Debug().
				Int64("product_id", productID).
				Int("new_quantity", body.NewQuantity).
				Msg("stock decreased")
		}
		return nil
	case code == http.StatusBadRequest, code == http.StatusNotFound,
		code == http.StatusConflict, code == http.StatusUnprocessableEntity:
		return fail(port.FailureRejected, rejectReason(resp), nil)
	default:
		return fail(port.FailureUnavailable, "inventory service returned "+resp.Status, nil)
	}
}

// rejectReason 优先使用下游返回的 message 或 error 字段
func rejectReason(resp *httpclient.Response) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(resp.Body)); text != "" && len(text) < 256 {
		return text
	}
	return "inventory service returned " + resp.Status
}
