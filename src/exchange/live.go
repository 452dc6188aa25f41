package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultLiveTimeout     = 15 * time.Second
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// LiveClient talks to the real exchange's private API. Every private call
// is an authenticated POST with the signature computed over the exact
// serialized body.
//
// Private calls are never retried at the transport level: the signed body
// carries the nonce, and replaying it would be rejected as a rewind; worse,
// a timed-out placement the exchange did accept would go in twice. Retry
// policy for orders belongs to the executor. Public reads retry freely.
type LiveClient struct {
	apiKey    string
	apiSecret string
	private   *resty.Client
	public    *resty.Client
}

func NewLiveClient(apiKey, apiSecret, baseURL string) *LiveClient {
	privateClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultLiveTimeout)

	publicClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultLiveTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &LiveClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		private:   privateClient,
		public:    publicClient,
	}
}

// doPrivate signs and posts one private call. params must be JSON-friendly;
// apiKey and nonce are injected before serialization.
func (c *LiveClient) doPrivate(ctx context.Context, path string, params map[string]interface{}, out interface{}) error {
	body := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["apiKey"] = c.apiKey
	body["nonce"] = Nonce()

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("serialize request: %w", err)
	}

	resp, err := c.private.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-signature", Sign(c.apiSecret, raw)).
		SetBody(raw).
		Post(path)
	if err != nil {
		logger.WithField("path", path).WithError(err).Error("Private call failed")
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.Body())
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

type placedOrderResponse struct {
	OrderGuid    string          `json:"OrderGuid"`
	Status       string          `json:"Status"`
	VolumeFilled decimal.Decimal `json:"VolumeFilled"`
	AvgPrice     decimal.Decimal `json:"AvgPrice"`
}

func (r placedOrderResponse) toPlacedOrder() *PlacedOrder {
	status := StatusOpen
	switch r.Status {
	case "Filled":
		status = StatusFilled
	case "PartiallyFilled":
		status = StatusPartial
	case "Cancelled":
		status = StatusCancelled
	}
	return &PlacedOrder{
		ExchangeOrderID: r.OrderGuid,
		Status:          status,
		FilledQuantity:  r.VolumeFilled,
		AvgPrice:        r.AvgPrice,
	}
}

func (c *LiveClient) PlaceOrder(ctx context.Context, req OrderRequest) (*PlacedOrder, error) {
	side := "Bid"
	if req.Side == "sell" {
		side = "Offer"
	}

	params := map[string]interface{}{
		"primaryCurrencyCode":   req.Coin,
		"secondaryCurrencyCode": "AUD",
		"orderType":             side,
		"volume":                req.Quantity.String(),
	}

	path := "/Private/PlaceMarketOrder"
	if req.Type == "limit" {
		path = "/Private/PlaceLimitOrder"
		params["price"] = req.Price.String()
	}

	var out placedOrderResponse
	if err := c.doPrivate(ctx, path, params, &out); err != nil {
		return nil, err
	}
	if out.OrderGuid == "" {
		return nil, fmt.Errorf("exchange returned no order id")
	}
	return out.toPlacedOrder(), nil
}

func (c *LiveClient) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	return c.doPrivate(ctx, "/Private/CancelOrder", map[string]interface{}{
		"orderGuid": exchangeOrderID,
	}, nil)
}

func (c *LiveClient) GetOrderStatus(ctx context.Context, exchangeOrderID string) (*PlacedOrder, error) {
	var out placedOrderResponse
	if err := c.doPrivate(ctx, "/Private/GetOrderDetails", map[string]interface{}{
		"orderGuid": exchangeOrderID,
	}, &out); err != nil {
		return nil, err
	}
	if out.OrderGuid == "" {
		return nil, ErrOrderNotFound
	}
	return out.toPlacedOrder(), nil
}

type accountResponse struct {
	CurrencyCode     string          `json:"CurrencyCode"`
	TotalBalance     decimal.Decimal `json:"TotalBalance"`
	AvailableBalance decimal.Decimal `json:"AvailableBalance"`
}

func (c *LiveClient) GetBalances(ctx context.Context) ([]Balance, error) {
	var out []accountResponse
	if err := c.doPrivate(ctx, "/Private/GetAccounts", nil, &out); err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(out))
	for _, acct := range out {
		balances = append(balances, Balance{
			Currency:  acct.CurrencyCode,
			Total:     acct.TotalBalance,
			Available: acct.AvailableBalance,
		})
	}
	return balances, nil
}

func (c *LiveClient) GetLastPrice(ctx context.Context, coin string) (decimal.Decimal, error) {
	var out struct {
		LastPrice decimal.Decimal `json:"LastPrice"`
	}

	resp, err := c.public.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"primaryCurrencyCode":   coin,
			"secondaryCurrencyCode": "AUD",
		}).
		SetResult(&out).
		Get("/Public/GetMarketSummary")
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode() != 200 {
		return decimal.Zero, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.Body())
	}
	return out.LastPrice, nil
}

func (c *LiveClient) TestConnection(ctx context.Context) error {
	_, err := c.GetBalances(ctx)
	return err
}
