package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/commerce/internal/httpclient"
	"github.com/example/commerce/internal/logger"
)

// Refund speeds understood by the gateway.
const (
	refundSpeedNormal  = "normal"
	refundSpeedOptimum = "optimum"
)

// GatewayError is a failed or undecodable gateway response.
type GatewayError struct {
	StatusCode  int
	Code        string
	Description string
	Raw         string
	Err         error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("gateway response (status %d): %v", e.StatusCode, e.Err)
	case e.Description != "":
		return fmt.Sprintf("gateway error %s (status %d): %s", e.Code, e.StatusCode, e.Description)
	default:
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// GatewayOrder is the gateway-side order the client completes checkout against.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	KeyID    string `json:"key_id"`
}

// RefundRequest describes a refund of a captured payment.
type RefundRequest struct {
	PaymentID string
	Amount    decimal.Decimal
	Instant   bool
	Notes     map[string]string
}

// RefundResult is always returned by CreateRefund; failures set Success to
// false and describe themselves through StatusCode, Raw and Error.
type RefundResult struct {
	Success    bool   `json:"success"`
	RefundID   string `json:"refund_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Raw        string `json:"raw,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

type razorpayOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayRefundRequest struct {
	Amount int64             `json:"amount"`
	Speed  string            `json:"speed"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type razorpayRefundResponse struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// RazorpayGateway talks to the Razorpay REST API.
type RazorpayGateway struct {
	baseURL string
	client  *http.Client
	creds   CredentialSource
	log     *zap.Logger
}

func NewRazorpayGateway(baseURL string, creds CredentialSource, timeout time.Duration) *RazorpayGateway {
	return &RazorpayGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpclient.NewClient("razorpay", timeout),
		creds:   creds,
		log:     logger.Named("razorpay"),
	}
}

// ToMinorUnits converts an amount to the smallest currency unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// CreateOrder registers an order of amount with the gateway. Amounts that are
// not positive in minor units are rejected without a network call.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*GatewayOrder, error) {
	minor := ToMinorUnits(amount)
	if minor <= 0 {
		return nil, Validation("payment amount must be positive")
	}

	creds, err := g.creds.Credentials(ctx)
	if err != nil {
		return nil, External(err, "payment gateway is not configured")
	}

	var out razorpayOrderResponse
	status, raw, err := g.do(ctx, creds, http.MethodPost, "/v1/orders", razorpayOrderRequest{
		Amount:         minor,
		Currency:       currency,
		Receipt:        receipt,
		PaymentCapture: 1,
	})
	if err != nil {
		return nil, External(err, "payment gateway unreachable")
	}
	if gwErr := decodeGatewayResponse(status, raw, &out); gwErr != nil {
		return nil, External(gwErr, "payment gateway rejected the order")
	}
	if out.ID == "" {
		return nil, External(&GatewayError{StatusCode: status, Raw: string(raw), Err: fmt.Errorf("missing order id")}, "payment gateway rejected the order")
	}

	return &GatewayOrder{
		ID:       out.ID,
		Amount:   out.Amount,
		Currency: out.Currency,
		Receipt:  out.Receipt,
		Status:   out.Status,
		KeyID:    creds.KeyID,
	}, nil
}

// VerifySignature checks the checkout signature, the hex HMAC-SHA256 of
// "orderID|paymentID" keyed with the API secret. Malformed input yields false.
func (g *RazorpayGateway) VerifySignature(ctx context.Context, orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	creds, err := g.creds.Credentials(ctx)
	if err != nil {
		g.log.Error("cannot verify signature without credentials", zap.Error(err))
		return false
	}

	return hmac.Equal(given, signPayment(creds.KeySecret, orderID, paymentID))
}

func signPayment(secret, orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}

// CreateRefund refunds amount of a captured payment.
func (g *RazorpayGateway) CreateRefund(ctx context.Context, req RefundRequest) RefundResult {
	minor := ToMinorUnits(req.Amount)
	if minor <= 0 {
		return RefundResult{Error: "refund amount must be positive"}
	}
	if req.PaymentID == "" {
		return RefundResult{Error: "payment id is required"}
	}

	creds, err := g.creds.Credentials(ctx)
	if err != nil {
		return RefundResult{Error: err.Error()}
	}

	speed := refundSpeedNormal
	if req.Instant {
		speed = refundSpeedOptimum
	}

	path := fmt.Sprintf("/v1/payments/%s/refund", url.PathEscape(req.PaymentID))
	status, raw, err := g.do(ctx, creds, http.MethodPost, path, razorpayRefundRequest{
		Amount: minor,
		Speed:  speed,
		Notes:  req.Notes,
	})
	if err != nil {
		return RefundResult{Error: err.Error()}
	}

	result := RefundResult{Raw: string(raw), StatusCode: status}
	var out razorpayRefundResponse
	if gwErr := decodeGatewayResponse(status, raw, &out); gwErr != nil {
		result.Error = gwErr.Error()
		if gwErr.Description != "" {
			result.Error = gwErr.Description
		}
		return result
	}
	if out.ID == "" {
		result.Error = "refund id missing from gateway response"
		return result
	}

	result.Success = true
	result.RefundID = out.ID
	result.Status = out.Status
	return result
}

func (g *RazorpayGateway) do(ctx context.Context, creds Credentials, method, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(creds.KeyID, creds.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// decodeGatewayResponse decodes a 2xx body into out, or describes the failure.
func decodeGatewayResponse(status int, raw []byte, out any) *GatewayError {
	if status < 200 || status > 299 {
		gwErr := &GatewayError{StatusCode: status, Raw: string(raw)}
		var body razorpayErrorResponse
		if json.Unmarshal(raw, &body) == nil {
			gwErr.Code = body.Error.Code
			gwErr.Description = body.Error.Description
		}
		return gwErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{StatusCode: status, Raw: string(raw), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
