package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/commerce/internal/httpclient"
	"github.com/example/commerce/internal/logger"
	"github.com/example/commerce/internal/models"
)

const telegramAPIURL = "https://api.telegram.org"

// Notifier delivers admin notifications. Callers treat failures as best-effort.
type Notifier interface {
	NotifyNewOrder(ctx context.Context, order *models.Order) error
	NotifyReturnRequested(ctx context.Context, ret *models.ReturnOrder) error
	NotifyRefundFailed(ctx context.Context, reference string, amount decimal.Decimal, currency, reason string) error
}

// TelegramService handles sending notifications to Telegram.
type TelegramService struct {
	apiURL      string
	botToken    string
	adminChatID string
	client      *http.Client
	log         *zap.Logger
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		apiURL:      telegramAPIURL,
		botToken:    botToken,
		adminChatID: adminChatID,
		client:      httpclient.NewClient("telegram", 10*time.Second),
		log:         logger.Named("telegram"),
	}
}

// WithAPIURL points the service at another Bot API host.
func (s *TelegramService) WithAPIURL(apiURL string) *TelegramService {
	s.apiURL = strings.TrimRight(apiURL, "/")
	return s
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("bot token not configured, message dropped")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiURL, s.botToken)

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("failed to send message", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.log.Warn("unexpected status", zap.Int("status_code", resp.StatusCode))
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// FormatPrice formats price with currency and thousand separators.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "INR"
	}
	str := amount.StringFixed(2)
	whole, frac, _ := strings.Cut(str, ".")

	negative := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	var result strings.Builder
	if negative {
		result.WriteByte('-')
	}
	length := len(whole)
	for i, digit := range whole {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return result.String() + "." + frac + " " + currency
}

// NotifyNewOrder sends notification about new order to admin chat.
func (s *TelegramService) NotifyNewOrder(ctx context.Context, order *models.Order) error {
	if s.adminChatID == "" {
		return nil
	}

	var itemsList strings.Builder
	for i, item := range order.Items {
		fmt.Fprintf(&itemsList, "%d. <b>%s</b> (%s %s)\n   %d x %s = %s\n",
			i+1,
			item.ProductName,
			item.Size,
			item.Color,
			item.Quantity,
			FormatPrice(item.UnitPrice, item.Currency),
			FormatPrice(item.LineTotal, item.Currency),
		)
	}

	message := fmt.Sprintf(`<b>🛒 NEW ORDER</b>
<b>📋 Order:</b> %s
<b>📦 Items:</b>
%s
<b>🏷 Discount:</b> %s
<b>💰 Total:</b> %s
<b>💳 Payment:</b> %s
<b>📍 Status:</b> %s
━━━━━━━━━━━━━━━━━━`,
		order.OrderNumber,
		itemsList.String(),
		FormatPrice(order.Discount.Add(order.LoyaltyDiscount), order.Currency),
		FormatPrice(order.TotalAmount, order.Currency),
		order.PaymentMethod,
		order.Status,
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

// NotifyReturnRequested tells the admin a customer asked for a return.
func (s *TelegramService) NotifyReturnRequested(ctx context.Context, ret *models.ReturnOrder) error {
	if s.adminChatID == "" {
		return nil
	}

	units := 0
	for _, item := range ret.Items {
		units += item.Quantity
	}

	message := fmt.Sprintf(`<b>↩️ RETURN REQUESTED</b>
<b>📋 Return:</b> %s
<b>🧾 Order:</b> %s
<b>📦 Units:</b> %d
<b>📝 Reason:</b> %s`,
		ret.ReturnNumber,
		ret.OrderNumber,
		units,
		ret.Reason,
	)

	return s.SendToAdmin(ctx, message)
}

// NotifyRefundFailed alerts the admin that a refund needs manual attention.
func (s *TelegramService) NotifyRefundFailed(ctx context.Context, reference string, amount decimal.Decimal, currency, reason string) error {
	if s.adminChatID == "" {
		return nil
	}

	message := fmt.Sprintf(`<b>⚠️ REFUND FAILED</b>
<b>📋 Reference:</b> %s
<b>💰 Amount:</b> %s
<b>❗ Error:</b> %s`,
		reference,
		FormatPrice(amount, currency),
		reason,
	)

	return s.SendToAdmin(ctx, message)
}
