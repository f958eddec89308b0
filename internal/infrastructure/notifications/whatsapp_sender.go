package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
)

const defaultWhatsAppBaseURL = "https://graph.facebook.com/v18.0"

// ErrNoPhone is returned when the recipient has no phone number on file
var ErrNoPhone = errors.New("recipient has no phone number")

// WhatsAppNotifier delivers events as text messages through the WhatsApp
// Cloud API.
type WhatsAppNotifier struct {
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
	baseURL       string
	channel       entities.NotificationChannel
	logger        zerolog.Logger
}

// NewWhatsAppNotifier creates a notifier reporting receipts on channel
func NewWhatsAppNotifier(accessToken, phoneNumberID string, channel entities.NotificationChannel, logger zerolog.Logger) (*WhatsAppNotifier, error) {
	if accessToken == "" || phoneNumberID == "" {
		return nil, fmt.Errorf("WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID must be set")
	}

	return &WhatsAppNotifier{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: defaultWhatsAppBaseURL,
		channel: channel,
		logger:  logger.With().Str("handler", "whatsapp:"+string(channel)).Logger(),
	}, nil
}

var _ providers.NotificationHandler = (*WhatsAppNotifier)(nil)

// WhatsAppTextMessage represents a text message
type WhatsAppTextMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

// WhatsAppResponse represents the API response
type WhatsAppResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (w *WhatsAppNotifier) Name() string {
	return "whatsapp:" + string(w.channel)
}

// Deliver sends the event subject and content to the recipient's phone
func (w *WhatsAppNotifier) Deliver(ctx context.Context, event *entities.Event) (*entities.DeliveryReceipt, error) {
	if event.Recipient.Phone == nil || *event.Recipient.Phone == "" {
		return nil, ErrNoPhone
	}

	messageID, err := w.SendText(ctx, *event.Recipient.Phone, messageBody(event))
	if err != nil {
		return nil, err
	}

	w.logger.Debug().Str("event_id", event.ID).Str("message_id", messageID).Msg("message sent")
	return &entities.DeliveryReceipt{
		Handler:     w.Name(),
		Channel:     w.channel,
		MessageID:   messageID,
		DeliveredAt: time.Now().UTC(),
	}, nil
}

// SendText sends a text message
func (w *WhatsAppNotifier) SendText(ctx context.Context, to, body string) (string, error) {
	message := WhatsAppTextMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
	}
	message.Text.Body = body

	return w.sendMessage(ctx, message)
}

func (w *WhatsAppNotifier) sendMessage(ctx context.Context, message interface{}) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)

	jsonData, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+w.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("WhatsApp API error (status %d): %s", resp.StatusCode, string(body))
	}

	var whatsappResp WhatsAppResponse
	if err := json.Unmarshal(body, &whatsappResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(whatsappResp.Messages) > 0 {
		return whatsappResp.Messages[0].ID, nil
	}

	return "", fmt.Errorf("no message ID in response")
}

func messageBody(event *entities.Event) string {
	if event.Subject == "" {
		return event.Content
	}
	return event.Subject + "\n\n" + event.Content
}
