package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
)

func strPtr(s string) *string { return &s }

func newTestNotifier(server *httptest.Server) *WhatsAppNotifier {
	return &WhatsAppNotifier{
		accessToken:   "test_token",
		phoneNumberID: "123456789",
		httpClient:    server.Client(),
		baseURL:       server.URL,
		channel:       entities.ChannelSMS,
		logger:        zerolog.Nop(),
	}
}

func reminderEvent(phone *string) *entities.Event {
	return &entities.Event{
		ID:        "event-1",
		Type:      entities.EventBookingReminder,
		Recipient: entities.Recipient{AccountID: "patient-1", Phone: phone},
		Subject:   "Session reminder",
		Content:   "Your session starts tomorrow at 14:00",
	}
}

func TestNewWhatsAppNotifier(t *testing.T) {
	tests := []struct {
		name          string
		accessToken   string
		phoneNumberID string
		wantErr       bool
	}{
		{name: "Valid credentials", accessToken: "test_token", phoneNumberID: "123456789"},
		{name: "Missing access token", phoneNumberID: "123456789", wantErr: true},
		{name: "Missing phone number ID", accessToken: "test_token", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier, err := NewWhatsAppNotifier(tt.accessToken, tt.phoneNumberID, entities.ChannelSMS, zerolog.Nop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "whatsapp:sms", notifier.Name())
		})
	}
}

func TestWhatsAppNotifier_Deliver(t *testing.T) {
	tests := []struct {
		name           string
		phone          *string
		mockStatusCode int
		mockResponse   WhatsAppResponse
		wantErr        bool
		wantMessageID  string
	}{
		{
			name:           "Successful send",
			phone:          strPtr("+2348001234567"),
			mockStatusCode: http.StatusOK,
			mockResponse: WhatsAppResponse{
				MessagingProduct: "whatsapp",
				Messages: []struct {
					ID string `json:"id"`
				}{{ID: "wamid.test123"}},
			},
			wantMessageID: "wamid.test123",
		},
		{
			name:           "API rate limit error",
			phone:          strPtr("+2348001234567"),
			mockStatusCode: http.StatusTooManyRequests,
			wantErr:        true,
		},
		{
			name:           "No message ID in response",
			phone:          strPtr("+2348001234567"),
			mockStatusCode: http.StatusOK,
			wantErr:        true,
		},
		{
			name:    "Recipient without phone",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received WhatsAppTextMessage
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/123456789/messages", r.URL.Path)
				assert.Equal(t, "Bearer test_token", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				_ = json.NewDecoder(r.Body).Decode(&received)

				w.WriteHeader(tt.mockStatusCode)
				_ = json.NewEncoder(w).Encode(tt.mockResponse)
			}))
			defer server.Close()

			receipt, err := newTestNotifier(server).Deliver(context.Background(), reminderEvent(tt.phone))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMessageID, receipt.MessageID)
			assert.Equal(t, entities.ChannelSMS, receipt.Channel)
			assert.Equal(t, "+2348001234567", received.To)
			assert.Equal(t, "text", received.Type)
			assert.Equal(t, "Session reminder\n\nYour session starts tomorrow at 14:00", received.Text.Body)
		})
	}
}

func TestWhatsAppNotifier_NetworkError(t *testing.T) {
	notifier := &WhatsAppNotifier{
		accessToken:   "test_token",
		phoneNumberID: "123456789",
		httpClient:    &http.Client{},
		logger:        zerolog.Nop(),
	}

	_, err := notifier.SendText(context.Background(), "+2348001234567", "Test")
	assert.Error(t, err)
}
