package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/samwatch/app/database"
)

func sampleNotification() Notification {
	return Notification{
		Rule: "satellites",
		Matches: []Entry{{
			OpportunityID: 7,
			NoticeID:      "N-7",
			Title:         "Satellite ground stations",
			Agency:        "Department of Energy",
			PostedAt:      "2024-03-14",
			URL:           ViewURL("N-7"),
			Payload:       map[string]any{"score": 3},
		}},
	}
}

func TestDeliverWebhook(t *testing.T) {
	var received Notification
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDispatcher()
	dest := WebhookDestination{URL: server.URL, Headers: map[string]string{"Authorization": "Bearer token"}}
	if err := d.Deliver(context.Background(), dest, sampleNotification()); err != nil {
		t.Fatal(err)
	}

	if received.Rule != "satellites" || len(received.Matches) != 1 || received.Matches[0].NoticeID != "N-7" {
		t.Errorf("Unexpected webhook body: %+v", received)
	}
	if headers.Get("Content-Type") != "application/json" {
		t.Errorf("Expected JSON content type, got '%s'", headers.Get("Content-Type"))
	}
	if headers.Get("Authorization") != "Bearer token" {
		t.Errorf("Expected custom header, got '%s'", headers.Get("Authorization"))
	}
	if _, err := uuid.Parse(headers.Get("X-Delivery-ID")); err != nil {
		t.Errorf("Expected X-Delivery-ID to be a UUID, got '%s'", headers.Get("X-Delivery-ID"))
	}
}

func TestDeliverWebhookErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewDispatcher().Deliver(context.Background(), WebhookDestination{URL: server.URL}, sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Expected HTTP 502 error, got %v", err)
	}
}

func TestDeliverEmail(t *testing.T) {
	var sent []byte
	var sentTo EmailDestination
	d := NewDispatcher(WithMailSender(func(ctx context.Context, dest EmailDestination, message []byte) error {
		sentTo = dest
		sent = message
		return nil
	}))
	d.now = func() time.Time { return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC) }

	dest := EmailDestination{Server: "smtp.example.com", Port: 25, Sender: "samwatch@example.com", Recipients: []string{"a@example.com", "b@example.com"}}
	if err := d.Deliver(context.Background(), dest, sampleNotification()); err != nil {
		t.Fatal(err)
	}

	if sentTo.Server != "smtp.example.com" {
		t.Errorf("Expected destination to be passed through, got %+v", sentTo)
	}
	message := string(sent)
	for _, want := range []string{
		"From: samwatch@example.com\r\n",
		"To: a@example.com, b@example.com\r\n",
		"Subject: SAMWatch: 1 new match(es) for satellites\r\n",
		"Notice ID: N-7\r\n",
		"Link: https://sam.gov/opp/N-7/view\r\n",
		`Details: {"score":3}`,
	} {
		if !strings.Contains(message, want) {
			t.Errorf("Expected message to contain %q, got:\n%s", want, message)
		}
	}
}

func TestDeliverConsole(t *testing.T) {
	var out bytes.Buffer
	n := sampleNotification()
	n.Matches[0].Title = strings.Repeat("x", 100)

	if err := NewDispatcher(WithConsole(&out)).Deliver(context.Background(), ConsoleDestination{}, n); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Rule satellites: 1 new match(es)") {
		t.Errorf("Expected header line, got:\n%s", out.String())
	}
	if strings.Contains(out.String(), strings.Repeat("x", 61)) {
		t.Errorf("Expected long titles to be clipped, got:\n%s", out.String())
	}
}

func TestParseDestination(t *testing.T) {
	defaults := SMTPDefaults{Server: "smtp.example.com", Sender: "samwatch@example.com"}

	tests := []struct {
		name    string
		alert   database.Alert
		method  string
		wantErr error
	}{
		{"cli", database.Alert{DeliveryMethod: "cli"}, MethodConsole, nil},
		{"console upper", database.Alert{DeliveryMethod: "CONSOLE"}, MethodConsole, nil},
		{"webhook plain", database.Alert{DeliveryMethod: "webhook", Target: "https://h.example.com"}, MethodWebhook, nil},
		{"webhook json", database.Alert{DeliveryMethod: "webhook", Target: `{"url":"https://h.example.com","headers":{"X":"1"}}`}, MethodWebhook, nil},
		{"webhook empty", database.Alert{DeliveryMethod: "webhook"}, "", ErrIncomplete},
		{"email plain", database.Alert{DeliveryMethod: "email", Target: "ops@example.com"}, MethodEmail, nil},
		{"email json", database.Alert{DeliveryMethod: "email", Target: `{"recipients":"a@example.com,b@example.com","smtp_port":465}`}, MethodEmail, nil},
		{"email no recipients", database.Alert{DeliveryMethod: "email", Target: `{"subject":"x"}`}, "", ErrIncomplete},
		{"unknown", database.Alert{DeliveryMethod: "sms", Target: "555"}, "", ErrUnknownMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, err := ParseDestination(tt.alert, defaults)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if dest.Method() != tt.method {
				t.Errorf("Expected method '%s', got '%s'", tt.method, dest.Method())
			}
		})
	}
}

func TestParseEmailMergesDefaults(t *testing.T) {
	defaults := SMTPDefaults{Server: "smtp.example.com", Port: 587, UseTLS: true, Sender: "samwatch@example.com"}
	dest, err := ParseDestination(database.Alert{
		DeliveryMethod: MethodEmail,
		Target:         `{"smtp_server":"mail.example.org","use_tls":false,"recipients":["a@example.com"],"subject":"Bids"}`,
	}, defaults)
	if err != nil {
		t.Fatal(err)
	}

	email := dest.(EmailDestination)
	if email.Server != "mail.example.org" || email.Port != 587 || email.UseTLS || email.Sender != "samwatch@example.com" {
		t.Errorf("Unexpected merged destination: %+v", email)
	}
	if email.Subject != "Bids" || len(email.Recipients) != 1 {
		t.Errorf("Unexpected subject or recipients: %+v", email)
	}
}
