package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderContactNotificationTemplate(t *testing.T) {
	data := ContactNotificationData{
		AppName: "Clearpath Coaching",
		Name:    "Jordan Reyes",
		Email:   "jordan@example.com",
		Phone:   "+15551234567",
		Message: "I'd like to book a first session.",
	}

	html, err := renderTemplate(contactNotificationTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Clearpath Coaching") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Jordan Reyes") {
		t.Error("template should contain sender name")
	}
	if !strings.Contains(html, "jordan@example.com") {
		t.Error("template should contain sender email")
	}
	if !strings.Contains(html, "+15551234567") {
		t.Error("template should contain sender phone")
	}
}

func TestRenderContactNotificationOmitsEmptyPhone(t *testing.T) {
	data := ContactNotificationData{
		AppName: "Clearpath Coaching",
		Name:    "Jordan Reyes",
		Email:   "jordan@example.com",
		Message: "Hello",
	}

	html, err := renderTemplate(contactNotificationTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "Phone:") {
		t.Error("template should omit the phone row when empty")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	data := PasswordResetData{
		AppName:  "Clearpath Coaching",
		UserName: "Site Owner",
		ResetURL: "https://example.com/reset?token=xyz789",
	}

	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Clearpath Coaching") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Site Owner") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/reset?token=xyz789") {
		t.Error("template should contain reset URL")
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("template should mention expiration time")
	}
}

func TestSendContactNotificationBuildsMessage(t *testing.T) {
	svc := NewService(Config{
		Host:     "smtp.example.com",
		Port:     "587",
		From:     "noreply@clearpath.example",
		FromName: "Clearpath Coaching",
	})

	var sentTo []string
	var sentMsg []byte
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sentTo = to
		sentMsg = msg
		return nil
	}

	err := svc.SendContactNotification("owner@clearpath.example", ContactNotificationData{
		Name:    "Jordan Reyes",
		Email:   "jordan@example.com",
		Message: "Hello",
	})
	if err != nil {
		t.Fatalf("SendContactNotification() error = %v", err)
	}

	if len(sentTo) != 1 || sentTo[0] != "owner@clearpath.example" {
		t.Errorf("unexpected recipients: %v", sentTo)
	}
	if !strings.Contains(string(sentMsg), "Subject: New inquiry from Jordan Reyes") {
		t.Error("message missing subject line")
	}
}
