package smtpingest

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
)

func TestNewSecureServer(t *testing.T) {
	backend := &Backend{}

	t.Run("default configuration", func(t *testing.T) {
		cfg := &ServerConfig{
			Addr:   ":2525",
			Domain: "localhost",
		}

		server := NewSecureServer(backend, cfg)

		if server.Addr != ":2525" {
			t.Errorf("expected addr :2525, got %s", server.Addr)
		}
		if server.Domain != "localhost" {
			t.Errorf("expected domain localhost, got %s", server.Domain)
		}
		if server.MaxMessageBytes != DefaultMaxMessageSize {
			t.Errorf("expected max message size %d, got %d", DefaultMaxMessageSize, server.MaxMessageBytes)
		}
		if server.MaxRecipients != DefaultMaxRecipients {
			t.Errorf("expected max recipients %d, got %d", DefaultMaxRecipients, server.MaxRecipients)
		}
		if server.ReadTimeout != DefaultReadTimeout {
			t.Errorf("expected read timeout %v, got %v", DefaultReadTimeout, server.ReadTimeout)
		}
		if server.WriteTimeout != DefaultWriteTimeout {
			t.Errorf("expected write timeout %v, got %v", DefaultWriteTimeout, server.WriteTimeout)
		}
		if server.AllowInsecureAuth != false {
			t.Error("expected AllowInsecureAuth to be false by default")
		}
		if server.MaxLineLength != DefaultMaxLineLength {
			t.Errorf("expected max line length %d, got %d", DefaultMaxLineLength, server.MaxLineLength)
		}
	})

	t.Run("custom configuration", func(t *testing.T) {
		cfg := &ServerConfig{
			Addr:           ":25",
			Domain:         "mail.ourco.example",
			MaxMessageSize: 10 * 1024 * 1024, // 10 MB
			MaxRecipients:  5,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowInsecure:  true,
		}

		server := NewSecureServer(backend, cfg)

		if server.MaxMessageBytes != 10*1024*1024 {
			t.Errorf("expected max message size 10MB, got %d", server.MaxMessageBytes)
		}
		if server.MaxRecipients != 5 {
			t.Errorf("expected max recipients 5, got %d", server.MaxRecipients)
		}
		if server.ReadTimeout != 30*time.Second {
			t.Errorf("expected read timeout 30s, got %v", server.ReadTimeout)
		}
		if server.WriteTimeout != 30*time.Second {
			t.Errorf("expected write timeout 30s, got %v", server.WriteTimeout)
		}
		if server.AllowInsecureAuth != true {
			t.Error("expected AllowInsecureAuth to be true when configured")
		}
	})

	t.Run("insecure auth disabled by default", func(t *testing.T) {
		cfg := &ServerConfig{
			Addr:   ":2525",
			Domain: "localhost",
		}

		server := NewSecureServer(backend, cfg)

		if server.AllowInsecureAuth {
			t.Error("AllowInsecureAuth should be disabled by default for security")
		}
	})

	t.Run("message size limit enforced", func(t *testing.T) {
		cfg := &ServerConfig{
			Addr:           ":2525",
			Domain:         "localhost",
			MaxMessageSize: 5 * 1024 * 1024, // 5 MB
		}

		server := NewSecureServer(backend, cfg)

		if server.MaxMessageBytes != 5*1024*1024 {
			t.Errorf("message size limit not enforced: expected 5MB, got %d", server.MaxMessageBytes)
		}
	})
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	// Save original env vars
	origAddr := os.Getenv("SMTP_ADDR")
	origDomain := os.Getenv("SMTP_DOMAIN")
	origAllowInsecure := os.Getenv("SMTP_ALLOW_INSECURE")
	origMaxSize := os.Getenv("SMTP_MAX_MESSAGE_SIZE")
	origMaxRecip := os.Getenv("SMTP_MAX_RECIPIENTS")
	origReadTimeout := os.Getenv("SMTP_READ_TIMEOUT")
	origWriteTimeout := os.Getenv("SMTP_WRITE_TIMEOUT")

	// Restore env vars after test
	defer func() {
		os.Setenv("SMTP_ADDR", origAddr)
		os.Setenv("SMTP_DOMAIN", origDomain)
		os.Setenv("SMTP_ALLOW_INSECURE", origAllowInsecure)
		os.Setenv("SMTP_MAX_MESSAGE_SIZE", origMaxSize)
		os.Setenv("SMTP_MAX_RECIPIENTS", origMaxRecip)
		os.Setenv("SMTP_READ_TIMEOUT", origReadTimeout)
		os.Setenv("SMTP_WRITE_TIMEOUT", origWriteTimeout)
	}()

	t.Run("default values", func(t *testing.T) {
		os.Unsetenv("SMTP_ADDR")
		os.Unsetenv("SMTP_DOMAIN")
		os.Unsetenv("SMTP_ALLOW_INSECURE")
		os.Unsetenv("SMTP_MAX_MESSAGE_SIZE")
		os.Unsetenv("SMTP_MAX_RECIPIENTS")
		os.Unsetenv("SMTP_READ_TIMEOUT")
		os.Unsetenv("SMTP_WRITE_TIMEOUT")

		cfg := LoadServerConfigFromEnv()

		if cfg.Addr != ":2525" {
			t.Errorf("expected default addr :2525, got %s", cfg.Addr)
		}
		if cfg.Domain != "localhost" {
			t.Errorf("expected default domain localhost, got %s", cfg.Domain)
		}
		if cfg.AllowInsecure != false {
			t.Error("expected AllowInsecure to be false by default")
		}
	})

	t.Run("custom values from env", func(t *testing.T) {
		os.Setenv("SMTP_ADDR", ":25")
		os.Setenv("SMTP_DOMAIN", "mail.ourco.example")
		os.Setenv("SMTP_ALLOW_INSECURE", "true")
		os.Setenv("SMTP_MAX_MESSAGE_SIZE", "10485760")
		os.Setenv("SMTP_MAX_RECIPIENTS", "5")
		os.Setenv("SMTP_READ_TIMEOUT", "30s")
		os.Setenv("SMTP_WRITE_TIMEOUT", "45s")

		cfg := LoadServerConfigFromEnv()

		if cfg.Addr != ":25" {
			t.Errorf("expected addr :25, got %s", cfg.Addr)
		}
		if cfg.Domain != "mail.ourco.example" {
			t.Errorf("expected domain mail.ourco.example, got %s", cfg.Domain)
		}
		if cfg.AllowInsecure != true {
			t.Error("expected AllowInsecure to be true")
		}
		if cfg.MaxMessageSize != 10485760 {
			t.Errorf("expected max message size 10485760, got %d", cfg.MaxMessageSize)
		}
		if cfg.MaxRecipients != 5 {
			t.Errorf("expected max recipients 5, got %d", cfg.MaxRecipients)
		}
		if cfg.ReadTimeout != 30*time.Second {
			t.Errorf("expected read timeout 30s, got %v", cfg.ReadTimeout)
		}
		if cfg.WriteTimeout != 45*time.Second {
			t.Errorf("expected write timeout 45s, got %v", cfg.WriteTimeout)
		}
	})

	t.Run("invalid values use defaults", func(t *testing.T) {
		os.Setenv("SMTP_MAX_MESSAGE_SIZE", "invalid")
		os.Setenv("SMTP_MAX_RECIPIENTS", "invalid")
		os.Setenv("SMTP_READ_TIMEOUT", "invalid")
		os.Setenv("SMTP_WRITE_TIMEOUT", "invalid")
		os.Setenv("SMTP_ALLOW_INSECURE", "invalid")

		cfg := LoadServerConfigFromEnv()

		if cfg.MaxMessageSize != 0 {
			t.Errorf("expected max message size 0 for invalid input, got %d", cfg.MaxMessageSize)
		}
		if cfg.MaxRecipients != 0 {
			t.Errorf("expected max recipients 0 for invalid input, got %d", cfg.MaxRecipients)
		}
		if cfg.AllowInsecure != false {
			t.Error("expected AllowInsecure to be false for invalid input")
		}
	})
}

func TestNewBackend_NormalizesIntakeAddress(t *testing.T) {
	backend := NewBackend(&BackendConfig{
		IntakeAddress: "  Notices@OurCo.Example ",
	})

	if backend.intakeAddress != "notices@ourco.example" {
		t.Errorf("expected normalized intake address, got %q", backend.intakeAddress)
	}
}

func TestSession_RcptGating(t *testing.T) {
	backend := NewBackend(&BackendConfig{
		IntakeAddress: "notices@ourco.example",
	})

	t.Run("intake address accepted", func(t *testing.T) {
		session := NewSession(backend)

		if err := session.Rcpt("<notices@ourco.example>", &smtp.RcptOptions{}); err != nil {
			t.Fatalf("expected intake recipient to be accepted, got %v", err)
		}
		if !session.accepted {
			t.Error("session should be marked accepted after a valid RCPT")
		}
	})

	t.Run("intake address case insensitive", func(t *testing.T) {
		session := NewSession(backend)

		if err := session.Rcpt("Notices@OurCo.Example", &smtp.RcptOptions{}); err != nil {
			t.Fatalf("expected case-insensitive match, got %v", err)
		}
	})

	t.Run("other recipients refused", func(t *testing.T) {
		session := NewSession(backend)

		err := session.Rcpt("<someone-else@ourco.example>", &smtp.RcptOptions{})
		if err == nil {
			t.Fatal("expected non-intake recipient to be refused")
		}
		smtpErr, ok := err.(*smtp.SMTPError)
		if !ok || smtpErr.Code != 550 {
			t.Errorf("expected SMTP 550, got %v", err)
		}
		if session.accepted {
			t.Error("session must not be marked accepted after a refused RCPT")
		}
	})

	t.Run("malformed recipient refused", func(t *testing.T) {
		session := NewSession(backend)

		if err := session.Rcpt("not-an-address", &smtp.RcptOptions{}); err == nil {
			t.Fatal("expected malformed recipient to be refused")
		}
	})

	t.Run("relay refused when no intake configured", func(t *testing.T) {
		open := NewBackend(&BackendConfig{})
		session := NewSession(open)

		if err := session.Rcpt("<notices@ourco.example>", &smtp.RcptOptions{}); err == nil {
			t.Fatal("expected refusal when no intake address is configured")
		}
	})
}

func TestSession_DataWithoutRcpt(t *testing.T) {
	backend := NewBackend(&BackendConfig{
		IntakeAddress: "notices@ourco.example",
	})
	session := NewSession(backend)

	err := session.Data(strings.NewReader("From: a@b.example\r\n\r\nbody"))
	if err == nil {
		t.Fatal("expected DATA before RCPT to fail")
	}
	smtpErr, ok := err.(*smtp.SMTPError)
	if !ok || smtpErr.Code != 503 {
		t.Errorf("expected SMTP 503, got %v", err)
	}
}

func TestSession_Reset(t *testing.T) {
	backend := NewBackend(&BackendConfig{
		IntakeAddress: "notices@ourco.example",
	})
	session := NewSession(backend)

	if err := session.Mail("sales@acme-metals.example", &smtp.MailOptions{}); err != nil {
		t.Fatalf("MAIL failed: %v", err)
	}
	if err := session.Rcpt("notices@ourco.example", &smtp.RcptOptions{}); err != nil {
		t.Fatalf("RCPT failed: %v", err)
	}

	session.Reset()

	if session.from != "" {
		t.Error("Reset should clear the envelope sender")
	}
	if session.accepted {
		t.Error("Reset should clear the accepted flag")
	}
}

func TestParseEmailAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain address", "notices@ourco.example", "notices@ourco.example", false},
		{"angle brackets", "<notices@ourco.example>", "notices@ourco.example", false},
		{"mixed case", "Notices@OurCo.Example", "notices@ourco.example", false},
		{"surrounding whitespace", "  notices@ourco.example  ", "notices@ourco.example", false},
		{"missing local part", "@ourco.example", "", true},
		{"missing domain", "notices@", "", true},
		{"no at sign", "notices", "", true},
		{"double at sign", "a@b@c", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEmailAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
