package smtpingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/storage"
)

// pipelineTimeout bounds the background classify/extract/analyze run
// kicked off after a notice is stored.
const pipelineTimeout = 5 * time.Minute

// Session implements the go-smtp Session interface
type Session struct {
	backend  *Backend
	from     string
	accepted bool
}

// NewSession creates a new SMTP session
func NewSession(backend *Backend) *Session {
	return &Session{backend: backend}
}

// AuthPlain handles PLAIN authentication (not required for receiving)
func (s *Session) AuthPlain(username, password string) error {
	// No authentication required for receiving emails
	return nil
}

// Mail handles the MAIL FROM command
func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	if s.backend.logger != nil {
		s.backend.logger.Debug("MAIL FROM", slog.String("from", from))
	}
	return nil
}

// Rcpt handles the RCPT TO command. Only the configured intake address
// is deliverable; everything else is refused so the listener cannot be
// used as a relay.
func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	address, err := parseEmailAddress(to)
	if err != nil {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}

	if s.backend.intakeAddress == "" || address != s.backend.intakeAddress {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Mailbox not available",
		}
	}

	s.accepted = true
	if s.backend.logger != nil {
		s.backend.logger.Debug("RCPT TO", slog.String("to", address))
	}
	return nil
}

// Data handles the DATA command - receives the email content
func (s *Session) Data(r io.Reader) error {
	if !s.accepted {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	parsedEmail, err := ParseEmail(r)
	if err != nil {
		if s.backend.logger != nil {
			s.backend.logger.Error("failed to parse email", slog.Any("error", err))
		}
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Failed to parse email",
		}
	}

	// Override sender from envelope if not in headers
	if parsedEmail.SenderEmail == "" {
		if from, err := parseEmailAddress(s.from); err == nil {
			parsedEmail.SenderEmail = from
		}
	}

	ctx := context.Background()
	message, err := s.storeEmail(ctx, parsedEmail)
	if err != nil {
		if s.backend.logger != nil {
			s.backend.logger.Error("failed to store email",
				slog.String("sender", parsedEmail.SenderEmail),
				slog.Any("error", err))
		}
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary storage error",
		}
	}

	if s.backend.logger != nil {
		s.backend.logger.Info("notice received",
			slog.Uint64("message_id", uint64(message.ID)),
			slog.String("from", message.SenderEmail),
			slog.String("subject", message.Subject))
	}

	// The pipeline calls the classifier and the ERP, which can take a
	// while. Run it detached so the SMTP reply is not held up.
	go s.runPipeline(message.ID)

	return nil
}

// storeEmail persists the parsed notice and its attachments
func (s *Session) storeEmail(ctx context.Context, email *ParsedEmail) (*models.Message, error) {
	mailbox, created, err := s.backend.mailboxRepo.GetOrCreate(ctx, s.backend.intakeAddress, "Supplier Notice Intake")
	if err != nil {
		return nil, fmt.Errorf("failed to get/create intake mailbox: %w", err)
	}

	if created && s.backend.logger != nil {
		s.backend.logger.Info("provisioned intake mailbox", slog.String("address", mailbox.Address))
	}

	message := &models.Message{
		MailboxID:         mailbox.ID,
		ProviderMessageID: "smtp-" + uuid.New().String(),
		ConversationID:    email.ConversationID(),
		SenderEmail:       strings.ToLower(email.SenderEmail),
		SenderName:        email.SenderName,
		Subject:           email.Subject,
		Snippet:           email.Snippet,
		BodyText:          email.BodyText,
		BodyHTML:          email.BodyHTML,
		Source:            models.MessageSourceSMTP,
		Status:            models.MessageStatusReceived,
		IsReply:           email.InReplyTo != "" || len(email.References) > 0,
		IsForward:         strings.HasPrefix(strings.ToLower(strings.TrimSpace(email.Subject)), "fw"),
		HasAttachments:    len(email.Attachments) > 0,
		SentAt:            email.SentAt,
		ReceivedAt:        time.Now().UTC(),
	}

	// Store attachments
	var attachments []models.Attachment
	for _, att := range email.Attachments {
		if err := storage.ValidateFile(att.Filename, att.Size); err != nil {
			if s.backend.logger != nil {
				s.backend.logger.Warn("rejected attachment",
					slog.String("filename", att.Filename),
					slog.Any("error", err))
			}
			continue
		}

		filePath, err := s.backend.fileStorage.Save(att.Filename, att.Content)
		if err != nil {
			if s.backend.logger != nil {
				s.backend.logger.Error("failed to save attachment",
					slog.String("filename", att.Filename),
					slog.Any("error", err))
			}
			continue
		}

		attachments = append(attachments, models.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			FilePath:    filePath,
			SizeBytes:   att.Size,
		})
	}

	if err := s.backend.messageRepo.CreateWithAttachments(ctx, message, attachments); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return message, nil
}

// runPipeline pushes a stored notice through trust, classification,
// extraction and impact analysis.
func (s *Session) runPipeline(messageID uint) {
	if s.backend.coordinator == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	if err := s.backend.coordinator.Process(ctx, messageID); err != nil && s.backend.logger != nil {
		s.backend.logger.Error("intake pipeline failed",
			slog.Uint64("message_id", uint64(messageID)),
			slog.Any("error", err))
	}
}

// Reset resets the session state
func (s *Session) Reset() {
	s.from = ""
	s.accepted = false
}

// Logout handles the end of the session
func (s *Session) Logout() error {
	return nil
}

// parseEmailAddress normalizes an SMTP address argument
func parseEmailAddress(address string) (string, error) {
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	address = strings.ToLower(strings.TrimSpace(address))

	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid email address: %s", address)
	}

	return address, nil
}
