package mailfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultScope    = "https://graph.microsoft.com/.default"
	defaultPageSize = 50

	// selectFields keeps the payload to the fields we actually map
	selectFields = "id,conversationId,subject,bodyPreview,body,from,sender,sentDateTime,receivedDateTime,hasAttachments,isDraft"
)

// Config holds settings for the Graph feed client
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
	MaxRetries   uint64
	PageSize     int
}

// graphClient implements Client against a Microsoft Graph style delta feed
type graphClient struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

// NewGraphClient creates a feed client authenticating with the OAuth2
// client-credentials flow. Token acquisition and refresh happen inside
// the wrapped HTTP client.
func NewGraphClient(config Config, logger *slog.Logger) Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Scope == "" {
		config.Scope = defaultScope
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	creds := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     config.TokenURL,
		Scopes:       []string{config.Scope},
	}
	httpClient := creds.Client(context.Background())
	httpClient.Timeout = config.Timeout

	return &graphClient{
		config: config,
		http:   httpClient,
		logger: logger,
	}
}

// wire shapes for the delta endpoint

type graphRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Subject        string          `json:"subject"`
	BodyPreview    string          `json:"bodyPreview"`
	Body           struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From             *graphRecipient `json:"from"`
	Sender           *graphRecipient `json:"sender"`
	SentDateTime     *time.Time      `json:"sentDateTime"`
	ReceivedDateTime time.Time       `json:"receivedDateTime"`
	HasAttachments   bool            `json:"hasAttachments"`
	IsDraft          bool            `json:"isDraft"`
	Removed          *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

type messagePage struct {
	Value     []graphMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

// Fetch pulls every pending page of the mailbox's delta feed. The new
// continuation token is only present once the final page arrived, so a
// failure mid-way leaves the caller's token untouched.
func (c *graphClient) Fetch(ctx context.Context, mailboxAddress string, token *string, window time.Duration) (*Batch, error) {
	requestURL := c.startURL(mailboxAddress, token, window)

	batch := &Batch{}
	pages := 0
	for requestURL != "" {
		page, err := c.fetchPage(ctx, requestURL)
		if err != nil {
			return nil, fmt.Errorf("feed fetch for %s: %w", mailboxAddress, err)
		}
		pages++

		for _, raw := range page.Value {
			if raw.Removed != nil || raw.IsDraft {
				continue
			}
			batch.Messages = append(batch.Messages, mapMessage(raw, mailboxAddress))
		}

		switch {
		case page.NextLink != "":
			requestURL = page.NextLink
		case page.DeltaLink != "":
			batch.NextToken = tokenFromDeltaLink(page.DeltaLink)
			requestURL = ""
		default:
			requestURL = ""
		}
	}

	c.logger.Debug("feed fetch complete",
		slog.String("mailbox", mailboxAddress),
		slog.Int("pages", pages),
		slog.Int("messages", len(batch.Messages)))
	return batch, nil
}

// startURL builds the first request of a fetch: token resumption when we
// have one, otherwise an initial sync bounded to the window
func (c *graphClient) startURL(mailboxAddress string, token *string, window time.Duration) string {
	base := fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages/delta",
		c.config.BaseURL, url.PathEscape(mailboxAddress))

	if token != nil && *token != "" {
		// Tokens that are full resume links (older snapshots) pass through.
		if strings.HasPrefix(*token, "http") {
			return *token
		}
		params := url.Values{}
		params.Set("$deltatoken", *token)
		params.Set("$select", selectFields)
		return base + "?" + params.Encode()
	}

	since := time.Now().Add(-window).UTC().Format(time.RFC3339)
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since))
	params.Set("$select", selectFields)
	params.Set("$top", fmt.Sprintf("%d", c.config.PageSize))
	return base + "?" + params.Encode()
}

// fetchPage performs one GET with retry on transient failures
func (c *graphClient) fetchPage(ctx context.Context, requestURL string) (*messagePage, error) {
	var page messagePage

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Prefer", `outlook.body-content-type="text"`)

		resp, err := c.http.Do(req)
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				return backoff.Permanent(fmt.Errorf("token request rejected: %w", ErrAuthFailed))
			}
			return fmt.Errorf("feed request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode feed page: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("feed returned %d: %w", resp.StatusCode, ErrAuthFailed))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("feed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("feed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}
	}

	policy := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), c.config.MaxRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return &page, nil
}

// mapMessage converts a feed payload into the internal shape. Ids are
// carried verbatim.
func mapMessage(raw graphMessage, mailboxAddress string) RemoteMessage {
	msg := RemoteMessage{
		ProviderMessageID: raw.ID,
		ConversationID:    raw.ConversationID,
		Subject:           raw.Subject,
		Snippet:           raw.BodyPreview,
		SentAt:            raw.SentDateTime,
		ReceivedAt:        raw.ReceivedDateTime,
		HasAttachments:    raw.HasAttachments,
	}

	if strings.EqualFold(raw.Body.ContentType, "html") {
		msg.BodyHTML = raw.Body.Content
		msg.BodyText = raw.BodyPreview
	} else {
		msg.BodyText = raw.Body.Content
	}

	sender := raw.Sender
	if sender == nil {
		sender = raw.From
	}
	if sender != nil {
		msg.SenderEmail = strings.ToLower(strings.TrimSpace(sender.EmailAddress.Address))
		msg.SenderName = strings.TrimSpace(sender.EmailAddress.Name)
	}

	msg.IsOutgoing = msg.SenderEmail != "" && strings.EqualFold(msg.SenderEmail, mailboxAddress)
	msg.IsReply, msg.IsForward = classifySubject(raw.Subject)
	return msg
}

// classifySubject detects reply and forward prefixes
func classifySubject(subject string) (isReply, isForward bool) {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		switch {
		case strings.HasPrefix(s, "re:"):
			isReply = true
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(s, "fwd:"):
			isForward = true
			s = strings.TrimSpace(s[4:])
		case strings.HasPrefix(s, "fw:"):
			isForward = true
			s = strings.TrimSpace(s[3:])
		default:
			return isReply, isForward
		}
	}
}

// tokenFromDeltaLink extracts the bare continuation token. Falls back to
// the full link when the provider changes its URL shape.
func tokenFromDeltaLink(deltaLink string) string {
	parsed, err := url.Parse(deltaLink)
	if err != nil {
		return deltaLink
	}
	if token := parsed.Query().Get("$deltatoken"); token != "" {
		return token
	}
	return deltaLink
}
