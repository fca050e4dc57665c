// Package mailfeed reads new and changed messages from a monitored
// mailbox through the provider's incremental change feed. Each fetch
// resumes from an opaque continuation token; a nil token means the
// mailbox has never been synced and only a bounded recent window is
// pulled.
package mailfeed

import (
	"context"
	"errors"
	"time"
)

// ErrAuthFailed indicates the feed rejected our credentials. The caller
// should skip the mailbox for the cycle rather than retry.
var ErrAuthFailed = errors.New("mail feed authentication failed")

// RemoteMessage is one message as delivered by the provider feed
type RemoteMessage struct {
	ProviderMessageID string
	ConversationID    string
	SenderEmail       string
	SenderName        string
	Subject           string
	Snippet           string
	BodyText          string
	BodyHTML          string
	SentAt            *time.Time
	ReceivedAt        time.Time
	IsOutgoing        bool
	IsReply           bool
	IsForward         bool
	HasAttachments    bool
}

// Batch is the result of one feed fetch: the messages that changed since
// the given token plus the token to resume from next time. NextToken is
// only valid once every message in the batch has been handed off.
type Batch struct {
	Messages  []RemoteMessage
	NextToken string
}

// Client is the mailbox change feed contract
type Client interface {
	// Fetch returns messages changed since token. A nil or empty token
	// triggers an initial sync limited to the given window; with a token
	// the window is ignored and the token is passed through verbatim.
	Fetch(ctx context.Context, mailboxAddress string, token *string, window time.Duration) (*Batch, error)
}
