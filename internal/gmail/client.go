package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Config for the Gmail client.
type Config struct {
	CredentialsPath string // OAuth client config (credentials.json)
	TokenPath       string // stored user token (token.json)
}

// Client wraps the Gmail REST API: message listing, full message fetch,
// attachment download and raw message send. Authentication is lazy; the
// first call on each run resolves or refreshes the credential.
type Client struct {
	oauthConf *oauth2.Config
	tokenPath string
	logger    *slog.Logger
	cb        *gobreaker.CircuitBreaker

	mu  sync.Mutex
	svc *gmail.Service
}

// NewClient builds a client from the OAuth client configuration file.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	data, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth client config: %w", err)
	}

	conf, err := google.ConfigFromJSON(data, gmail.GmailReadonlyScope, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse oauth client config: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		oauthConf: conf,
		tokenPath: cfg.TokenPath,
		logger:    logger.With("component", "gmail"),
		cb:        cb,
	}, nil
}

// ensureService resolves the credential and builds the API service. An
// expired-but-refreshable token is refreshed exactly once; the refreshed
// credential is persisted as a new token file.
func (c *Client) ensureService(ctx context.Context) (*gmail.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.svc != nil {
		return c.svc, nil
	}

	cred, err := LoadCredential(c.tokenPath)
	if err != nil {
		return nil, err
	}

	if !cred.Valid() {
		if !cred.Refreshable() {
			return nil, fmt.Errorf("%w: token expired and not refreshable", ErrAuthRequired)
		}
		refreshed, err := cred.Refresh(ctx, c.oauthConf)
		if err != nil {
			return nil, err
		}
		if err := refreshed.Save(c.tokenPath); err != nil {
			c.logger.Warn("failed to persist refreshed token", "error", err)
		} else {
			c.logger.Info("gmail token refreshed")
		}
		cred = refreshed
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(cred.TokenSource()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	c.svc = svc
	return svc, nil
}

// FetchRecent returns full messages received since the given time. The time
// window is applied provider-side, exactly as requested. Outbound (sent)
// mail is excluded unless includeOutbound is set. Individual message fetch
// failures are logged and skipped.
func (c *Client) FetchRecent(ctx context.Context, since time.Time, limit int64, includeOutbound bool) ([]*gmail.Message, error) {
	query := "after:" + since.Format("2006/01/02")
	if !includeOutbound {
		query += " -in:sent"
	}
	return c.fetchByQuery(ctx, query, limit)
}

// FetchSent returns full sent messages since the given time.
func (c *Client) FetchSent(ctx context.Context, since time.Time, limit int64) ([]*gmail.Message, error) {
	query := "after:" + since.Format("2006/01/02") + " in:sent"
	return c.fetchByQuery(ctx, query, limit)
}

func (c *Client) fetchByQuery(ctx context.Context, query string, limit int64) ([]*gmail.Message, error) {
	svc, err := c.ensureService(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.execList(ctx, svc, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]*gmail.Message, 0, len(res.Messages))
	for _, stub := range res.Messages {
		msg, err := c.execGet(ctx, svc, stub.Id)
		if err != nil {
			c.logger.Error("failed to fetch message", "message_id", stub.Id, "error", err)
			continue
		}
		messages = append(messages, msg)
	}

	c.logger.Info("retrieved messages", "query", query, "count", len(messages))
	return messages, nil
}

func (c *Client) execList(ctx context.Context, svc *gmail.Service, query string, limit int64) (*gmail.ListMessagesResponse, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return svc.Users.Messages.List("me").Q(query).MaxResults(limit).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	return res.(*gmail.ListMessagesResponse), nil
}

func (c *Client) execGet(ctx context.Context, svc *gmail.Service, id string) (*gmail.Message, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	return res.(*gmail.Message), nil
}

// DownloadAttachment fetches and decodes one attachment payload.
func (c *Client) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	svc, err := c.ensureService(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		return svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment %s: %w", attachmentID, err)
	}

	body := res.(*gmail.MessagePartBody)
	data, err := DecodeBody(body.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment %s: %w", attachmentID, err)
	}
	return data, nil
}

// Send submits a raw RFC 5322 message.
func (c *Client) Send(ctx context.Context, raw []byte) error {
	svc, err := c.ensureService(ctx)
	if err != nil {
		return err
	}

	msg := &gmail.Message{Raw: base64.RawURLEncoding.EncodeToString(raw)}
	_, err = c.cb.Execute(func() (interface{}, error) {
		return svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// DecodeBody decodes the url-safe base64 payload the API uses for part
// bodies, tolerating both padded and unpadded forms.
func DecodeBody(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
