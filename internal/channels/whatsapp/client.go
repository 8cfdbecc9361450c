package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

const (
	DefaultBaseURL     = "https://graph.facebook.com/v21.0"
	defaultHTTPTimeout = 15 * time.Second
	serviceName        = "whatsapp"
	messagingProduct   = "whatsapp"
)

// Config configures the Graph API client.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *logging.Logger
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	http   *resty.Client
	logger *logging.Logger
}

// GraphError is the error object the Graph API returns on non-2xx responses.
type GraphError struct {
	StatusCode   int    `json:"-"`
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`
}

func (e *GraphError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph api status %d: code %d: %s", e.StatusCode, e.Code, e.Message)
}

type graphErrorEnvelope struct {
	Error *GraphError `json:"error"`
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("whatsapp: access token is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		rc.SetTimeout(timeout)
	}
	rc.SetBaseURL(base).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Accept", "application/json")
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{http: rc, logger: logger}, nil
}

// SendText sends a plain text message and returns the platform message id.
func (c *Client) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	if phoneNumberID == "" || to == "" || body == "" {
		return "", apperrors.Validation("phone number id, recipient and body are required")
	}
	payload := map[string]any{
		"messaging_product": messagingProduct,
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": body},
	}
	return c.send(ctx, phoneNumberID, payload)
}

// SendMedia sends an image, document, audio or video by link. The caption
// field is always present, empty when the caller gave none.
func (c *Client) SendMedia(ctx context.Context, phoneNumberID, to string, media OutboundMedia) (string, error) {
	if phoneNumberID == "" || to == "" {
		return "", apperrors.Validation("phone number id and recipient are required")
	}
	if media.Type == "" || media.URL == "" {
		return "", apperrors.Validation("media type and url are required")
	}
	payload := map[string]any{
		"messaging_product": messagingProduct,
		"recipient_type":    "individual",
		"to":                to,
		"type":              media.Type,
		media.Type: map[string]any{
			"link":    media.URL,
			"caption": media.Caption,
		},
	}
	return c.send(ctx, phoneNumberID, payload)
}

// MarkAsRead sends a read receipt for an inbound message.
func (c *Client) MarkAsRead(ctx context.Context, phoneNumberID, messageID string) error {
	if phoneNumberID == "" || messageID == "" {
		return apperrors.Validation("phone number id and message id are required")
	}
	var out successResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"messaging_product": messagingProduct,
			"status":            "read",
			"message_id":        messageID,
		}).
		SetResult(&out).
		SetError(&graphErrorEnvelope{}).
		Post("/" + phoneNumberID + "/messages")
	if err := c.check("mark as read", resp, err); err != nil {
		return err
	}
	return nil
}

// GetMediaInfo resolves a webhook media id into a download URL and metadata.
func (c *Client) GetMediaInfo(ctx context.Context, mediaID string) (*MediaInfo, error) {
	if mediaID == "" {
		return nil, apperrors.Validation("media id is required")
	}
	var info MediaInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&info).
		SetError(&graphErrorEnvelope{}).
		Get("/" + mediaID)
	if err := c.check("get media info", resp, err); err != nil {
		return nil, err
	}
	if info.ID == "" {
		info.ID = mediaID
	}
	return &info, nil
}

// DownloadMedia fetches the bytes behind a media URL returned by GetMediaInfo.
// The URL is short-lived and requires the same bearer token.
func (c *Client) DownloadMedia(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, apperrors.Validation("media url is required")
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetError(&graphErrorEnvelope{}).
		Get(url)
	if err := c.check("download media", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Client) send(ctx context.Context, phoneNumberID string, payload map[string]any) (string, error) {
	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		SetError(&graphErrorEnvelope{}).
		Post("/" + phoneNumberID + "/messages")
	if err := c.check("send message", resp, err); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp: send message: %w",
			apperrors.Remote(serviceName, errors.New("response carried no message id")))
	}
	return out.Messages[0].ID, nil
}

// check maps transport failures and non-2xx responses to remote-service errors.
func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Warn("whatsapp request failed", "op", op, "error", err)
		return fmt.Errorf("whatsapp: %s: %w", op, apperrors.Remote(serviceName, err))
	}
	if !resp.IsError() && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}
	graphErr := &GraphError{StatusCode: resp.StatusCode()}
	if env, ok := resp.Error().(*graphErrorEnvelope); ok && env != nil && env.Error != nil {
		graphErr = env.Error
		graphErr.StatusCode = resp.StatusCode()
	}
	c.logger.Warn("whatsapp api returned error",
		"op", op,
		"status", resp.StatusCode(),
		"code", graphErr.Code,
		"fbtrace_id", graphErr.FBTraceID,
	)
	return fmt.Errorf("whatsapp: %s: %w", op, apperrors.Remote(serviceName, graphErr))
}
