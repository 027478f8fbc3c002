package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/Itwoss/pulse/models"
	"github.com/Itwoss/pulse/version"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("API")

// StatusError is returned when the server responds with a non-200
// status code. It is the retryable class of fetch failure and should be
// surfaced to the UI, unlike a timeout.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.Code)
}

// ErrUnsuccessfulResponse is returned when the server responds 200 but
// flags the request as unsuccessful in the response envelope.
var ErrUnsuccessfulResponse = errors.New("server returned unsuccessful response")

// NotificationPage is one page of the notification list along with the
// server's unread count at the time of the fetch.
type NotificationPage struct {
	Notifications []*models.Notification
	UnreadCount   int
}

type listResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Notifications []*models.Notification `json:"notifications"`
		UnreadCount   int                    `json:"unreadCount"`
	} `json:"data"`
}

type ackResponse struct {
	Success bool `json:"success"`
}

// Client is a thin client for the notification REST API. All methods
// honor the deadline on the passed context; the client itself imposes
// no timeout.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient returns a client for the API rooted at baseURL. The token,
// if non-empty, is sent as a bearer credential with every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// FetchNotifications fetches up to limit notifications along with the
// current unread count.
func (c *Client) FetchNotifications(ctx context.Context, limit int) (*NotificationPage, error) {
	url := fmt.Sprintf("%s/notifications?limit=%d", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var r listResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, err
	}
	if !r.Success {
		return nil, ErrUnsuccessfulResponse
	}

	for _, n := range r.Data.Notifications {
		n.Normalize()
	}

	return &NotificationPage{
		Notifications: r.Data.Notifications,
		UnreadCount:   r.Data.UnreadCount,
	}, nil
}

// MarkRead confirms a single notification as read with the server.
// The call is idempotent server side.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.post(ctx, fmt.Sprintf("%s/notifications/%s/read", c.baseURL, id))
}

// MarkAllRead confirms all notifications as read with the server.
// The call is idempotent server side.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.post(ctx, fmt.Sprintf("%s/notifications/read-all", c.baseURL))
}

func (c *Client) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	var r ackResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return err
	}
	if !r.Success {
		return ErrUnsuccessfulResponse
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// IsTimeout reports whether err represents an abandoned request (a
// deadline that fired or a canceled context) as opposed to a genuine
// server failure. Abandoned requests are the silent, recoverable class
// of poll error.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
