package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

func TestClient_FetchNotifications(t *testing.T) {
	mockedHTTPClient := http.Client{}
	httpmock.ActivateNonDefault(&mockedHTTPClient)

	defer httpmock.DeactivateAndReset()

	resp := map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"notifications": []map[string]interface{}{
				{
					"id":        "n1",
					"type":      "follow",
					"title":     "New follower",
					"message":   "u2 followed you",
					"read":      false,
					"createdAt": time.Unix(1000, 0).UTC().Format(time.RFC3339),
				},
				{
					"id":        "n2",
					"type":      "system",
					"read":      true,
					"createdAt": time.Unix(2000, 0).UTC().Format(time.RFC3339),
				},
			},
			"unreadCount": 1,
		},
	}
	httpmock.RegisterResponder(http.MethodGet, "http://localhost:8585/v1/notifications?limit=20",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer letmein" {
				t.Error("Missing bearer credential on fetch")
			}
			return httpmock.NewJsonResponse(http.StatusOK, resp)
		},
	)

	client := NewClient("http://localhost:8585/v1", "letmein")
	client.client = &mockedHTTPClient

	page, err := client.FetchNotifications(context.Background(), 20)
	if err != nil {
		t.Fatal(err)
	}

	if len(page.Notifications) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(page.Notifications))
	}
	if page.UnreadCount != 1 {
		t.Errorf("Expected unread count 1, got %d", page.UnreadCount)
	}
	if page.Notifications[0].ID != "n1" {
		t.Errorf("Expected notification n1, got %s", page.Notifications[0].ID)
	}

	// Missing display strings are replaced with placeholders.
	if page.Notifications[1].Title == "" || page.Notifications[1].Message == "" {
		t.Error("Expected placeholder display strings on sparse payload")
	}
}

func TestClient_FetchNotificationsServerError(t *testing.T) {
	mockedHTTPClient := http.Client{}
	httpmock.ActivateNonDefault(&mockedHTTPClient)

	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "http://localhost:8585/v1/notifications?limit=20",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"),
	)

	client := NewClient("http://localhost:8585/v1", "")
	client.client = &mockedHTTPClient

	_, err := client.FetchNotifications(context.Background(), 20)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusInternalServerError {
		t.Errorf("Expected code 500, got %d", statusErr.Code)
	}
	if IsTimeout(err) {
		t.Error("Server error misclassified as timeout")
	}
}

func TestClient_MarkRead(t *testing.T) {
	mockedHTTPClient := http.Client{}
	httpmock.ActivateNonDefault(&mockedHTTPClient)

	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://localhost:8585/v1/notifications/n1/read",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{"success": true}),
	)
	httpmock.RegisterResponder(http.MethodPost, "http://localhost:8585/v1/notifications/read-all",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{"success": true}),
	)

	client := NewClient("http://localhost:8585/v1", "")
	client.client = &mockedHTTPClient

	if err := client.MarkRead(context.Background(), "n1"); err != nil {
		t.Error(err)
	}
	if err := client.MarkAllRead(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("DeadlineExceeded should classify as timeout")
	}
	if !IsTimeout(context.Canceled) {
		t.Error("Canceled should classify as timeout")
	}
	if IsTimeout(&StatusError{Code: 500}) {
		t.Error("StatusError should not classify as timeout")
	}
	if IsTimeout(nil) {
		t.Error("nil should not classify as timeout")
	}
}
