// services/notifier.go
package services

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gosimple/unidecode"
)

// Notifier delivers "achievement unlocked" / "tournament ending soon" style
// messages. Fire-and-forget: delivery failures are logged and dropped.
type Notifier interface {
	Notify(userID, kind, message string)
}

// NoopNotifier drops everything. Used in tests and when no sink is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, string, string) {}

// NotificationClient posts to the notification service.
type NotificationClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewNotificationClient(baseURL, token string) *NotificationClient {
	return &NotificationClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *NotificationClient) Notify(userID, kind, message string) {
	// SMS gateway downstream only handles ASCII.
	payload, _ := json.Marshal(map[string]string{
		"user_id": userID,
		"kind":    kind,
		"message": unidecode.Unidecode(message),
	})

	go func() {
		req, err := http.NewRequest("POST", c.BaseURL+"/api/v1/internal/notify", bytes.NewBuffer(payload))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Service-Token", c.Token)

		resp, err := c.Client.Do(req)
		if err != nil {
			log.Printf("[Notify] dropped %s for %s: %v", kind, userID, err)
			return
		}
		resp.Body.Close()
	}()
}
