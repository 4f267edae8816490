// services/screener_client.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// RankedEntry is one row of a final ranking snapshot
type RankedEntry struct {
	UserID string `json:"user_id"`
	Rank   int    `json:"rank"`
	Value  int64  `json:"value"`
}

// FraudScreener flags suspect users in a ranked list so they are excluded
// from automatic payout. External collaborator.
type FraudScreener interface {
	// Screen returns the set of flagged user ids for the given ranking.
	Screen(entries []RankedEntry) (map[string]bool, error)
}

// NoopScreener flags nobody. Used when no fraud service is configured.
type NoopScreener struct{}

func (NoopScreener) Screen([]RankedEntry) (map[string]bool, error) {
	return map[string]bool{}, nil
}

// FraudServiceClient is the HTTP-backed screener.
type FraudServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewFraudServiceClient(baseURL, token string) *FraudServiceClient {
	return &FraudServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Screen calls /screen on the fraud service with the ranked snapshot
func (c *FraudServiceClient) Screen(entries []RankedEntry) (map[string]bool, error) {
	url := fmt.Sprintf("%s/api/v1/internal/screen", c.BaseURL)

	jsonData, _ := json.Marshal(map[string]interface{}{"entries": entries})

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("FraudService /screen returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("fraud screen failed: %d", resp.StatusCode)
	}

	var out struct {
		Flagged []string `json:"flagged"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	flagged := make(map[string]bool, len(out.Flagged))
	for _, id := range out.Flagged {
		flagged[id] = true
	}
	return flagged, nil
}
