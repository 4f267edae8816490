// services/metrics_client.go
package services

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// MetricsServiceClient is the HTTP-backed MetricsProvider talking to the
// aggregation service behind the gateway.
type MetricsServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewMetricsServiceClient(baseURL, token string) *MetricsServiceClient {
	return &MetricsServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Metrics calls /metrics/:userID on the aggregation service
func (c *MetricsServiceClient) Metrics(userID string) (map[string]float64, error) {
	url := fmt.Sprintf("%s/api/v1/internal/metrics/%s", c.BaseURL, userID)

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("MetricsService returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("metrics fetch failed: %d", resp.StatusCode)
	}

	var out struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.Metrics, nil
}
