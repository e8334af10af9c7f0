package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/incident-rca/internal/models"
	"github.com/miradorstack/incident-rca/internal/utils"
)

// NarrativeClient asks an external narrative service for follow-up recommendations.
// Its answer is passed through untouched.
type NarrativeClient struct {
	baseURL       string
	recommendPath string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewNarrativeClient constructs a client targeting the configured narrative service.
func NewNarrativeClient(baseURL, recommendPath string, timeout time.Duration, logger *slog.Logger) *NarrativeClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NarrativeClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		recommendPath: recommendPath,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// Recommend posts the analysis summary and returns the service's recommendations.
func (c *NarrativeClient) Recommend(ctx context.Context, req models.RecommendationRequest) ([]string, error) {
	const op = "narrative.Recommend"
	if c == nil {
		return nil, utils.NewAppError(op, "client not initialised", nil)
	}
	if c.baseURL == "" {
		return nil, utils.NewAppError(op, "base URL not configured", nil)
	}

	var response struct {
		Recommendations []string `json:"recommendations"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.recommendPath), req, &response); err != nil {
		return nil, utils.NewAppError(op, "request failed", err)
	}

	out := make([]string, 0, len(response.Recommendations))
	for _, rec := range response.Recommendations {
		if strings.TrimSpace(rec) != "" {
			out = append(out, rec)
		}
	}
	c.logger.Debug("narrative recommendations received",
		slog.String("incident_id", req.IncidentID), slog.Int("count", len(out)))
	return out, nil
}

func (c *NarrativeClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *NarrativeClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("narrative service returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
