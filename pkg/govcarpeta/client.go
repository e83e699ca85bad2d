/**
 * @description
 * This package provides a client for the GovCarpeta external authority API.
 * It encapsulates the logic for validating citizen existence across the
 * federation and fetching the operator directory.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package govcarpeta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/govcarpeta/affiliation-service/internal/domain"
)

// Client is a client for the GovCarpeta API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new GovCarpeta API client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ValidateCitizen checks whether the citizen is already registered anywhere in
// the federation. A 200 with a non-empty body means the citizen exists; the
// body is the authority's human-readable message.
func (c *Client) ValidateCitizen(ctx context.Context, citizenID string) (bool, string, error) {
	if c.baseURL == "" {
		return false, "", fmt.Errorf("govcarpeta base url is empty")
	}

	url := fmt.Sprintf("%s/apis/validateCitizen/%s", c.baseURL, citizenID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false, "", fmt.Errorf("failed to create validate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("failed to execute validate request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, "", fmt.Errorf("failed to read validate response: %w", err)
	}

	if resp.StatusCode == http.StatusOK && len(strings.TrimSpace(string(bodyBytes))) > 0 {
		return true, strings.TrimSpace(string(bodyBytes)), nil
	}
	return false, fmt.Sprintf("citizen with id %s not found", citizenID), nil
}

// GetOperators fetches the federation operator directory.
func (c *Client) GetOperators(ctx context.Context) ([]domain.Operator, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("govcarpeta base url is empty")
	}

	url := c.baseURL + "/apis/getOperators"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create operators request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute operators request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=govcarpeta_client op=get_operators status=%d msg=\"non-2xx response\"", resp.StatusCode)
		return nil, fmt.Errorf("operator directory returned status %d", resp.StatusCode)
	}

	var operators []domain.Operator
	if err := json.NewDecoder(resp.Body).Decode(&operators); err != nil {
		return nil, fmt.Errorf("failed to decode operators response: %w", err)
	}
	return operators, nil
}
