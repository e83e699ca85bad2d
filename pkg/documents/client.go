/**
 * @description
 * This package provides a client for the document service. The transfer flow
 * uses it to collect a citizen's document URLs before handing the citizen off
 * to a peer operator.
 */
package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the document service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new document service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetCitizenDocuments fetches the citizen's document URLs. The document
// service returns either the bare map {"URL1": [...], ...} or the same map
// wrapped in a "documents" envelope; both shapes are accepted. A failed fetch
// yields an empty map so a transfer can proceed without documents.
func (c *Client) GetCitizenDocuments(ctx context.Context, citizenID string) map[string]interface{} {
	if c.baseURL == "" {
		return map[string]interface{}{}
	}

	url := fmt.Sprintf("%s/api/documents/%s", c.baseURL, citizenID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		log.Printf("level=warn component=documents_client op=get_documents citizen_id=%s err=%v", citizenID, err)
		return map[string]interface{}{}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=documents_client op=get_documents citizen_id=%s msg=\"request failed\" err=%v", citizenID, err)
		return map[string]interface{}{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("level=warn component=documents_client op=get_documents citizen_id=%s status=%d msg=\"non-200 response\"", citizenID, resp.StatusCode)
		return map[string]interface{}{}
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=documents_client op=get_documents citizen_id=%s msg=\"decode failed\" err=%v", citizenID, err)
		return map[string]interface{}{}
	}

	if inner, ok := payload["documents"]; ok {
		if m, ok := inner.(map[string]interface{}); ok {
			return m
		}
	}
	return payload
}
