/**
 * @description
 * This package provides a client for communicating with peer operators in the
 * federation. The outgoing transfer flow POSTs the citizen's data to the
 * destination operator's transfer API, and the incoming flow POSTs a
 * confirmation back to the source operator's callback URL.
 */
package operatorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/govcarpeta/affiliation-service/internal/domain"
)

// Client is a client for peer operator transfer APIs.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new peer operator client.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SendTransfer POSTs the transfer payload to the destination operator's
// transfer API. 200 or 201 counts as accepted.
func (c *Client) SendTransfer(ctx context.Context, transferURL string, payload domain.TransferPayload) error {
	return c.post(ctx, "send_transfer", transferURL, payload)
}

// SendConfirmation POSTs the transfer outcome to the source operator's
// callback URL. ReqStatus 1 reports success, 0 reports failure.
func (c *Client) SendConfirmation(ctx context.Context, confirmURL string, confirmation domain.TransferConfirmation) error {
	return c.post(ctx, "send_confirmation", confirmURL, confirmation)
}

func (c *Client) post(ctx context.Context, op, url string, payload interface{}) error {
	if url == "" {
		return fmt.Errorf("peer operator url is empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to peer operator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("level=warn component=operator_client op=%s status=%d url=%s msg=\"peer rejected request\"", op, resp.StatusCode, url)
		return fmt.Errorf("peer operator returned status %d", resp.StatusCode)
	}
	return nil
}
