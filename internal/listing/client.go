// Package listing is the narrow client for the job-listing domain. The
// payments core only needs to flip a posting between published and draft.
package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PublishParams carries everything a paid publication needs to record.
type PublishParams struct {
	ExpiresAt  time.Time `json:"expires_at"`
	Upsells    []string  `json:"upsells,omitempty"`
	PaymentID  string    `json:"payment_id"`
	PaidAmount int64     `json:"paid_amount"`
}

type Service interface {
	Publish(ctx context.Context, jobID string, p PublishParams) error
	Unpublish(ctx context.Context, jobID string) error
}

type Client struct {
	HTTP    *http.Client
	BaseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		BaseURL: baseURL,
	}
}

func (c *Client) Publish(ctx context.Context, jobID string, p PublishParams) error {
	body, _ := json.Marshal(p)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/jobs/%s/publish", c.BaseURL, jobID),
		bytes.NewReader(body),
	)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("job not found")
	default:
		return fmt.Errorf("publish job %s: %s", jobID, res.Status)
	}
}

func (c *Client) Unpublish(ctx context.Context, jobID string) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/jobs/%s/unpublish", c.BaseURL, jobID), nil)
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("job not found")
	default:
		return fmt.Errorf("unpublish job %s: %s", jobID, res.Status)
	}
}
