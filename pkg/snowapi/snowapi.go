// Package snowapi talks to the ServiceNow table API. Its one job here is
// keeping the outbound REST message auth header in step with the rotated
// webhook token.
package snowapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

const headerTablePath = "/api/now/table/sys_rest_message_fn_headers"

// Client is a ServiceNow HTTP client
type Client struct {
	BaseURL    *url.URL
	HTTPClient *http.Client
	Username   string
	Password   string
}

// headerRecord is the sys_rest_message_fn_headers row payload
type headerRecord struct {
	RestMessageFunction string `json:"rest_message_function"`
	Name                string `json:"name"`
	Value               string `json:"value"`
}

// NewClient returns a ServiceNow client for the given instance
func NewClient(instance, username, password string) (*Client, error) {

	u, err := url.Parse(instance)
	if err != nil {
		return nil, fmt.Errorf("could not parse instance url: %v", err)
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("missing credentials")
	}

	return &Client{
		BaseURL:    u,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Username:   username,
		Password:   password,
	}, nil
}

// NewRequest creates an authenticated JSON request against the instance
func (c *Client) NewRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {

	p, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	u := c.BaseURL.ResolveReference(p)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.Username, c.Password)

	return req, nil
}

// SetWebhookAuthHeader writes the Authorization header of the outbound
// rest message function to a bearer token for the new secret. Returns the
// sys_id of the created row.
func (c *Client) SetWebhookAuthHeader(ctx context.Context, messageFunction, token string) (string, error) {

	payload, err := json.Marshal(headerRecord{
		RestMessageFunction: messageFunction,
		Name:                "Authorization",
		Value:               "Bearer " + token,
	})
	if err != nil {
		return "", fmt.Errorf("could not marshal header record: %v", err)
	}

	req, err := c.NewRequest(ctx, http.MethodPost, headerTablePath, payload)
	if err != nil {
		return "", fmt.Errorf("could not make request: %v", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not call servicenow: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("servicenow returned %v: %s", resp.StatusCode, body)
	}

	sysID := gjson.GetBytes(body, "result.sys_id").String()
	if sysID == "" {
		return "", fmt.Errorf("servicenow response has no sys_id: %s", body)
	}

	fmt.Printf("updated webhook auth header, sys_id %v\n", sysID)
	return sysID, nil
}

// Pusher adapts the client to the rotation token pusher contract
type Pusher struct {
	Client          *Client
	MessageFunction string
}

// PushToken propagates the token to the outbound rest message header
func (p *Pusher) PushToken(token string) error {
	_, err := p.Client.SetWebhookAuthHeader(context.Background(), p.MessageFunction, token)
	return err
}
