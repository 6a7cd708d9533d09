// Package telephony implements the action handlers that drive the call
// through the telephony platform: transfers, audio playback, synthesized
// speech, and digit collection.
package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a thin wrapper over the telephony platform's call-control API.
type Client struct {
	http *resty.Client
}

// CommandResponse is the platform's acknowledgement of a call command.
type CommandResponse struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
}

func NewClient(baseURL, apiKey string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)

	return &Client{http: httpClient}
}

func (c *Client) command(ctx context.Context, callID, path string, body map[string]any) (*CommandResponse, error) {
	var response CommandResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&response).
		Post(fmt.Sprintf("/calls/%s/%s", callID, path))
	if err != nil {
		return nil, fmt.Errorf("telephony %s command failed: %w", path, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("telephony %s command failed: %s", path, resp.Status())
	}

	return &response, nil
}

// Transfer bridges the call to an external destination.
func (c *Client) Transfer(ctx context.Context, callID, destination, callerID string) (*CommandResponse, error) {
	body := map[string]any{"destination": destination}
	if callerID != "" {
		body["caller_id"] = callerID
	}

	return c.command(ctx, callID, "transfer", body)
}

// Play plays a stored audio prompt to the caller.
func (c *Client) Play(ctx context.Context, callID, audioRef string, loop int) (*CommandResponse, error) {
	body := map[string]any{"audio_ref": audioRef}
	if loop > 0 {
		body["loop"] = loop
	}

	return c.command(ctx, callID, "play", body)
}

// Speak plays synthesized speech to the caller.
func (c *Client) Speak(ctx context.Context, callID, text, voice string) (*CommandResponse, error) {
	body := map[string]any{"text": text}
	if voice != "" {
		body["voice"] = voice
	}

	return c.command(ctx, callID, "speak", body)
}

// Gather starts DTMF collection on the call. Collected digits arrive later
// as a platform event.
func (c *Client) Gather(ctx context.Context, callID, promptRef string, minDigits, maxDigits int) (*CommandResponse, error) {
	body := map[string]any{
		"min_digits": minDigits,
		"max_digits": maxDigits,
	}
	if promptRef != "" {
		body["prompt_ref"] = promptRef
	}

	return c.command(ctx, callID, "gather", body)
}
