package telephony

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/models"
)

func callID(executionContext map[string]any) (string, error) {
	id, ok := executionContext["call_id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("execution context has no call_id")
	}

	return id, nil
}

// ExternalTransferHandler bridges the call out to a PSTN number or SIP URI.
type ExternalTransferHandler struct {
	client *Client
	logger *slog.Logger
}

func NewExternalTransferHandler(client *Client, logger *slog.Logger) *ExternalTransferHandler {
	return &ExternalTransferHandler{client: client, logger: logger.With("module", "external_transfer")}
}

func (h *ExternalTransferHandler) Execute(ctx context.Context, node *models.Node, executionContext map[string]any) (*dispatcher.Result, error) {
	cfg, err := node.TransferConfig()
	if err != nil {
		return nil, err
	}

	call, err := callID(executionContext)
	if err != nil {
		return nil, err
	}

	response, err := h.client.Transfer(ctx, call, cfg.Destination, cfg.CallerID)
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "Transferred call", "call_id", call, "destination", cfg.Destination)

	return &dispatcher.Result{Output: map[string]any{
		"transfer_destination": cfg.Destination,
		"command_id":           response.CommandID,
	}}, nil
}

// PlayAudioHandler plays a stored prompt to the caller.
type PlayAudioHandler struct {
	client *Client
	logger *slog.Logger
}

func NewPlayAudioHandler(client *Client, logger *slog.Logger) *PlayAudioHandler {
	return &PlayAudioHandler{client: client, logger: logger.With("module", "play_audio")}
}

func (h *PlayAudioHandler) Execute(ctx context.Context, node *models.Node, executionContext map[string]any) (*dispatcher.Result, error) {
	cfg, err := node.PlayAudioConfig()
	if err != nil {
		return nil, err
	}

	call, err := callID(executionContext)
	if err != nil {
		return nil, err
	}

	response, err := h.client.Play(ctx, call, cfg.AudioRef, cfg.Loop)
	if err != nil {
		return nil, err
	}

	return &dispatcher.Result{Output: map[string]any{
		"played_audio": cfg.AudioRef,
		"command_id":   response.CommandID,
	}}, nil
}

// TextToSpeechHandler plays synthesized speech to the caller.
type TextToSpeechHandler struct {
	client *Client
	logger *slog.Logger
}

func NewTextToSpeechHandler(client *Client, logger *slog.Logger) *TextToSpeechHandler {
	return &TextToSpeechHandler{client: client, logger: logger.With("module", "text_to_speech")}
}

func (h *TextToSpeechHandler) Execute(ctx context.Context, node *models.Node, executionContext map[string]any) (*dispatcher.Result, error) {
	cfg, err := node.TTSConfig()
	if err != nil {
		return nil, err
	}

	call, err := callID(executionContext)
	if err != nil {
		return nil, err
	}

	response, err := h.client.Speak(ctx, call, cfg.Text, cfg.Voice)
	if err != nil {
		return nil, err
	}

	return &dispatcher.Result{Output: map[string]any{
		"spoken_text": cfg.Text,
		"command_id":  response.CommandID,
	}}, nil
}

// CollectInputHandler starts DTMF collection and parks the call until the
// platform delivers the digits as an event.
type CollectInputHandler struct {
	client *Client
	logger *slog.Logger
}

func NewCollectInputHandler(client *Client, logger *slog.Logger) *CollectInputHandler {
	return &CollectInputHandler{client: client, logger: logger.With("module", "collect_input")}
}

func (h *CollectInputHandler) Execute(ctx context.Context, node *models.Node, executionContext map[string]any) (*dispatcher.Result, error) {
	cfg, err := node.CollectInputConfig()
	if err != nil {
		return nil, err
	}

	call, err := callID(executionContext)
	if err != nil {
		return nil, err
	}

	response, err := h.client.Gather(ctx, call, cfg.PromptRef, cfg.MinDigits, cfg.MaxDigits)
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "Started digit collection", "call_id", call, "max_digits", cfg.MaxDigits)

	return &dispatcher.Result{
		Output:    map[string]any{"command_id": response.CommandID},
		Suspended: true,
	}, nil
}
