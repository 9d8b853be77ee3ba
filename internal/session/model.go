package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/chatgate/internal/channels"
)

const modelRequestTimeout = 120 * time.Second

// NewOpenAIInvoker returns a ModelInvoker that calls an OpenAI-compatible
// chat completions endpoint. baseURL is the API root without the
// /chat/completions suffix.
func NewOpenAIInvoker(baseURL, apiKey, model string) channels.ModelInvoker {
	client := &http.Client{Timeout: modelRequestTimeout}
	endpoint := strings.TrimRight(baseURL, "/") + "/chat/completions"

	return func(ctx context.Context, messages []channels.ModelMessage) (string, error) {
		body, err := json.Marshal(map[string]any{
			"model":    model,
			"messages": messages,
		})
		if err != nil {
			return "", fmt.Errorf("marshal chat request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("build chat request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("chat completions request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
		if err != nil {
			return "", fmt.Errorf("read chat response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("chat completions status %d: %s", resp.StatusCode, truncate(string(data), 200))
		}

		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", fmt.Errorf("parse chat response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("chat completions returned no choices")
		}
		return parsed.Choices[0].Message.Content, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
