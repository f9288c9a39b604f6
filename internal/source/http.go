package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// maxBody caps the quest list response size (4MB)
const maxBody = 4 * 1024 * 1024

// HTTP fetches the task list from a JSON endpoint
type HTTP struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTP creates an HTTP source
func NewHTTP(url, token string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// ListTasks fetches and decodes the list. Every failure is transient from the monitor's point of view.
func (h *HTTP) ListTasks(ctx context.Context) ([]quest.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", quest.ErrPollingTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: quest source returned %s", quest.ErrPollingTransient, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", quest.ErrPollingTransient, err)
	}

	tasks, err := decodeTasks(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", quest.ErrPollingTransient, err)
	}
	return tasks, nil
}

// Progress returns the ground-truth seconds for one task
func (h *HTTP) Progress(ctx context.Context, taskID string) (int, error) {
	tasks, err := h.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	return progressOf(tasks, taskID)
}
