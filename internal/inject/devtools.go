package inject

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// Conn is the slice of a websocket connection the DevTools client uses
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Dialer opens a websocket to a debugger url
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

func (d wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type cdpRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type cdpResponse struct {
	ID     int64 `json:"id"`
	Result struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DevTools evaluates payloads in the host page over the remote debugging protocol
type DevTools struct {
	endpoint string
	match    string
	client   *http.Client
	dialer   Dialer
	nextID   atomic.Int64
}

// NewDevTools creates a provider for the debugging endpoint on the given local port.
// match selects the page whose title or url contains it.
func NewDevTools(port int, match string) *DevTools {
	return &DevTools{
		endpoint: fmt.Sprintf("http://127.0.0.1:%d", port),
		match:    strings.ToLower(match),
		client:   &http.Client{Timeout: 5 * time.Second},
		dialer:   wsDialer{dialer: websocket.DefaultDialer},
	}
}

// Name returns the strategy name
func (d *DevTools) Name() string {
	return "devtools"
}

// Targets lists debuggable targets
func (d *DevTools) Targets(ctx context.Context) ([]Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/json/list", nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("debugging endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("debugging endpoint returned %s", resp.Status)
	}

	var targets []Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("failed to decode targets: %w", err)
	}
	return targets, nil
}

func (d *DevTools) pickTarget(targets []Target) (Target, bool) {
	var fallback *Target
	for i := range targets {
		t := targets[i]
		if t.Type != "page" || t.WebSocketDebuggerURL == "" {
			continue
		}
		if d.match == "" || strings.Contains(strings.ToLower(t.Title), d.match) || strings.Contains(strings.ToLower(t.URL), d.match) {
			return t, true
		}
		if fallback == nil {
			fallback = &targets[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Target{}, false
}

// Submit evaluates the payload and waits for the bridge's response
func (d *DevTools) Submit(ctx context.Context, payload string) (Result, error) {
	targets, err := d.Targets(ctx)
	if err != nil {
		return Result{}, quest.NewError(quest.ErrEnvironmentUnsupported, "", "host is not reachable for injection", err)
	}
	target, ok := d.pickTarget(targets)
	if !ok {
		return Result{}, quest.NewError(quest.ErrEnvironmentUnsupported, "", "no debuggable host page found", nil)
	}

	conn, err := d.dialer.Dial(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return Result{}, quest.NewError(quest.ErrEnvironmentUnsupported, "", "failed to attach to host page", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	id := d.nextID.Add(1)
	req := cdpRequest{
		ID:     id,
		Method: "Runtime.evaluate",
		Params: map[string]any{
			"expression":    payload,
			"awaitPromise":  true,
			"returnByValue": true,
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return Result{}, quest.NewError(quest.ErrInjectionFailed, "", "failed to send payload", err)
	}

	for {
		var resp cdpResponse
		if err := conn.ReadJSON(&resp); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			return Result{}, quest.NewError(quest.ErrInjectionFailed, "", "lost connection to host page", err)
		}
		// Events and replies to other requests share the socket
		if resp.ID != id {
			continue
		}
		return evaluateResponse(resp)
	}
}

func evaluateResponse(resp cdpResponse) (Result, error) {
	if resp.Error != nil {
		return Result{}, quest.NewError(quest.ErrInjectionFailed, "", fmt.Sprintf("protocol error %d: %s", resp.Error.Code, resp.Error.Message), nil)
	}
	if ex := resp.Result.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return Result{}, quest.NewError(quest.ErrInjectionFailed, "", "payload threw: "+msg, nil)
	}

	result, err := ParseResult(resp.Result.Result.Value)
	if err != nil {
		return Result{}, quest.NewError(quest.ErrInjectionFailed, "", "unreadable bridge response", err)
	}
	return result, nil
}

