package inject

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// bridgeCall resolves to {success, message} once the bridge has run the decoded command
const bridgeCall = `(async () => { const bridge = window.__questdeck; if (!bridge) { return { success: false, message: "bridge not loaded" }; } return await bridge.run(JSON.parse(atob(%q))); })()`

// BuildPayload encodes a command as a self-contained expression for the host runtime
func BuildPayload(cmd Command) (string, error) {
	if cmd.Action == "" {
		return "", fmt.Errorf("payload action is required")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return fmt.Sprintf(bridgeCall, base64.StdEncoding.EncodeToString(data)), nil
}

// ParseResult decodes the value returned by the bridge. A bare string is treated as a failure message.
func ParseResult(raw []byte) (Result, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Result{}, fmt.Errorf("empty response from host")
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err == nil {
		return result, nil
	}

	var message string
	if err := json.Unmarshal(raw, &message); err == nil {
		return Result{Success: false, Message: message}, nil
	}
	return Result{}, fmt.Errorf("unexpected response from host: %s", trimmed)
}
