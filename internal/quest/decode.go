package quest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field aliases seen across providers. The first present key wins.
var (
	idFields        = []string{"taskId", "id", "questId", "quest_id", "task_id"}
	kindFields      = []string{"taskKind", "kind", "type", "task_kind"}
	appIDFields     = []string{"ownerAppId", "applicationId", "application_id", "appId"}
	appNameFields   = []string{"ownerAppName", "applicationName", "application_name", "appName", "name"}
	neededFields    = []string{"secondsNeeded", "target", "seconds_needed"}
	doneFields      = []string{"secondsDone", "progress", "value", "seconds_done"}
	completedFields = []string{"completed", "completedAt", "completed_at"}
	expiresFields   = []string{"expiresAt", "expires_at"}
)

// UnmarshalJSON decodes a task while tolerating the field names different providers use
func (t *Task) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	id, ok := firstString(raw, idFields)
	if !ok || strings.TrimSpace(id) == "" {
		return fmt.Errorf("task has no id field")
	}

	decoded := Task{ID: id}

	if kind, ok := firstString(raw, kindFields); ok {
		if k, ok := ParseKind(kind); ok {
			decoded.Kind = k
		} else {
			decoded.Kind = Kind(kind)
		}
	}

	decoded.OwnerAppID, _ = firstString(raw, appIDFields)
	decoded.OwnerAppName, _ = firstString(raw, appNameFields)

	if n, ok := firstInt(raw, neededFields); ok {
		decoded.SecondsNeeded = int(n)
	}
	if n, ok := firstInt(raw, doneFields); ok {
		decoded.SecondsDone = int(n)
	}
	decoded.Completed = firstTruthy(raw, completedFields)

	if n, ok := firstInt(raw, expiresFields); ok {
		decoded.ExpiresAt = &n
	}

	*t = decoded
	return nil
}

func firstString(raw map[string]any, keys []string) (string, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return val, true
		case json.Number:
			return val.String(), true
		case bool:
			return strconv.FormatBool(val), true
		}
	}
	return "", false
}

func firstInt(raw map[string]any, keys []string) (int64, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case json.Number:
			if i, err := val.Int64(); err == nil {
				return i, true
			}
			if f, err := val.Float64(); err == nil {
				return int64(math.Floor(f)), true
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

// firstTruthy treats true booleans and any non-empty, non-null value (e.g. a timestamp) as set
func firstTruthy(raw map[string]any, keys []string) bool {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case bool:
			if val {
				return true
			}
		case string:
			if val != "" {
				return true
			}
		case json.Number:
			return true
		}
	}
	return false
}
