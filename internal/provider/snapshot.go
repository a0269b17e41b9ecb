package provider

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

type SnapshotState string

const (
	SnapshotPending SnapshotState = "pending"
	SnapshotReady   SnapshotState = "ready"
	SnapshotFailed  SnapshotState = "failed"
)

// Snapshot is the normalized poll response. The provider answers either with a
// bare array of records or with a {status, data} envelope.
type Snapshot struct {
	State   SnapshotState
	Records []map[string]any
	Message string
}

func decodeSnapshot(statusCode int, body []byte) (*Snapshot, error) {
	body = bytes.TrimSpace(body)

	if statusCode == http.StatusAccepted || len(body) == 0 {
		snap := &Snapshot{State: SnapshotPending}
		if len(body) > 0 {
			var env map[string]any
			if err := json.Unmarshal(body, &env); err == nil {
				snap.Message = stringValue(env["message"])
			}
		}
		return snap, nil
	}

	switch body[0] {
	case '[':
		var records []map[string]any
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, &Error{Kind: ErrMalformedResponse, Message: err.Error()}
		}
		return &Snapshot{State: SnapshotReady, Records: records}, nil
	case '{':
		var env map[string]any
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, &Error{Kind: ErrMalformedResponse, Message: err.Error()}
		}
		return decodeEnvelope(env)
	default:
		return nil, &Error{Kind: ErrMalformedResponse, Message: "unexpected body: " + string(body[:min(len(body), 64)])}
	}
}

func decodeEnvelope(env map[string]any) (*Snapshot, error) {
	status := strings.ToLower(stringValue(env["status"]))
	message := stringValue(env["error"])
	if message == "" {
		message = stringValue(env["message"])
	}

	data, hasData := env["data"]

	switch status {
	case "running", "building", "collecting", "pending", "starting", "scheduled":
		return &Snapshot{State: SnapshotPending, Message: message}, nil
	case "failed", "error":
		return &Snapshot{State: SnapshotFailed, Message: message}, nil
	case "ready", "done", "completed", "success":
		return &Snapshot{State: SnapshotReady, Records: recordsFrom(data), Message: message}, nil
	case "":
		if hasData {
			return &Snapshot{State: SnapshotReady, Records: recordsFrom(data)}, nil
		}
		// A lone record without an envelope.
		return &Snapshot{State: SnapshotReady, Records: []map[string]any{env}}, nil
	default:
		return nil, &Error{Kind: ErrMalformedResponse, Message: "unknown snapshot status " + status}
	}
}

func recordsFrom(data any) []map[string]any {
	switch v := data.(type) {
	case []any:
		records := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if record, ok := item.(map[string]any); ok {
				records = append(records, record)
			}
		}
		return records
	case map[string]any:
		return []map[string]any{v}
	default:
		return nil
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
