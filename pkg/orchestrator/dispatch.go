package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
)

// headerSelection is the set of well-known fields resolveDispatch overlays
// from task.Metadata onto the headers map, mirroring _resolve_headers'
// fixed selection.
var headerSelection = []string{"source", "destination", "created_at", "sdk_version", "data_handler", "has_error", "campaignId", "nodeId"}

// resolveDispatch derives the broker.Publisher.Publish parameters for one
// task, implementing spec.md §6's topic/header/body rules exactly.
// Grounded on original_source's _resolve_topic/_resolve_headers/
// _resolve_payload/_split_hierarchy.
func resolveDispatch(task *campaign.Task) (topic string, headers map[string]string, payload []byte, contentType string, err error) {
	topic, err = resolveTopic(task)
	if err != nil {
		return "", nil, nil, "", err
	}

	headers, err = resolveHeaders(task)
	if err != nil {
		return "", nil, nil, "", err
	}

	payload, contentType = resolvePayload(task)
	return topic, headers, payload, contentType, nil
}

// resolveTopic mirrors _resolve_topic: an explicit "topic" metadata field
// wins; else the task's dotted/slashed service hierarchy with "/response"
// appended; else assembled from discrete organization/facility/system/
// subsystem/service metadata fields; else ErrUnresolvableTopic.
func resolveTopic(task *campaign.Task) (string, error) {
	if v, ok := stringMetadata(task.Metadata, "topic"); ok {
		return v, nil
	}

	hierarchy := task.ServiceHierarchy
	if hierarchy == "" {
		if v, ok := stringMetadata(task.Metadata, "hierarchy"); ok {
			hierarchy = v
		}
	}
	if hierarchy != "" {
		if parts, err := splitHierarchy(hierarchy); err == nil {
			return strings.Join(parts, "/") + "/response", nil
		}
	}

	fields := []string{"organization", "facility", "system", "subsystem", "service"}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v, ok := stringMetadata(task.Metadata, f)
		if !ok {
			return "", fmt.Errorf("%w: task %s", ErrUnresolvableTopic, task.ID)
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "/") + "/response", nil
}

// splitHierarchy mirrors _split_hierarchy: split on "/" if present, else
// on ".", and require exactly five parts.
func splitHierarchy(hierarchy string) ([]string, error) {
	sep := "."
	if strings.Contains(hierarchy, "/") {
		sep = "/"
	}
	parts := strings.Split(hierarchy, sep)
	if len(parts) != 5 {
		return nil, fmt.Errorf("hierarchy %q does not split into exactly five parts on %q", hierarchy, sep)
	}
	return parts, nil
}

// resolveHeaders mirrors _resolve_headers: start from any headers/header
// dict in metadata, overlay the fixed selection, default created_at/
// has_error, then require source+sdk_version.
func resolveHeaders(task *campaign.Task) (map[string]string, error) {
	headers := map[string]string{}

	if nested, ok := task.Metadata["headers"].(map[string]any); ok {
		for k, v := range nested {
			headers[k] = normalizeHeaderValue(v)
		}
	} else if nested, ok := task.Metadata["header"].(map[string]any); ok {
		for k, v := range nested {
			headers[k] = normalizeHeaderValue(v)
		}
	}

	for _, key := range headerSelection {
		if v, ok := task.Metadata[key]; ok {
			headers[key] = normalizeHeaderValue(v)
		}
	}

	if _, ok := headers["created_at"]; !ok {
		headers["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	if _, ok := headers["has_error"]; !ok {
		headers["has_error"] = "false"
	}

	if headers["source"] == "" {
		return nil, fmt.Errorf("%w: task %s missing source", ErrMissingHeaders, task.ID)
	}
	if headers["sdk_version"] == "" {
		return nil, fmt.Errorf("%w: task %s missing sdk_version", ErrMissingHeaders, task.ID)
	}
	return headers, nil
}

// normalizeHeaderValue stringifies a metadata value for the headers map;
// booleans serialize as "true"/"false" per spec.md §6.
func normalizeHeaderValue(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "true"
		}
		return "false"
	}
	return fmt.Sprint(v)
}

// resolvePayload mirrors _resolve_payload: the first of payload/input/data
// present in metadata becomes the body — bytes pass through, strings are
// UTF-8 encoded, anything else is JSON-encoded (upgrading a default
// octet-stream content type to application/json). Absent payload yields an
// empty body and the content type unchanged (the "content_type" metadata
// field if set, else application/octet-stream).
func resolvePayload(task *campaign.Task) ([]byte, string) {
	contentType := "application/octet-stream"
	if v, ok := stringMetadata(task.Metadata, "content_type"); ok {
		contentType = v
	}

	var raw any
	found := false
	for _, key := range []string{"payload", "input", "data"} {
		if v, ok := task.Metadata[key]; ok {
			raw, found = v, true
			break
		}
	}
	if !found {
		return nil, contentType
	}

	switch v := raw.(type) {
	case []byte:
		return v, contentType
	case string:
		return []byte(v), contentType
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, contentType
		}
		if contentType == "application/octet-stream" {
			contentType = "application/json"
		}
		return data, contentType
	}
}

func stringMetadata(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
