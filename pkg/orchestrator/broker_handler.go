package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// nestedHeaderKeys lists the dict keys a broker payload may carry its own
// embedded header block under, mirroring _candidate_headers.
var nestedHeaderKeys = []string{"header", "headers", "parent_header"}

// HandleBrokerMessage implements broker.MessageSink. It translates
// original_source/campaign_orchestrator.py's handle_broker_message
// step-by-step: tolerant parse, campaign-id resolution, node-id
// resolution, drop on anything unresolved, then has_error precedence
// (header over payload) to choose between the error branch, the
// step-complete branch, and a plain TASK_EVENT_RECEIVED tick.
//
// Campaign lookup and the active-step test-and-set happen under the
// orchestrator's single mutex in one critical section so two concurrent
// callbacks for the same step cannot both advance the cursor (spec.md §5).
func (o *Orchestrator) HandleBrokerMessage(ctx context.Context, body []byte, contentType string, headers map[string]string) {
	payload := parseJSONTolerant(body)

	campaignID, ok := extractCampaignID(headers, payload)
	if !ok {
		return
	}

	headerHasError, headerPresent := parseHasErrorHeader(headers["has_error"])
	isError := headerPresent && headerHasError
	if !headerPresent {
		isError, _ = nestedHasErrorBool(payload)
	}
	stepComplete := !isError && isStepCompleteMessage(payload, headerPresent, headerHasError)

	o.mu.Lock()
	resolvedID, known := o.aliases[campaignID]
	if !known {
		o.mu.Unlock()
		return
	}
	cs, ok := o.campaigns[resolvedID]
	if !ok || cs.activeStep == nil {
		o.mu.Unlock()
		return
	}

	nodeID, ok := extractNodeID(headers, payload)
	if !ok {
		o.mu.Unlock()
		return
	}

	activeTask, taskOK := cs.campaign.TaskByRef(*cs.activeStep)
	if !taskOK || normalizeNodeID(nodeID) != normalizeNodeID(activeTask.ID) {
		o.mu.Unlock()
		return
	}
	step := *cs.activeStep
	if isError || stepComplete {
		// Claim the step: a concurrent duplicate callback now finds no active step.
		cs.activeStep = nil
	}
	o.mu.Unlock()

	if isError {
		hierarchy := extractServiceHierarchy(headers, payload)
		reason := extractErrorMessage(payload)

		if err := o.reducer.CampaignError(ctx, resolvedID, reason); err != nil {
			slog.Error("orchestrator: record campaign error failed", "campaign_id", resolvedID, "error", err)
		}
		o.publishFanout(resolvedID, "CAMPAIGN_ERROR_FROM_SERVICE", map[string]any{
			"service_hierarchy": hierarchy,
			"exception_message": reason,
		})
		o.removeCampaign(resolvedID)
		return
	}

	if !stepComplete {
		if err := o.reducer.TaskEventReceived(ctx, resolvedID, payload); err != nil {
			slog.Warn("orchestrator: record task event received failed", "campaign_id", resolvedID, "error", err)
		}
		return
	}

	if err := o.reducer.TaskCompleted(ctx, resolvedID, step.GroupID, step.TaskID); err != nil {
		slog.Error("orchestrator: record task completed failed", "campaign_id", resolvedID, "error", err)
		return
	}
	if err := o.reducer.StepComplete(ctx, resolvedID); err != nil {
		slog.Error("orchestrator: record step complete failed", "campaign_id", resolvedID, "error", err)
		return
	}
	o.publishFanout(resolvedID, "STEP_COMPLETE", map[string]any{"task_group_id": step.GroupID, "task_id": step.TaskID})

	o.mu.Lock()
	if cs, ok := o.campaigns[resolvedID]; ok {
		cs.cursor++
	}
	o.mu.Unlock()

	o.startNextStep(ctx, resolvedID)
}

// parseJSONTolerant mirrors _parse_json: an invalid or empty body yields an
// empty map rather than an error, since malformed broker bodies are
// expected traffic, not a caller bug.
func parseJSONTolerant(body []byte) map[string]any {
	if len(body) == 0 {
		return map[string]any{}
	}
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		return map[string]any{}
	}
	if v == nil {
		return map[string]any{}
	}
	return v
}

// candidateHeaders returns every nested header-like dict a payload embeds,
// mirroring _candidate_headers.
func candidateHeaders(payload map[string]any) []map[string]any {
	var out []map[string]any
	for _, key := range nestedHeaderKeys {
		if nested, ok := payload[key].(map[string]any); ok {
			out = append(out, nested)
		}
	}
	return out
}

// extractCampaignID mirrors _extract_campaign_id: headers first, then the
// payload's own top-level field, then its nested header dicts.
func extractCampaignID(headers map[string]string, payload map[string]any) (string, bool) {
	if v := headers["campaignId"]; v != "" {
		return v, true
	}
	if v := headers["campaign_id"]; v != "" {
		return v, true
	}
	if v, ok := stringField(payload, "campaignId", "campaign_id"); ok {
		return v, true
	}
	for _, nested := range candidateHeaders(payload) {
		if v, ok := stringField(nested, "campaignId", "campaign_id"); ok {
			return v, true
		}
	}
	return "", false
}

// extractNodeID mirrors _extract_node_id/_normalize_node_id: headers first,
// then the payload, then its nested header dicts; a JSON array value picks
// its first element (_normalize_node_id's list-unwrap rule).
func extractNodeID(headers map[string]string, payload map[string]any) (string, bool) {
	if v := headers["nodeId"]; v != "" {
		return v, true
	}
	if v := headers["node_id"]; v != "" {
		return v, true
	}
	if v, ok := anyField(payload, "nodeId", "node_id"); ok {
		return normalizeNodeIDValue(v), true
	}
	for _, nested := range candidateHeaders(payload) {
		if v, ok := anyField(nested, "nodeId", "node_id"); ok {
			return normalizeNodeIDValue(v), true
		}
	}
	return "", false
}

// normalizeNodeIDValue unwraps a JSON-array node id to its first element,
// matching _normalize_node_id's "first element if a list" rule; anything
// else is stringified as-is.
func normalizeNodeIDValue(v any) string {
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return ""
		}
		return fmt.Sprint(arr[0])
	}
	return fmt.Sprint(v)
}

// normalizeNodeID trims whitespace for a tolerant equality check against
// the dispatched task's id — the Go data model has no separate per-dispatch
// node uuid the way the Python original mints one, so the task id itself
// plays that matching role.
func normalizeNodeID(id string) string {
	return strings.TrimSpace(id)
}

// parseHasErrorHeader mirrors _has_error's header parsing: accepts
// true/false/1/0/yes/no case-insensitively; an empty or unparseable value
// reports present=false so callers fall through to the payload fallback.
func parseHasErrorHeader(raw string) (value bool, present bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// isStepCompleteMessage mirrors _is_step_complete_message: the header's
// has_error (already resolved by the caller) wins if present; otherwise
// fall back to the payload's own has_error bool (top-level or nested);
// if neither source specifies it, the message carries no explicit
// completion signal and is treated as an in-flight event tick, not a
// step completion.
func isStepCompleteMessage(payload map[string]any, headerPresent, headerHasError bool) bool {
	if headerPresent {
		return !headerHasError
	}
	if v, ok := nestedHasErrorBool(payload); ok {
		return !v
	}
	return false
}

// nestedHasErrorBool looks for a boolean has_error at the payload's top
// level, then within its nested header dicts.
func nestedHasErrorBool(payload map[string]any) (bool, bool) {
	if v, ok := payload["has_error"].(bool); ok {
		return v, true
	}
	for _, nested := range candidateHeaders(payload) {
		if v, ok := nested["has_error"].(bool); ok {
			return v, true
		}
	}
	return false, false
}

// extractErrorMessage mirrors _extract_error_message: the first of
// error/exception/message present in the payload, else the payload
// JSON-encoded whole.
func extractErrorMessage(payload map[string]any) string {
	if v, ok := stringField(payload, "error", "exception", "message"); ok {
		return v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "unknown error"
	}
	return string(data)
}

// extractServiceHierarchy mirrors _extract_service_hierarchy's derivation
// order: header source, then payload header.source, else "unknown-service".
func extractServiceHierarchy(headers map[string]string, payload map[string]any) string {
	if v := headers["source"]; v != "" {
		return v
	}
	for _, nested := range candidateHeaders(payload) {
		if v, ok := stringField(nested, "source"); ok {
			return v
		}
	}
	return "unknown-service"
}

func stringField(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t, true
				}
			case float64:
				return strconv.FormatFloat(t, 'f', -1, 64), true
			}
		}
	}
	return "", false
}

func anyField(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}
