package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	gauge(&sb, "chatstream_uptime_seconds", "Time since the daemon started", snap.Uptime)
	gauge(&sb, "chatstream_active_streams", "Conversations with a streaming attempt", snap.ActiveStreams)

	labelled(&sb, "chatstream_http_requests_total", "Total HTTP requests by route", "counter", "route", snap.TotalRequests, false)
	labelled(&sb, "chatstream_http_request_errors_total", "HTTP requests answered with 5xx by route", "counter", "route", snap.RequestErrors, false)
	labelled(&sb, "chatstream_http_requests_in_progress", "HTTP requests being served by route", "gauge", "route", snap.RequestsInProgress, true)
	labelled(&sb, "chatstream_http_request_duration_ms_total", "Total HTTP request duration in milliseconds", "counter", "route", snap.TotalRequestsDur, false)

	labelled(&sb, "chatstream_sessions_total", "Terminal sessions by status", "counter", "status", snap.SessionsByStatus, false)
	counter(&sb, "chatstream_sessions_incomplete_total", "Sessions whose stream ended without a finish marker", snap.Incomplete)
	counter(&sb, "chatstream_sessions_reconciled_total", "Sessions whose final text was replaced by the transport text", snap.Reconciled)

	counter(&sb, "chatstream_prompt_tokens_total", "Total prompt tokens reported by upstreams", snap.TotalPromptTokens)
	counter(&sb, "chatstream_completion_tokens_total", "Total completion tokens reported by upstreams", snap.TotalCompletionTokens)
	labelled(&sb, "chatstream_tokens_by_model_total", "Total tokens by model", "counter", "model", snap.TokensByModel, false)

	labelled(&sb, "chatstream_connection_sessions_total", "Sessions by connection", "counter", "connection", snap.ConnectionSessions, false)
	labelled(&sb, "chatstream_connection_errors_total", "Failed sessions by connection", "counter", "connection", snap.ConnectionErrors, false)
	labelled(&sb, "chatstream_connection_latency_ms_total", "Total session duration in milliseconds by connection", "counter", "connection", snap.ConnectionLatency, false)

	return sb.String()
}

func gauge(sb *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", name, help, name, name, v)
}

func counter(sb *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, v)
}

func labelled(sb *strings.Builder, name, help, kind, label string, values map[string]int64, positiveOnly bool) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
	for _, key := range sortedKeys(values) {
		v := values[key]
		if positiveOnly && v <= 0 {
			continue
		}
		fmt.Fprintf(sb, "%s{%s=\"%s\"} %d\n", name, label, escapeLabel(key), v)
	}
	sb.WriteString("\n")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return strings.ReplaceAll(v, "\n", `\n`)
}
