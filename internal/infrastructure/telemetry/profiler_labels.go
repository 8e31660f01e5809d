package telemetry

import (
	"context"
	"maps"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Label keys attached to profile samples.
const (
	ProfilingLabelController = "controller"
	ProfilingLabelRoute      = "route"
	ProfilingLabelMethod     = "method"
	ProfilingLabelTenantID   = "tenant_id"
	ProfilingLabelOperation  = "operation"
)

// MaxLabelValueLength caps label values so a malformed header cannot blow
// up series cardinality.
const MaxLabelValueLength = 128

// HighCardinalityLabels are keys sanitizeLabels drops outright. IDs minted
// per run or per record would create one profile series each. tenant_id is
// deliberately absent: tenant counts stay low enough to label by.
var HighCardinalityLabels = map[string]bool{
	"request_id":  true,
	"run_id":      true,
	"conflict_id": true,
	"entity_id":   true,
	"trace_id":    true,
	"span_id":     true,
}

// WithProfilingLabels runs fn with the given labels attached to its profile
// samples, so CPU time can be sliced by route, tenant, or sync operation in
// the Pyroscope UI. The map is copied; callers may reuse it afterwards.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	if len(labels) == 0 {
		fn(ctx)
		return
	}

	copied := make(map[string]string, len(labels))
	maps.Copy(copied, labels)

	pairs := sanitizeLabels(copied)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}

	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// sanitizeLabels drops empty and high-cardinality entries, truncates long
// values, normalizes keys, and returns pairs in deterministic key order.
func sanitizeLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(labels)*2)
	for _, key := range keys {
		value := labels[key]
		if key == "" || value == "" {
			continue
		}
		// Silently dropped: logging here would spam the request hot path
		if HighCardinalityLabels[key] {
			continue
		}
		if len(value) > MaxLabelValueLength {
			value = value[:MaxLabelValueLength]
		}

		sanitized := sanitizeLabelKey(key)
		if sanitized == "" {
			continue
		}
		pairs = append(pairs, sanitized, value)
	}

	return pairs
}

// sanitizeLabelKey normalizes keys to snake_case alphanumerics.
func sanitizeLabelKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")

	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			out = append(out, c)
		}
	}
	return string(out)
}

// HTTPRequestLabels assembles the standard label set the profiling
// middleware attaches to each request.
func HTTPRequestLabels(controller, route, method, tenantID string) map[string]string {
	labels := make(map[string]string, 4)
	if controller != "" {
		labels[ProfilingLabelController] = controller
	}
	if route != "" {
		labels[ProfilingLabelRoute] = route
	}
	if method != "" {
		labels[ProfilingLabelMethod] = method
	}
	if tenantID != "" {
		labels[ProfilingLabelTenantID] = tenantID
	}
	return labels
}
