package core

import "context"

// metricNamespace prefixes every counter and histogram the engine emits.
const metricNamespace = "booksync"

// metricName builds the dotted series name for one operation, e.g.
// "booksync.sync_expense.total".
func metricName(operation, suffix string) string {
	return metricNamespace + "." + operation + "." + suffix
}

// NopMetricsRecorder discards every measurement. It backs services built
// without a recorder so instrumentation call sites stay unconditional.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// cloneTags shields recorders from callers mutating the tag map after the
// observation.
func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
