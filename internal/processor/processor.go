// Package processor holds the five job processors. Each one turns a
// claimed job into external-service work and a structured output summary;
// lifecycle persistence (RUNNING, COMPLETED, FAILED) belongs to the
// orchestrator, so processors stay free of queue concerns.
package processor

import (
	"context"
	"fmt"
	"strconv"

	"docflow/internal/model"
)

// ProgressFunc reports percent complete in [0,100]. Calls must be
// monotonically increasing; implementations are best-effort and never
// fail the job.
type ProgressFunc func(pct int)

// Processor executes one job type family.
type Processor interface {
	// Name labels the processor in logs and job records.
	Name() string

	// Process runs the domain work and returns the outputData summary to
	// persist on the job record. Errors are classified by the caller.
	Process(ctx context.Context, job *model.ProcessingJob, progress ProgressFunc) (map[string]interface{}, error)
}

// NopProgress discards progress updates; used in tests and best-effort paths.
func NopProgress(int) {}

// thumbnailKey is deterministic so retried jobs overwrite rather than
// accumulate objects.
func thumbnailKey(orgID, documentID, size string) string {
	return fmt.Sprintf("%s/thumbnails/%s_%s.png", orgID, documentID, size)
}

func derivedKey(orgID, documentID, artifact string) string {
	return fmt.Sprintf("%s/derived/%s/%s", orgID, documentID, artifact)
}

// Input param readers. Params travel through JSON, so numbers arrive as
// float64 and lists as []interface{}.

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

func intParam(params map[string]interface{}, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolParam(params map[string]interface{}, key string, def bool) bool {
	if params == nil {
		return def
	}
	if b, ok := params[key].(bool); ok {
		return b
	}
	return def
}

func stringSliceParam(params map[string]interface{}, key string) []string {
	if params == nil {
		return nil
	}
	switch v := params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
