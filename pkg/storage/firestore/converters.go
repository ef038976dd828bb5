package firestore

import (
	"time"

	"github.com/desirelines/pipeline/pkg/execution"
)

// Helper to safely get string from map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Helper to safely get an integer; Firestore returns int64
func getInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func getTime(m map[string]interface{}, key string) time.Time {
	if t, ok := m[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}

// --- Execution Record ---

func ExecutionToFirestore(e *execution.Record) map[string]interface{} {
	m := map[string]interface{}{
		"execution_id":   e.ExecutionID,
		"service":        e.Service,
		"trigger_type":   e.TriggerType,
		"correlation_id": e.CorrelationID,
		"message_id":     e.MessageID,
		"activity_id":    e.ActivityID,
		"aspect":         e.Aspect,
		"status":         e.Status,
		"start_time":     e.StartTime,
	}
	if e.Reason != "" {
		m["reason"] = e.Reason
	}
	if e.ErrorMessage != "" {
		m["error_message"] = e.ErrorMessage
	}
	if e.OutputsJSON != "" {
		m["outputs_json"] = e.OutputsJSON
	}
	if !e.EndTime.IsZero() {
		m["end_time"] = e.EndTime
	}
	return m
}

func FirestoreToExecution(m map[string]interface{}) *execution.Record {
	return &execution.Record{
		ExecutionID:   getString(m, "execution_id"),
		Service:       getString(m, "service"),
		TriggerType:   getString(m, "trigger_type"),
		CorrelationID: getString(m, "correlation_id"),
		MessageID:     getString(m, "message_id"),
		ActivityID:    getInt64(m, "activity_id"),
		Aspect:        getString(m, "aspect"),
		Status:        getString(m, "status"),
		Reason:        getString(m, "reason"),
		ErrorMessage:  getString(m, "error_message"),
		OutputsJSON:   getString(m, "outputs_json"),
		StartTime:     getTime(m, "start_time"),
		EndTime:       getTime(m, "end_time"),
	}
}
