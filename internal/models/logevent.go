package models

import (
	"strings"
	"time"
)

// Label keys the log source attaches to entries. Missing keys fall back
// to the defaults below.
const (
	LabelLevel   = "level"
	LabelService = "service"
	LabelType    = "type"

	DefaultLevel   = "info"
	DefaultService = "unknown"
	DefaultType    = "app"
)

// LogEvent is a single entry surfaced by the log relay.
type LogEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	SourceTag string    `json:"source_tag"`
	Service   string    `json:"service,omitempty"`
	Type      string    `json:"type,omitempty"`
}

// LogEventFromLabels builds a LogEvent from a raw source entry, extracting
// level, service and type by fixed label lookups. When the source carries
// no level label the level is inferred from message content.
func LogEventFromLabels(id string, ts time.Time, message, sourceTag string, labels map[string]string) LogEvent {
	event := LogEvent{
		ID:        id,
		Timestamp: ts,
		Message:   message,
		SourceTag: sourceTag,
		Level:     DefaultLevel,
		Service:   DefaultService,
		Type:      DefaultType,
	}
	if labels != nil {
		if level, ok := labels[LabelLevel]; ok && level != "" {
			event.Level = normalizeLevel(level)
		} else {
			event.Level = InferLevel(message)
		}
		if service, ok := labels[LabelService]; ok && service != "" {
			event.Service = service
		}
		if typ, ok := labels[LabelType]; ok && typ != "" {
			event.Type = typ
		}
	} else {
		event.Level = InferLevel(message)
	}
	return event
}

// InferLevel classifies a message by keyword when the source provides no
// level metadata: error|failed -> error, warn -> warn, debug -> debug,
// anything else -> info.
func InferLevel(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "failed"):
		return "error"
	case strings.Contains(lower, "warn"):
		return "warn"
	case strings.Contains(lower, "debug"):
		return "debug"
	default:
		return "info"
	}
}

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug", "dbg":
		return "debug"
	case "info", "inf":
		return "info"
	case "warn", "warning", "wrn":
		return "warn"
	case "error", "err":
		return "error"
	default:
		return DefaultLevel
	}
}
