package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInferLevel(t *testing.T) {
	assert.Equal(t, "error", InferLevel("Render ERROR: out of memory"))
	assert.Equal(t, "error", InferLevel("upload failed after 3 attempts"))
	assert.Equal(t, "warn", InferLevel("Warning: slow disk"))
	assert.Equal(t, "debug", InferLevel("debug: cache hit"))
	assert.Equal(t, "info", InferLevel("pipeline step complete"))
	assert.Equal(t, "info", InferLevel(""))
}

func TestLogEventFromLabels(t *testing.T) {
	ts := time.Now()

	event := LogEventFromLabels("evt-1", ts, "encoding started", "render-7", map[string]string{
		LabelLevel:   "WARNING",
		LabelService: "encoder",
		LabelType:    "worker",
	})

	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, ts, event.Timestamp)
	assert.Equal(t, "warn", event.Level)
	assert.Equal(t, "encoder", event.Service)
	assert.Equal(t, "worker", event.Type)
	assert.Equal(t, "render-7", event.SourceTag)
}

func TestLogEventFromLabels_MissingLabelsFallBack(t *testing.T) {
	event := LogEventFromLabels("evt-2", time.Now(), "transcode failed", "render-7", map[string]string{})

	// No level label: inferred from the message.
	assert.Equal(t, "error", event.Level)
	assert.Equal(t, DefaultService, event.Service)
	assert.Equal(t, DefaultType, event.Type)
}

func TestLogEventFromLabels_NilLabels(t *testing.T) {
	event := LogEventFromLabels("evt-3", time.Now(), "all good", "render-7", nil)

	assert.Equal(t, "info", event.Level)
	assert.Equal(t, DefaultService, event.Service)
}

func TestLogEventFromLabels_UnknownLevelNormalized(t *testing.T) {
	event := LogEventFromLabels("evt-4", time.Now(), "msg", "tag", map[string]string{
		LabelLevel: "trace",
	})
	assert.Equal(t, DefaultLevel, event.Level)
}
