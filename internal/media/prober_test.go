// Copyright 2025 James Ross
package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeErrorFallsBackWhenStderrEmpty(t *testing.T) {
	assert.Equal(t, "ffprobe_failed", (&ProbeError{}).Error())
	assert.Equal(t, "boom", (&ProbeError{Stderr: "boom"}).Error())
}

func TestStreamVideoInfoToleratesMissingStreams(t *testing.T) {
	codec, width, height := StreamVideoInfo(map[string]any{})
	assert.Empty(t, codec)
	assert.Nil(t, width)
	assert.Nil(t, height)
}

func TestStreamVideoInfoReadsFirstStream(t *testing.T) {
	metadata := map[string]any{
		"streams": []any{map[string]any{"codec_name": "h264", "width": float64(1920), "height": float64(1080)}},
	}
	codec, width, height := StreamVideoInfo(metadata)
	assert.Equal(t, "h264", codec)
	assert.Equal(t, float64(1920), width)
	assert.Equal(t, float64(1080), height)
}

func TestDurationToleratesMissingFormat(t *testing.T) {
	assert.Nil(t, Duration(map[string]any{}))
	assert.Equal(t, "12.5", Duration(map[string]any{"format": map[string]any{"duration": "12.5"}}))
}
