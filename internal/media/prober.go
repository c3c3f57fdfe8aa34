// Copyright 2025 James Ross
// Package media extracts and summarizes video metadata: a Prober shells
// out to ffprobe, a Summarizer turns the extracted metadata into a short
// human-readable description (mock, or a managed Bedrock model).
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
)

// ProbeError wraps a non-zero ffprobe exit, grounded on the original
// service's MediaProbeError.
type ProbeError struct {
	Stderr string
}

func (e *ProbeError) Error() string {
	if e.Stderr == "" {
		return "ffprobe_failed"
	}
	return e.Stderr
}

// Prober extracts format/stream metadata from a local media file.
type Prober interface {
	Probe(ctx context.Context, path string) (map[string]any, error)
}

// FFProbe shells out to the ffprobe binary, grounded on the original
// service's subprocess invocation.
type FFProbe struct {
	BinaryPath string
}

func NewFFProbe() *FFProbe {
	return &FFProbe{BinaryPath: "ffprobe"}
}

func (p *FFProbe) Probe(ctx context.Context, path string) (map[string]any, error) {
	bin := p.BinaryPath
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &ProbeError{Stderr: strings.TrimSpace(stderr.String())}
	}

	var metadata map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return nil, &ProbeError{Stderr: "ffprobe_invalid_json"}
	}
	return metadata, nil
}

// StreamVideoInfo pulls codec/width/height off the first stream entry,
// tolerating a missing or malformed streams array the way the mock
// summary's dict.get chain does.
func StreamVideoInfo(metadata map[string]any) (codec string, width, height any) {
	streams, _ := metadata["streams"].([]any)
	if len(streams) == 0 {
		return "", nil, nil
	}
	first, _ := streams[0].(map[string]any)
	if first == nil {
		return "", nil, nil
	}
	codecName, _ := first["codec_name"].(string)
	return codecName, first["width"], first["height"]
}

// Duration pulls format.duration off the metadata, tolerating absence.
func Duration(metadata map[string]any) any {
	format, _ := metadata["format"].(map[string]any)
	if format == nil {
		return nil
	}
	return format["duration"]
}
