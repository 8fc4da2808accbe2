package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// TranscribeAudio sends audio to the OpenAI-compatible
// /audio/transcriptions endpoint and returns the transcript.
func (c *Client) TranscribeAudio(ctx context.Context, audioData []byte, filename, model, language string) (string, error) {
	if filename == "" {
		filename = "audio.ogg"
	}
	if model == "" {
		model = "whisper-1"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return "", fmt.Errorf("writing audio data: %w", err)
	}
	if err := w.WriteField("model", model); err != nil {
		return "", fmt.Errorf("writing model field: %w", err)
	}
	if language != "" {
		_ = w.WriteField("language", language)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	endpoint := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	c.logger.Debug("sending audio transcription request",
		"filename", filename,
		"size_bytes", len(audioData),
		"endpoint", endpoint,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("transcription API error",
			"status", resp.StatusCode,
			"body", truncate(bodyStr, 500),
		)
		return "", newAPIError(resp.StatusCode, bodyStr)
	}

	// Plain text transcript or JSON with a "text" field.
	text := bodyStr
	if strings.HasPrefix(strings.TrimSpace(bodyStr), "{") {
		var j struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(respBody, &j); err == nil {
			text = j.Text
		}
	}

	c.logger.Info("audio transcription done",
		"duration_ms", time.Since(start).Milliseconds(),
		"transcript_len", len(text),
	)
	return strings.TrimSpace(text), nil
}

// ConvertAudioToMP3 re-encodes audio with ffmpeg. Voice notes arrive as
// OGG/Opus, which some transcription backends reject.
func ConvertAudioToMP3(ctx context.Context, data []byte, filename string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "lectern-audio-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in"+filepath.Ext(filename))
	out := filepath.Join(dir, "out.mp3")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", in,
		"-vn", "-acodec", "libmp3lame", "-q:a", "4", out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, truncate(stderr.String(), 300))
	}
	return os.ReadFile(out)
}
