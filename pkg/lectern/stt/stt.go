// Package stt turns voice notes into text. Failures never surface to the
// caller: an empty transcript means "nothing usable was heard".
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrDisabled is returned by Warm when speech recognition is switched off.
var ErrDisabled = errors.New("speech-to-text is disabled")

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) string
}

// Backend is the remote recognizer. *llm.Client satisfies it.
type Backend interface {
	TranscribeAudio(ctx context.Context, data []byte, filename, model, language string) (string, error)
}

// Connector creates the backend on first use.
type Connector func() (Backend, error)

// ConvertFunc re-encodes audio before upload.
type ConvertFunc func(ctx context.Context, data []byte, filename string) ([]byte, error)

// Config configures speech recognition.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Model is the transcription model name. Defaults to "whisper-1".
	Model string `yaml:"model"`

	// Language is an ISO-639-1 hint, e.g. "ru".
	Language string `yaml:"language"`

	// ConvertToMP3 re-encodes voice notes with ffmpeg before upload.
	ConvertToMP3 bool `yaml:"convert_to_mp3"`

	// MaxFileBytes skips larger recordings. Defaults to 25MB.
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	// Timeout bounds one transcription. Defaults to 60s.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default STT configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Model:        "whisper-1",
		Language:     "ru",
		MaxFileBytes: 25 * 1024 * 1024,
		Timeout:      60 * time.Second,
	}
}

// Whisper is a Transcriber backed by a Whisper-compatible API. The backend
// is created lazily on first use and reused afterwards; a failed creation
// is retried on the next call.
type Whisper struct {
	cfg     Config
	connect Connector
	convert ConvertFunc
	logger  *slog.Logger

	mu      sync.Mutex
	backend Backend
}

// NewWhisper creates a transcriber. convert may be nil when ConvertToMP3 is off.
func NewWhisper(cfg Config, connect Connector, convert ConvertFunc, logger *slog.Logger) *Whisper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Whisper{
		cfg:     cfg,
		connect: connect,
		convert: convert,
		logger:  logger.With("component", "stt"),
	}
}

// Warm initializes the backend ahead of the first voice note.
func (w *Whisper) Warm(ctx context.Context) error {
	if !w.cfg.Enabled {
		return ErrDisabled
	}
	_, err := w.ensureBackend()
	return err
}

// Ready reports whether the backend has been initialized.
func (w *Whisper) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.backend != nil
}

func (w *Whisper) ensureBackend() (Backend, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.backend != nil {
		return w.backend, nil
	}
	if w.connect == nil {
		return nil, fmt.Errorf("stt: no backend configured")
	}
	b, err := w.connect()
	if err != nil {
		return nil, fmt.Errorf("stt: initializing backend: %w", err)
	}
	w.backend = b
	w.logger.Info("speech recognition backend ready", "model", w.cfg.Model)
	return b, nil
}

// Transcribe returns the recognized text, or "" on any failure.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) string {
	if !w.cfg.Enabled {
		w.logger.Debug("voice note skipped, stt disabled")
		return ""
	}

	backend, err := w.ensureBackend()
	if err != nil {
		w.logger.Error("stt unavailable", "error", err)
		return ""
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		w.logger.Error("audio file unreadable", "path", audioPath, "error", err)
		return ""
	}
	if w.cfg.MaxFileBytes > 0 && info.Size() > w.cfg.MaxFileBytes {
		w.logger.Warn("audio file too large", "size", info.Size(), "max", w.cfg.MaxFileBytes)
		return ""
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		w.logger.Error("reading audio file", "path", audioPath, "error", err)
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	filename := filepath.Base(audioPath)
	if w.cfg.ConvertToMP3 && w.convert != nil && !strings.EqualFold(filepath.Ext(filename), ".mp3") {
		converted, err := w.convert(ctx, data, filename)
		if err != nil {
			w.logger.Warn("audio conversion failed, sending original", "error", err)
		} else {
			data = converted
			filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + ".mp3"
		}
	}

	start := time.Now()
	text, err := backend.TranscribeAudio(ctx, data, filename, w.cfg.Model, w.cfg.Language)
	if err != nil {
		w.logger.Error("transcription failed", "error", err, "duration", time.Since(start))
		return ""
	}
	text = strings.TrimSpace(text)
	w.logger.Info("voice note transcribed", "chars", len([]rune(text)), "duration", time.Since(start))
	return text
}
