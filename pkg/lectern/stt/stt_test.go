package stt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type stubBackend struct {
	text     string
	err      error
	calls    int
	filename string
	language string
}

func (s *stubBackend) TranscribeAudio(_ context.Context, _ []byte, filename, _, language string) (string, error) {
	s.calls++
	s.filename = filename
	s.language = language
	return s.text, s.err
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.ogg")
	if err := os.WriteFile(path, []byte("OggS fake"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWhisper_LazyInitOnce(t *testing.T) {
	backend := &stubBackend{text: "  Гига, что такое RAG?  "}
	connects := 0
	w := NewWhisper(DefaultConfig(), func() (Backend, error) {
		connects++
		return backend, nil
	}, nil, nil)

	if w.Ready() {
		t.Fatal("Ready() = true before first use")
	}
	path := writeAudio(t)
	for i := 0; i < 3; i++ {
		if got := w.Transcribe(context.Background(), path); got != "Гига, что такое RAG?" {
			t.Errorf("Transcribe() = %q", got)
		}
	}
	if connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
	if backend.language != "ru" {
		t.Errorf("language = %q, want ru", backend.language)
	}
}

func TestWhisper_FailuresReturnEmpty(t *testing.T) {
	path := writeAudio(t)

	tests := []struct {
		name    string
		cfg     Config
		connect Connector
		path    string
	}{
		{
			name:    "backend error",
			cfg:     DefaultConfig(),
			connect: func() (Backend, error) { return &stubBackend{err: errors.New("boom")}, nil },
			path:    path,
		},
		{
			name:    "init error",
			cfg:     DefaultConfig(),
			connect: func() (Backend, error) { return nil, errors.New("no model") },
			path:    path,
		},
		{
			name:    "missing file",
			cfg:     DefaultConfig(),
			connect: func() (Backend, error) { return &stubBackend{text: "x"}, nil },
			path:    filepath.Join(t.TempDir(), "missing.ogg"),
		},
		{
			name:    "disabled",
			cfg:     Config{Enabled: false},
			connect: func() (Backend, error) { return &stubBackend{text: "x"}, nil },
			path:    path,
		},
		{
			name:    "too large",
			cfg:     Config{Enabled: true, MaxFileBytes: 2},
			connect: func() (Backend, error) { return &stubBackend{text: "x"}, nil },
			path:    path,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWhisper(tt.cfg, tt.connect, nil, nil)
			if got := w.Transcribe(context.Background(), tt.path); got != "" {
				t.Errorf("Transcribe() = %q, want empty", got)
			}
		})
	}
}

func TestWhisper_InitRetriedAfterFailure(t *testing.T) {
	attempts := 0
	w := NewWhisper(DefaultConfig(), func() (Backend, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("temporarily unavailable")
		}
		return &stubBackend{text: "ok"}, nil
	}, nil, nil)

	if err := w.Warm(context.Background()); err == nil {
		t.Fatal("Warm() expected first attempt to fail")
	}
	if err := w.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() second attempt error = %v", err)
	}
	if !w.Ready() {
		t.Error("Ready() = false after successful warm-up")
	}
}

func TestWhisper_WarmDisabled(t *testing.T) {
	w := NewWhisper(Config{}, nil, nil, nil)
	if err := w.Warm(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Warm() error = %v, want ErrDisabled", err)
	}
}

func TestWhisper_ConvertsToMP3(t *testing.T) {
	backend := &stubBackend{text: "ok"}
	cfg := DefaultConfig()
	cfg.ConvertToMP3 = true
	w := NewWhisper(cfg, func() (Backend, error) { return backend, nil },
		func(_ context.Context, data []byte, _ string) ([]byte, error) { return data, nil }, nil)

	w.Transcribe(context.Background(), writeAudio(t))
	if backend.filename != "voice.mp3" {
		t.Errorf("filename = %q, want voice.mp3", backend.filename)
	}
}
