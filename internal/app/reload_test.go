package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/orato/internal/config"
	fbmock "github.com/MrWong99/orato/internal/feedback/mock"
	"github.com/MrWong99/orato/internal/session"
	srcmock "github.com/MrWong99/orato/internal/source/mock"
)

func TestApplyConfig_LogLevelAndCoach(t *testing.T) {
	old := &config.Config{
		Feedback: config.FeedbackConfig{Endpoint: "http://127.0.0.1:1/feedback"},
		Storage:  config.StorageConfig{JSONLPath: filepath.Join(t.TempDir(), "s.jsonl")},
	}
	config.ApplyDefaults(old)

	level := new(slog.LevelVar)
	a, err := New(context.Background(), old, nil, WithFeedbackClient(&fbmock.Client{}), WithLogLevel(level))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	updated := *old
	updated.Server.LogLevel = config.LogDebug
	updated.Coach.DefaultLanguage = "fr-FR"
	updated.Coach.DefaultMode = "learning"
	a.applyConfig(old, &updated)

	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
	s, err := a.sessions.Open(context.Background(), &srcmock.Peer{}, session.Options{Recognition: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info := s.Info(); info.Language != "fr-FR" || info.Mode != "learning" {
		t.Errorf("new session info = %+v, want reloaded coach defaults", info)
	}
}
