package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"whisperkey/internal/bootstrap"
	"whisperkey/internal/domain"
	"whisperkey/internal/ports"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel(),
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	if err := run(logger, &logSink{logger: logger}); err != nil {
		os.Exit(1)
	}
}

func run(logger *slog.Logger, events ports.EventSink) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Build(events)
	if err != nil {
		events.SessionError(domain.ErrorCodeStartup, err.Error())
		return err
	}

	logger.Info("ready",
		"hotkey", strings.Join(services.Config.Hotkey.Combo, "+"),
		"server", services.Config.Server.URL,
		"audio_backend", services.Config.Audio.Backend,
	)

	monitorErr := make(chan error, 1)
	go func() {
		monitorErr <- services.Monitor.Run(ctx)
	}()

	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		_ = services.Controller.Run(ctx, services.Monitor.Toggles())
	}()

	select {
	case err := <-monitorErr:
		stop()
		<-controllerDone
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		<-controllerDone
		<-monitorErr
	}
	return nil
}

func logLevel() slog.Level {
	if strings.EqualFold(os.Getenv("WHISPERKEY_LOG_LEVEL"), "debug") {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// logSink reports session activity on the process log. It is the headless
// counterpart of a UI event bridge.
type logSink struct {
	logger *slog.Logger
}

func (s *logSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.logger.Info(sessionReasonMessage(reason), "state", string(state), "reason", string(reason))
}

func (s *logSink) PartialTranscript(text string) {
	s.logger.Debug("partial transcript", "text", text)
}

func (s *logSink) FinalTranscript(result domain.SessionResult) {
	s.logger.Info("final transcript",
		"session", result.ID,
		"text", result.Text,
		"typed", result.Typed,
	)
}

func (s *logSink) SessionError(code domain.ErrorCode, detail string) {
	s.logger.Error(errorMessage(code, detail), "code", string(code), "detail", detail)
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonStartup:
		return "Waiting for hotkey"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonStopRequested:
		return "Recording stopped. Waiting for transcript..."
	case domain.SessionReasonCaptureFailed:
		return "Audio capture failed"
	case domain.SessionReasonStreamEnded:
		return "Transcription stream ended"
	case domain.SessionReasonDrainDeadline:
		return "Transcript wait timed out"
	case domain.SessionReasonTranscriptTyped:
		return "Transcript typed"
	case domain.SessionReasonNoTranscript:
		return "No transcript captured"
	case domain.SessionReasonConnectFailed:
		return "Transcription server unreachable"
	default:
		return "Session state changed"
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeConnect:
		return "Connection to transcription server failed"
	case domain.ErrorCodeDevice:
		return "Audio device error"
	case domain.ErrorCodeSend:
		return "Audio streaming error"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeInjection:
		return "Keystroke injection failed"
	case domain.ErrorCodeAudioClose:
		return "Audio capture did not stop cleanly"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
