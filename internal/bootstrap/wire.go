package bootstrap

import (
	"whisperkey/internal/audio"
	"whisperkey/internal/config"
	"whisperkey/internal/hotkey"
	"whisperkey/internal/ports"
	"whisperkey/internal/providers/whisperlive"
	"whisperkey/internal/rules"
	"whisperkey/internal/typing"
	"whisperkey/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Monitor    *hotkey.Monitor
	Config     config.Config
}

// Build wires all dependencies for the current runtime. Any error here is a
// fatal startup failure.
func Build(events ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	monitor, err := hotkey.NewMonitor(hotkey.Config{
		Combo:    cfg.Hotkey.Combo,
		Cooldown: cfg.Hotkey.Cooldown,
	})
	if err != nil {
		return Services{}, err
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path)
	if err != nil {
		return Services{}, err
	}

	var source ports.AudioSource
	switch cfg.Audio.Backend {
	case "portaudio":
		source = audio.NewPortAudioSource()
	default:
		source = audio.NewFFMPEGSource(cfg.Audio.RecorderCommand)
	}

	controller := usecase.NewSessionController(
		source,
		whisperlive.NewProvider(whisperlive.Config{
			ServerURL:      cfg.Server.URL,
			ConnectTimeout: cfg.Server.ConnectTimeout,
		}),
		rulesEngine,
		typing.NewSink(typing.NewRobotgoTyper(), cfg.Typing.Delay, events),
		events,
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				FrameMs:     cfg.Audio.FrameMs,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Stream: ports.StreamConfig{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
			},
			MaxWait: cfg.Session.MaxWait,
		},
	)

	return Services{Controller: controller, Monitor: monitor, Config: cfg}, nil
}
