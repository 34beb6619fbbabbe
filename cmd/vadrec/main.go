// vadrec records speech from a microphone into one WAV file per utterance.
//
// Usage:
//
//	vadrec devices
//	vadrec record [-config vadrec.yaml] [-device name] [-threshold 0.5] [-silence 800ms]
//	vadrec serve  [-config vadrec.yaml] [-addr :8082]
//	vadrec list   [-config vadrec.yaml]
//	vadrec play   <file.wav>
//	vadrec signal <pid>
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/petrzlen/vad-recorder/internal/config"
	"github.com/petrzlen/vad-recorder/internal/networking"
	"github.com/petrzlen/vad-recorder/internal/process"
	"github.com/petrzlen/vad-recorder/internal/utils"
	"github.com/petrzlen/vad-recorder/pkg/audioio"
	"github.com/petrzlen/vad-recorder/pkg/notify"
	"github.com/petrzlen/vad-recorder/pkg/recorder"
	"github.com/petrzlen/vad-recorder/pkg/vad"
	"github.com/petrzlen/vad-recorder/pkg/vad/energy"
	"github.com/petrzlen/vad-recorder/pkg/vad/silero"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vadrec <devices|record|serve|list|play|signal> [flags]")
	os.Exit(2)
}

func main() {
	// A missing .env is the common case.
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "devices":
		runDevices(args)
	case "record":
		runRecord(args)
	case "serve":
		runServe(args)
	case "list":
		runList(args)
	case "play":
		runPlay(args)
	case "signal":
		runSignal(args)
	default:
		usage()
	}
}

type commonFlags struct {
	fs         *flag.FlagSet
	configPath *string
	device     *string
	threshold  *float64
	silence    *time.Duration
	addr       *string
}

func newFlags(name string) *commonFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &commonFlags{
		fs:         fs,
		configPath: fs.String("config", "", "path to a YAML config file"),
		device:     fs.String("device", "", "input device name, or \"default\""),
		threshold:  fs.Float64("threshold", -1, "speech probability threshold in [0, 1]"),
		silence:    fs.Duration("silence", 0, "silence after which a recording is finished"),
		addr:       fs.String("addr", "", "websocket listen address"),
	}
}

// load parses flags and layers them over the config file and environment.
func (f *commonFlags) load(args []string) *config.Config {
	ftl(f.fs.Parse(args))
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		utils.SetupZerolog("info")
		ftl(err)
	}
	if *f.device != "" {
		cfg.Device = *f.device
	}
	if *f.threshold >= 0 {
		cfg.Threshold = float32(*f.threshold)
	}
	if *f.silence > 0 {
		cfg.SilenceTimeoutMs = int(f.silence.Milliseconds())
	}
	if *f.addr != "" {
		cfg.ListenAddr = *f.addr
	}
	utils.SetupZerolog(cfg.LogLevel)
	ftl(cfg.Validate())
	return cfg
}

func classifierFactory(cfg *config.Config) vad.Factory {
	if cfg.Classifier == config.ClassifierSilero {
		return silero.NewFactory(silero.Config{ModelPath: cfg.SileroModel})
	}
	return energy.NewFactory(energy.DefaultConfig())
}

func newManager(cfg *config.Config, backend audioio.Backend, sink notify.Sink) *recorder.Manager {
	m, err := recorder.NewManager(recorder.Options{
		Backend:    backend,
		Classifier: classifierFactory(cfg),
		Fs:         afero.NewOsFs(),
		DataDir:    cfg.DataDir,
		Sink:       sink,
		OnError: func(err error) {
			log.Warn().Err(err).Msg("recorder reported an error")
		},
	})
	ftl(err)
	return m
}

func startOptions(cfg *config.Config) recorder.StartOptions {
	return recorder.StartOptions{
		Device:         cfg.Device,
		Threshold:      cfg.Threshold,
		SilenceTimeout: cfg.SilenceTimeout(),
	}
}

func runDevices(args []string) {
	newFlags("devices").load(args)
	backend, err := audioio.NewMalgoBackend()
	ftl(err)
	defer func() { dbg(backend.Close()) }()

	devices, err := backend.InputDevices()
	ftl(err)
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		format, err := audioio.NegotiateFormat(d)
		if err != nil {
			fmt.Printf("%s %s (unsupported: %v)\n", marker, d.Name, err)
			continue
		}
		fmt.Printf("%s %s (%d Hz)\n", marker, d.Name, format.SampleRate)
	}
}

// runRecord captures until interrupted, printing each finished recording.
func runRecord(args []string) {
	cfg := newFlags("record").load(args)
	backend, err := audioio.NewMalgoBackend()
	ftl(err)

	printer := notify.SinkFunc(func(e notify.Event) {
		if e.Name == notify.SpeechDetected {
			fmt.Println(e.FilePath)
		}
	})
	manager := newManager(cfg, backend, notify.Multi{notify.LogSink{}, printer})
	ftl(manager.Start(startOptions(cfg)))

	done := make(chan struct{})
	process.OnInterrupt(func() {
		dbg(manager.Stop())
		dbg(backend.Close())
		close(done)
	})
	log.Info().Int("pid", os.Getpid()).Msg("recording, press Ctrl+C to stop")
	<-done
}

func runServe(args []string) {
	cfg := newFlags("serve").load(args)
	backend, err := audioio.NewMalgoBackend()
	ftl(err)

	// The hub needs the manager and the manager needs the hub as a sink.
	var hub *networking.Hub
	toHub := notify.SinkFunc(func(e notify.Event) { hub.Notify(e) })
	manager := newManager(cfg, backend, notify.Multi{notify.LogSink{}, toHub})
	hub = networking.NewHub(manager, startOptions(cfg))

	process.OnInterrupt(func() {
		if err := manager.Stop(); err != nil && !errors.Is(err, recorder.ErrNotInitialized) {
			log.Error().Err(err).Msg("cannot stop recorder")
		}
		dbg(backend.Close())
	})

	http.HandleFunc("/ws", hub.Handler())
	log.Info().Str("addr", cfg.ListenAddr).Int("pid", os.Getpid()).Msg("serving recorder control websocket on /ws")
	ftl(http.ListenAndServe(cfg.ListenAddr, nil))
}

func runList(args []string) {
	cfg := newFlags("list").load(args)
	store, err := recorder.NewStore(afero.NewOsFs(), cfg.DataDir)
	ftl(err)
	recordings, err := store.List()
	ftl(err)
	for _, r := range recordings {
		fmt.Printf("%s\t%d\t%s\n", r.ModTime.Format(time.RFC3339), r.Size, r.Path)
	}
}

func runPlay(args []string) {
	utils.SetupZerolog(os.Getenv("VADREC_LOG_LEVEL"))
	if len(args) != 1 {
		usage()
	}
	rec, err := audioio.OpenRecording(afero.NewOsFs(), args[0])
	ftl(err)
	defer func() { dbg(rec.Close()) }()

	player, err := audioio.NewPlayer(rec.SampleRate, rec.Channels)
	ftl(err)
	stop := process.OnInterrupt(player.Stop)
	defer stop()
	ftl(player.Play(rec.PCM))
}

func runSignal(args []string) {
	utils.SetupZerolog(os.Getenv("VADREC_LOG_LEVEL"))
	if len(args) != 1 {
		usage()
	}
	pid, err := strconv.Atoi(args[0])
	ftl(err)
	ftl(process.NewTerminator().Terminate(pid))
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

func ftl(err error) {
	if err != nil {
		debug.PrintStack()
		log.Fatal().Err(err).Msg("sth essential failed")
	}
}
