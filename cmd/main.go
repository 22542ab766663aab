package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/video-sub-transcriber/internal/cache"
	"github.com/MimeLyc/video-sub-transcriber/internal/config"
	"github.com/MimeLyc/video-sub-transcriber/internal/llm"
	"github.com/MimeLyc/video-sub-transcriber/internal/media"
	"github.com/MimeLyc/video-sub-transcriber/internal/provider"
	"github.com/MimeLyc/video-sub-transcriber/internal/router"
	"github.com/MimeLyc/video-sub-transcriber/internal/splitter"
	"github.com/MimeLyc/video-sub-transcriber/internal/transcribe"
	"github.com/MimeLyc/video-sub-transcriber/pkg/file"
	"github.com/MimeLyc/video-sub-transcriber/pkg/icron"
	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

func main() {
	_ = godotenv.Load()
	log.InitLogger(log.ParseLevel(os.Getenv("LOG_LEVEL")))

	daemon := flag.Bool("daemon", false, "run as a daemon pruning the cache on a schedule")
	lang := flag.String("lang", "auto", "language hint (BCP-47 tag or auto)")
	output := flag.String("output", "", "output SRT path (default: next to the input)")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	store, err := cache.NewSQLiteStore(cfg.Cache.DBPath)
	if err != nil {
		log.Fatal("Failed to open result cache: %v", err)
	}
	defer store.Close()

	if *daemon {
		runDaemon(cfg, store)
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <video file>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err := transcribeFile(cfg, store, flag.Arg(0), *lang, *output); err != nil {
		if router.Cancelled(err) {
			log.Warn("Cancelled")
			os.Exit(130)
		}
		var exhausted *transcribe.AllMethodsExhaustedError
		if errors.As(err, &exhausted) {
			log.Fatal("Transcription failed: %v\nSuggestion: %s", exhausted, exhausted.Remediation())
		}
		log.Fatal("Transcription failed: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	var opts []config.Option
	settingsPath := config.RuntimeSettingsFilePath()
	if settings, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		if verr := settings.Validate(); verr == nil {
			log.Info("Applying runtime settings from %s", settingsPath)
			opts = append(opts, config.WithRuntimeSettings(settings))
		} else {
			log.Warn("Ignoring invalid runtime settings: %v", verr)
		}
	}
	return config.NewFromEnv(opts...)
}

// buildRouter wires the capability implementations and the configured
// adapters into one router.
func buildRouter(cfg *config.Config, store cache.Store) (*router.Router, error) {
	ff := media.NewFfmpeg()

	var providers []transcribe.ProviderAdapter
	if cfg.Whisper.APIKey != "" {
		providers = append(providers, provider.NewWhisperAdapter(provider.WhisperConfig{
			APIKey: cfg.Whisper.APIKey,
			APIURL: cfg.Whisper.APIURL,
			Model:  cfg.Whisper.Model,
		}, ff))
	}

	var visual transcribe.ProviderAdapter
	if cfg.LLM.APIKey != "" {
		client, err := llm.NewClient(&llm.Config{
			APIKey:      cfg.LLM.APIKey,
			APIURL:      cfg.LLM.APIURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			AppName:     cfg.LLM.AppName,
		})
		if err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
		providers = append(providers, provider.NewChatAudioAdapter(client, ff, 0))
		visual = provider.NewVisionSynthesizer(client, ff, 0)
	}
	if len(providers) == 0 && visual == nil {
		return nil, fmt.Errorf("no transcription backend configured")
	}

	return router.New(router.Config{
		Providers: providers,
		Visual:    visual,
		Cache:     store,
		Profiler:  media.NewProfiler(ff, ff),
		Processor: splitter.NewProcessor(ff, cfg.Split.Concurrency),
		Split: splitter.Config{
			WindowLength: cfg.Split.WindowLength,
			MaxWindows:   cfg.Split.MaxWindows,
			Concurrency:  cfg.Split.Concurrency,
		},
		LongMediaThreshold:      cfg.Router.LongMediaThreshold,
		LongMediaVisualFallback: cfg.Router.LongMediaVisualFallback,
		MaxRetries:              cfg.Router.MaxRetries,
		BaseDelay:               cfg.Router.RetryBaseDelay,
		SaveInterval:            cfg.Router.SaveInterval,
	}), nil
}

func transcribeFile(cfg *config.Config, store cache.Store, path, lang, output string) error {
	r, err := buildRouter(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stat, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	src := media.Source{Path: path, Size: stat.Size()}
	if info, err := media.NewFfmpeg().Probe(ctx, src); err == nil {
		src.Duration = info.Duration
	} else {
		log.Warn("Probe failed, duration unknown: %v", err)
	}

	out, err := r.Transcribe(ctx, router.Request{
		Source: src,
		Options: transcribe.Options{
			LanguageHint: lang,
			OnProgress: func(stage string, progress int) {
				log.Info("[%3d%%] %s", progress, stage)
			},
		},
	})
	if err != nil {
		return err
	}

	target := output
	if target == "" {
		target = file.ReplaceExt(path, ".srt")
	}
	if err := os.WriteFile(target, []byte(out.SRT), 0o644); err != nil {
		return fmt.Errorf("write subtitle file: %w", err)
	}
	log.Info("Wrote %d segments to %s (provider %s, language %s, %s)",
		len(out.Segments), target, out.Provider, out.Language, out.Elapsed.Round(time.Millisecond))
	return nil
}

// runDaemon keeps the process alive pruning expired cache entries on
// the configured schedule.
func runDaemon(cfg *config.Config, store cache.Store) {
	if info, err := icron.GetTriggerInfo(cfg.Cache.PruneCron, time.Now()); err == nil {
		log.Info("Cache prune scheduled %q, next run at %s (in %s)",
			cfg.Cache.PruneCron, info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.Cache.PruneCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		pruned, err := store.Prune(ctx, cfg.Cache.Retention)
		if err != nil {
			log.Error("Cache prune failed: %v", err)
			return
		}
		log.Info("Pruned %d cache entries older than %s", pruned, cfg.Cache.Retention)
	})
	if err != nil {
		log.Fatal("Invalid prune schedule %q: %v", cfg.Cache.PruneCron, err)
	}
	c.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	<-c.Stop().Done()
}
