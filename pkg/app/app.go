// Package app builds the running bot from a loaded config: providers, the
// critique pipeline, the platform channels and the HTTP gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/artcritic/artcritic/pkg/caption"
	"github.com/artcritic/artcritic/pkg/channels"
	"github.com/artcritic/artcritic/pkg/config"
	"github.com/artcritic/artcritic/pkg/critique"
	"github.com/artcritic/artcritic/pkg/gateway"
	"github.com/artcritic/artcritic/pkg/logger"
	"github.com/artcritic/artcritic/pkg/media"
	"github.com/artcritic/artcritic/pkg/metrics"
	"github.com/artcritic/artcritic/pkg/providers"
	"github.com/artcritic/artcritic/pkg/state"
	"github.com/artcritic/artcritic/pkg/twitter"
	"github.com/artcritic/artcritic/pkg/usage"
)

const twitterWatermarkName = "twitter_watermark"

// Components selects what Start brings up.
type Components struct {
	Discord bool
	Twitter bool
	Gateway bool
}

type App struct {
	cfg     *config.Config
	version string

	Metrics  metrics.Metrics
	Usage    *usage.Store
	Pipeline *critique.Pipeline
	Mode     critique.Mode
	Fetcher  *media.Fetcher

	// Twitter is nil when no X credentials are configured.
	Twitter        *twitter.Client
	TwitterChannel *channels.TwitterChannel
	Discord        *channels.DiscordChannel
	Gateway        *gateway.Server

	started []channels.Channel
}

// SetupLogging applies the logging section of cfg to the global logger.
func SetupLogging(cfg *config.Config) error {
	if level, ok := logger.ParseLevel(cfg.Logging.Level); ok {
		logger.SetLevel(level)
	} else if cfg.Logging.Level != "" {
		logger.WarnCF("app", "Unknown log level, keeping default", map[string]interface{}{
			"level": cfg.Logging.Level,
		})
	}
	if !cfg.Logging.FileEnabled {
		return nil
	}
	opts := logger.FileOptions{Path: cfg.LogFilePath()}
	if cfg.Logging.RotationEnabled {
		opts.MaxSizeMB = cfg.Logging.MaxSizeMB
		opts.MaxAgeDays = cfg.Logging.MaxAgeDays
		opts.Compress = true
	}
	if err := logger.EnableFileLogging(opts); err != nil {
		return fmt.Errorf("enable file logging: %w", err)
	}
	return nil
}

// New wires every component cfg enables. Nothing is started.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	mode, err := critique.ParseMode(cfg.Critic.Mode)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		version: version,
		Metrics: metrics.NewMetrics(metrics.InstanceInfo{Version: version}),
		Usage:   usage.NewStore(cfg.WorkspacePath()),
		Mode:    mode,
	}
	a.Fetcher = media.NewFetcher(media.FetchOptions{Timeout: cfg.CriticTimeout(), LoggerPrefix: "media"})

	pipeline, err := a.buildPipeline()
	if err != nil {
		return nil, err
	}
	a.Pipeline = pipeline

	deps := channels.Deps{
		Critic:     a.Pipeline,
		Downloader: a.Fetcher,
		Mode:       mode,
		Metrics:    a.Metrics,
		Replies: channels.Replies{
			ErrorReply:        cfg.Critic.ErrorReply,
			MissingImageReply: cfg.Critic.MissingImageReply,
		},
	}

	if cfg.Channels.Discord.Enabled {
		a.Discord, err = channels.NewDiscordChannel(cfg.Channels.Discord, deps)
		if err != nil {
			return nil, err
		}
	}

	tw := cfg.Channels.Twitter
	if hasTwitterCredentials(tw) {
		httpClient := twitter.NewHTTPClient(ctx, tw.APIBase, twitter.Credentials{
			ClientID:     tw.ClientID,
			ClientSecret: tw.ClientSecret,
			AccessToken:  tw.AccessToken,
			RefreshToken: tw.RefreshToken,
			BearerToken:  tw.BearerToken,
		})
		a.Twitter = twitter.NewClient(twitter.Options{
			APIBase:    tw.APIBase,
			HTTPClient: httpClient,
			MaxResults: tw.MaxResults,
			Timeout:    cfg.CriticTimeout(),
			Fetcher:    a.Fetcher,
		})
	}
	if tw.Enabled {
		if a.Twitter == nil {
			return nil, errors.New("twitter is enabled but no credentials are configured")
		}
		watermark, err := state.NewFileWatermark(cfg.WorkspacePath(), twitterWatermarkName)
		if err != nil {
			return nil, err
		}
		a.TwitterChannel, err = channels.NewTwitterChannel(tw, a.Twitter, watermark, deps)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Gateway.Enabled {
		opts := gateway.Options{
			Host:        cfg.Gateway.Host,
			Port:        cfg.Gateway.Port,
			Version:     version,
			Usage:       a.Usage,
			Metrics:     a.Metrics,
			LoopContext: ctx,
		}
		// Typed nils would defeat the gateway's "not configured" checks.
		if a.TwitterChannel != nil {
			opts.Loop = a.TwitterChannel
		}
		if a.Twitter != nil {
			opts.Identity = a.Twitter
		}
		a.Gateway = gateway.NewServer(opts)
	}

	return a, nil
}

func hasTwitterCredentials(tw config.TwitterConfig) bool {
	return tw.AccessToken != "" || tw.RefreshToken != "" || tw.BearerToken != ""
}

func (a *App) buildPipeline() (*critique.Pipeline, error) {
	deps := providers.Deps{Usage: a.Usage, Metrics: a.Metrics}
	text, vision, err := providers.CreateCriticProviders(a.cfg, deps)
	if err != nil {
		return nil, err
	}

	captioner, err := a.buildCaptioner(vision, deps)
	if err != nil {
		return nil, err
	}

	logger.InfoCF("app", "Critic configured", map[string]interface{}{
		"mode":         string(a.Mode),
		"text_model":   text.Name() + "/" + text.Model(),
		"vision_model": vision.Name() + "/" + vision.Model(),
		"captioner":    a.cfg.Captioner.Provider,
	})

	return critique.NewPipeline(critique.Options{
		Captioner:    captioner,
		TextCritic:   text,
		VisionCritic: vision,
		DefaultMode:  a.Mode,
		Metrics:      a.Metrics,
	}), nil
}

func (a *App) buildCaptioner(vision providers.LLMProvider, deps providers.Deps) (critique.Captioner, error) {
	cc := a.cfg.Captioner
	var captioner critique.Captioner

	switch strings.ToLower(cc.Provider) {
	case config.CaptionerHuggingFace, "":
		captioner = caption.NewHuggingFaceCaptioner(caption.HuggingFaceOptions{
			APIBase:      cc.APIBase,
			APIKey:       cc.APIKey,
			Model:        cc.Model,
			MaxNewTokens: cc.MaxNewTokens,
			Timeout:      a.cfg.CaptionerTimeout(),
			Usage:        deps.Usage,
			Metrics:      deps.Metrics,
		})
	case config.CaptionerOpenAIVision:
		llm := vision
		// The BLIP default names a captioning model, not a chat model.
		if cc.Model != "" && cc.Model != caption.DefaultModel && cc.Model != vision.Model() {
			name := providers.InferProviderFromModel(cc.Model)
			if name == "" {
				name = vision.Name()
			}
			p, err := providers.CreateProvider(a.cfg, name, cc.Model, deps)
			if err != nil {
				return nil, fmt.Errorf("captioner: %w", err)
			}
			llm = p
		}
		captioner = caption.NewVisionCaptioner(llm, cc.MaxNewTokens)
	default:
		return nil, fmt.Errorf("unknown captioner provider %q", cc.Provider)
	}

	if cc.Serialize {
		captioner = caption.NewSerialized(captioner)
	}
	return captioner, nil
}

// Start brings up the selected components that are configured. A component
// that is selected but not configured is an error.
func (a *App) Start(ctx context.Context, want Components) error {
	if want.Discord {
		if a.Discord == nil {
			return errors.New("discord is not enabled in the config")
		}
		if err := a.Discord.Start(ctx); err != nil {
			return err
		}
		a.started = append(a.started, a.Discord)
	}
	if want.Twitter {
		if a.TwitterChannel == nil {
			return errors.New("twitter is not enabled in the config")
		}
		if err := a.TwitterChannel.Start(ctx); err != nil {
			return err
		}
		a.started = append(a.started, a.TwitterChannel)
	}
	if want.Gateway && a.Gateway != nil {
		if err := a.Gateway.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down everything Start brought up, plus a mention loop the
// gateway may have started.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if a.Gateway != nil {
		if err := a.Gateway.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway: %w", err))
		}
	}
	stopped := map[string]bool{}
	for i := len(a.started) - 1; i >= 0; i-- {
		ch := a.started[i]
		if err := ch.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
		stopped[ch.Name()] = true
	}
	a.started = nil
	if a.TwitterChannel != nil && !stopped[a.TwitterChannel.Name()] {
		if err := a.TwitterChannel.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("twitter: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Critique runs the pipeline once on raw bytes, outside any channel.
func (a *App) Critique(ctx context.Context, data []byte, contentType, userText string) critique.Result {
	return a.Pipeline.Critique(ctx, critique.Request{
		Image:    critique.ImagePayload{Data: data, ContentType: contentType},
		UserText: userText,
		Mode:     a.Mode,
	})
}
