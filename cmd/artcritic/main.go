package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/artcritic/artcritic/pkg/app"
	"github.com/artcritic/artcritic/pkg/config"
	"github.com/artcritic/artcritic/pkg/logger"
	"github.com/artcritic/artcritic/pkg/media"
	"github.com/artcritic/artcritic/pkg/twitter"
	"github.com/artcritic/artcritic/pkg/utils"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(app.Components{Discord: true, Twitter: true, Gateway: true}, true)
	case "discord":
		err = runServe(app.Components{Discord: true}, false)
	case "twitter":
		err = runServe(app.Components{Twitter: true, Gateway: true}, false)
	case "critique":
		err = runCritique(os.Args[2:])
	case "tweet":
		err = runTweet(os.Args[2:])
	case "whoami":
		err = runWhoami()
	case "version":
		fmt.Printf("artcritic %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logger.ErrorCF("main", "Command failed", map[string]interface{}{
			"command": os.Args[1],
			"error":   err.Error(),
		})
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("artcritic - a brutally honest art critic for Discord and X")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  artcritic serve                  Run every enabled channel and the HTTP gateway")
	fmt.Println("  artcritic discord                Run the Discord bot only")
	fmt.Println("  artcritic twitter                Run the X mention loop and the gateway")
	fmt.Println("  artcritic critique <image> [..]  Critique a local image, optional text after it")
	fmt.Println("  artcritic tweet <url>            Critique the first photo of a tweet")
	fmt.Println("  artcritic whoami                 Print the authenticated X handle")
	fmt.Println("  artcritic version                Show version info")
	fmt.Println()
	fmt.Println("Config is read from $ARTCRITIC_CONFIG or ~/.artcritic/config.json.")
}

func loadConfig(validate bool) (*config.Config, error) {
	path := config.DefaultPath()
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := app.SetupLogging(cfg); err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config:\n%w", err)
		}
	}
	return cfg, nil
}

// runServe starts the selected components. With lenient set, components the
// config leaves disabled are skipped instead of failing the command.
func runServe(want app.Components, lenient bool) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if !lenient {
		if want.Discord {
			cfg.Channels.Discord.Enabled = true
		}
		if want.Twitter {
			cfg.Channels.Twitter.Enabled = true
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config:\n%w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	if lenient {
		want.Discord = want.Discord && a.Discord != nil
		want.Twitter = want.Twitter && a.TwitterChannel != nil
	}
	if !want.Discord && !want.Twitter && (a.Gateway == nil || !want.Gateway) {
		return errors.New("nothing to run: enable a channel or the gateway in the config")
	}

	if err := a.Start(ctx, want); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	logger.InfoCF("main", "artcritic running", map[string]interface{}{
		"version": version,
		"discord": want.Discord,
		"twitter": want.Twitter,
		"gateway": a.Gateway != nil && want.Gateway,
	})

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.Stop(shutdownCtx)
}

func newOneShotApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	cfg.Channels.Discord.Enabled = false
	cfg.Channels.Twitter.Enabled = false
	cfg.Gateway.Enabled = false
	return app.New(ctx, cfg, version)
}

func runCritique(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: artcritic critique <image> [text]")
	}
	data, contentType, err := utils.LoadImageFile(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newOneShotApp(ctx)
	if err != nil {
		return err
	}
	res := a.Critique(ctx, data, contentType, strings.Join(args[1:], " "))
	fmt.Println(res.Reply())
	if !res.Succeeded {
		return res.Err
	}
	return nil
}

func runTweet(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: artcritic tweet <url>")
	}
	id := twitter.ExtractTweetID(args[0])
	if id == "" {
		return fmt.Errorf("no tweet id in %q", args[0])
	}

	ctx := context.Background()
	a, err := newOneShotApp(ctx)
	if err != nil {
		return err
	}
	if a.Twitter == nil {
		return errors.New("no X credentials configured")
	}

	tweet, err := a.Twitter.Tweet(ctx, id)
	if err != nil {
		return err
	}
	if len(tweet.PhotoURLs) == 0 {
		return fmt.Errorf("tweet %s has no photo", id)
	}
	fetched, err := a.Twitter.DownloadMedia(ctx, tweet.PhotoURLs[0])
	if err != nil {
		return err
	}
	contentType := media.TypeFromFilename(tweet.PhotoURLs[0])
	if contentType == "" && media.IsImageType(fetched.ContentType) {
		contentType = fetched.ContentType
	}

	res := a.Critique(ctx, fetched.Data, contentType, tweet.Text)
	fmt.Printf("@%s: %s\n", tweet.AuthorUsername, res.Reply())
	if !res.Succeeded {
		return res.Err
	}
	return nil
}

func runWhoami() error {
	ctx := context.Background()
	a, err := newOneShotApp(ctx)
	if err != nil {
		return err
	}
	if a.Twitter == nil {
		return errors.New("no X credentials configured")
	}
	me, err := a.Twitter.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("@%s (%s)\n", me.Username, me.ID)
	return nil
}
