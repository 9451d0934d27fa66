package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"playtestbot/internal/announce"
	"playtestbot/internal/command"
	"playtestbot/internal/config"
	"playtestbot/internal/discord"
	"playtestbot/internal/ics"
	"playtestbot/internal/journal"
	"playtestbot/internal/lifecycle"
	appLog "playtestbot/internal/log"
	"playtestbot/internal/model"
	"playtestbot/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	dotenv     string
	once       bool
}

func main() {
	appLog.Info("playtestbot starting", "version", "0.1.0")
	defer appLog.Sync()

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.dotenv); err != nil {
		appLog.Error("failed to apply environment", err, "dotenv", flags.dotenv)
		os.Exit(1)
	}

	// CLI --listen overrides config file and environment if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"poll", conf.Poll,
		"service_mode", conf.ServiceMode,
		"journal", conf.Journal,
		"guild", conf.Discord.GuildID,
		"config_channel", conf.Discord.ConfigChannel,
		"static", conf.Static != nil,
		"calendar", conf.Calendar.URL != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("playtestbot failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("playtestbot exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	j, err := openJournal(ctx, conf.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	static, err := conf.StaticSnapshot()
	if err != nil {
		// Bad entries are skipped; the rest of the static roster stays usable.
		appLog.Warn("static config has invalid events", "err", err)
	}
	calendar := loadCalendar(ctx, conf)
	holder := config.NewHolder(static.Underlay(calendar))

	composer, err := announce.New(announce.Options{
		DisplayZones:  conf.Announcement.DisplayZones,
		SessionLength: conf.Announcement.SessionLength,
		PreviewOffset: conf.Announcement.PreviewOffset,
		Bullets:       conf.Announcement.Bullets,
		Template:      conf.Announcement.Template,
	}, conf.Thresholds)
	if err != nil {
		return err
	}

	platform, err := discord.NewPlatform(conf.Discord)
	if err != nil {
		return err
	}

	actions := lifecycle.NewActions(platform, composer, conf.Thresholds,
		lifecycle.WithImage(conf.Announcement.ImageURL))

	sched, err := lifecycle.NewScheduler(holder, actions, j, conf.Thresholds, conf.Poll,
		lifecycle.WithServiceMode(conf.ServiceMode))
	if err != nil {
		return err
	}

	commands := command.NewHandler(holder, actions, platform, conf.Thresholds)
	bot := discord.NewBot(platform, conf.Discord.ConfigChannel, commands, holder, func(snap *config.Snapshot) {
		sched.Reload(snap.Underlay(calendar))
	})

	if once {
		if err := bot.Sync(ctx); err != nil {
			return err
		}
		transitions, err := sched.Tick(ctx)
		for _, tr := range transitions {
			appLog.Info("transition", "event", tr.Event, "phase", tr.Phase, "occurrence", tr.Occurrence)
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if conf.Listen != "" {
		srv := web.NewServer(conf, holder, actions)
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openJournal(ctx context.Context, path string) (journal.Journal, error) {
	if path == "" {
		appLog.Warn("journal path is empty; transitions will repeat after a restart")
		return journal.NewMemory(), nil
	}
	return journal.OpenSQLite(ctx, path)
}

// loadCalendar reads the imported roster once at startup. A failing
// calendar leaves the configured roster on its own.
func loadCalendar(ctx context.Context, conf *config.Config) []model.Event {
	if conf.Calendar.URL == "" {
		return nil
	}
	f := ics.NewFetcher(conf.Calendar.CacheDir, conf.Discord.RequestTimeout)
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	events, err := f.Events(ctx, ics.Source{ID: "calendar", URL: conf.Calendar.URL})
	if err != nil {
		appLog.Error("calendar import failed", err)
		return nil
	}
	appLog.Info("calendar imported", "events", len(events))
	return events
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/playtestbot/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.dotenv, "env", ".env", "Optional .env file with PLAYTESTBOT_* overrides")
	flag.BoolVar(&cfg.once, "once", false, "Load configuration, run one scheduler tick and exit")

	flag.Parse()

	return cfg
}
