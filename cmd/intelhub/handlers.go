package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/elonfeng/intelhub/internal/config"
	"github.com/elonfeng/intelhub/internal/logging"
	"github.com/elonfeng/intelhub/internal/notify"
	"github.com/elonfeng/intelhub/internal/pipeline"
	"github.com/elonfeng/intelhub/internal/scheduler"
	"github.com/elonfeng/intelhub/internal/store"
	"github.com/elonfeng/intelhub/internal/supervisor"
	"github.com/elonfeng/intelhub/pkg/alert"
	"github.com/elonfeng/intelhub/pkg/event"
	"github.com/elonfeng/intelhub/pkg/score"
	"github.com/elonfeng/intelhub/pkg/server"
	"github.com/elonfeng/intelhub/pkg/source"
)

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

func buildChannel(cfg *config.Config, log zerolog.Logger) alert.Channel {
	n := cfg.Notifier
	sel := alert.Selection{
		Channel:           n.Channel,
		TelegramToken:     n.Telegram.Token,
		TelegramChatID:    n.Telegram.ChatID,
		TelegramAPIURL:    n.Telegram.APIURL,
		SlackWebhookURL:   n.Slack.WebhookURL,
		DiscordWebhookURL: n.Discord.WebhookURL,
		WebhookURL:        n.Webhook.URL,
		WebhookSecret:     n.Webhook.Secret,
	}
	return alert.New(sel, alert.Options{
		Retry: alert.RetryPolicy{
			MaxAttempts: n.Retry.MaxAttempts,
			Base:        n.Retry.ParseBackoff(),
			Max:         n.Retry.ParseMaxBackoff(),
			Jitter:      n.Retry.ParseJitter(),
		},
		RatePerSecond: n.RatePerSecond,
		Log:           logging.Component(log, "alert"),
	})
}

func formatOptions(cfg *config.Config) notify.FormatOptions {
	return notify.FormatOptions{
		Important: cfg.ImportantThreshold,
		Critical:  cfg.CriticalThreshold,
		Translate: cfg.Notifier.Translate,
		MaxLen:    cfg.Notifier.MaxMessageLen,
		Location:  cfg.Notifier.Location(),
	}
}

// sanityEvent is the fixed message used by push-test and the startup push.
func sanityEvent(now time.Time) event.Event {
	ms := now.UnixMilli()
	return event.Event{
		ID:          fmt.Sprintf("boot_sanity_%d", ms),
		DetectedAt:  ms,
		PublishedAt: ms,
		Headline:    "(BOOT SANITY) intelhub notifier is online ✅",
		Source:      "intelhub",
		Link:        "https://example.com",
		Market:      "us",
		Symbols:     []string{"OPEN"},
		Categories:  []string{"contract"},
		Tags:        []string{"#sanity"},
		Score:       95,
		ThreadKey:   fmt.Sprintf("BOOT|%d", ms),
	}
}

func sendSanity(ctx context.Context, ch alert.Channel, cfg *config.Config) error {
	return ch.Send(ctx, notify.Format(sanityEvent(time.Now()), formatOptions(cfg)))
}

// shutdownSlack is how much longer the supervisor waits for services to stop
// than the dispatcher spends flushing batches.
const shutdownSlack = 4 * time.Second

func supervisorConfig() supervisor.Config {
	cfg := supervisor.DefaultConfig()
	cfg.ShutdownTimeout = notify.FlushTimeout + shutdownSlack
	return cfg
}

func runDaemon(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	holder := config.NewHolder(cfg)

	rules, err := score.LoadFile(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	engine := score.NewEngine(rules)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ch := buildChannel(cfg, log)
	defer ch.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Notifier.StartupPush {
		if err := sendSanity(ctx, ch, cfg); err != nil {
			log.Warn().Err(err).Msg("startup push failed")
		} else {
			log.Info().Str("channel", ch.Name()).Msg("startup push sent")
		}
	}

	raw := make(chan event.RawItem, cfg.Queue.Size)
	scored := make(chan event.Event, cfg.Queue.Size)

	hk, err := scheduler.New(db, cfg.Housekeeping.SweepSchedule, logging.Component(log, "housekeeper"))
	if err != nil {
		return err
	}

	dispatcher := notify.New(scored, ch, db, holder, logging.Component(log, "dispatcher"))

	tree := supervisor.New("intelhub", supervisorConfig(), logging.Component(log, "supervisor"))
	tree.AddProcessor(pipeline.New(db, engine, holder, raw, scored, logging.Component(log, "ingest")))
	tree.AddProcessor(dispatcher)
	tree.AddProcessor(hk)

	interval := cfg.Reload.ParseCheckInterval()
	watchLog := logging.Component(log, "watcher")
	if path := configPath(); path != "" {
		tree.AddProcessor(config.NewWatcher("config", path, interval, func(p string) error {
			next, err := config.Load(p)
			if err != nil {
				return err
			}
			v := holder.Store(next)
			log.Info().Uint64("version", v).Msg("config snapshot published")
			return nil
		}, watchLog))
	}
	tree.AddProcessor(config.NewWatcher("rules", cfg.RulesPath, interval, func(p string) error {
		next, err := score.LoadFile(p)
		if err != nil {
			return err
		}
		engine.Swap(next)
		log.Info().Str("version", next.Version()).Msg("rules swapped")
		return nil
	}, watchLog))

	collectLog := logging.Component(log, "collector")
	for _, f := range cfg.Sources.RSS {
		tree.AddCollector(source.NewPoller(source.NewRSS(f.ID, f.URL), f.ParseInterval(), raw, collectLog))
	}
	for _, f := range cfg.Sources.JSON {
		tree.AddCollector(source.NewPoller(source.NewJSONFeed(f.ID, f.URL), f.ParseInterval(), raw, collectLog))
	}

	if cfg.Server.Port > 0 {
		tree.AddAPI(server.New(db, holder, engine, logging.Component(log, "server")))
	}

	log.Info().
		Int("rss", len(cfg.Sources.RSS)).
		Int("json", len(cfg.Sources.JSON)).
		Str("channel", ch.Name()).
		Str("rules_version", engine.Version()).
		Msg("intelhub running")

	err = tree.Serve(ctx)
	// The deferred store and channel closes must not race a late batch flush.
	dispatcher.Wait()
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func runScore(w io.Writer, headline, sourceID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rules, err := score.LoadFile(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	if reason, hit := rules.Blacklisted(sourceID, headline); hit {
		fmt.Fprintf(w, "blacklisted: %s\n", reason)
		return nil
	}

	res := rules.Score(headline)
	level := notify.Level(res.Score, cfg.ImportantThreshold, cfg.CriticalThreshold)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "score\t%.1f (%s)\n", res.Score, level)
	fmt.Fprintf(tw, "categories\t%s\n", strings.Join(res.Categories, ", "))
	fmt.Fprintf(tw, "tags\t%s\n", strings.Join(res.Tags, " "))
	fmt.Fprintf(tw, "symbols\t%s\n", strings.Join(res.Symbols, ", "))
	fmt.Fprintf(tw, "negatives\t%d\n", res.Negatives)
	fmt.Fprintf(tw, "thread\t%s\n", rules.ThreadKey(res, sourceID))
	fmt.Fprintf(tw, "rules\t%s\n", rules.Version())
	return tw.Flush()
}

func runEvents(ctx context.Context, w io.Writer, high, jsonOutput bool, minScore float64, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	opts := store.QueryOpts{
		SinceMs: time.Now().Add(-cfg.ParseRetention()).UnixMilli(),
		Limit:   limit,
		ByScore: high,
	}
	switch {
	case minScore >= 0:
		opts.MinScore = minScore
	case high:
		opts.MinScore = cfg.ImportantThreshold
	}

	events, err := db.QueryRecent(ctx, opts)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if high {
		events = server.CollapseHeadlines(events)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	if len(events) == 0 {
		fmt.Fprintln(w, "no events found (start collecting first: intelhub run)")
		return nil
	}

	loc := cfg.Notifier.Location()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DETECTED\tSCORE\tPUSHED\tSOURCE\tSYMBOLS\tHEADLINE")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%.1f\t%t\t%s\t%s\t%s\n",
			time.UnixMilli(ev.DetectedAt).In(loc).Format("2006-01-02 15:04"),
			ev.Score, ev.Pushed, ev.Source,
			strings.Join(ev.Symbols, ","), ev.Headline)
	}
	return tw.Flush()
}

func runSweep(ctx context.Context, w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	hk, err := scheduler.New(db, cfg.Housekeeping.SweepSchedule, newLogger(cfg))
	if err != nil {
		return err
	}
	n, err := hk.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(w, "deleted %d expired events\n", n)
	return nil
}

func runPushTest(ctx context.Context, w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ch := buildChannel(cfg, newLogger(cfg))
	defer ch.Close()

	if err := sendSanity(ctx, ch, cfg); err != nil {
		return fmt.Errorf("push via %s: %w", ch.Name(), err)
	}
	fmt.Fprintf(w, "sanity message delivered via %s\n", ch.Name())
	return nil
}
