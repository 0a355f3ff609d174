package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bluesky-social/parley/chatmod/activationstore"
	"github.com/bluesky-social/parley/chatmod/floodguard"
	"github.com/bluesky-social/parley/chatmod/pattern"
	"github.com/bluesky-social/parley/chatmod/quota"
	"github.com/bluesky-social/parley/chatmod/sentiment"
	"github.com/bluesky-social/parley/chatmod/trigger"
	"github.com/bluesky-social/parley/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "chatmod",
		Usage:   "chat moderation daemon: flood control and adversarial triggers",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "activation log database (sqlite or postgres)",
			Value:   "sqlite://data/chatmod/chatmod.db",
			EnvVars: []string{"CHATMOD_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"CHATMOD_MAX_DB_CONNECTIONS"},
			Value:   20,
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit OpenTelemetry spans for database queries",
			EnvVars: []string{"CHATMOD_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"CHATMOD_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: text or json",
			EnvVars: []string{"CHATMOD_LOG_FMT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		cleanupCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
	})
}

func openDatabase(cctx *cli.Context, logger *slog.Logger) (*gorm.DB, error) {
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"), logger)
	if err != nil {
		return nil, err
	}
	if cctx.Bool("db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	return db, nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3999",
			EnvVars: []string{"CHATMOD_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"CHATMOD_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for shared counters, profile snapshots and cooldowns: redis://<user>:<pass>@<hostname>:6379/<db>",
			EnvVars: []string{"CHATMOD_REDIS_URL"},
		},
		&cli.BoolFlag{
			Name:    "redis-cooldowns",
			Usage:   "keep activation cooldowns in redis (survives restarts) instead of process memory",
			EnvVars: []string{"CHATMOD_REDIS_COOLDOWNS"},
		},
		&cli.StringFlag{
			Name:    "exempt-users-file",
			Usage:   "JSON file of named user sets; members of \"trigger-exempt\" are never triggered",
			EnvVars: []string{"CHATMOD_EXEMPT_USERS_FILE"},
		},
		&cli.DurationFlag{
			Name:    "profile-ttl",
			Usage:   "how long pushed profile snapshots are kept",
			Value:   time.Hour,
			EnvVars: []string{"CHATMOD_PROFILE_TTL"},
		},
		&cli.DurationFlag{
			Name:    "profile-local-ttl",
			Usage:   "how long each instance serves a redis-cached profile snapshot from memory (0 to always read redis)",
			Value:   30 * time.Second,
			EnvVars: []string{"CHATMOD_PROFILE_LOCAL_TTL"},
		},
		&cli.IntFlag{
			Name:    "message-limit",
			Value:   10,
			EnvVars: []string{"CHATMOD_MESSAGE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "message-window",
			Value:   10 * time.Second,
			EnvVars: []string{"CHATMOD_MESSAGE_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "command-limit",
			Value:   5,
			EnvVars: []string{"CHATMOD_COMMAND_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "command-window",
			Value:   5 * time.Second,
			EnvVars: []string{"CHATMOD_COMMAND_WINDOW"},
		},
		&cli.DurationFlag{
			Name:    "mute-duration",
			Value:   30 * time.Second,
			EnvVars: []string{"CHATMOD_MUTE_DURATION"},
		},
		&cli.IntFlag{
			Name:    "spam-threshold",
			Value:   3,
			EnvVars: []string{"CHATMOD_SPAM_THRESHOLD"},
		},
		&cli.DurationFlag{
			Name:    "spam-window",
			Value:   5 * time.Second,
			EnvVars: []string{"CHATMOD_SPAM_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "command-repeat-threshold",
			Value:   3,
			EnvVars: []string{"CHATMOD_COMMAND_REPEAT_THRESHOLD"},
		},
		&cli.DurationFlag{
			Name:    "command-repeat-window",
			Value:   10 * time.Second,
			EnvVars: []string{"CHATMOD_COMMAND_REPEAT_WINDOW"},
		},
		&cli.Float64Flag{
			Name:    "anomaly-deviation-threshold",
			Value:   2.0,
			EnvVars: []string{"CHATMOD_ANOMALY_DEVIATION_THRESHOLD"},
		},
		&cli.Float64Flag{
			Name:    "intensity-threshold",
			Usage:   "minimum negative sentiment intensity for an emotional trigger",
			Value:   0.7,
			EnvVars: []string{"CHATMOD_INTENSITY_THRESHOLD"},
		},
		&cli.StringFlag{
			Name:    "sentiment-lexicon-file",
			Usage:   "JSON file overriding the sentiment keyword tables",
			EnvVars: []string{"CHATMOD_SENTIMENT_LEXICON_FILE"},
		},
		&cli.IntFlag{
			Name:    "max-activations-per-hour",
			Value:   5,
			EnvVars: []string{"CHATMOD_MAX_ACTIVATIONS_PER_HOUR"},
		},
		&cli.DurationFlag{
			Name:    "cooldown",
			Value:   60 * time.Second,
			EnvVars: []string{"CHATMOD_COOLDOWN"},
		},
		&cli.BoolFlag{
			Name:    "triggers-enabled",
			Value:   true,
			EnvVars: []string{"CHATMOD_TRIGGERS_ENABLED"},
		},
		&cli.BoolFlag{
			Name:    "system-triggers",
			Usage:   "also fire system triggers from spam, command repetition and activity anomalies",
			EnvVars: []string{"CHATMOD_SYSTEM_TRIGGERS"},
		},
		&cli.IntFlag{
			Name:    "freeze-min",
			Usage:   "minimum trigger freeze duration, in seconds",
			Value:   5,
			EnvVars: []string{"CHATMOD_FREEZE_MIN"},
		},
		&cli.IntFlag{
			Name:    "freeze-max",
			Usage:   "maximum trigger freeze duration, in seconds",
			Value:   8,
			EnvVars: []string{"CHATMOD_FREEZE_MAX"},
		},
		&cli.IntFlag{
			Name:    "activation-retention-days",
			Value:   30,
			EnvVars: []string{"CHATMOD_ACTIVATION_RETENTION_DAYS"},
		},
		&cli.StringFlag{
			Name:    "retention-schedule",
			Usage:   "cron schedule for activation log cleanup",
			Value:   "@daily",
			EnvVars: []string{"CHATMOD_RETENTION_SCHEDULE"},
		},
		&cli.StringFlag{
			Name:    "genai-api-key",
			Usage:   "Gemini API key for narrative generation; fallback text is used when unset",
			EnvVars: []string{"CHATMOD_GENAI_API_KEY", "GEMINI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "genai-model",
			Value:   "gemini-2.5-flash",
			EnvVars: []string{"CHATMOD_GENAI_MODEL"},
		},
		&cli.DurationFlag{
			Name:    "narrative-timeout",
			Value:   10 * time.Second,
			EnvVars: []string{"CHATMOD_NARRATIVE_TIMEOUT"},
		},
		&cli.Float64Flag{
			Name:    "narrative-rate-limit",
			Usage:   "max narrative generator calls per second",
			Value:   2,
			EnvVars: []string{"CHATMOD_NARRATIVE_RATE_LIMIT"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		configOTEL("chatmod")

		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}

		config, err := configFromFlags(cctx)
		if err != nil {
			return err
		}
		config.Logger = logger

		if key := cctx.String("genai-api-key"); key != "" {
			narrator, err := trigger.NewGenAINarrator(ctx, key, cctx.String("genai-model"))
			if err != nil {
				return err
			}
			config.Narrator = trigger.NewRateLimitedNarrator(narrator, cctx.Float64("narrative-rate-limit"), 1)
		} else {
			logger.Warn("no narrative generator configured, triggers will use fallback text")
		}

		srv, err := NewServer(db, config)
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run chatmod service: %w", err)
		}
		return nil
	},
}

func configFromFlags(cctx *cli.Context) (Config, error) {
	config := Config{
		Bind:              cctx.String("bind"),
		RedisURL:          cctx.String("redis-url"),
		RedisCooldowns:    cctx.Bool("redis-cooldowns"),
		ExemptUsersFile:   cctx.String("exempt-users-file"),
		ProfileTTL:        cctx.Duration("profile-ttl"),
		ProfileLocalTTL:   cctx.Duration("profile-local-ttl"),
		SystemTriggers:    cctx.Bool("system-triggers"),
		RetentionDays:     cctx.Int("activation-retention-days"),
		RetentionSchedule: cctx.String("retention-schedule"),
	}

	config.Flood = floodguard.DefaultConfig()
	config.Flood.MessageLimit = cctx.Int("message-limit")
	config.Flood.MessageWindow = cctx.Duration("message-window")
	config.Flood.CommandLimit = cctx.Int("command-limit")
	config.Flood.CommandWindow = cctx.Duration("command-window")
	config.Flood.MuteDuration = cctx.Duration("mute-duration")

	config.Pattern = pattern.Config{
		SpamThreshold:              cctx.Int("spam-threshold"),
		SpamWindow:                 cctx.Duration("spam-window"),
		CommandRepetitionThreshold: cctx.Int("command-repeat-threshold"),
		CommandRepetitionWindow:    cctx.Duration("command-repeat-window"),
		DeviationThreshold:         cctx.Float64("anomaly-deviation-threshold"),
	}

	config.Sentiment = sentiment.DefaultConfig()
	config.Sentiment.IntensityThreshold = cctx.Float64("intensity-threshold")
	if p := cctx.String("sentiment-lexicon-file"); p != "" {
		lex, err := sentiment.LoadLexiconFileJSON(p)
		if err != nil {
			return config, fmt.Errorf("loading sentiment lexicon: %w", err)
		}
		config.Sentiment.Lexicon = lex
	}

	config.Quota = quota.Config{
		MaxPerHour: cctx.Int("max-activations-per-hour"),
		Cooldown:   cctx.Duration("cooldown"),
		Enabled:    cctx.Bool("triggers-enabled"),
	}

	config.Trigger = trigger.DefaultConfig()
	config.Trigger.FreezeMinSeconds = cctx.Int("freeze-min")
	config.Trigger.FreezeMaxSeconds = cctx.Int("freeze-max")
	config.Trigger.NarrativeTimeout = cctx.Duration("narrative-timeout")

	return config, nil
}

var cleanupCmd = &cli.Command{
	Name:  "cleanup",
	Usage: "delete activation records older than the retention period, then exit",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "days",
			Value:   30,
			EnvVars: []string{"CHATMOD_ACTIVATION_RETENTION_DAYS"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		store, err := activationstore.NewGormStore(db)
		if err != nil {
			return err
		}
		q, err := quota.NewQuota(quota.DefaultConfig(), store, nil, logger)
		if err != nil {
			return err
		}
		n, err := q.CleanupOldActivations(ctx, cctx.Int("days"))
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d activation records\n", n)
		return nil
	},
}
