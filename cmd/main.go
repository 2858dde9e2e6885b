package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"doccal/internal/config"
	"doccal/internal/credstore"
	"doccal/internal/google"
	"doccal/internal/icloud"
	"doccal/internal/metrics"
	"doccal/internal/models"
	"doccal/internal/pipeline"
	"doccal/internal/syncer"
	"doccal/internal/validate"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "doccal",
		Usage: "Push events extracted from documents into a calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   config.DefaultPath(),
				EnvVars: []string{"DOCCAL_CONFIG"},
				Usage:   "Path to the YAML config file.",
			},
		},
		Commands: []*cli.Command{
			authCommand(),
			processCommand(),
			exportCommand(),
			statusCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize access to a Google Calendar and store the grant.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("Starting Google authorization flow.")

			oauthCfg, err := google.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.CredentialsFile, cfg.RedirectURL)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}
			store := credstore.NewFileStore(cfg.TokenPath)
			session := google.NewSession(oauthCfg, store, logger, google.SessionOptions{
				Timeout:   cfg.CallbackTimeout,
				Presenter: printAuthURL,
			})

			if _, err := session.Run(c.Context); err != nil {
				return fmt.Errorf("authorization failed: %w", err)
			}
			logger.Info("Successfully authorized and saved grant.", "file", store.Path())
			return nil
		},
	}
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Validate extracted events and insert them into the calendar.",
		ArgsUsage: "[FILE...] (reads stdin when no file or '-' is given)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Usage: "Calendar target: google or caldav."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "workers", Usage: "Number of concurrent insertions."},
			&cli.StringFlag{Name: "metrics-file", Usage: "Write Prometheus metrics to this file when done."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			dryRun := c.Bool("dry-run")
			if dryRun {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			rec := metrics.NewRecorder()

			var inserter syncer.Inserter
			var refresher syncer.Refresher
			if !dryRun {
				inserter, refresher, err = buildTarget(c.Context, cfg, logger, rec)
				if err != nil {
					return err
				}
			}

			s := syncer.NewSyncer(logger, inserter, refresher, syncer.Options{Workers: cfg.Workers, DryRun: dryRun, Metrics: rec})
			o := pipeline.New(logger, validate.New(loc, cfg.EventStartHour, cfg.EventDuration), s, rec)

			inputs := c.Args().Slice()
			if len(inputs) == 0 {
				inputs = []string{"-"}
			}

			var malformed int
			var runErr error
			for _, in := range inputs {
				raw, err := readInput(in)
				if err != nil {
					return err
				}
				report, err := o.Process(c.Context, raw)
				if errors.Is(err, models.ErrMalformedExtraction) {
					fmt.Fprintf(os.Stderr, "%s: %v\n", in, err)
					malformed++
					continue
				}
				printReport(os.Stdout, in, report)
				if err != nil {
					// A failed refresh affects every following document too.
					runErr = fmt.Errorf("sync of %s aborted: %w", in, err)
					break
				}
			}

			if cfg.MetricsFile != "" {
				if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
					logger.Error("Failed to write metrics file", "file", cfg.MetricsFile, "error", err)
				}
			}
			if runErr != nil {
				return runErr
			}
			if malformed > 0 {
				return fmt.Errorf("%d of %d documents had malformed extraction output", malformed, len(inputs))
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Validate extracted events and write them to an .ics file instead of syncing.",
		ArgsUsage: "[FILE...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "-", Usage: "Output file, '-' for stdout."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			v := validate.New(loc, cfg.EventStartHour, cfg.EventDuration)

			inputs := c.Args().Slice()
			if len(inputs) == 0 {
				inputs = []string{"-"}
			}

			var events []models.ValidatedEvent
			for _, in := range inputs {
				raw, err := readInput(in)
				if err != nil {
					return err
				}
				candidates, err := pipeline.ParseExtraction(raw)
				if err != nil {
					return fmt.Errorf("%s: %w", in, err)
				}
				for _, cand := range candidates {
					ev, err := v.Validate(cand)
					if err != nil {
						logger.Warn("Skipping event with invalid date", "file", in, "title", cand.Title, "date", cand.Date)
						continue
					}
					events = append(events, ev)
				}
			}

			if len(events) == 0 {
				logger.Warn("No valid events to export, nothing written.", "documents", len(inputs))
				return nil
			}

			out := io.Writer(os.Stdout)
			if path := c.String("out"); path != "-" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("unable to create %s: %w", path, err)
				}
				defer f.Close()
				out = f
			}
			if err := icloud.EncodeICS(out, events); err != nil {
				return err
			}
			logger.Info("Exported events.", "count", len(events), "out", c.String("out"))
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the stored grant and, optionally, the calendars it can reach.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "calendars", Usage: "List calendars visible to the account."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			store := credstore.NewFileStore(cfg.TokenPath)

			g, err := store.Load()
			if errors.Is(err, credstore.ErrNotFound) {
				fmt.Printf("No usable grant at %s. Run 'doccal auth' first.\n", store.Path())
				return nil
			}
			if err != nil {
				return err
			}
			state := "valid"
			if !g.Token().Valid() {
				state = "expired (will be refreshed on next sync)"
			}
			fmt.Printf("Grant:  %s\nExpiry: %s, %s\nScope:  %s\n", store.Path(), g.Expiry.Format(time.RFC3339), state, strings.Join(g.Scope, " "))

			if !c.Bool("calendars") {
				return nil
			}
			if missing := google.MissingScopes(g.Scope); len(missing) > 0 {
				return fmt.Errorf("stored grant lacks %s; run 'doccal auth' again", strings.Join(missing, " "))
			}
			oauthCfg, err := google.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.CredentialsFile, cfg.RedirectURL)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}
			tm := google.NewTokenManager(c.Context, oauthCfg, store, logger, nil)
			client, err := google.NewCalendarClient(c.Context, logger, tm.Client(), cfg.CalendarID)
			if err != nil {
				return err
			}
			cals, err := client.ListCalendars(c.Context)
			if err != nil {
				return err
			}
			for _, cal := range cals {
				fmt.Printf("  %-50s %-10s %s\n", cal.ID, cal.AccessRole, cal.Summary)
			}
			return nil
		},
	}
}

// loadConfig reads the config file and applies command flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("target") {
		cfg.Target = strings.ToLower(c.String("target"))
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("metrics-file") {
		cfg.MetricsFile = c.String("metrics-file")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildTarget wires the calendar the events go to. For Google it first
// makes sure a grant exists, running the interactive flow if needed.
func buildTarget(ctx context.Context, cfg *config.Config, logger *slog.Logger, rec *metrics.Recorder) (syncer.Inserter, syncer.Refresher, error) {
	switch cfg.Target {
	case config.TargetCalDAV:
		client, err := icloud.NewClient(ctx, logger, cfg.CalDAV.Endpoint, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.CalendarName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		return client, nil, nil
	default:
		oauthCfg, err := google.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.CredentialsFile, cfg.RedirectURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get google oauth config: %w", err)
		}
		store := credstore.NewFileStore(cfg.TokenPath)
		session := google.NewSession(oauthCfg, store, logger, google.SessionOptions{
			Timeout:   cfg.CallbackTimeout,
			Presenter: printAuthURL,
		})
		if _, err := google.EnsureGrant(ctx, store, session, logger); err != nil {
			return nil, nil, fmt.Errorf("authorization failed: %w", err)
		}

		tm := google.NewTokenManager(ctx, oauthCfg, store, logger, rec)
		client, err := google.NewCalendarClient(ctx, logger, tm.Client(), cfg.CalendarID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google calendar client: %w", err)
		}
		return client, tm, nil
	}
}

func printAuthURL(authURL string) {
	fmt.Printf("Go to the following link in your browser to authorize doccal:\n%v\n", authURL)
}

func readInput(name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("unable to read %s: %w", name, err)
	}
	return string(data), nil
}

func printReport(w io.Writer, name string, report *models.Report) {
	fmt.Fprintf(w, "%s:\n", name)
	for _, res := range report.Results {
		line := fmt.Sprintf("  %-8s %q (%s)", res.Status, res.Event.Title, res.Event.Date)
		if res.Reason != "" {
			line += ": " + res.Reason
		}
		if res.Warning != "" {
			line += " [" + res.Warning + "]"
		}
		fmt.Fprintln(w, line)
	}
	sum := report.Summary()
	fmt.Fprintf(w, "  %d inserted, %d skipped, %d failed\n", sum.Inserted, sum.Skipped, sum.Failed)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
