package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/lox/aurorawatch/internal/api"
	"github.com/lox/aurorawatch/internal/cache"
	"github.com/lox/aurorawatch/internal/config"
	"github.com/lox/aurorawatch/internal/forecast"
	"github.com/lox/aurorawatch/internal/ingest"
	"github.com/lox/aurorawatch/internal/models"
	"github.com/lox/aurorawatch/internal/store"
)

type CLI struct {
	Config config.Config `embed:""`

	Serve    ServeCmd    `cmd:"" help:"Poll sources, send escalations and serve the HTTP API."`
	Once     OnceCmd     `cmd:"" help:"Build and print an alert once."`
	Series   SeriesCmd   `cmd:"" help:"Print the short-term visibility series."`
	Health   HealthCmd   `cmd:"" help:"Check every source and print its status."`
	Location LocationCmd `cmd:"" help:"Manage stored locations."`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: .env: %v", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("aurorawatch"),
		kong.Description("Aurora (geomagnetic Kp) alerts for an observer location."),
		kong.UsageOnError(),
	)
	if err := cli.Config.Validate(); err != nil {
		ctx.FatalIfErrorf(err)
	}
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

func (cli *CLI) openStore() (*store.Store, *sql.DB, error) {
	if dir := filepath.Dir(cli.Config.DB); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cli.Config.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	loc, err := time.LoadLocation(cli.Config.Observer.Timezone)
	if err != nil {
		log.Printf("warning: could not load %s, using UTC: %v", cli.Config.Observer.Timezone, err)
		loc = time.UTC
	}

	st := store.New(db, loc)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, db, nil
}

// sources wires every adapter. The OpenWeather budget is only enforced
// when a store is available.
func (cli *CLI) sources(st *store.Store, clock clockwork.Clock) ingest.Sources {
	cfg := cli.Config.Sources

	gfz := ingest.NewGFZClient(cfg.GFZBaseURL, cfg.GFZUserAgent, clock)
	gfz.SetStatus(cfg.GFZStatusFilter())
	if cfg.GFZFTPFallback {
		gfz.SetFallback(ingest.NewGFZFTPClient(""))
	}

	var budget ingest.CallBudget
	if st != nil {
		budget = st
	}
	owCache := cache.New(filepath.Join(cli.Config.CacheDir, ingest.ProviderOpenWeather), cfg.OpenWeatherCacheTTL, clock)

	return ingest.Sources{
		NOAA:        ingest.NewNOAAClient(""),
		GFZ:         gfz,
		SWPC:        ingest.NewSWPCClient("", "", clock),
		Ovation:     ingest.NewOvationClient(""),
		Clouds:      ingest.NewOpenMeteoClient(""),
		OpenWeather: ingest.NewOpenWeatherClient(cfg.OpenWeather(), budget, owCache, clock),
		MAF:         ingest.NewMAFClient("", cfg.MAFUserAgent, cfg.MAFAppUserID, clock),
		Snapshot:    ingest.NewSnapshotClient(""),
	}
}

func (cli *CLI) collector(st *store.Store, clock clockwork.Clock) *ingest.Collector {
	return ingest.NewCollector(cli.sources(st, clock), cli.Config.Sources.FetchTimeout, clock)
}

// engineConfig returns the stored location called name, or the observer
// flags when name is empty.
func (cli *CLI) engineConfig(name string) (models.EngineConfig, error) {
	if name == "" {
		return cli.Config.Observer.EngineConfig(), nil
	}
	st, db, err := cli.openStore()
	if err != nil {
		return models.EngineConfig{}, err
	}
	defer db.Close()

	loc, err := st.GetLocationByName(name)
	if err != nil {
		return models.EngineConfig{}, err
	}
	if loc == nil {
		return models.EngineConfig{}, fmt.Errorf("location %q not found", name)
	}
	return loc.EngineConfig(), nil
}

type ServeCmd struct {
	Port           string        `name:"port" env:"AURORA_PORT" default:"8080" help:"HTTP server port."`
	UpdateInterval time.Duration `name:"update-interval" env:"UPDATE_INTERVAL" default:"2h" help:"How often locations are rebuilt."`
	HealthInterval time.Duration `name:"health-interval" env:"HEALTH_INTERVAL" default:"30m" help:"How often source health is refreshed."`
	WebhookURL     string        `name:"webhook-url" env:"ALERT_WEBHOOK_URL" help:"Discord-compatible webhook for escalations."`
	NoPoll         bool          `name:"no-poll" help:"Serve the API without polling."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	st, db, err := cli.openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	log.Println("database migrated")

	defaults := cli.Config.Observer.EngineConfig()
	loc, err := st.EnsureDefaultLocation(defaults)
	if err != nil {
		return fmt.Errorf("default location: %w", err)
	}
	log.Printf("default location: %s (%.4f, %.4f)", loc.Name, loc.Latitude, loc.Longitude)

	clock := clockwork.NewRealClock()
	collector := cli.collector(st, clock)

	var notifier ingest.Notifier = ingest.LogNotifier{}
	if c.WebhookURL != "" {
		notifier = ingest.MultiNotifier{ingest.LogNotifier{}, ingest.NewWebhookNotifier(c.WebhookURL)}
	}

	scheduler := ingest.NewScheduler(st, collector, notifier, clock)
	scheduler.SetIntervals(c.UpdateInterval, c.HealthInterval)
	scheduler.SetDefaultLocation(defaults)

	server := api.NewServer(st, collector, c.Port, clock)
	scheduler.OnHealth(server.SetHealth)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoPoll {
		go scheduler.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	return server.Run(ctx)
}

type OnceCmd struct {
	Location     string `name:"location" short:"l" help:"Stored location name (defaults to the observer flags)."`
	ForecastFile string `name:"forecast-file" type:"existingfile" help:"Build from a saved NOAA 3-day forecast instead of fetching."`
	Escalation   bool   `name:"escalation" help:"Print the escalation message for every real-time token."`
}

func (c *OnceCmd) Run(cli *CLI) error {
	cfg, err := cli.engineConfig(c.Location)
	if err != nil {
		return err
	}
	clock := clockwork.NewRealClock()
	engine, err := forecast.NewEngine(cfg, clock)
	if err != nil {
		return err
	}

	var data models.SourceData
	if c.ForecastFile != "" {
		text, err := os.ReadFile(c.ForecastFile)
		if err != nil {
			return fmt.Errorf("read forecast: %w", err)
		}
		data.ForecastText = string(text)
	} else {
		col := cli.collector(nil, clock).Collect(context.Background(), cfg)
		for source, err := range col.Errors {
			log.Printf("once: %s unavailable: %v", source, err)
		}
		data = col.Data
	}

	build, err := engine.Build(data)
	if err != nil {
		return err
	}
	if c.Escalation {
		fmt.Println(build.EscalationText(forecast.SplitSignature(build.Signature), engine.Location()))
		return nil
	}
	fmt.Println(build.Text(engine.Location()))
	fmt.Printf("\nwindow: %s\ncombined: %s\n", build.WindowID, build.CombinedID)
	return nil
}

type SeriesCmd struct {
	Location string `name:"location" short:"l" help:"Stored location name (defaults to the observer flags)."`
	Minutes  int    `name:"minutes" default:"30" help:"Horizon in minutes."`
	Step     int    `name:"step" default:"5" help:"Step in minutes."`
}

func (c *SeriesCmd) Run(cli *CLI) error {
	cfg, err := cli.engineConfig(c.Location)
	if err != nil {
		return err
	}
	clock := clockwork.NewRealClock()
	engine, err := forecast.NewEngine(cfg, clock)
	if err != nil {
		return err
	}

	col := cli.collector(nil, clock).Collect(context.Background(), cfg)
	series, err := engine.ShortTermSeries(col.Data, c.Minutes, c.Step)
	if err != nil {
		return err
	}

	fmt.Printf("%s: Kp %s\n", cfg.LocationName, forecast.FormatKp(series.Kp))
	for _, p := range series.Points {
		fmt.Printf("%s  %3d%%\n", p.Time.In(engine.Location()).Format("Jan 2 15:04 MST"), p.Probability)
	}
	return nil
}

type HealthCmd struct {
	Location string `name:"location" short:"l" help:"Stored location name (defaults to the observer flags)."`
	History  bool   `name:"history" default:"true" negatable:"" help:"Also print the last day of stored fetches."`
}

func (c *HealthCmd) Run(cli *CLI) error {
	cfg, err := cli.engineConfig(c.Location)
	if err != nil {
		return err
	}
	col := cli.collector(nil, clockwork.NewRealClock()).Collect(context.Background(), cfg)

	names := make([]string, 0, len(col.Health.Sources))
	for name := range col.Health.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, name := range names {
		status := "ok"
		if !col.Health.Sources[name] {
			status = "unavailable"
		}
		detail := ""
		if err := col.Errors[name]; err != nil {
			detail = err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, status, detail)
	}
	w.Flush()

	if c.History {
		if err := cli.printFetchHistory(); err != nil {
			log.Printf("warning: fetch history: %v", err)
		}
	}

	if !col.Health.RequiredOK() {
		return errors.New("required sources unavailable")
	}
	return nil
}

// printFetchHistory summarises the stored fetch audit of a running
// server. It does nothing when there is no database yet.
func (cli *CLI) printFetchHistory() error {
	if _, err := os.Stat(cli.Config.DB); err != nil {
		return nil
	}
	st, db, err := cli.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := st.FetchStats(time.Now().Add(-24 * time.Hour))
	if err != nil {
		return err
	}
	failures, err := st.RecentFetchFailures(5)
	if err != nil {
		return err
	}
	usage, err := st.PayloadUsage()
	if err != nil {
		return err
	}

	fmt.Println("\nStored fetches, last 24h:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tCALLS\tFAILED\tRECORDS\tLAST OK")
	for _, src := range stats {
		lastOK := "never"
		if !src.LastOK.IsZero() {
			lastOK = src.LastOK.Local().Format("Jan 2 15:04")
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", src.Source, src.Calls, src.Failures, src.Records, lastOK)
	}
	w.Flush()

	for _, f := range failures {
		fmt.Printf("  %s %s: %s\n", f.FetchedAt.Local().Format("Jan 2 15:04"), f.Source, f.Error)
	}
	fmt.Printf("%d payloads stored, %d KB compressed\n", usage.Count, usage.CompressedBytes/1024)
	return nil
}

type LocationCmd struct {
	Add     LocationAddCmd    `cmd:"" help:"Add a location from the observer flags."`
	List    LocationListCmd   `cmd:"" help:"List stored locations."`
	Enable  LocationToggleCmd `cmd:"" help:"Resume polling a location."`
	Disable LocationToggleCmd `cmd:"" help:"Stop polling a location."`
}

type LocationAddCmd struct {
	Name string `arg:"" help:"Location name."`
}

func (c *LocationAddCmd) Run(cli *CLI) error {
	st, db, err := cli.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	cfg := cli.Config.Observer.EngineConfig()
	cfg.LocationName = c.Name
	if _, err := forecast.NewEngine(cfg, nil); err != nil {
		return err
	}

	loc := &models.Location{
		Name:         c.Name,
		Latitude:     cfg.Latitude,
		Longitude:    cfg.Longitude,
		TimezoneName: cfg.TimezoneName,
		KpThreshold:  cfg.KpThreshold,
		Active:       true,
	}
	if err := st.CreateLocation(loc); err != nil {
		return err
	}
	fmt.Printf("added location %d: %s\n", loc.ID, loc.Name)
	return nil
}

type LocationListCmd struct {
	All bool `name:"all" help:"Include inactive locations."`
}

func (c *LocationListCmd) Run(cli *CLI) error {
	st, db, err := cli.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	locations, err := st.ListLocations(!c.All)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLAT\tLON\tTIMEZONE\tKP\tACTIVE\tLAST ALERT")
	for _, l := range locations {
		lastAlert := "-"
		if l.LastAlertAt.Valid {
			lastAlert = l.LastAlertAt.Time.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%.4f\t%s\t%s\t%t\t%s\n",
			l.ID, l.Name, l.Latitude, l.Longitude, l.TimezoneName, forecast.FormatKp(l.KpThreshold), l.Active, lastAlert)
	}
	return w.Flush()
}

type LocationToggleCmd struct {
	Name string `arg:"" help:"Location name."`
}

func (c *LocationToggleCmd) Run(cli *CLI, kctx *kong.Context) error {
	st, db, err := cli.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	loc, err := st.GetLocationByName(c.Name)
	if err != nil {
		return err
	}
	if loc == nil {
		return fmt.Errorf("location %q not found", c.Name)
	}

	active := kctx.Selected().Name == "enable"
	if err := st.SetLocationActive(loc.ID, active); err != nil {
		return err
	}
	fmt.Printf("%s: active=%t\n", loc.Name, active)
	return nil
}
