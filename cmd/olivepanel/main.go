package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/olivepanel/internal/align"
	"github.com/lox/olivepanel/internal/api"
	"github.com/lox/olivepanel/internal/export"
	"github.com/lox/olivepanel/internal/ingest"
	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/pipeline"
	"github.com/lox/olivepanel/internal/store"
)

type globals struct {
	DB       string `help:"Path to the SQLite database." default:"data/olivepanel.db" env:"OLIVEPANEL_DB"`
	Out      string `help:"Output root for exported tables." default:"out" env:"OLIVEPANEL_OUT"`
	Snapshot string `help:"Snapshot date (YYYY-MM-DD); defaults to today." env:"OLIVEPANEL_SNAPSHOT"`
}

// sourceFlags configure the external sources for ingestion.
type sourceFlags struct {
	FredAPIKey  string `help:"FRED API key." env:"FRED_API_KEY"`
	EIAAPIKey   string `help:"EIA API key." env:"EIA_API_KEY"`
	FBXHost     string `help:"FTP host:port for the freight index drop." env:"FBX_FTP_HOST"`
	FBXPath     string `help:"Remote path of the freight index sheet." env:"FBX_FTP_PATH"`
	FBXUser     string `help:"FTP user for the freight index drop." env:"FBX_FTP_USER"`
	FBXPassword string `help:"FTP password for the freight index drop." env:"FBX_FTP_PASSWORD"`
	PricesFile  string `help:"Local EU price sheet CSV." env:"OLIVEPANEL_PRICES_FILE" type:"existingfile"`
	PriceUnit   string `help:"Unit the price sheet quotes in." enum:"per_100kg,per_kg,per_l" default:"per_100kg" env:"OLIVEPANEL_PRICE_UNIT"`
	TariffsFile string `help:"Local tariff schedule CSV." env:"OLIVEPANEL_TARIFFS_FILE" type:"existingfile"`
	FXFile      string `help:"Local FX sheet CSV, used instead of FRED when set." env:"OLIVEPANEL_FX_FILE" type:"existingfile"`
}

type cli struct {
	globals

	Ingest   ingestCmd   `cmd:"" help:"Fetch external sources into the store."`
	Panel    panelCmd    `cmd:"" help:"Build and export the weekly panel snapshot."`
	Features featuresCmd `cmd:"" help:"Build and export the feature tables from a stored panel snapshot."`
	Run      runCmd      `cmd:"" help:"Ingest all sources, then build panel and features."`
	Serve    serveCmd    `cmd:"" help:"Run the weekly scheduler and the operational HTTP server."`
}

// app carries the wired dependencies into command Run methods.
type app struct {
	store    *store.Store
	pipeline *pipeline.Pipeline
	snapshot string
}

type ingestCmd struct {
	sourceFlags
}

func (c *ingestCmd) Run(a *app) error {
	return ingestAll(a.store, c.sourceFlags)
}

type panelCmd struct{}

func (c *panelCmd) Run(a *app) error {
	_, err := a.pipeline.RunPanel(context.Background(), a.snapshot)
	return err
}

type featuresCmd struct{}

func (c *featuresCmd) Run(a *app) error {
	return a.pipeline.RunFeatures(context.Background(), a.snapshot)
}

type runCmd struct {
	sourceFlags
}

func (c *runCmd) Run(a *app) error {
	if err := ingestAll(a.store, c.sourceFlags); err != nil {
		return err
	}
	return a.pipeline.Run(context.Background(), a.snapshot)
}

type serveCmd struct {
	sourceFlags
	Port string `help:"HTTP port for health and metrics." default:"8080" env:"OLIVEPANEL_PORT"`
}

func (c *serveCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(a.store, c.Port)
	go func() {
		log.Printf("serve: listening on :%s", c.Port)
		if err := server.Run(ctx); err != nil {
			log.Printf("serve: http server: %v", err)
			stop()
		}
	}()

	scheduler := ingest.NewScheduler(func(ctx context.Context) error {
		if err := ingestAll(a.store, c.sourceFlags); err != nil {
			return err
		}
		snapshot := time.Now().UTC().Format("2006-01-02")
		return a.pipeline.Run(ctx, snapshot)
	})

	err := scheduler.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func main() {
	var root cli
	kctx := kong.Parse(&root,
		kong.Name("olivepanel"),
		kong.Description("Weekly olive oil price panel and feature pipeline."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)

	db, err := sql.Open("sqlite", root.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	snapshot := root.Snapshot
	if snapshot == "" {
		snapshot = time.Now().UTC().Format("2006-01-02")
	}

	a := &app{
		store:    st,
		pipeline: pipeline.New(st, export.NewWriter(root.Out)),
		snapshot: snapshot,
	}

	if err := kctx.Run(a); err != nil {
		log.Fatalf("%s: %v", kctx.Command(), err)
	}
}

// fredSeries maps store series names onto FRED series IDs.
var fredSeries = []struct {
	Name string
	ID   string
}{
	{align.SeriesUsdPerEur, ingest.FredSeriesFX},
	{align.SeriesPPIGlass, ingest.FredSeriesPPIGlass},
	{align.SeriesPPIPlasticBottles, ingest.FredSeriesPPIPlastic},
	{align.SeriesPPISteel, ingest.FredSeriesPPISteel},
}

var eiaSeries = []struct {
	Name string
	ID   string
}{
	{align.SeriesBrentUsdPerBbl, ingest.EIASeriesBrent},
	{align.SeriesDieselUsdPerGal, ingest.EIASeriesDiesel},
}

// ingestAll fetches every configured source into the store. Sources with
// no configuration are skipped with a log line; a configured source that
// fails fails the whole ingest.
func ingestAll(st *store.Store, flags sourceFlags) error {
	if flags.FredAPIKey != "" {
		fred := ingest.NewFredClient(flags.FredAPIKey)
		for _, s := range fredSeries {
			if flags.FXFile != "" && s.Name == align.SeriesUsdPerEur {
				continue
			}
			if err := storeSeries(st, "fred", s.Name, s.ID, func() ([]models.RawPoint, error) {
				return fred.FetchSeries(s.ID)
			}); err != nil {
				return err
			}
		}
	} else {
		log.Printf("ingest: no FRED API key, skipping FX and PPI series")
	}

	if flags.EIAAPIKey != "" {
		eia := ingest.NewEIAClient(flags.EIAAPIKey)
		for _, s := range eiaSeries {
			if err := storeSeries(st, "eia", s.Name, s.ID, func() ([]models.RawPoint, error) {
				return eia.FetchSeries(s.ID)
			}); err != nil {
				return err
			}
		}
	} else {
		log.Printf("ingest: no EIA API key, skipping energy series")
	}

	if flags.FXFile != "" {
		if err := storeSeries(st, "fx_sheet", align.SeriesUsdPerEur, flags.FXFile, func() ([]models.RawPoint, error) {
			f, err := os.Open(flags.FXFile)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return ingest.ParseFXSheet(f)
		}); err != nil {
			return err
		}
	}

	if flags.FBXHost != "" {
		fbx := ingest.NewFBXClient(flags.FBXHost, flags.FBXPath, flags.FBXUser, flags.FBXPassword)
		if err := storeSeries(st, "fbx", align.SeriesFBX, flags.FBXPath, fbx.FetchIndex); err != nil {
			return err
		}
	} else {
		log.Printf("ingest: no freight index drop configured, ocean proxy will fall back to brent")
	}

	if flags.PricesFile != "" {
		if err := ingestPrices(st, flags.PricesFile, ingest.PriceUnit(flags.PriceUnit)); err != nil {
			return err
		}
	} else {
		log.Printf("ingest: no price sheet configured, skipping spot prices")
	}

	if flags.TariffsFile != "" {
		if err := ingestTariffs(st, flags.TariffsFile); err != nil {
			return err
		}
	} else {
		log.Printf("ingest: no tariff sheet configured, duty columns will coalesce to zero")
	}

	return nil
}

func storeSeries(st *store.Store, source, name, series string, fetch func() ([]models.RawPoint, error)) error {
	run, err := st.StartIngestRun(source, series)
	if err != nil {
		return fmt.Errorf("start ingest run: %w", err)
	}

	points, err := fetch()
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		st.CompleteIngestRun(run)
		return fmt.Errorf("fetch %s %s: %w", source, series, err)
	}

	if err := st.ReplaceSeries(name, points); err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		st.CompleteIngestRun(run)
		return fmt.Errorf("store %s: %w", name, err)
	}

	run.Success = true
	run.RecordsFetched = sql.NullInt64{Int64: int64(len(points)), Valid: true}
	run.RecordsParsed = run.RecordsFetched
	run.RecordsStored = run.RecordsFetched
	if err := st.CompleteIngestRun(run); err != nil {
		return fmt.Errorf("complete ingest run: %w", err)
	}

	log.Printf("ingest: stored %d points for %s from %s", len(points), name, source)
	return nil
}

func ingestPrices(st *store.Store, path string, unit ingest.PriceUnit) error {
	run, err := st.StartIngestRun("eu_prices", path)
	if err != nil {
		return fmt.Errorf("start ingest run: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		st.CompleteIngestRun(run)
		return fmt.Errorf("open price sheet: %w", err)
	}
	defer f.Close()

	prices, err := ingest.ParseEUPrices(f, unit)
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		st.CompleteIngestRun(run)
		return err
	}

	var flagged int
	flagSet := make(map[string]bool)
	for i := range prices {
		flags := ingest.ValidateSpotPrice(&prices[i])
		if len(flags) > 0 {
			flagged++
		}
		for _, flag := range flags {
			flagSet[flag] = true
		}
	}
	if flagged > 0 {
		names := make([]string, 0, len(flagSet))
		for flag := range flagSet {
			names = append(names, flag)
		}
		sort.Strings(names)
		log.Printf("ingest: %d of %d price rows carry quality flags %s",
			flagged, len(prices), ingest.QualityFlagsToJSON(names))
	}

	if err := st.ReplaceSpotPrices(prices); err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		st.CompleteIngestRun(run)
		return fmt.Errorf("store spot prices: %w", err)
	}

	run.Success = true
	run.RecordsStored = sql.NullInt64{Int64: int64(len(prices)), Valid: true}
	return st.CompleteIngestRun(run)
}

func ingestTariffs(st *store.Store, path string) error {
	run, err := st.StartIngestRun("tariffs", path)
	if err != nil {
		return fmt.Errorf("start ingest run: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		st.CompleteIngestRun(run)
		return fmt.Errorf("open tariff sheet: %w", err)
	}
	defer f.Close()

	tariffs, err := ingest.ParseTariffs(f)
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		st.CompleteIngestRun(run)
		return err
	}

	if err := st.ReplaceTariffs(tariffs); err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		st.CompleteIngestRun(run)
		return fmt.Errorf("store tariffs: %w", err)
	}

	run.Success = true
	run.RecordsStored = sql.NullInt64{Int64: int64(len(tariffs)), Valid: true}
	return st.CompleteIngestRun(run)
}
