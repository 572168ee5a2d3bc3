package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/balancepoint/internal/config"
	"github.com/lox/balancepoint/internal/log"
	"github.com/lox/balancepoint/internal/outliers"
	"github.com/lox/balancepoint/internal/store"
	"github.com/lox/balancepoint/internal/tsdb"
)

const pingTimeout = 10 * time.Second

// Globals are the flags shared by every command.
type Globals struct {
	EnvFile   kongdotenv.ENVFileConfig `kong:"optional,name=env-file,help='Load environment variables from this file before reading flags.'"`
	LogLevel  string                   `name:"log-level" default:"info" enum:"debug,info,warn,error" env:"BALANCEPOINT_LOG_LEVEL" help:"Log level (${enum})."`
	LogFormat string                   `name:"log-format" default:"text" enum:"text,json" env:"BALANCEPOINT_LOG_FORMAT" help:"Log output format on stderr (${enum})."`
	Backend   string                   `default:"influx" enum:"influx,sqlite" env:"BALANCEPOINT_BACKEND" help:"Where to read readings from (${enum})."`
	DB        string                   `name:"db" default:"balancepoint.db" type:"path" env:"BALANCEPOINT_DB" help:"SQLite mirror path."`
	Config    string                   `default:"config.json" type:"path" env:"BALANCEPOINT_CONFIG" help:"InfluxDB connection config file (JSON or YAML)."`
	Timezone  string                   `default:"America/New_York" env:"BALANCEPOINT_TIMEZONE" help:"Time zone that defines a day."`
}

type CLI struct {
	Globals

	Estimate estimateCmd `cmd:"" default:"1" help:"Estimate the heating balance point (default)."`
	Check    checkCmd    `cmd:"" help:"Check the temperature history for sensor glitches."`
	Table    tableCmd    `cmd:"" help:"Print the joined daily table."`
	Mirror   mirrorCmd   `cmd:"" help:"Copy raw readings from InfluxDB into the SQLite mirror."`
}

func (g *Globals) AfterApply() error {
	level, err := log.ParseLevel(g.LogLevel)
	if err != nil {
		return err
	}
	log.SetDefaultLogLevel(level)
	return log.Configure(os.Stderr, log.Format(g.LogFormat))
}

func (g *Globals) location() (*time.Location, error) {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", g.Timezone, err)
	}
	return loc, nil
}

// openInflux resolves the connection settings and checks the server
// answers before any query is sent.
func (g *Globals) openInflux(ctx context.Context, loc *time.Location) (*tsdb.Influx, error) {
	resolver, err := config.NewResolver(g.Config)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadInflux(resolver)
	if err != nil {
		return nil, err
	}

	influx, err := tsdb.NewInflux(cfg, loc)
	if err != nil {
		return nil, err
	}
	version, err := influx.Ping(pingTimeout)
	if err != nil {
		influx.Close()
		return nil, err
	}
	log.Ctx(ctx).InfoContext(ctx, "connected to influxdb",
		"addr", cfg.Addr(), "database", cfg.Database, "version", version)
	return influx, nil
}

func (g *Globals) openSource(ctx context.Context, loc *time.Location) (tsdb.Source, error) {
	if g.Backend == "sqlite" {
		st, err := store.Open(ctx, g.DB, loc)
		if err != nil {
			return nil, err
		}
		log.Ctx(ctx).InfoContext(ctx, "opened sqlite mirror", "path", g.DB)
		return st, nil
	}
	return g.openInflux(ctx, loc)
}

// options are shared by main and the tests. Threshold defaults come from
// the outliers package through kong variables.
func options() []kong.Option {
	return []kong.Option{
		kong.Name("balancepoint"),
		kong.Description("Estimate the outdoor temperature below which a house starts burning gas for heat."),
		kong.Vars{
			"max_diff":       strconv.FormatFloat(outliers.DefaultMaxDiff, 'f', -1, 64),
			"max_pct_change": strconv.FormatFloat(outliers.DefaultMaxPctChange, 'f', -1, 64),
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli, append(options(), kong.UsageOnError())...)

	ctx = log.WithAttrs(ctx, "command", kctx.Command())
	kctx.BindTo(ctx, (*context.Context)(nil))

	if err := kctx.Run(&cli.Globals); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "balancepoint failed", "error", err)
		cancel()
		os.Exit(1)
	}
}
