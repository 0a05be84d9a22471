// Command waymark is the entry point for the waymark automation engine:
// it loads a config file, validates and instantiates every configured
// actor, compiles every chain, and runs until a termination signal
// arrives.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/buildinfo"
	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/config"
	"github.com/nugget/waymark/internal/housekeep"
	"github.com/nugget/waymark/internal/opsserver"
	"github.com/nugget/waymark/internal/opstate"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"

	_ "github.com/nugget/waymark/plugins/dbsink"
	_ "github.com/nugget/waymark/plugins/digest"
	_ "github.com/nugget/waymark/plugins/download"
	_ "github.com/nugget/waymark/plugins/execute"
	_ "github.com/nugget/waymark/plugins/ghrelease"
	_ "github.com/nugget/waymark/plugins/httpjson"
	_ "github.com/nugget/waymark/plugins/livechat"
	_ "github.com/nugget/waymark/plugins/localfiles"
	_ "github.com/nugget/waymark/plugins/mqttnotify"
	_ "github.com/nugget/waymark/plugins/qrcode"
	_ "github.com/nugget/waymark/plugins/rssfeed"
	_ "github.com/nugget/waymark/plugins/webhooknotify"
	_ "github.com/nugget/waymark/plugins/webpage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "run":
			runEngine(*configPath)
			return
		case "validate":
			runValidate(*configPath)
			return
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	fmt.Println("waymark - pub/sub automation engine")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run       Load the config and run until terminated")
	fmt.Println("  validate  Load and validate the config, then exit")
	fmt.Println("  version   Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// loadConfig finds and parses the config file, exiting the process on
// any failure. It's shared by run and validate so both report the same
// errors the same way.
func loadConfig(bootLogger zerolog.Logger, explicit string) (*config.Config, string) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("config not found")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Str("path", cfgPath).Msg("failed to load config")
	}

	return cfg, cfgPath
}

func runValidate(explicit string) {
	bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, cfgPath := loadConfig(bootLogger, explicit)
	if err := cfg.ValidateActors(); err != nil {
		bootLogger.Fatal().Err(err).Str("path", cfgPath).Msg("config is invalid")
	}

	fmt.Printf("%s is valid: %d actor(s), %d chain(s)\n", cfgPath, len(cfg.Actors), len(cfg.Chains))
}

func runEngine(explicit string) {
	bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	bootLogger.Info().Str("version", buildinfo.Version).Str("commit", buildinfo.GitCommit).Msg("starting waymark")

	cfg, cfgPath := loadConfig(bootLogger, explicit)

	level, err := config.ParseLogLevel(cfg.Settings.LogfileLevel)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid settings.logfile_level")
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)
	logger.Info().Str("path", cfgPath).Int("actors", len(cfg.Actors)).Int("chains", len(cfg.Chains)).Msg("config loaded")

	if err := cfg.ValidateActors(); err != nil {
		logger.Fatal().Err(err).Msg("config is invalid")
	}

	db, err := store.Open(cfg.Settings.StorePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Settings.StorePath).Msg("failed to open record store")
	}
	defer db.Close()

	opstateDB, err := opstate.NewStore(cfg.Settings.OpstatePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Settings.OpstatePath).Msg("failed to open operational state store")
	}
	defer opstateDB.Close()

	controller := runtime.NewController(cfg.Settings.ComponentLogger(logger, "runtime"))
	rt := &actorkit.Runtime{
		Bus:    bus.New(cfg.Settings.ComponentLogger(logger, "bus")),
		Logger: logger,
	}

	instances, err := cfg.Instantiate(rt, controller, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to instantiate actors")
	}

	if err := instances.StartAll(controller.Context()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start actors")
	}

	if cfg.Settings.OpsListen != "off" {
		ops := opsserver.New(cfg.Settings.OpsListen, cfg.Settings.ComponentLogger(logger, "opsserver"))
		controller.CreateTask("opsserver", runtime.TaskInfo{Name: "opsserver"}, ops.Run)
	}

	house := housekeep.New(cfg.Settings.ComponentLogger(logger, "housekeep"), opstateDB)
	retain := time.Duration(cfg.Settings.PruneRetentionDays) * 24 * time.Hour
	if err := house.AddPruneJob(cfg.Settings.PruneSchedule, db, retain); err != nil {
		logger.Fatal().Err(err).Msg("invalid settings.prune_schedule")
	}
	if err := house.AddSnapshotJob(cfg.Settings.SnapshotSchedule, rt.Bus, cfg.Settings.SnapshotDir); err != nil {
		logger.Fatal().Err(err).Msg("invalid settings.snapshot_schedule")
	}
	house.Start()
	defer house.Stop()

	restoreSignals := controller.InstallSignalHandler()
	defer restoreSignals()

	logger.Info().Msg("waymark running")
	action := controller.RunUntilTermination()
	logger.Info().Str("action", action.String()).Msg("waymark stopped")
	os.Exit(action.ExitCode())
}
