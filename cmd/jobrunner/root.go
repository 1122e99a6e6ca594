package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	queuejob "github.com/xraph/queuejob"
)

// app holds what every command loads before it runs.
type app struct {
	configFile string
	v          *viper.Viper
	cfg        queuejob.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "jobrunner",
		Short: "Run and administer the job queue",
		Long: `jobrunner dispatches queued jobs to executor servers and manages the queue.

Configuration is read from QUEUE_JOB_* environment variables and, with
--config, from a file that the run command watches for channel changes.

Examples:
  jobrunner migrate --db odoo       # create the queue tables
  jobrunner serve                   # execute jobs posted to /queue_job/runjob
  jobrunner run                     # dispatch jobs of every configured database
  jobrunner requeue --db odoo UUID  # requeue a failed job`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "configuration file (yaml, toml or json)")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newMigrateCmd(a),
		newVacuumCmd(a),
		newRequeueCmd(a),
		newCancelCmd(a),
		newSetDoneCmd(a),
	)
	return root
}

func (a *app) load() error {
	a.v = queuejob.NewViper()
	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", a.configFile)
		}
	}
	cfg, err := queuejob.LoadConfig(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

// newLogger builds the process logger; format is "text" or "json".
func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, errors.Newf("unknown log format %q", format)
	}
}
