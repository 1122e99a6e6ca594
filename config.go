package queuejob

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the
// environment, e.g. QUEUE_JOB_CHANNELS.
const EnvPrefix = "QUEUE_JOB"

// Config holds the configuration shared by the runner, the executor server
// and the client library.
type Config struct {
	// Channels configures channel capacities, e.g. "root:4,root.mail:2".
	Channels string

	// Scheme, Host and Port locate the executor endpoint the runner calls.
	Scheme string
	Host   string
	Port   int

	// HTTPAuthUser and HTTPAuthPassword enable basic auth on dispatch.
	HTTPAuthUser     string
	HTTPAuthPassword string

	// JobrunnerDBHost and JobrunnerDBPort locate the database the runner
	// listens on. Empty host means the local socket.
	JobrunnerDBHost     string
	JobrunnerDBPort     int
	JobrunnerDBUser     string
	JobrunnerDBPassword string
	JobrunnerDBSSLMode  string

	// Databases lists the databases served at startup. More can be added
	// at runtime through the queue_job_db_listener channel.
	Databases []string

	// DefaultSubchannelCapacity applies to channels created on the fly.
	// Zero means unlimited.
	DefaultSubchannelCapacity int

	// NoDelay executes delayed jobs inline instead of enqueuing them.
	NoDelay bool

	// SelectTimeout bounds how long the runner waits for a notification.
	SelectTimeout time.Duration

	// ErrorRecoveryDelay is the pause before the runner restarts its loop
	// after an unexpected error.
	ErrorRecoveryDelay time.Duration

	// DispatchTimeout is the HTTP timeout of a runjob request.
	DispatchTimeout time.Duration

	// SweepInterval is how often leased jobs are checked for staleness.
	SweepInterval time.Duration

	// EnqueuedDelta and StartedDelta are the default lease timeouts. Zero
	// disables the corresponding reset.
	EnqueuedDelta time.Duration
	StartedDelta  time.Duration

	// RemovalInterval is the default retention of done jobs.
	RemovalInterval time.Duration

	// LeaderElection enables the advisory application_name convention.
	LeaderElection bool

	// ListenAddr is the executor server listen address.
	ListenAddr string

	// Workers is the size of the executor pool.
	Workers int

	// RedisURL enables owner notifications through Redis pub/sub.
	RedisURL string

	// LogLevel and LogFormat configure the CLI logger.
	LogLevel  string
	LogFormat string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Channels:           "root:1",
		Scheme:             "http",
		Host:               "localhost",
		Port:               8069,
		JobrunnerDBSSLMode: "disable",
		SelectTimeout:      60 * time.Second,
		ErrorRecoveryDelay: 5 * time.Second,
		DispatchTimeout:    1 * time.Second,
		SweepInterval:      60 * time.Second,
		EnqueuedDelta:      5 * time.Minute,
		RemovalInterval:    30 * 24 * time.Hour,
		ListenAddr:         ":8069",
		Workers:            4,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// SetDefaults registers every default of DefaultConfig on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("channels", d.Channels)
	v.SetDefault("scheme", d.Scheme)
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("http_auth_user", "")
	v.SetDefault("http_auth_password", "")
	v.SetDefault("jobrunner_db_host", "")
	v.SetDefault("jobrunner_db_port", 0)
	v.SetDefault("jobrunner_db_user", "")
	v.SetDefault("jobrunner_db_password", "")
	v.SetDefault("jobrunner_db_sslmode", d.JobrunnerDBSSLMode)
	v.SetDefault("databases", "")
	v.SetDefault("default_subchannel_capacity", 0)
	v.SetDefault("no_delay", false)
	v.SetDefault("select_timeout", d.SelectTimeout)
	v.SetDefault("error_recovery_delay", d.ErrorRecoveryDelay)
	v.SetDefault("dispatch_timeout", d.DispatchTimeout)
	v.SetDefault("sweep_interval", d.SweepInterval)
	v.SetDefault("enqueued_delta", d.EnqueuedDelta)
	v.SetDefault("started_delta", d.StartedDelta)
	v.SetDefault("removal_interval", d.RemovalInterval)
	v.SetDefault("leader_election", false)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("redis_url", "")
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// NewViper returns a viper instance bound to the QUEUE_JOB_ environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// LoadConfig reads a Config from v. Values missing from v keep their
// defaults only if SetDefaults was applied to v.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Channels:                  v.GetString("channels"),
		Scheme:                    v.GetString("scheme"),
		Host:                      v.GetString("host"),
		Port:                      v.GetInt("port"),
		HTTPAuthUser:              v.GetString("http_auth_user"),
		HTTPAuthPassword:          v.GetString("http_auth_password"),
		JobrunnerDBHost:           v.GetString("jobrunner_db_host"),
		JobrunnerDBPort:           v.GetInt("jobrunner_db_port"),
		JobrunnerDBUser:           v.GetString("jobrunner_db_user"),
		JobrunnerDBPassword:       v.GetString("jobrunner_db_password"),
		JobrunnerDBSSLMode:        v.GetString("jobrunner_db_sslmode"),
		Databases:                 splitList(v.GetString("databases")),
		DefaultSubchannelCapacity: v.GetInt("default_subchannel_capacity"),
		NoDelay:                   v.GetBool("no_delay"),
		SelectTimeout:             v.GetDuration("select_timeout"),
		ErrorRecoveryDelay:        v.GetDuration("error_recovery_delay"),
		DispatchTimeout:           v.GetDuration("dispatch_timeout"),
		SweepInterval:             v.GetDuration("sweep_interval"),
		EnqueuedDelta:             v.GetDuration("enqueued_delta"),
		StartedDelta:              v.GetDuration("started_delta"),
		RemovalInterval:           v.GetDuration("removal_interval"),
		LeaderElection:            v.GetBool("leader_election"),
		ListenAddr:                v.GetString("listen_addr"),
		Workers:                   v.GetInt("workers"),
		RedisURL:                  v.GetString("redis_url"),
		LogLevel:                  v.GetString("log_level"),
		LogFormat:                 v.GetString("log_format"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	if c.Scheme != "http" && c.Scheme != "https" {
		return errors.Newf("queuejob: config: scheme must be http or https, got %q", c.Scheme)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Newf("queuejob: config: invalid port %d", c.Port)
	}
	if c.DefaultSubchannelCapacity < 0 {
		return errors.Newf("queuejob: config: negative default subchannel capacity %d", c.DefaultSubchannelCapacity)
	}
	if c.Workers < 1 {
		return errors.Newf("queuejob: config: workers must be positive, got %d", c.Workers)
	}
	return nil
}

// RunJobURL returns the executor endpoint for a job.
func (c Config) RunJobURL(db, jobUUID string) string {
	u := url.URL{
		Scheme:   c.Scheme,
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/queue_job/runjob",
		RawQuery: url.Values{"db": {db}, "job_uuid": {jobUUID}}.Encode(),
	}
	return u.String()
}

// DSN returns the PostgreSQL connection string for db.
func (c Config) DSN(db string) string {
	u := url.URL{Scheme: "postgres", Path: "/" + db}
	host := c.JobrunnerDBHost
	if host == "" {
		host = "localhost"
	}
	if c.JobrunnerDBPort > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(c.JobrunnerDBPort))
	}
	u.Host = host
	if c.JobrunnerDBUser != "" {
		if c.JobrunnerDBPassword != "" {
			u.User = url.UserPassword(c.JobrunnerDBUser, c.JobrunnerDBPassword)
		} else {
			u.User = url.User(c.JobrunnerDBUser)
		}
	}
	if c.JobrunnerDBSSLMode != "" {
		u.RawQuery = "sslmode=" + c.JobrunnerDBSSLMode
	}
	return u.String()
}

// String renders the config without secrets.
func (c Config) String() string {
	return fmt.Sprintf("channels=%q endpoint=%s://%s:%d databases=%v", c.Channels, c.Scheme, c.Host, c.Port, c.Databases)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
