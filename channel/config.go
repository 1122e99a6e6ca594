package channel

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
)

// RootName is the name of the root channel.
const RootName = "root"

// Unlimited is the capacity of channels without a limit.
const Unlimited = -1

// Config is the configuration of one channel.
type Config struct {
	// Path is the full dotted path starting with "root".
	Path       string
	Capacity   int
	Sequential bool
	// Throttle is the minimum interval between two job starts. Zero
	// disables throttling.
	Throttle time.Duration
	// EnqueuedDelta and StartedDelta override the stuck lease timeouts
	// when set. A set zero disables the reset for the channel.
	EnqueuedDelta *time.Duration
	StartedDelta  *time.Duration
	// RemovalInterval overrides the retention of done jobs when positive.
	RemovalInterval time.Duration
}

// NormalizePath roots p: "mail" and "root.mail" both yield "root.mail".
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == RootName {
		return RootName
	}
	if !strings.HasPrefix(p, RootName+".") {
		return RootName + "." + p
	}
	return p
}

// Parent returns the parent path of p, or "" for root.
func Parent(p string) string {
	i := strings.LastIndexByte(p, '.')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// ParseConfig parses a channel configuration string. The result always
// contains a root entry, first.
func ParseConfig(s string) ([]Config, error) {
	var out []Config
	seen := map[string]bool{}
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		cfg, err := parseEntry(raw)
		if err != nil {
			return nil, err
		}
		if seen[cfg.Path] {
			return nil, errors.Wrapf(queuejob.ErrInvalidChannel, "channel %q configured twice", cfg.Path)
		}
		seen[cfg.Path] = true
		out = append(out, cfg)
	}
	if !seen[RootName] {
		out = append([]Config{{Path: RootName, Capacity: 1}}, out...)
	} else {
		for i, c := range out {
			if c.Path == RootName {
				out[0], out[i] = out[i], out[0]
				break
			}
		}
	}
	return out, nil
}

func parseEntry(raw string) (Config, error) {
	items := strings.Split(raw, ":")
	path := strings.TrimSpace(items[0])
	if path == "" || strings.Contains(path, "..") || strings.HasSuffix(path, ".") {
		return Config{}, errors.Wrapf(queuejob.ErrInvalidChannel, "invalid channel path in %q", raw)
	}
	cfg := Config{Path: NormalizePath(path), Capacity: 1}
	opts := items[1:]
	if len(opts) > 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(opts[0])); err == nil {
			if n < 0 {
				return Config{}, errors.Wrapf(queuejob.ErrInvalidChannel, "negative capacity in %q", raw)
			}
			cfg.Capacity = n
			opts = opts[1:]
		}
	}
	for _, opt := range opts {
		if err := applyOption(&cfg, strings.TrimSpace(opt)); err != nil {
			return Config{}, errors.Wrapf(err, "channel %q", raw)
		}
	}
	return cfg, nil
}

func applyOption(cfg *Config, opt string) error {
	if opt == "sequential" {
		cfg.Sequential = true
		return nil
	}
	name, value, ok := strings.Cut(opt, "=")
	if !ok {
		return errors.Wrapf(queuejob.ErrInvalidChannel, "unknown option %q", opt)
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return errors.Wrapf(queuejob.ErrInvalidChannel, "option %q expects a non-negative integer", name)
	}
	seconds := time.Duration(n) * time.Second
	switch name {
	case "throttle":
		cfg.Throttle = seconds
	case "enqueued_delta":
		cfg.EnqueuedDelta = &seconds
	case "started_delta":
		cfg.StartedDelta = &seconds
	case "removal_interval":
		cfg.RemovalInterval = time.Duration(n) * 24 * time.Hour
	default:
		return errors.Wrapf(queuejob.ErrInvalidChannel, "unknown option %q", name)
	}
	return nil
}
