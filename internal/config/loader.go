package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/example/reservation-scheduler/internal/logging"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SCHEDULER"

// Configuration keys, also used as YAML keys in a config file.
const (
	KeySQLiteDSN         = "sqlite_dsn"
	KeyLogLevel          = "log_level"
	KeyLogFormat         = "log_format"
	KeyRoomMaxDuration   = "room_max_duration"
	KeyCommitAttempts    = "commit_attempts"
	KeyCommitDelay       = "commit_delay"
	KeyExecutableAllowed = "executable_allowed"
)

// Config captures the settings of the scheduler command.
type Config struct {
	SQLiteDSN string
	LogLevel  string
	LogFormat logging.Format
	// RoomMaxDuration limits restricted room reservations. Zero means no
	// limit.
	RoomMaxDuration   time.Duration
	CommitAttempts    uint
	CommitDelay       time.Duration
	ExecutableAllowed bool
}

// Defaults registers the default of every key on v.
func Defaults(v *viper.Viper) {
	v.SetDefault(KeySQLiteDSN, "scheduler.db")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, string(logging.FormatJSON))
	v.SetDefault(KeyRoomMaxDuration, "0s")
	v.SetDefault(KeyCommitAttempts, 3)
	v.SetDefault(KeyCommitDelay, "50ms")
	v.SetDefault(KeyExecutableAllowed, true)
}

// Load reads the optional YAML file at path and the SCHEDULER_* environment
// on top of the defaults. Environment variables win over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v. Invalid values are
// reported together.
func FromViper(v *viper.Viper) (Config, error) {
	Defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Config{
		SQLiteDSN: strings.TrimSpace(v.GetString(KeySQLiteDSN)),
		LogLevel:  strings.TrimSpace(v.GetString(KeyLogLevel)),
		LogFormat: logging.Format(strings.TrimSpace(v.GetString(KeyLogFormat))),
	}
	var invalid []string

	if cfg.SQLiteDSN == "" {
		invalid = append(invalid, envName(KeySQLiteDSN))
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		invalid = append(invalid, envName(KeyLogLevel))
	}
	switch cfg.LogFormat {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		invalid = append(invalid, envName(KeyLogFormat))
	}

	if d, err := parseDuration(v.GetString(KeyRoomMaxDuration)); err != nil {
		invalid = append(invalid, envName(KeyRoomMaxDuration))
	} else {
		cfg.RoomMaxDuration = d
	}
	if d, err := parseDuration(v.GetString(KeyCommitDelay)); err != nil {
		invalid = append(invalid, envName(KeyCommitDelay))
	} else {
		cfg.CommitDelay = d
	}

	if attempts, err := cast.ToIntE(trimmed(v.Get(KeyCommitAttempts))); err != nil || attempts <= 0 {
		invalid = append(invalid, envName(KeyCommitAttempts))
	} else {
		cfg.CommitAttempts = uint(attempts)
	}
	if allowed, err := cast.ToBoolE(trimmed(v.Get(KeyExecutableAllowed))); err != nil {
		invalid = append(invalid, envName(KeyExecutableAllowed))
	} else {
		cfg.ExecutableAllowed = allowed
	}

	if len(invalid) > 0 {
		return Config{}, &InvalidError{Keys: invalid}
	}
	return cfg, nil
}

// InvalidError lists the environment variables holding invalid values.
type InvalidError struct {
	Keys []string
}

func (e *InvalidError) Error() string {
	return "invalid configuration values: " + strings.Join(e.Keys, ", ")
}

// ErrInvalid is matched by every *InvalidError.
var ErrInvalid = errors.New("invalid configuration")

// Is reports whether target is ErrInvalid.
func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalid
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// trimmed strips padding from values read from the environment.
func trimmed(value any) any {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return value
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}
