// Package config binds the server's flags, with every flag overridable
// through a PLAYROOM_-prefixed environment variable.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Bind             string
	Port             int
	DatabaseURL      string
	ReconnectTimeout time.Duration
	SuspicionWindow  time.Duration
	TickFailureLimit int
	RoomTTL          time.Duration
	Verbose          bool
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.ReconnectTimeout <= 0 {
		return fmt.Errorf("invalid reconnect-timeout: %s", c.ReconnectTimeout)
	}
	if c.RoomTTL <= 0 {
		return fmt.Errorf("invalid room-ttl: %s", c.RoomTTL)
	}
	if c.TickFailureLimit < 1 {
		return fmt.Errorf("invalid tick-failure-limit: %d", c.TickFailureLimit)
	}
	return nil
}

// Addr is the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// BindFlags registers the config flags on cmd and wires each one to its
// PLAYROOM_ environment variable. Explicit flags win over the environment.
func BindFlags(cmd *cobra.Command, cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("PLAYROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: PLAYROOM_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: PLAYROOM_PORT)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres connection string for match history, empty disables persistence (env: PLAYROOM_DATABASE_URL)")
	fs.DurationVar(&cfg.ReconnectTimeout, "reconnect-timeout", 30*time.Second, "grace period before a disconnected participant is removed (env: PLAYROOM_RECONNECT_TIMEOUT)")
	fs.DurationVar(&cfg.SuspicionWindow, "suspicion-window", 400*time.Millisecond, "window after a departure in which entity-set growth is rejected (env: PLAYROOM_SUSPICION_WINDOW)")
	fs.IntVar(&cfg.TickFailureLimit, "tick-failure-limit", 5, "consecutive simulation failures before a room errors out (env: PLAYROOM_TICK_FAILURE_LIMIT)")
	fs.DurationVar(&cfg.RoomTTL, "room-ttl", time.Hour, "time before idle rooms are swept (env: PLAYROOM_ROOM_TTL)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: PLAYROOM_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
