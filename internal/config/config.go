// Package config defines tunehub's runtime configuration, wired through
// cobra flags and viper environment binding the same way Seednode-
// partybox's command layer is wired.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// LogDate is the timestamp layout used by Logf.
	LogDate = `2006-01-02T15:04:05.000-07:00`

	envPrefix = "TUNEHUB"
)

// Config holds every knob described in SPEC_FULL.md §6.3.
type Config struct {
	Bind               string
	Port               int
	Prefix             string
	AllowedOrigins     []string
	RoomTimeout        time.Duration
	CatalogAPIKey      string
	VideoAPIKey        string
	TokenVerifierKey   string
	MinRoundTracks     int
	TLSCert            string
	TLSKey             string
	Verbose            bool
	Profile            bool
}

func (c *Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.MinRoundTracks < 1 {
		return fmt.Errorf("invalid min-round-tracks (must be >= 1): %d", c.MinRoundTracks)
	}
	return nil
}

func (c *Config) Scheme() string {
	if c.TLSCert != "" && c.TLSKey != "" {
		return "https"
	}
	return "http"
}

// OriginAllowed reports whether origin is in the configured allowlist.
// An empty allowlist permits every origin.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Logf logs when Verbose is set, timestamped with LogDate, mirroring
// Seednode-partybox's own logf helper so every package shares one
// logging convention instead of importing log directly.
func (c *Config) Logf(format string, args ...any) {
	if !c.Verbose {
		return
	}
	log.Printf("%s | "+format, append([]any{time.Now().Format(LogDate)}, args...)...)
}

// NewCommand builds the root cobra command, binding every flag through
// viper under the TUNEHUB_ prefix, and invoking run once flags are parsed
// and validated.
func NewCommand(cfg *Config, version string, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var originsCSV string

	cmd := &cobra.Command{
		Use:           "tunehubd",
		Short:         "Real-time multiplayer name-that-tune game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.AllowedOrigins = splitCSV(originsCSV)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: TUNEHUB_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: TUNEHUB_PORT)")
	fs.StringVar(&cfg.Prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TUNEHUB_PREFIX)")
	fs.StringVar(&originsCSV, "allowed-origins", "", "comma-separated websocket origin allowlist, empty allows all (env: TUNEHUB_ALLOWED_ORIGINS)")
	fs.DurationVar(&cfg.RoomTimeout, "room-timeout", 60*time.Minute, "time before idle rooms are ended (env: TUNEHUB_ROOM_TIMEOUT)")
	fs.StringVar(&cfg.CatalogAPIKey, "catalog-api-key", "", "music-catalog provider credential (env: TUNEHUB_CATALOG_API_KEY)")
	fs.StringVar(&cfg.VideoAPIKey, "video-api-key", "", "video-site official search API credential (env: TUNEHUB_VIDEO_API_KEY)")
	fs.StringVar(&cfg.TokenVerifierKey, "token-verifier-key", "", "identity token verifier credential (env: TUNEHUB_TOKEN_VERIFIER_KEY)")
	fs.IntVar(&cfg.MinRoundTracks, "min-round-tracks", 1, "minimum tracks required to start a game (env: TUNEHUB_MIN_ROUND_TRACKS)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to tls certificate (env: TUNEHUB_TLS_CERT)")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to tls keyfile (env: TUNEHUB_TLS_KEY)")
	fs.BoolVar(&cfg.Profile, "profile", false, "register net/http/pprof handlers (env: TUNEHUB_PROFILE)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: TUNEHUB_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tunehub v{{.Version}}\n")

	return cmd
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
