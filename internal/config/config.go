package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/junsooki/RemoteDisplay/internal/fetcher"
)

// EnvPrefix namespaces every environment override, e.g. REMOTEDISPLAY_IP.
const EnvPrefix = "REMOTEDISPLAY"

const dotEnvFileName = ".env"

// ErrHelp is returned when -h/--help was requested; usage has been printed.
var ErrHelp = pflag.ErrHelp

// Log configures the process logger.
type Log struct {
	// Level is one of debug, info, warn, error, fatal.
	// optional default "info"
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error fatal"`

	// Path enables a rotating JSON log file in this directory when set.
	Path string `mapstructure:"path"`

	// Name of the log file inside Path.
	// optional default "remotedisplay"
	Name string `mapstructure:"name"`

	// MaxAge and RotateTime are durations such as "168h".
	MaxAge     string `mapstructure:"max_age"`
	RotateTime string `mapstructure:"rotate_time"`
}

// Viewer holds configuration for the viewer binary.
type Viewer struct {
	// IP is the initial address. When empty the last stored address is used,
	// and when none is stored the viewer opens on the address prompt.
	IP     string `mapstructure:"ip"`
	Scheme string `mapstructure:"scheme" validate:"oneof=http https"`

	// StorePath overrides the XDG state file holding the last address.
	StorePath string `mapstructure:"store"`

	// RelayListen starts the live-view relay on this address when set.
	RelayListen string `mapstructure:"relay_listen" validate:"omitempty,hostname_port"`

	Width      int  `mapstructure:"width" validate:"gte=160"`
	Height     int  `mapstructure:"height" validate:"gte=120"`
	Fullscreen bool `mapstructure:"fullscreen"`

	RetryDelay string `mapstructure:"retry_delay"`
	Trace      bool   `mapstructure:"trace"`

	Fetch fetcher.Config `mapstructure:"fetch"`
	Log   Log            `mapstructure:"log"`
}

// Host holds configuration for the development screen server.
type Host struct {
	Listen  string `mapstructure:"listen" validate:"required,hostname_port"`
	Width   int    `mapstructure:"width" validate:"gte=16,lte=8192"`
	Height  int    `mapstructure:"height" validate:"gte=16,lte=8192"`
	Format  string `mapstructure:"format" validate:"oneof=png jpeg jpg"`
	Quality int    `mapstructure:"quality" validate:"gte=1,lte=100"`

	// Latency delays every response; FailureRate answers that fraction of
	// requests with 503 or a truncated body.
	Latency     string  `mapstructure:"latency"`
	FailureRate float64 `mapstructure:"failure_rate" validate:"gte=0,lte=1"`

	Trace bool `mapstructure:"trace"`
	Log   Log  `mapstructure:"log"`
}

// LoadViewer parses args (without the program name) for the viewer binary.
// Precedence is flags, then REMOTEDISPLAY_* env, then the --config file.
func LoadViewer(args []string) (*Viewer, error) {
	fs := pflag.NewFlagSet("viewer", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file; a sibling .env is loaded first")
	fs.String("ip", "", "Host address to view (falls back to the last used address)")
	fs.String("scheme", "http", "Scheme for addresses given without one")
	fs.String("store", "", "File holding the last used address")
	fs.String("relay-listen", "", "Serve the live view to other clients on this address, e.g. :8090")
	fs.Int("width", 1280, "Window width")
	fs.Int("height", 720, "Window height")
	fs.Bool("fullscreen", false, "Start in fullscreen")
	fs.String("retry-delay", "100ms", "Delay before retrying a failed fetch")
	fs.Bool("trace", false, "Emit OpenTelemetry spans to stdout")
	fs.String("fetch-timeout", "10s", "Timeout for one frame request")
	fs.String("fetch-dial-timeout", "3s", "TCP connect timeout")
	fs.Int("fetch-max-idle-conns", 2, "Idle connections kept per host")
	fs.Int("fetch-max-body-size", fetcher.DefaultMaxBodySize, "Largest accepted frame body in bytes")
	addLogFlags(fs)

	v, err := load(fs, args, map[string]string{
		"relay_listen":                  "relay-listen",
		"retry_delay":                   "retry-delay",
		"fetch.timeout":                 "fetch-timeout",
		"fetch.dial_timeout":            "fetch-dial-timeout",
		"fetch.max_idle_conns_per_host": "fetch-max-idle-conns",
		"fetch.max_body_size":           "fetch-max-body-size",
	})
	if err != nil {
		return nil, err
	}

	c := &Viewer{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: unmarshal viewer: %w", err)
	}
	c.IP = strings.TrimSpace(c.IP)
	c.Fetch.Trace = c.Trace
	if err := checkDurations(map[string]string{
		"retry-delay":        c.RetryDelay,
		"fetch-timeout":      c.Fetch.Timeout,
		"fetch-dial-timeout": c.Fetch.DialTimeout,
		"log-max-age":        c.Log.MaxAge,
		"log-rotate-time":    c.Log.RotateTime,
	}); err != nil {
		return nil, err
	}
	if err := checkPositive(map[string]string{
		"retry-delay":   c.RetryDelay,
		"fetch-timeout": c.Fetch.Timeout,
	}); err != nil {
		return nil, err
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadHost parses args (without the program name) for the host binary.
func LoadHost(args []string) (*Host, error) {
	fs := pflag.NewFlagSet("host", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file; a sibling .env is loaded first")
	fs.String("listen", ":8080", "Listen address")
	fs.Int("width", 1280, "Frame width")
	fs.Int("height", 720, "Frame height")
	fs.String("format", "png", "Image format served at /screen.png (png or jpeg)")
	fs.Int("quality", 70, "JPEG quality (1-100)")
	fs.String("latency", "0s", "Artificial delay before every response")
	fs.Float64("failure-rate", 0, "Fraction of requests answered with an error (0-1)")
	fs.Bool("trace", false, "Emit OpenTelemetry spans to stdout")
	addLogFlags(fs)

	v, err := load(fs, args, map[string]string{
		"failure_rate": "failure-rate",
	})
	if err != nil {
		return nil, err
	}

	c := &Host{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: unmarshal host: %w", err)
	}
	c.Format = strings.ToLower(c.Format)
	if err := checkDurations(map[string]string{
		"latency":         c.Latency,
		"log-max-age":     c.Log.MaxAge,
		"log-rotate-time": c.Log.RotateTime,
	}); err != nil {
		return nil, err
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func addLogFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-path", "", "Directory for rotating JSON log files")
	fs.String("log-name", "remotedisplay", "Log file name inside --log-path")
	fs.String("log-max-age", "168h", "How long rotated log files are kept")
	fs.String("log-rotate-time", "24h", "Log rotation interval")
}

var logKeys = map[string]string{
	"log.level":       "log-level",
	"log.path":        "log-path",
	"log.name":        "log-name",
	"log.max_age":     "log-max-age",
	"log.rotate_time": "log-rotate-time",
}

// load parses fs and layers env and the optional config file underneath it.
// Flags whose key differs from their name are listed in keys.
func load(fs *pflag.FlagSet, args []string, keys map[string]string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("config: unexpected arguments %q", fs.Args())
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bound := make(map[string]bool)
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", name, err)
		}
		bound[name] = true
	}
	for key, name := range logKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", name, err)
		}
		bound[name] = true
	}
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bound[f.Name] || f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("config: %w", bindErr)
	}

	location, _ := fs.GetString("config")
	if location == "" {
		location = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if location != "" {
		if err := loadDotEnvIfExist(location); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", dotEnvFileName, err)
		}
		v.SetConfigFile(location)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", location, err)
		}
	}
	return v, nil
}

func loadDotEnvIfExist(configLocation string) error {
	p := filepath.Join(filepath.Dir(configLocation), dotEnvFileName)
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	return godotenv.Load(p)
}

func checkDurations(values map[string]string) error {
	for name, s := range values {
		if s == "" {
			continue
		}
		if _, err := cast.ToDurationE(s); err != nil {
			return fmt.Errorf("config: %s: invalid duration %q", name, s)
		}
	}
	return nil
}

// checkPositive rejects durations that are set but not greater than zero.
// Callers run checkDurations first.
func checkPositive(values map[string]string) error {
	for name, s := range values {
		if s == "" {
			continue
		}
		if d := cast.ToDuration(s); d <= 0 {
			return fmt.Errorf("config: %s: must be positive, got %q", name, s)
		}
	}
	return nil
}

var validate = func() func(any) error {
	vd := validator.New(validator.WithRequiredStructEnabled())
	return func(c any) error {
		if err := vd.Struct(c); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		return nil
	}
}()
