package wind

import (
	"log/slog"
	"os"
	"path"
	"reflect"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gfsdl/gfsdl/internal/dataset"
	"github.com/gfsdl/gfsdl/internal/grib"
)

const (
	defaultTimeoutSeconds          = 120
	defaultFirstFileTimeoutSeconds = 600
	defaultNumDatasets             = 2
	defaultMaxBackoff              = 10
)

// LogConfig configures the global slog logger, matching the teacher's
// level/format split.
type LogConfig struct {
	Level  string `toml:"level" env:"GFSDL_LOG_LEVEL"`
	Format string `toml:"format" env:"GFSDL_LOG_FORMAT"`
	File   string `toml:"file" env:"GFSDL_LOG_FILE"`
}

// Apply configures the global slog logger based on the configuration.
func (lc *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + lc.Level)
	}

	out := os.Stderr
	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) // #nosec G304 - operator-provided log path
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		out = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(lc.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return errors.New("invalid log format: " + lc.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// ShouldShowProgress reports whether an attended progress bar should be
// displayed, rather than plain log lines.
func (lc *LogConfig) ShouldShowProgress() bool {
	level := strings.ToLower(lc.Level)
	return level != "debug" && level != "json"
}

// AxesConfig describes the Dataset's fixed shape in TOML terms.
type AxesConfig struct {
	Hours          []int    `toml:"hours"`
	PressureLevels []int    `toml:"pressure_levels"`
	Variables      []string `toml:"variables"`
	Lat            int      `toml:"lat"`
	Lon            int      `toml:"lon"`
}

func (a AxesConfig) toAxes() dataset.Axes {
	return dataset.Axes{
		Hours:          a.Hours,
		PressureLevels: a.PressureLevels,
		Variables:      a.Variables,
		Lat:            a.Lat,
		Lon:            a.Lon,
	}
}

// defaultAxesConfig mirrors a small but realistic slice of a GFS 0.25deg
// pressure-level product: a handful of standard levels and variables
// over the 0-48h forecast range, on the full 0.25deg global grid
// (721 x 1440).
func defaultAxesConfig() AxesConfig {
	return AxesConfig{
		Hours:          []int{0, 3, 6, 9, 12, 18, 24, 36, 48},
		PressureLevels: []int{100000, 85000, 70000, 50000, 25000}, // Pa: 1000, 850, 700, 500, 250 hPa
		Variables:      []string{"TMP", "UGRD", "VGRD", "HGT", "RH"},
		Lat:            721,
		Lon:            1440,
	}
}

// defaultVariableTable maps the default axes' variable names to their
// GRIB2 (category, number) identity, per the WMO master parameter table.
func defaultVariableTable(vars []string) grib.VariableTable {
	known := map[string]grib.VariableKey{
		"TMP":  {Category: 0, Number: 0},
		"RH":   {Category: 1, Number: 1},
		"UGRD": {Category: 2, Number: 2},
		"VGRD": {Category: 2, Number: 3},
		"HGT":  {Category: 3, Number: 5},
	}
	table := make(grib.VariableTable, len(vars))
	for i, name := range vars {
		if key, ok := known[name]; ok {
			table[key] = i
		}
	}
	return table
}

// Config is the TOML-loadable configuration for both the download and
// daemon subcommands.
type Config struct {
	Directory           string     `toml:"directory" env:"GFSDL_DIRECTORY"`
	DatasetHost         string     `toml:"dataset_host" env:"GFSDL_DATASET_HOST"`
	DatasetPathTemplate string     `toml:"dataset_path" env:"GFSDL_DATASET_PATH"`
	TimeoutSeconds      int        `toml:"timeout_seconds" env:"GFSDL_TIMEOUT_SECONDS"`
	FirstFileTimeoutSec int        `toml:"first_file_timeout_seconds" env:"GFSDL_FIRST_FILE_TIMEOUT_SECONDS"`
	NumDatasets         int        `toml:"num_datasets" env:"GFSDL_NUM_DATASETS"`
	NoDataset           bool       `toml:"no_dataset" env:"GFSDL_NO_DATASET"`
	NoGribMirror        bool       `toml:"no_gribmirror" env:"GFSDL_NO_GRIBMIRROR"`
	Axes                AxesConfig `toml:"axes"`
	Log                 LogConfig  `toml:"log"`
	SentryDSN           string     `toml:"sentry_dsn" env:"GFSDL_SENTRY_DSN"`
	EmailExceptions     string     `toml:"email_exceptions" env:"GFSDL_EMAIL_EXCEPTIONS"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		DatasetHost:         "nomads.ncep.noaa.gov",
		DatasetPathTemplate: "/pub/data/nccf/com/gfs/prod/gfs.%s",
		TimeoutSeconds:      defaultTimeoutSeconds,
		FirstFileTimeoutSec: defaultFirstFileTimeoutSeconds,
		NumDatasets:         defaultNumDatasets,
		Axes:                defaultAxesConfig(),
		Log:                 LogConfig{Level: "info", Format: "text"},
	}
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.Directory == "" {
		return errors.New("directory is not set")
	}
	if !path.IsAbs(c.Directory) {
		return errors.New("directory must be an absolute path")
	}
	if c.DatasetHost == "" {
		return errors.New("dataset_host is not set")
	}
	if c.NoDataset && c.NoGribMirror {
		return errors.Mark(errors.New("at least one of dataset or gribmirror output must be enabled"), ErrNoOutput)
	}
	if c.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be positive")
	}
	if c.FirstFileTimeoutSec <= 0 {
		return errors.New("first_file_timeout_seconds must be positive")
	}
	if c.NumDatasets <= 0 {
		return errors.New("num_datasets must be positive")
	}
	if len(c.Axes.Hours) == 0 || len(c.Axes.PressureLevels) == 0 || len(c.Axes.Variables) == 0 {
		return errors.New("axes must declare at least one hour, pressure level and variable")
	}
	return nil
}

func (c *Config) datasetAxes() dataset.Axes { return c.Axes.toAxes() }

func (c *Config) variableTable() grib.VariableTable { return defaultVariableTable(c.Axes.Variables) }

// ApplyEnvironmentVariables overrides TOML-configured fields from
// environment variables named by their "env" struct tags.
func (c *Config) ApplyEnvironmentVariables() error {
	return applyEnvToStruct(c)
}

func applyEnvToStruct(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.New("applyEnvToStruct requires a pointer to struct")
	}

	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		if envTag := fieldType.Tag.Get("env"); envTag != "" {
			if err := setFieldFromEnv(field, envTag); err != nil {
				return errors.New("failed to set field " + fieldType.Name + " from environment: " + err.Error())
			}
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(field.Addr().Interface()); err != nil {
				return err
			}
		}
	}

	return nil
}

func setFieldFromEnv(field reflect.Value, envVar string) error {
	envValue := os.Getenv(envVar)
	if envValue == "" {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		intVal, err := strconv.Atoi(envValue)
		if err != nil {
			return errors.New("invalid integer value for " + envVar + ": " + envValue)
		}
		field.SetInt(int64(intVal))
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(envValue)
		if err != nil {
			return errors.New("invalid boolean value for " + envVar + ": " + envValue)
		}
		field.SetBool(boolVal)
	default:
		return errors.New("unsupported field type for " + envVar + ": " + field.Kind().String())
	}

	return nil
}
