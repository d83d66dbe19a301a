package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dazhiw/b2lambda"
	"github.com/dazhiw/b2lambda/classifier"
	"github.com/dazhiw/b2lambda/selection"
)

// Config holds the full tool configuration.
type Config struct {
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Selection SelectionConfig `yaml:"selection" mapstructure:"selection"`
	BDT       BDTConfig       `yaml:"bdt" mapstructure:"bdt"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the input ntuples.
type DataConfig struct {
	Train string `yaml:"train" mapstructure:"train"`
	Test  string `yaml:"test" mapstructure:"test"`
	Tree  string `yaml:"tree" mapstructure:"tree"`
	Label string `yaml:"label" mapstructure:"label"`
	// Small keeps only that many rows of each table; 0 keeps all.
	Small int   `yaml:"small" mapstructure:"small"`
	Seed  int64 `yaml:"seed" mapstructure:"seed"`
}

// SelectionConfig configures backward elimination.
type SelectionConfig struct {
	Features      []string `yaml:"features" mapstructure:"features"`
	Threshold     float64  `yaml:"threshold" mapstructure:"threshold"`
	Workers       int      `yaml:"workers" mapstructure:"workers"`
	Governing     string   `yaml:"governing" mapstructure:"governing"`
	RetrainOnTest bool     `yaml:"retrain_on_test" mapstructure:"retrain_on_test"`
}

// BDTConfig holds the boosted decision tree hyperparameters.
type BDTConfig struct {
	NTrees    int     `yaml:"n_trees" mapstructure:"n_trees"`
	Depth     int     `yaml:"depth" mapstructure:"depth"`
	Shrinkage float64 `yaml:"shrinkage" mapstructure:"shrinkage"`
	Subsample float64 `yaml:"subsample" mapstructure:"subsample"`
	CutLevels int     `yaml:"cut_levels" mapstructure:"cut_levels"`
	Seed      int64   `yaml:"seed" mapstructure:"seed"`
}

// ReportConfig configures chart output.
type ReportConfig struct {
	OutDir  string   `yaml:"out_dir" mapstructure:"out_dir"`
	Formats []string `yaml:"formats" mapstructure:"formats"`
}

// StoreConfig configures the run store. An empty DSN disables it.
type StoreConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FlagKeys maps command line flag names to configuration keys. Load binds
// every flag of the set whose name is listed here.
var FlagKeys = map[string]string{
	"train":           "data.train",
	"test":            "data.test",
	"tree":            "data.tree",
	"label":           "data.label",
	"small":           "data.small",
	"seed":            "data.seed",
	"feature":         "selection.features",
	"threshold":       "selection.threshold",
	"workers":         "selection.workers",
	"governing":       "selection.governing",
	"retrain-on-test": "selection.retrain_on_test",
	"n-trees":         "bdt.n_trees",
	"depth":           "bdt.depth",
	"shrinkage":       "bdt.shrinkage",
	"subsample":       "bdt.subsample",
	"cut-levels":      "bdt.cut_levels",
	"bdt-seed":        "bdt.seed",
	"out-dir":         "report.out_dir",
	"format":          "report.formats",
	"db":              "store.dsn",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// Load reads configuration from defaults, the optional YAML file at path,
// B2LAMBDA_ environment variables and flags, the later winning. With an
// empty path, b2lambda.yaml in the working directory is used if present.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("b2lambda")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("B2LAMBDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.train", "")
	v.SetDefault("data.test", "")
	v.SetDefault("data.tree", b2lambda.TreeName)
	v.SetDefault("data.label", b2lambda.LabelColumn)
	v.SetDefault("data.small", 0)
	v.SetDefault("data.seed", 1)
	v.SetDefault("selection.features", b2lambda.DefaultFeatures())
	v.SetDefault("selection.threshold", selection.DefaultThreshold)
	v.SetDefault("selection.workers", 8)
	v.SetDefault("selection.governing", string(selection.GoverningAuto))
	v.SetDefault("selection.retrain_on_test", false)
	v.SetDefault("bdt.n_trees", 100)
	v.SetDefault("bdt.depth", 3)
	v.SetDefault("bdt.shrinkage", 0.1)
	v.SetDefault("bdt.subsample", 0.5)
	v.SetDefault("bdt.cut_levels", 8)
	v.SetDefault("bdt.seed", 1)
	v.SetDefault("report.out_dir", "models")
	v.SetDefault("report.formats", []string{"png"})
	v.SetDefault("store.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := FlagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, eris.Wrap(bindErr, "config: bind flags")
		}
	}

	// Read config file (optional unless a path was given)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks settings shared by every tool. Input paths are checked by
// the tools that need them.
func (c *Config) Validate() error {
	s := c.Selection
	if math.IsNaN(s.Threshold) || s.Threshold < 0 || s.Threshold > 1 {
		return eris.Errorf("config: selection.threshold %v outside [0, 1]", s.Threshold)
	}
	if s.Workers < 1 {
		return eris.Errorf("config: selection.workers must be positive, got %d", s.Workers)
	}
	if _, err := selection.ParseGoverning(s.Governing); err != nil {
		return eris.Wrap(err, "config")
	}
	if len(s.Features) == 0 {
		return eris.Wrap(selection.ErrNoFeatures, "config")
	}
	seen := make(map[string]bool, len(s.Features))
	for _, f := range s.Features {
		if seen[f] {
			return eris.Wrapf(selection.ErrDuplicateFeature, "config: %q", f)
		}
		seen[f] = true
	}

	b := c.BDT
	switch {
	case b.NTrees < 1:
		return eris.Errorf("config: bdt.n_trees must be positive, got %d", b.NTrees)
	case b.Depth < 1:
		return eris.Errorf("config: bdt.depth must be positive, got %d", b.Depth)
	case b.Shrinkage <= 0 || b.Shrinkage > 1:
		return eris.Errorf("config: bdt.shrinkage %v outside (0, 1]", b.Shrinkage)
	case b.Subsample <= 0 || b.Subsample > 1:
		return eris.Errorf("config: bdt.subsample %v outside (0, 1]", b.Subsample)
	case b.CutLevels < 1 || b.CutLevels > 15:
		return eris.Errorf("config: bdt.cut_levels %d outside [1, 15]", b.CutLevels)
	}

	if c.Data.Small < 0 {
		return eris.Errorf("config: data.small must not be negative, got %d", c.Data.Small)
	}
	return nil
}

// RequireTrain fails when no training ntuple is configured.
func (c *Config) RequireTrain() error {
	if c.Data.Train == "" {
		return eris.New("config: data.train is required")
	}
	return nil
}

// Governing returns the parsed selection.governing value.
func (c *Config) Governing() selection.Governing {
	g, _ := selection.ParseGoverning(c.Selection.Governing)
	return g
}

// SelectionOptions returns the selector options described by c.
func (c *Config) SelectionOptions() selection.Options {
	return selection.Options{
		Threshold:     c.Selection.Threshold,
		Workers:       c.Selection.Workers,
		Governing:     c.Governing(),
		RetrainOnTest: c.Selection.RetrainOnTest,
	}
}

// Options returns the classifier options described by c.
func (c BDTConfig) Options() []classifier.Option {
	return []classifier.Option{
		classifier.WithNTrees(c.NTrees),
		classifier.WithDepth(c.Depth),
		classifier.WithShrinkage(c.Shrinkage),
		classifier.WithSubsample(c.Subsample),
		classifier.WithCutLevels(c.CutLevels),
		classifier.WithRandomState(c.Seed),
	}
}

// Factory returns a factory of untrained classifiers configured by c.
func (c BDTConfig) Factory() classifier.Factory {
	return classifier.NewBDTFactory(c.Options()...)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
