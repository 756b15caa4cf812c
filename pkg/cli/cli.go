// Package cli implements the gpu_demand_analytics command line app.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"

	"github.com/brent-segner/gpu-demand-capacity-analytics/internal/common"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/analyze"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/catalog"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/generator"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/scenario"
)

// AppName is the kingpin app name.
const AppName = "gpu_demand_analytics"

// App is the kingpin CLI app.
var App = *kingpin.New(
	AppName,
	"Synthetic GPU cluster telemetry generator and demand-capacity imbalance analyzer.",
)

// AnalyticsApp represents the `gpu_demand_analytics` cli.
type AnalyticsApp struct {
	appName string
	App     kingpin.Application
}

// NewAnalyticsApp creates a new AnalyticsApp instance.
func NewAnalyticsApp() (*AnalyticsApp, error) {
	return &AnalyticsApp{
		appName: AppName,
		App:     App,
	}, nil
}

// Main is the entry point of the `gpu_demand_analytics` command.
func (a *AnalyticsApp) Main() error {
	var (
		generateCmd = a.App.Command("generate", "Generate a synthetic telemetry dataset.")
		scenarioArg = generateCmd.Flag(
			"scenario", "Scenario shaping the generated signals.",
		).Default(scenario.Balanced).Enum(scenario.Names()...)
		seedArg = generateCmd.Flag(
			"seed", "Seed of the random source. Identical seeds yield identical datasets.",
		).Default("42").Int64()
		daysArg = generateCmd.Flag(
			"days", "Number of days to generate.",
		).Default("7").Int()
		samplesPerHourArg = generateCmd.Flag(
			"samples-per-hour", "Samples per hour. Must divide 60 evenly.",
		).Default("60").Int()
		startArg = generateCmd.Flag(
			"start", "Start of the time grid in RFC3339, UTC.",
		).Default(generator.DefaultStart.Format(time.RFC3339)).String()
		gpusArg = generateCmd.Flag(
			"gpus", "Scale the catalog to exactly this many GPUs. Zero keeps the full catalog.",
		).Default("0").Int64()
		outputDirArg = generateCmd.Flag(
			"output.dir", "Directory the dataset is written into.",
		).Default("data").String()
		generateConfigArg = generateCmd.Flag(
			"config.file", "Path to optional YAML file overriding catalog and score weights.",
		).Envar("GPU_DEMAND_ANALYTICS_CONFIG_FILE").Default("").String()

		validateCmd = a.App.Command("validate", "Validate a previously written dataset directory.")
		validateDir = validateCmd.Flag(
			"dataset.dir", "Dataset directory to validate.",
		).Default("data").String()

		scenariosCmd = a.App.Command("scenarios", "List the built-in scenarios.")

		analyzeCmd = a.App.Command("analyze", "Compute the hourly demand-capacity imbalance report of a dataset.")
		analyzeDir = analyzeCmd.Flag(
			"dataset.dir", "Dataset directory to analyze.",
		).Default("data").String()
		analyzeConfigArg = analyzeCmd.Flag(
			"config.file", "Path to optional YAML file overriding score weights.",
		).Envar("GPU_DEMAND_ANALYTICS_CONFIG_FILE").Default("").String()
	)

	promslogConfig := &promslog.Config{}
	flag.AddFlags(&a.App, promslogConfig)
	a.App.Version(version.Print(a.appName))
	a.App.UsageWriter(os.Stdout)
	a.App.HelpFlag.Short('h')

	subCmd, err := a.App.Parse(os.Args[1:])
	if err != nil {
		return fmt.Errorf("failed to parse CLI flags: %w", err)
	}

	logger := promslog.New(promslogConfig)
	logger.Info("Starting "+a.appName, "version", version.Info())

	switch subCmd {
	case generateCmd.FullCommand():
		start, err := time.Parse(time.RFC3339, *startArg)
		if err != nil {
			return fmt.Errorf("failed to parse start time: %w", err)
		}
		return runGenerate(logger, &generateOptions{
			scenario:       *scenarioArg,
			seed:           *seedArg,
			days:           *daysArg,
			samplesPerHour: *samplesPerHourArg,
			start:          start.UTC(),
			gpus:           *gpusArg,
			outputDir:      *outputDirArg,
			configFile:     *generateConfigArg,
		})
	case validateCmd.FullCommand():
		return runValidate(logger, *validateDir)
	case scenariosCmd.FullCommand():
		return runScenarios(os.Stdout)
	case analyzeCmd.FullCommand():
		return runAnalyze(logger, *analyzeDir, *analyzeConfigArg)
	}
	return fmt.Errorf("unknown command %q", subCmd)
}

// AppConfig is the optional YAML configuration. Empty sections fall back to
// the built-in catalog and default weights.
type AppConfig struct {
	Catalog CatalogConfig   `yaml:"catalog"`
	Weights analyze.Weights `yaml:"weights"`
}

// CatalogConfig overrides the built-in entity universe.
type CatalogConfig struct {
	Clusters   []catalog.Cluster   `yaml:"clusters"`
	Nodegroups []catalog.Nodegroup `yaml:"nodegroups"`
	Namespaces []string            `yaml:"namespaces"`
	Queues     []catalog.Queue     `yaml:"queues"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *AppConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// Set a default config
	*c = AppConfig{
		Weights: analyze.DefaultWeights(),
	}

	type plain AppConfig

	return unmarshal((*plain)(c))
}

func loadConfig(configFile string) (*AppConfig, error) {
	if configFile == "" {
		return &AppConfig{Weights: analyze.DefaultWeights()}, nil
	}
	cfg, err := common.MakeConfig[AppConfig](configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return cfg, nil
}

func buildCatalog(cfg *AppConfig) (*catalog.Catalog, error) {
	if len(cfg.Catalog.Nodegroups) == 0 {
		return catalog.Default()
	}
	return catalog.New(
		cfg.Catalog.Clusters,
		cfg.Catalog.Nodegroups,
		cfg.Catalog.Namespaces,
		cfg.Catalog.Queues,
		catalog.DefaultSpecs(),
	)
}

func runScenarios(w *os.File) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Name", "Utilization Band", "Demand/Capacity", "Description"})
	for _, p := range scenario.All() {
		t.AppendRow(table.Row{
			p.Name,
			fmt.Sprintf("%.0f-%.0f%%", p.UtilizationBand.Low, p.UtilizationBand.High),
			fmt.Sprintf("%.2f", p.DemandCapacityRatio),
			p.Description,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}
