package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	sim "github.com/citysafe-sim/citysafe-sim/sim"
)

// LoadScenario reads a scenario YAML file. A missing path or a parse
// failure falls back to the built-in default scenario with a warning;
// the run still happens.
func LoadScenario(path string) sim.ScenarioConfig {
	var cfg sim.ScenarioConfig
	if path == "" {
		logrus.Info("no scenario file given, using built-in defaults")
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Warnf("unable to read scenario %s, using defaults: %v", path, err)
		return sim.ScenarioConfig{}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logrus.Warnf("unable to parse scenario %s, using defaults: %v", path, err)
		return sim.ScenarioConfig{}
	}
	logrus.Infof("loaded scenario %q from %s", cfg.Name, path)
	return cfg
}
