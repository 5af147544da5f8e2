package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/citysafe-sim/citysafe-sim/sim"
)

var (
	// CLI flags for scenario configs
	scenarioPath  string  // Path to a scenario YAML file
	seed          int64   // Seed for deterministic runs
	durationHours float64 // Scenario duration in hours
	stepSeconds   float64 // Simulated seconds per step
	logLevel      string  // Log verbosity level
	analyticsOut  string  // Path for the analytics JSON export
	snapshotEvery int64   // Steps between state snapshot log lines
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "citysafe-sim",
	Short: "Discrete-time simulator for city public-safety operations",
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a public-safety scenario",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg := LoadScenario(scenarioPath)

		// Flags override the scenario file
		if cmd.Flags().Changed("seed") {
			cfg.Seed = seed
		}
		if cmd.Flags().Changed("duration-hours") {
			cfg.DurationHours = durationHours
		}
		if cmd.Flags().Changed("step-seconds") {
			cfg.StepDurationSeconds = stepSeconds
		}

		s, err := sim.NewSimulation(cfg)
		if err != nil {
			logrus.Fatalf("unable to build simulation: %v", err)
		}

		startTime := time.Now()
		for s.ShouldContinue() {
			s.Step()
			if snapshotEvery > 0 && s.StepCount()%snapshotEvery == 0 {
				st := s.GetState()
				logrus.Infof("t=%s step=%d incidents=%d alerts=%d",
					st.Time, st.Step, len(st.Incidents), len(st.Alerts))
			}
		}

		s.Metrics().Log()
		logrus.Infof("Simulated %d steps in %s", s.StepCount(), time.Since(startTime))

		if analyticsOut != "" {
			if err := s.Analytics().ExportJSON(analyticsOut); err != nil {
				logrus.Errorf("analytics export failed: %v", err)
			}
		}

		logrus.Info("Simulation complete.")
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to a scenario YAML file (default scenario when empty)")
	runCmd.Flags().Int64Var(&seed, "seed", sim.DefaultSeed, "Seed for deterministic runs")
	runCmd.Flags().Float64Var(&durationHours, "duration-hours", sim.DefaultDurationHours, "Scenario duration in hours")
	runCmd.Flags().Float64Var(&stepSeconds, "step-seconds", sim.DefaultStepSeconds, "Simulated seconds per step")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&analyticsOut, "analytics-out", "", "Write the analytics export to this path")
	runCmd.Flags().Int64Var(&snapshotEvery, "snapshot-every", 0, "Log a state snapshot every N steps (0 disables)")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
