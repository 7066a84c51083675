package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"synsensors/core/engine"
	"synsensors/host"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <sensors.json> <fixture.json>",
	Short: "Load a sensor config and a fixture, then run one evaluation cycle",
	Args:  cobra.ExactArgs(2),
	RunE:  runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	sensorsPath, fixturePath := args[0], args[1]

	doc, err := loadSensorsDoc(sensorsPath)
	if err != nil {
		return fmt.Errorf("loading sensors: %w", err)
	}
	cfg, err := doc.toConfig()
	if err != nil {
		return fmt.Errorf("compiling sensors: %w", err)
	}

	fixtureDoc, err := loadFixtureDoc(fixturePath)
	if err != nil {
		return fmt.Errorf("loading fixture: %w", err)
	}
	fx, err := fixtureDoc.build()
	if err != nil {
		return err
	}

	e := engine.New(fx.dataProvider(), fx.hostStateProvider(), host.OutputChannelFunc(printSensorOutput))
	if err := e.LoadConfig(cfg); err != nil {
		return fmt.Errorf("loading config into engine: %w", err)
	}
	e.RegisterBackingEntities(fixtureDoc.BackingEntities, fixtureDoc.SensorBacking)

	if _, err := e.EvaluateAll(); err != nil {
		return fmt.Errorf("evaluating: %w", err)
	}
	return nil
}

func printSensorOutput(out host.SensorOutput) {
	if out.Error != nil {
		fmt.Printf("%-30s ERROR   %v\n", out.SensorUniqueID, out.Error)
		return
	}
	fmt.Printf("%-30s %-7s %s\n", out.SensorUniqueID, out.State, out.Value)
	for name, v := range out.Attributes {
		fmt.Printf("%-30s   .%-10s %s\n", "", name, v)
	}
}
