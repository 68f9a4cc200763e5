package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/tank-monitor/internal/tank"
)

var estimateCmd = newEstimateCmd()

func newEstimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate volume, fill and days until empty for one distance reading",
		Example: `  tank-monitor estimate --shape vertical --height 100 --diameter 50 --daily-usage 10 --distance 30
  tank-monitor estimate --shape horizontal --diameter 80 --length 200 --distance 20`,
		RunE: runEstimate,
	}
	f := cmd.Flags()
	f.String("shape", "", "Tank shape: rectangle, vertical or horizontal cylinder")
	f.Float64("height", 0, "Sensor mount to tank bottom, cm")
	f.Float64("width", 0, "Width, cm")
	f.Float64("length", 0, "Length, cm")
	f.Float64("diameter", 0, "Diameter, cm")
	f.Float64("full-depth", 0, "Water depth when full, cm")
	f.Float64("daily-usage", 0, "Consumption, litres per day")
	f.Float64("distance", 0, "Measured distance from sensor to water surface, cm")
	_ = cmd.MarkFlagRequired("shape")
	_ = cmd.MarkFlagRequired("distance")
	return cmd
}

func runEstimate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	shapeName, _ := f.GetString("shape")
	shape, err := tank.ParseShape(shapeName)
	if err != nil {
		return err
	}
	g := tank.Geometry{
		Shape:      shape,
		Height:     optionalFloat(f, "height"),
		Width:      optionalFloat(f, "width"),
		Length:     optionalFloat(f, "length"),
		Diameter:   optionalFloat(f, "diameter"),
		FullDepth:  optionalFloat(f, "full-depth"),
		DailyUsage: optionalFloat(f, "daily-usage"),
	}
	if err := g.Validate(); err != nil {
		// Incomplete geometry still estimates; the missing values print as N/A.
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	distance, _ := f.GetFloat64("distance")
	printEstimate(cmd.OutOrStdout(), tank.Estimate(g, distance))
	return nil
}

// optionalFloat returns the flag value, or nil when the flag was not given.
func optionalFloat(f *pflag.FlagSet, name string) *float64 {
	if !f.Changed(name) {
		return nil
	}
	v, err := f.GetFloat64(name)
	if err != nil {
		return nil
	}
	return &v
}

func printEstimate(w io.Writer, est tank.VolumeEstimate) {
	for _, line := range est.Lines() {
		fmt.Fprintln(w, line)
	}
}
