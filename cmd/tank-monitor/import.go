package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/tank-monitor/internal/monitor"
	"github.com/sweeney/tank-monitor/internal/storage"
	"github.com/sweeney/tank-monitor/internal/tank"
)

var importCmd = &cobra.Command{
	Use:   "import FILE.yaml",
	Short: "Register tanks and their alert rules from a YAML file",
	Long: `Register tanks and their alert rules from a YAML file:

  tanks:
    - userId: user-1
      name: Roof
      shape: vertical cylinder
      height: 100
      diameter: 50
      dailyUsage: 10
      alerts:
        - type: full
          value: 90`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		svc, closeFn, err := openOffline()
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := importTanks(cmd.Context(), svc, f, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d tank(s)\n", n)
		return nil
	},
}

type importFile struct {
	Tanks []importTank `yaml:"tanks"`
}

type importTank struct {
	storage.Tank `yaml:",inline"`
	Alerts       []tank.AlertRule `yaml:"alerts"`
}

// importTanks validates the whole file before storing anything, then creates
// each tank with its rules. It returns how many tanks were created.
func importTanks(ctx context.Context, svc *monitor.Service, r io.Reader, out io.Writer) (int, error) {
	var file importFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return 0, fmt.Errorf("parse import file: %w", err)
	}
	if len(file.Tanks) == 0 {
		return 0, fmt.Errorf("%w: no tanks in import file", monitor.ErrInvalid)
	}

	for i := range file.Tanks {
		it := &file.Tanks[i]
		shape, err := tank.ParseShape(string(it.Shape))
		if err != nil {
			return 0, fmt.Errorf("%w: tank %d (%s): %v", monitor.ErrInvalid, i+1, it.Name, err)
		}
		it.Shape = shape
		if err := monitor.ValidateTank(it.Tank); err != nil {
			return 0, fmt.Errorf("tank %d (%s): %w", i+1, it.Name, err)
		}
		for j, rule := range it.Alerts {
			if _, err := tank.ParseAlertType(string(rule.Type)); err != nil {
				return 0, fmt.Errorf("%w: tank %d (%s) alert %d: %v", monitor.ErrInvalid, i+1, it.Name, j+1, err)
			}
		}
	}

	for i, it := range file.Tanks {
		created, err := svc.CreateTank(ctx, it.Tank)
		if err != nil {
			return i, fmt.Errorf("tank %d (%s): %w", i+1, it.Name, err)
		}
		for _, rule := range it.Alerts {
			if _, err := svc.AddAlert(ctx, created.ID, rule); err != nil {
				return i + 1, fmt.Errorf("tank %s alert %s: %w", created.ID, rule.Type, err)
			}
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", created.ID, created.Name, created.Shape)
	}
	return len(file.Tanks), nil
}
