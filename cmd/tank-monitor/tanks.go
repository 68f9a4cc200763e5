package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/tank-monitor/internal/channel"
	"github.com/sweeney/tank-monitor/internal/config"
	"github.com/sweeney/tank-monitor/internal/logger"
	"github.com/sweeney/tank-monitor/internal/monitor"
	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/status"
	"github.com/sweeney/tank-monitor/internal/storage"
	"github.com/sweeney/tank-monitor/internal/tank"
)

var (
	userFilter string

	tanksCmd = &cobra.Command{
		Use:   "tanks",
		Short: "List registered tanks with their latest reading",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openOffline()
			if err != nil {
				return err
			}
			defer closeFn()
			return listTanks(cmd.Context(), svc, userFilter, cmd.OutOrStdout())
		},
	}
)

func init() {
	tanksCmd.Flags().StringVarP(&userFilter, "user", "u", "", "Only tanks owned by this user")
}

// openOffline wires the service against the configured database without
// opening any session. The broker settings are not validated.
func openOffline() (*monitor.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logger.Get(cfg.Log.Level)
	db, err := storage.InitDB(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init db: %w", err)
	}
	manager := channel.NewManager(mqtt.NewPahoDialer(cfg.MQTT.Transport()), channel.Options{Logger: log})
	tracker := status.NewTracker(time.Now(), status.Config{Database: cfg.DB.Path})
	svc := monitor.New(storage.NewRepository(db), manager, tracker, log)
	return svc, func() {
		svc.Close()
		_ = db.Close()
		_ = log.Sync()
	}, nil
}

func listTanks(ctx context.Context, svc *monitor.Service, userID string, out io.Writer) error {
	tanks, err := svc.ListTanks(ctx, userID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tNAME\tSHAPE\tDEVICE\tLAST READING\tVOLUME\tFILL")
	fmt.Fprintln(w, "--\t----\t----\t-----\t------\t------------\t------\t----")

	for _, t := range tanks {
		last, vol, fill := "never", tank.Unavailable, tank.Unavailable
		readings, err := svc.Readings(ctx, t.ID, time.Time{}, time.Time{}, 1)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if len(readings) > 0 {
			r := readings[0]
			last = r.ReceivedAt.Local().Format("2006-01-02 15:04:05")
			vol = tank.FormatValue(r.VolumeLiters, "L")
			fill = tank.FormatValue(r.FillPercent, "%")
		}
		device := t.DeviceID
		if device == "" {
			device = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.UserID, t.Name, t.Shape, device, last, vol, fill)
	}
	return w.Flush()
}
