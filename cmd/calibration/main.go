// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided calibration for the MPU-9250 accelerometer and gyroscope.
//
//	calibration gyro    stationary gyro offset and noise
//	calibration accel   six-pose accel offset, scale and noise
//	calibration all     gyro, then accel
//	calibration drift   temperature drift fit, prints config lines
//	calibration read    raw samples, for checking the wiring
//
// Results are printed; the drift coefficients go into the config file by
// hand. --publish leaves the record on the MQTT params topic, where the
// producer picks it up on start. Use --sim to try the workflow without
// hardware.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/imu_calibration/internal/app"
	"github.com/relabs-tech/imu_calibration/internal/calibration"
	"github.com/relabs-tech/imu_calibration/internal/config"
	"github.com/relabs-tech/imu_calibration/internal/sensors"
)

var (
	flagConfig string
	flagSim    bool
	flagYes    bool
	flagJSON   bool
	flagPub    bool

	flagDriftSensor string
	flagReadSensor  string
	flagPoints      int
	flagInterval    time.Duration
	flagSamples     int
	flagCount       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "calibration",
		Short: "Guided accelerometer and gyroscope calibration for the MPU-9250",
		Long: `Runs the calibration procedures against the IMU configured in the
config file and prints the resulting parameter records.

The gyroscope run needs the device perfectly still. The accelerometer run
needs the device held still in each of the six axis-aligned poses (+Z, -Z,
+Y, -Y, +X, -X); the order does not matter and the run ends as soon as every
pose has collected enough samples.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "inertial_config.txt", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&flagSim, "sim", false, "Use the simulated IMU instead of the configured bus")
	rootCmd.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false, "Do not wait for ENTER before each step")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print the final parameter record as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagPub, "publish", false, "Publish the final record as the retained MQTT params message")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "gyro",
			Short: "Stationary gyroscope calibration",
			RunE:  func(cmd *cobra.Command, args []string) error { return runSteps(cmd, "gyro") },
		},
		&cobra.Command{
			Use:   "accel",
			Short: "Six-pose accelerometer calibration",
			RunE:  func(cmd *cobra.Command, args []string) error { return runSteps(cmd, "accel") },
		},
		&cobra.Command{
			Use:   "all",
			Short: "Gyroscope then accelerometer calibration",
			RunE:  func(cmd *cobra.Command, args []string) error { return runSteps(cmd, "gyro", "accel") },
		},
		driftCmd(),
		readCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func driftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Fit the temperature drift model of a stationary sensor",
		Long: `Samples a stationary sensor at regular intervals while its temperature
changes (warm-up after power-on, or a heat gun at a distance) and fits
drift = temperature*A + B by least squares.`,
		RunE: runDrift,
	}
	cmd.Flags().StringVar(&flagDriftSensor, "sensor", "gyro", "Sensor to fit: gyro or accel")
	cmd.Flags().IntVar(&flagPoints, "points", 20, "Number of temperature points")
	cmd.Flags().DurationVar(&flagInterval, "interval", 30*time.Second, "Time between points")
	cmd.Flags().IntVar(&flagSamples, "samples", 200, "Samples averaged per point")
	return cmd
}

func readCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print raw samples as JSON lines",
		RunE:  runRead,
	}
	cmd.Flags().StringVar(&flagReadSensor, "sensor", "accel", "Sensor to read: accel or gyro")
	cmd.Flags().IntVar(&flagCount, "count", 10, "Number of samples")
	return cmd
}

// openIMU loads the config and opens the chip it names.
func openIMU() (*config.Config, *app.IMU, error) {
	if err := config.InitGlobal(flagConfig); err != nil {
		return nil, nil, fmt.Errorf("failed to load config from %s: %w", flagConfig, err)
	}
	cfg := config.Get()
	if flagSim {
		c := *cfg
		c.IMUBus = "sim"
		cfg = &c
	}
	chip, err := sensors.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("IMU init failed: %w", err)
	}
	return cfg, app.NewIMU(chip, cfg), nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func waitEnter(in *bufio.Reader, prompt string) {
	if flagYes {
		return
	}
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}

func runSteps(cmd *cobra.Command, steps ...string) error {
	cfg, m, err := openIMU()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	in := bufio.NewReader(os.Stdin)
	fmt.Printf("=== Guided Calibration (%s) ===\n\n", m.Name())

	var rec app.ParamsRecord
	for i, sensor := range steps {
		fmt.Printf("Step %d/%d: %s\n", i+1, len(steps), stepTitle(sensor))
		fmt.Println(stepHelp(sensor))
		waitEnter(in, "Press ENTER to start...")

		rec, err = app.RunCalibration(ctx, m, sensor, cfg.CalibrationTimeout, printProgress)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("%s calibration: %w", sensor, err)
		}
		printRecord(sensor, rec)
		fmt.Println()
	}

	if flagPub {
		if err := app.PublishParamsOnce(cfg, rec); err != nil {
			return fmt.Errorf("publish params: %w", err)
		}
		fmt.Printf("Published to %s (retained)\n", cfg.TopicParams)
	}
	if flagJSON {
		return printJSON(rec)
	}
	return nil
}

func stepTitle(sensor string) string {
	if sensor == "gyro" {
		return "Gyro stationary offset"
	}
	return "Accelerometer six-pose calibration (offset + scale)"
}

func stepHelp(sensor string) string {
	if sensor == "gyro" {
		return "Place the device on a stable surface and do not touch it."
	}
	return fmt.Sprintf("Hold the device still with each axis pointing UP and then DOWN (+Z, -Z, +Y, -Y, +X, -X).\n"+
		"Each pose needs %d accepted samples; the progress line shows which pose is filling.", calibration.SampleTarget)
}

func printProgress(p calibration.Progress) {
	if p.Sensor == "accel" {
		fmt.Printf("\r  pose %-2s %4d/%d  poses done %d/6  reads %d   ", p.Orientation, p.Accepted, p.Target, p.Done, p.Reads)
		return
	}
	fmt.Printf("\r  samples %4d/%d   ", p.Accepted, p.Target)
}

func printRecord(sensor string, rec app.ParamsRecord) {
	switch sensor {
	case "gyro":
		g := rec.Gyro
		fmt.Printf("Gyro offset (counts):  X=%d Y=%d Z=%d\n", g.Offset.X, g.Offset.Y, g.Offset.Z)
		fmt.Printf("Gyro noise variance ((rad/s)²): X=%.3g Y=%.3g Z=%.3g\n", g.Variance.X, g.Variance.Y, g.Variance.Z)
	case "accel":
		a := rec.Accel
		fmt.Printf("Accel offset (counts): X=%d Y=%d Z=%d\n", a.Offset.X, a.Offset.Y, a.Offset.Z)
		fmt.Printf("Accel scale (m/s² per count): X=%.6g Y=%.6g Z=%.6g\n", a.Scale.X, a.Scale.Y, a.Scale.Z)
		fmt.Printf("Accel noise variance ((m/s²)²): X=%.3g Y=%.3g Z=%.3g\n", a.Variance.X, a.Variance.Y, a.Variance.Z)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runDrift(cmd *cobra.Command, args []string) error {
	if flagPoints < 2 {
		return fmt.Errorf("--points must be at least 2")
	}
	_, m, err := openIMU()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	in := bufio.NewReader(os.Stdin)
	fmt.Printf("=== Temperature drift fit (%s %s) ===\n", m.Name(), flagDriftSensor)
	fmt.Println("Keep the device still for the whole run while its temperature changes.")
	waitEnter(in, "Press ENTER to start...")

	var samples []app.DriftSample
	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()
	for i := 0; i < flagPoints; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		s, err := app.CollectDriftSample(ctx, m, flagDriftSensor, flagSamples)
		if err != nil {
			return err
		}
		samples = append(samples, s)
		fmt.Printf("  point %2d/%d  T=%6.2f °C  mean=(%.1f, %.1f, %.1f)\n", i+1, flagPoints, s.Temperature, s.Mean[0], s.Mean[1], s.Mean[2])
	}

	d, err := calibration.FitDrift(app.DriftPoints(samples))
	if err != nil {
		return err
	}
	prefix := "GYRO"
	if flagDriftSensor == "accel" {
		prefix = "ACCEL"
	}
	fmt.Println("\nAdd to the config file:")
	fmt.Printf("%s_DRIFT_A=%g\n%s_DRIFT_B=%g\n", prefix, d.A, prefix, d.B)
	if flagJSON {
		return printJSON(struct {
			Samples []app.DriftSample `json:"samples"`
			Drift   calibration.Drift `json:"drift"`
		}{samples, d})
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	_, m, err := openIMU()
	if err != nil {
		return err
	}
	defer m.Close()

	enc := json.NewEncoder(os.Stdout)
	for i := 0; i < flagCount; i++ {
		s, err := m.ReadRaw(flagReadSensor)
		if err != nil {
			return err
		}
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}
