// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/imu_calibration/internal/config"
	"github.com/relabs-tech/imu_calibration/internal/orientation"
)

func formatReading(r Reading) string {
	tag := "[ACC ]"
	if r.Sensor == "gyro" {
		tag = "[GYRO]"
	}
	return fmt.Sprintf("%s %s x=%9.4f y=%9.4f z=%9.4f %s", tag, r.IMU, r.X, r.Y, r.Z, r.Unit)
}

func formatPose(p orientation.Pose) string {
	return fmt.Sprintf("[POSE] ROLL=%7.2f  PITCH=%7.2f", p.Roll, p.Pitch)
}

func formatParams(p ParamsRecord) string {
	a, g := p.Accel, p.Gyro
	return fmt.Sprintf(
		"[PARM] %s accel(calibrated=%t) offset=(%d,%d,%d) scale=(%.6g,%.6g,%.6g) drift=(%g,%g) | gyro(calibrated=%t) offset=(%d,%d,%d) drift=(%g,%g)",
		p.IMU,
		p.AccelCalibrated, a.Offset.X, a.Offset.Y, a.Offset.Z, a.Scale.X, a.Scale.Y, a.Scale.Z, a.Drift.A, a.Drift.B,
		p.GyroCalibrated, g.Offset.X, g.Offset.Y, g.Offset.Z, g.Drift.A, g.Drift.B,
	)
}

// consoleHandler decodes a payload of type T and prints it on out.
func consoleHandler[T any](out io.Writer, topic string, format func(T) string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Printf("console: %s unmarshal error: %v", topic, err)
			return
		}
		fmt.Fprintln(out, format(v))
	}
}

// RunConsoleMQTT prints everything the producer publishes until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{cfg.TopicAccel, consoleHandler(out, cfg.TopicAccel, formatReading)},
		{cfg.TopicGyro, consoleHandler(out, cfg.TopicGyro, formatReading)},
		{cfg.TopicPose, consoleHandler(out, cfg.TopicPose, formatPose)},
		{cfg.TopicParams, consoleHandler(out, cfg.TopicParams, formatParams)},
	}
	for _, s := range subs {
		token := client.Subscribe(s.topic, 0, s.handler)
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, token.Error())
		}
		log.Printf("console: subscribed to %s", s.topic)
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}
