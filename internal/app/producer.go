// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/imu_calibration/internal/calibration"
	"github.com/relabs-tech/imu_calibration/internal/config"
	"github.com/relabs-tech/imu_calibration/internal/orientation"
)

// Reading is the payload of the accel and gyro topics.
type Reading struct {
	IMU    string  `json:"imu"`
	Sensor string  `json:"sensor"`
	Unit   string  `json:"unit"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Time   string  `json:"time"`
}

func newReading(name, sensor string, v calibration.Vector, t time.Time) Reading {
	unit := "m/s2"
	if sensor == "gyro" {
		unit = "rad/s"
	}
	return Reading{IMU: name, Sensor: sensor, Unit: unit, X: v.X, Y: v.Y, Z: v.Z, Time: t.Format(time.RFC3339Nano)}
}

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, token.Error())
	}
	return client, nil
}

func publishJSON(client mqtt.Client, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal (%s): %w", topic, err)
	}
	if token := client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT publish (%s): %w", topic, token.Error())
	}
	return nil
}

// Producer publishes calibrated readings and the parameter records.
type Producer struct {
	cfg    *config.Config
	imu    *IMU
	client mqtt.Client
	pose   orientation.Source
}

// NewProducer connects to MQTT_BROKER.
func NewProducer(cfg *config.Config, m *IMU) (*Producer, error) {
	if cfg.MQTTBroker == "" {
		return nil, errors.New("MQTT_BROKER is required for the producer")
	}
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return nil, err
	}
	log.Printf("producer: connected to MQTT broker at %s", cfg.MQTTBroker)
	return &Producer{cfg: cfg, imu: m, client: client, pose: m.PoseSource()}, nil
}

// PublishParams sends the retained parameter record.
func (p *Producer) PublishParams(rec ParamsRecord) error {
	return publishJSON(p.client, p.cfg.TopicParams, true, rec)
}

// PublishParamsOnce connects, publishes rec as the retained parameter record
// and disconnects. Processes that do not run a producer use it to hand a new
// record to the ones that do.
func PublishParamsOnce(cfg *config.Config, rec ParamsRecord) error {
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required to publish parameters")
	}
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer+"-calibration")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	return publishJSON(client, cfg.TopicParams, true, rec)
}

// retainedParams returns the record currently retained on the params topic,
// waiting at most wait for the broker to deliver it.
func (p *Producer) retainedParams(wait time.Duration) (ParamsRecord, bool) {
	ch := make(chan ParamsRecord, 1)
	token := p.client.Subscribe(p.cfg.TopicParams, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if !msg.Retained() {
			return
		}
		var rec ParamsRecord
		if err := json.Unmarshal(msg.Payload(), &rec); err != nil {
			log.Printf("producer: bad params payload: %v", err)
			return
		}
		select {
		case ch <- rec:
		default:
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Printf("producer: subscribe %s: %v", p.cfg.TopicParams, token.Error())
		return ParamsRecord{}, false
	}
	defer p.client.Unsubscribe(p.cfg.TopicParams)

	select {
	case rec := <-ch:
		return rec, true
	case <-time.After(wait):
		return ParamsRecord{}, false
	}
}

// adoptRetained installs a calibrated record left on the broker by an
// earlier run, so a restarted producer does not start uncalibrated.
func (p *Producer) adoptRetained() {
	rec, ok := p.retainedParams(2 * time.Second)
	if !ok || !(rec.AccelCalibrated || rec.GyroCalibrated) {
		return
	}
	if err := p.imu.AdoptParams(rec); err != nil {
		log.Printf("producer: ignoring retained params: %v", err)
		return
	}
	log.Printf("producer: adopted retained params from %s (accel=%v gyro=%v)", rec.Timestamp, rec.AccelCalibrated, rec.GyroCalibrated)
}

// Run publishes one tick every IMU_SAMPLE_INTERVAL until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	defer p.client.Disconnect(250)

	p.adoptRetained()
	if err := p.PublishParams(p.imu.Params()); err != nil {
		log.Printf("producer: %v", err)
	}

	ticker := time.NewTicker(time.Duration(p.cfg.IMUSampleInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Printf("producer: publishing every %d ms", p.cfg.IMUSampleInterval)
	skipped := 0
	uncalibrated := false
	for {
		select {
		case <-ctx.Done():
			log.Printf("producer: stopping")
			return nil
		case t := <-ticker.C:
			err := p.tick(t)
			if errors.Is(err, ErrBusy) {
				// a calibration run owns the bus
				skipped++
				continue
			}
			if skipped > 0 {
				log.Printf("producer: resumed after %d ticks skipped during calibration", skipped)
				skipped = 0
				if err := p.PublishParams(p.imu.Params()); err != nil {
					log.Printf("producer: %v", err)
				}
			}
			if errors.Is(err, calibration.ErrNotCalibrated) {
				// gyro was published, accel and pose are held back
				if !uncalibrated {
					log.Printf("producer: accelerometer not calibrated, publishing gyro only")
					uncalibrated = true
				}
				continue
			}
			if err != nil {
				log.Printf("producer: %v", err)
				continue
			}
			if uncalibrated {
				log.Printf("producer: accelerometer calibrated, publishing accel and pose")
				uncalibrated = false
			}
		}
	}
}

func (p *Producer) tick(t time.Time) error {
	name := p.imu.Name()

	g, err := p.imu.ReadGyro()
	if err != nil {
		return fmt.Errorf("gyro read: %w", err)
	}
	if err := publishJSON(p.client, p.cfg.TopicGyro, false, newReading(name, "gyro", g, t)); err != nil {
		return err
	}

	a, err := p.imu.ReadAccel()
	if err != nil {
		return fmt.Errorf("accel read: %w", err)
	}
	if err := publishJSON(p.client, p.cfg.TopicAccel, false, newReading(name, "accel", a, t)); err != nil {
		return err
	}

	pose, err := p.pose.Next()
	if err != nil {
		return fmt.Errorf("pose: %w", err)
	}
	return publishJSON(p.client, p.cfg.TopicPose, true, pose)
}
