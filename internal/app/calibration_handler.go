// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/imu_calibration/internal/calibration"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is a client request on the calibration socket.
type WSMessage struct {
	Action string        `json:"action"` // accel, gyro, cancel, params, set_params
	Params *ParamsRecord `json:"params,omitempty"`
}

// WSResponse is a server message on the calibration socket.
type WSResponse struct {
	Type     string                `json:"type"` // phase, progress, complete, params, error
	Phase    string                `json:"phase,omitempty"`
	Step     string                `json:"step,omitempty"`
	Progress *calibration.Progress `json:"progress,omitempty"`
	Results  *ParamsRecord         `json:"results,omitempty"`
	Message  string                `json:"message,omitempty"`
}

// CalibrationSession is one websocket client driving calibration runs.
type CalibrationSession struct {
	imu     *IMU
	timeout time.Duration
	onDone  func(ParamsRecord)

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// HandleCalibrationWS serves the calibration socket for m. onDone, if set,
// receives every committed record (the web server republishes it).
func HandleCalibrationWS(m *IMU, timeout time.Duration, onDone func(ParamsRecord)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("calibration: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		s := &CalibrationSession{imu: m, timeout: timeout, onDone: onDone, conn: conn}
		defer s.stop()

		params := m.Params()
		s.send(WSResponse{Type: "params", Results: &params})

		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("calibration: websocket read error: %v", err)
				}
				return
			}
			s.handle(r.Context(), msg)
		}
	}
}

func (s *CalibrationSession) handle(ctx context.Context, msg WSMessage) {
	switch msg.Action {
	case "accel", "gyro":
		if err := s.start(ctx, msg.Action); err != nil {
			s.sendError(err.Error())
		}
	case "cancel":
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel == nil {
			s.sendError("no calibration running")
			return
		}
		log.Printf("calibration: cancelled by user")
		cancel()
	case "params":
		params := s.imu.Params()
		s.send(WSResponse{Type: "params", Results: &params})
	case "set_params":
		if msg.Params == nil {
			s.sendError("set_params needs a params object")
			return
		}
		if err := s.imu.SetParams(*msg.Params); err != nil {
			s.sendError(err.Error())
			return
		}
		params := s.imu.Params()
		s.finish(params)
		s.send(WSResponse{Type: "params", Results: &params})
	default:
		s.sendError(fmt.Sprintf("unknown action: %s", msg.Action))
	}
}

func (s *CalibrationSession) start(parent context.Context, sensor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("a calibration is already running on this session")
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.send(WSResponse{Type: "phase", Phase: sensor, Step: instructions(sensor)})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.cancel = nil
			s.mu.Unlock()
			cancel()
		}()

		rec, err := RunCalibration(ctx, s.imu, sensor, s.timeout, func(p calibration.Progress) {
			s.send(WSResponse{Type: "progress", Phase: sensor, Progress: &p})
		})
		if err != nil {
			s.sendError(fmt.Sprintf("%s calibration failed: %v", sensor, err))
			return
		}
		s.finish(rec)
		s.send(WSResponse{Type: "complete", Phase: sensor, Results: &rec})
	}()
	return nil
}

func (s *CalibrationSession) finish(rec ParamsRecord) {
	if s.onDone != nil {
		s.onDone(rec)
	}
}

func (s *CalibrationSession) stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func instructions(sensor string) string {
	if sensor == "gyro" {
		return "keep the IMU completely still"
	}
	return "hold the IMU still in each of the six axis-aligned poses (+Z, -Z, +Y, -Y, +X, -X) until its bucket is full"
}

func (s *CalibrationSession) send(resp WSResponse) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(resp); err != nil {
		log.Printf("calibration: websocket write error: %v", err)
	}
}

func (s *CalibrationSession) sendError(message string) {
	s.send(WSResponse{Type: "error", Message: message})
}
