// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/imu_calibration/internal/bus"
	"github.com/relabs-tech/imu_calibration/internal/sensors"
)

// RegisterCmd is a client request on the register debug socket.
type RegisterCmd struct {
	Action  string `json:"action"` // get_map, read, read_all, write, export_config
	Address string `json:"addr,omitempty"`
	Value   string `json:"value,omitempty"`
}

// RegisterResponse is a server message on the register debug socket.
type RegisterResponse struct {
	Type        string                 `json:"type"` // register_map, register_data, export_config, error
	Device      string                 `json:"device,omitempty"`
	IMU         string                 `json:"imu,omitempty"`
	Address     string                 `json:"addr,omitempty"`
	Value       string                 `json:"value,omitempty"`
	Registers   map[string]string      `json:"registers,omitempty"` // for bulk read
	Timestamp   string                 `json:"timestamp,omitempty"`
	Message     string                 `json:"message,omitempty"`
	RegisterMap []sensors.RegisterInfo `json:"register_map,omitempty"`
	Config      string                 `json:"config,omitempty"`
	Filename    string                 `json:"filename,omitempty"`
}

// RegisterConfigFile is the JSON document produced by export_config.
type RegisterConfigFile struct {
	Version   int               `json:"version"`
	IMU       string            `json:"imu"`
	Timestamp string            `json:"timestamp"`
	Registers map[string]string `json:"registers"` // hex address -> hex value
}

// RegisterDebugSession is one websocket client poking at chip registers.
type RegisterDebugSession struct {
	Conn *websocket.Conn
	name string
	regs bus.Registers
	info map[int]sensors.RegisterInfo
}

// HandleRegisterDebugWS serves raw register access to the chip behind regs.
// Only registers the map marks writable accept writes.
func HandleRegisterDebugWS(name string, regs bus.Registers) http.HandlerFunc {
	regMap := sensors.RegisterMap()
	info := make(map[int]sensors.RegisterInfo, len(regMap))
	for _, r := range regMap {
		info[r.Address] = r
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("register_debug: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		s := &RegisterDebugSession{Conn: conn, name: name, regs: regs, info: info}

		// Send register map on connection
		if err := s.sendRegisterMap(); err != nil {
			log.Printf("register_debug: error sending register map: %v", err)
			return
		}

		for {
			var cmd RegisterCmd
			if err := conn.ReadJSON(&cmd); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("register_debug: websocket error: %v", err)
				}
				return
			}

			switch cmd.Action {
			case "get_map":
				s.sendRegisterMap()
			case "read":
				s.handleRead(cmd)
			case "read_all":
				s.handleReadAll()
			case "write":
				s.handleWrite(cmd)
			case "export_config":
				s.handleExportConfig()
			default:
				s.sendError(fmt.Sprintf("unknown action: %s", cmd.Action))
			}
		}
	}
}

// parseHex accepts "0x1B" or "1B".
func parseHex(s string, max int) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil || int(v) > max {
		return 0, fmt.Errorf("invalid hex value %q", s)
	}
	return int(v), nil
}

func hex(v int) string { return fmt.Sprintf("0x%02X", v) }

func (s *RegisterDebugSession) handleRead(cmd RegisterCmd) {
	if cmd.Address == "" {
		s.sendError("missing addr field")
		return
	}
	addr, err := parseHex(cmd.Address, 0x7F)
	if err != nil {
		s.sendError(fmt.Sprintf("invalid address format: %s", cmd.Address))
		return
	}
	value, err := s.regs.ReadRegister(addr)
	if err != nil {
		s.sendError(fmt.Sprintf("read error: %v", err))
		return
	}
	s.Conn.WriteJSON(RegisterResponse{
		Type:      "register_data",
		IMU:       s.name,
		Address:   hex(addr),
		Value:     hex(value),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *RegisterDebugSession) readAll() (map[string]string, error) {
	regMap := make(map[string]string, len(s.info))
	for addr := range s.info {
		value, err := s.regs.ReadRegister(addr)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", hex(addr), err)
		}
		regMap[hex(addr)] = hex(value)
	}
	return regMap, nil
}

func (s *RegisterDebugSession) handleReadAll() {
	regMap, err := s.readAll()
	if err != nil {
		s.sendError(fmt.Sprintf("read all error: %v", err))
		return
	}
	s.Conn.WriteJSON(RegisterResponse{
		Type:      "register_data",
		IMU:       s.name,
		Registers: regMap,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *RegisterDebugSession) handleWrite(cmd RegisterCmd) {
	if cmd.Address == "" || cmd.Value == "" {
		s.sendError("missing addr or value field")
		return
	}
	addr, err := parseHex(cmd.Address, 0x7F)
	if err != nil {
		s.sendError(fmt.Sprintf("invalid address format: %s", cmd.Address))
		return
	}
	value, err := parseHex(cmd.Value, 0xFF)
	if err != nil {
		s.sendError(fmt.Sprintf("invalid value format: %s", cmd.Value))
		return
	}
	if ri, ok := s.info[addr]; !ok || !strings.Contains(ri.Access, "W") {
		s.sendError(fmt.Sprintf("register %s is not writable", hex(addr)))
		return
	}
	if err := s.regs.WriteRegister(addr, value); err != nil {
		s.sendError(fmt.Sprintf("write error: %v", err))
		return
	}
	s.Conn.WriteJSON(RegisterResponse{
		Type:      "register_data",
		IMU:       s.name,
		Address:   hex(addr),
		Value:     hex(value),
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   "write successful",
	})
}

func (s *RegisterDebugSession) handleExportConfig() {
	regMap, err := s.readAll()
	if err != nil {
		s.sendError(fmt.Sprintf("export error: %v", err))
		return
	}
	now := time.Now()
	configJSON, err := json.Marshal(RegisterConfigFile{
		Version:   1,
		IMU:       s.name,
		Timestamp: now.Format(time.RFC3339),
		Registers: regMap,
	})
	if err != nil {
		s.sendError(fmt.Sprintf("export error: %v", err))
		return
	}
	s.Conn.WriteJSON(RegisterResponse{
		Type:     "export_config",
		IMU:      s.name,
		Message:  "config exported",
		Config:   string(configJSON),
		Filename: fmt.Sprintf("%s_%s_registers.json", s.name, now.Format("20060102_150405")),
	})
}

func (s *RegisterDebugSession) sendRegisterMap() error {
	return s.Conn.WriteJSON(RegisterResponse{
		Type:        "register_map",
		Device:      "mpu9250",
		IMU:         s.name,
		RegisterMap: sensors.RegisterMap(),
	})
}

func (s *RegisterDebugSession) sendError(message string) {
	s.Conn.WriteJSON(RegisterResponse{
		Type:    "error",
		Message: message,
	})
}
