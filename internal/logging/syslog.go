// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig configures optional remote syslog shipping of operator logs
// (the "logged via an operator log" requirement for permanent configuration
// errors in the error-handling design).
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns syslog disabled, UDP/514, tag "qnsd", facility
// LOG_USER(1).
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "qnsd",
		Facility: 1,
	}
}

// syslogWriter adapts *syslog.Writer to io.WriteCloser with level-agnostic
// Write (severity is embedded per-line by the caller via syslogPriority at
// dial time; we dial once at LOG_INFO and let the logger's own level field
// carry finer severity in the message body, matching how flywall's
// syslog integration tags every line with its source level).
type syslogWriter struct {
	w *syslog.Writer
}

func (s *syslogWriter) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *syslogWriter) Close() error                { return s.w.Close() }

// NewSyslogWriter dials a remote syslog daemon per cfg.
func NewSyslogWriter(cfg SyslogConfig) (*syslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "qnsd"
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	w, err := syslog.Dial(cfg.Protocol, addr, syslogPriority(cfg.Facility, LevelInfo), cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog: %w", err)
	}
	return &syslogWriter{w: w}, nil
}
