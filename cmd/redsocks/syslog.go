package main

import (
	"log/syslog"

	"go.uber.org/zap/zapcore"
)

// newSyslogWriter opens a connection to the local syslog daemon and
// adapts it to zapcore.WriteSyncer, backing the `log_dest = "syslog"`
// base setting (spec §6).
func newSyslogWriter() (zapcore.WriteSyncer, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "redsocks")
	if err != nil {
		return nil, err
	}
	return syslogSyncer{w}, nil
}

type syslogSyncer struct {
	*syslog.Writer
}

func (s syslogSyncer) Sync() error { return nil }
