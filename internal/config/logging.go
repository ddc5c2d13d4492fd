package config

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies the level and format settings to the standard logrus logger.
func ConfigureLogging(cfg *Config) {
	if cfg.LogLevel != "" {
		if lvl, err := log.ParseLevel(cfg.LogLevel); err != nil {
			log.WithFields(log.Fields{
				"level":    cfg.LogLevel,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	switch cfg.LogFormat {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.WithField("format", cfg.LogFormat).Warn("Unknown logging format")
	}
}
