package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultGraceWindow     = 30 * time.Second
	DefaultIdleRoomTimeout = 60 * time.Second
	DefaultProbeInterval   = 10 * time.Second
	DefaultProbeTimeout    = 5 * time.Second

	// Drift thresholds for the listener reconciliation engine.
	DefaultSmallDriftMs = 300
	DefaultLargeDriftMs = 2000
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string

	// GraceWindow is how long a participant's seat is held after their
	// connection drops before the leave is made permanent.
	GraceWindow time.Duration
	// IdleRoomTimeout is how long an empty room stays loaded.
	IdleRoomTimeout time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:      serverAddr,
		DatabaseDSN:     databaseDSN,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		GraceWindow:     DefaultGraceWindow,
		IdleRoomTimeout: DefaultIdleRoomTimeout,
	}, nil
}
