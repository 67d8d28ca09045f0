package internal

import (
	"chat-bot/domain"
	"chat-bot/runtime/workers"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type Config struct {
	Rooms               string        `env:"ROOMS" validate:"required"`
	Fkey                string        `env:"FKEY"`
	Cookie              string        `env:"COOKIE"`
	Origin              string        `env:"ORIGIN"`
	StreamURL           string        `env:"STREAM_URL,default=wss://{host}/events/{room}" validate:"required"`
	HandshakeTimeout    time.Duration `env:"HANDSHAKE_TIMEOUT,default=10s" validate:"gt=0"`
	HeartbeatTimeout    time.Duration `env:"HEARTBEAT_TIMEOUT,default=40s" validate:"gt=0"`
	InitialGraceTimeout time.Duration `env:"INITIAL_GRACE_TIMEOUT,default=2s" validate:"gt=0"`
	BackoffStep         time.Duration `env:"BACKOFF_STEP,default=5s" validate:"gt=0"`
	BackoffCap          time.Duration `env:"BACKOFF_CAP,default=60s" validate:"gtefield=BackoffStep"`
	MaxAttempts         int           `env:"MAX_ATTEMPTS,default=1500" validate:"min=1"`
	RestartInterval     time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	BadgerFilepath      string        `env:"BADGER_FILEPATH,default=./data/badger" validate:"required"`
	LogLevel            string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
	LimitMessages       *int          `env:"LIMIT_MESSAGES" validate:"omitempty,min=1"`
	TimelineSize        int           `env:"TIMELINE_SIZE,default=50" validate:"min=1"`
	CharReplacement     string        `env:"CHARACTER_REPLACEMENT,default=*"`
	DebugPort           int           `env:"DEBUG_PORT,default=0" validate:"min=0,max=65535"`
	ReportInterval      time.Duration `env:"REPORT_INTERVAL,default=0s" validate:"min=0"`
}

// LoadConfig reads an optional .env file, then the environment, and validates the result.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := CharacterRune(config.CharReplacement); err != nil {
		return Config{}, err
	}
	if _, err := config.RoomParams(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// RoomParams parses ROOMS, a comma separated list of "host:id[:permanent]".
func (c Config) RoomParams() ([]domain.ConnectParams, error) {
	var rooms []domain.ConnectParams
	for _, spec := range strings.Split(c.Rooms, ",") {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		params, err := domain.ParseConnectParams(spec)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, params)
	}
	return rooms, nil
}

func (c Config) Session() domain.SessionInfo {
	return domain.SessionInfo{Fkey: c.Fkey, Cookie: c.Cookie, Origin: c.Origin}
}

func (c Config) ConnectionConfig() workers.ConnectionConfig {
	return workers.ConnectionConfig{
		HeartbeatTimeout:    c.HeartbeatTimeout,
		InitialGraceTimeout: c.InitialGraceTimeout,
		BackoffStep:         c.BackoffStep,
		BackoffCap:          c.BackoffCap,
		MaxAttempts:         c.MaxAttempts,
	}
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
