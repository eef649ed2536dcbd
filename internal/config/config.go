package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"crossing/internal/display"
	"crossing/internal/measure"
)

const (
	LinkUDP  = "udp"
	LinkMQTT = "mqtt"
)

// Logging is what internal/logging needs from any node config.
type Logging struct {
	AppEnv   string
	LogLevel slog.Level
}

// Link selects and configures the datagram transport.
type Link struct {
	Kind            string
	NodeID          string
	UDPListen       string
	MQTTBroker      string
	MQTTPort        int
	MQTTTopicPrefix string
}

type Measure struct {
	Logging
	Link

	PeerAddr   string
	SensorPin  string
	EnergyMode bool
	Tuning     measure.Tuning
}

type Display struct {
	Logging
	Link

	ButtonPin    string
	HTTPAddr     string
	RedisAddr    string
	HistoryLimit int
	Tuning       display.Tuning
}

// Sim runs both nodes in one process over the in-memory link.
type Sim struct {
	Logging

	LossRate     float64
	Latency      time.Duration
	Seed         uint64
	HTTPAddr     string
	RedisAddr    string
	HistoryLimit int
	Measure      measure.Tuning
	Display      display.Tuning
}

func LoadMeasureFromEnv() (Measure, error) {
	lg, err := loadLogging()
	if err != nil {
		return Measure{}, err
	}
	lk, err := loadLink("measure", ":4210")
	if err != nil {
		return Measure{}, err
	}
	tuning, err := LoadTuning(strings.TrimSpace(os.Getenv("TUNING_FILE")))
	if err != nil {
		return Measure{}, err
	}

	peer := strings.TrimSpace(os.Getenv("PEER_ADDR"))
	if peer == "" {
		if lk.Kind == LinkMQTT {
			return Measure{}, fmt.Errorf("PEER_ADDR is required with LINK=%s (the display node's NODE_ID)", LinkMQTT)
		}
		peer = "127.0.0.1:4211"
	}

	modeStr := strings.ToLower(strings.TrimSpace(os.Getenv("INITIAL_MODE")))
	if modeStr == "" {
		modeStr = "speed"
	}
	var energy bool
	switch modeStr {
	case "speed":
	case "energy":
		energy = true
	default:
		return Measure{}, fmt.Errorf("invalid INITIAL_MODE %q (allowed: speed, energy)", modeStr)
	}

	return Measure{
		Logging:    lg,
		Link:       lk,
		PeerAddr:   peer,
		SensorPin:  strings.TrimSpace(os.Getenv("SENSOR_PIN")),
		EnergyMode: energy,
		Tuning:     tuning.Measure,
	}, nil
}

func LoadDisplayFromEnv() (Display, error) {
	lg, err := loadLogging()
	if err != nil {
		return Display{}, err
	}
	lk, err := loadLink("display", ":4211")
	if err != nil {
		return Display{}, err
	}
	tuning, err := LoadTuning(strings.TrimSpace(os.Getenv("TUNING_FILE")))
	if err != nil {
		return Display{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	limit, err := intEnv("HISTORY_LIMIT", 100)
	if err != nil {
		return Display{}, err
	}
	if limit <= 0 {
		return Display{}, fmt.Errorf("HISTORY_LIMIT must be positive, got %d", limit)
	}

	return Display{
		Logging:      lg,
		Link:         lk,
		ButtonPin:    strings.TrimSpace(os.Getenv("BUTTON_PIN")),
		HTTPAddr:     httpAddr,
		RedisAddr:    strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		HistoryLimit: limit,
		Tuning:       tuning.Display,
	}, nil
}

func LoadSimFromEnv() (Sim, error) {
	lg, err := loadLogging()
	if err != nil {
		return Sim{}, err
	}
	tuning, err := LoadTuning(strings.TrimSpace(os.Getenv("TUNING_FILE")))
	if err != nil {
		return Sim{}, err
	}

	lossStr := strings.TrimSpace(os.Getenv("LOSS_RATE"))
	if lossStr == "" {
		lossStr = "0.1"
	}
	loss, err := strconv.ParseFloat(lossStr, 64)
	if err != nil {
		return Sim{}, fmt.Errorf("invalid LOSS_RATE %q: %w", lossStr, err)
	}
	if loss < 0 || loss >= 1 {
		return Sim{}, fmt.Errorf("LOSS_RATE must be in [0, 1), got %v", loss)
	}

	latencyStr := strings.TrimSpace(os.Getenv("LINK_LATENCY"))
	if latencyStr == "" {
		latencyStr = "5ms"
	}
	latency, err := time.ParseDuration(latencyStr)
	if err != nil {
		return Sim{}, fmt.Errorf("invalid LINK_LATENCY %q: %w", latencyStr, err)
	}
	if latency < 0 {
		return Sim{}, fmt.Errorf("LINK_LATENCY must not be negative, got %v", latency)
	}

	seedStr := strings.TrimSpace(os.Getenv("SIM_SEED"))
	if seedStr == "" {
		seedStr = "1"
	}
	seed, err := strconv.ParseUint(seedStr, 0, 64)
	if err != nil {
		return Sim{}, fmt.Errorf("invalid SIM_SEED %q: %w", seedStr, err)
	}

	limit, err := intEnv("HISTORY_LIMIT", 100)
	if err != nil {
		return Sim{}, err
	}
	if limit <= 0 {
		return Sim{}, fmt.Errorf("HISTORY_LIMIT must be positive, got %d", limit)
	}

	return Sim{
		Logging:      lg,
		LossRate:     loss,
		Latency:      latency,
		Seed:         seed,
		HTTPAddr:     strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		RedisAddr:    strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		HistoryLimit: limit,
		Measure:      tuning.Measure,
		Display:      tuning.Display,
	}, nil
}

func loadLogging() (Logging, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Logging{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Logging{}, err
	}
	return Logging{AppEnv: appEnv, LogLevel: level}, nil
}

func loadLink(role, defaultListen string) (Link, error) {
	kind := strings.ToLower(strings.TrimSpace(os.Getenv("LINK")))
	if kind == "" {
		kind = LinkUDP
	}
	switch kind {
	case LinkUDP, LinkMQTT:
	default:
		return Link{}, fmt.Errorf("invalid LINK %q (allowed: %s, %s)", kind, LinkUDP, LinkMQTT)
	}

	nodeID := strings.TrimSpace(os.Getenv("NODE_ID"))
	if nodeID == "" {
		nodeID = DefaultNodeID(role)
	}

	udpListen := strings.TrimSpace(os.Getenv("UDP_LISTEN"))
	if udpListen == "" {
		udpListen = defaultListen
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}
	mqttPort, err := intEnv("MQTT_PORT", 1883)
	if err != nil {
		return Link{}, err
	}

	prefix := strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX"))
	if prefix == "" {
		prefix = "crossing"
	}

	return Link{
		Kind:            kind,
		NodeID:          nodeID,
		UDPListen:       udpListen,
		MQTTBroker:      mqttBroker,
		MQTTPort:        mqttPort,
		MQTTTopicPrefix: prefix,
	}, nil
}

func intEnv(name string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
