package canmon

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const DefaultSDOTimeout = 5 * time.Second

// Config carries everything the monitor needs at startup. Values come from
// the environment (optionally seeded by a .env file), command line flags
// may override them afterwards.
type Config struct {
	Interfaces    []string
	StaleTimeout  time.Duration
	DeadTimeout   time.Duration
	SDOTimeout    time.Duration
	EDSDir        string
	HTTPAddr      string
	MQTTBroker    string
	MQTTTopic     string
	TableCapacity int
}

func DefaultConfig() *Config {
	return &Config{
		Interfaces:   []string{"can0"},
		StaleTimeout: DefaultStaleTimeout,
		DeadTimeout:  DefaultDeadTimeout,
		SDOTimeout:   DefaultSDOTimeout,
		MQTTTopic:    "canmon/messages",
	}
}

// LoadConfig builds a Config from CANMON_* environment variables on top of
// the defaults. A .env file in the working directory is honored when
// present.
func LoadConfig() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug("[CONFIG] loaded .env file")
	}
	config := DefaultConfig()

	if raw := os.Getenv("CANMON_INTERFACES"); raw != "" {
		config.Interfaces = splitInterfaces(raw)
	}
	config.StaleTimeout = getEnvAsDuration("CANMON_STALE_TIMEOUT", config.StaleTimeout)
	config.DeadTimeout = getEnvAsDuration("CANMON_DEAD_TIMEOUT", config.DeadTimeout)
	config.SDOTimeout = getEnvAsDuration("CANMON_SDO_TIMEOUT", config.SDOTimeout)
	config.EDSDir = getEnv("CANMON_EDS_DIR", config.EDSDir)
	config.HTTPAddr = getEnv("CANMON_HTTP_ADDR", config.HTTPAddr)
	config.MQTTBroker = getEnv("CANMON_MQTT_BROKER", config.MQTTBroker)
	config.MQTTTopic = getEnv("CANMON_MQTT_TOPIC", config.MQTTTopic)
	config.TableCapacity = getEnvAsInt("CANMON_TABLE_CAPACITY", config.TableCapacity)
	return config
}

// Validate rejects configurations the monitor cannot run with.
func (config *Config) Validate() error {
	if len(config.Interfaces) == 0 {
		return ErrNoInterfaces
	}
	seen := make(map[string]bool, len(config.Interfaces))
	for _, name := range config.Interfaces {
		if seen[name] {
			return ErrDuplicateInterface
		}
		seen[name] = true
	}
	if config.DeadTimeout < config.StaleTimeout {
		return ErrTimeoutOrder
	}
	if config.SDOTimeout <= 0 {
		return ErrSessionTimeout
	}
	return nil
}

func splitInterfaces(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Warnf("[CONFIG] ignoring %v=%q : %v", key, raw, err)
		return fallback
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("6s", "1m30s") and, for
// convenience, bare numbers read as seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Warnf("[CONFIG] ignoring %v=%q : %v", key, raw, err)
		return fallback
	}
	return value
}
