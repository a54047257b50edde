package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// Default per-zone seating tables. Overridable through the ZONE_CAPACITY and
// ZONE_PRICING env vars (JSON object of zone -> value).
var (
	defaultZoneCapacity = map[string]int{
		"VIP":     150,
		"REGULAR": 1800,
		"GENERAL": 3200,
	}

	defaultZonePricing = map[string]int64{
		"VIP":     25000,
		"REGULAR": 8000,
		"GENERAL": 5000,
	}

	// Gates are assigned per zone. Zones without an entry fall back to the
	// zone name itself.
	defaultZoneGates = map[string]string{
		"VIP":     "G1",
		"REGULAR": "G2",
		"GENERAL": "G3",
	}
)

var shortcodePattern = regexp.MustCompile(`^[0-9]{3,}$`)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (outbound broadcast)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// PubNub configuration (inbound parsed-SMS intake)
	IntakeSubscribeKey string
	IntakeChannel      string
	IntakeUUID         string

	// Reconciliation
	ConfidenceThreshold float64
	Currency            string

	// Checkout
	CheckoutHoldDuration time.Duration
	ZoneCapacity         map[string]int
	ZonePricing          map[string]int64
	ZoneGates            map[string]string

	// Payment shortcodes (USSD destinations per channel)
	MTNPayCode    string
	AirtelPayCode string

	// Membership
	MembershipValidityDays int

	// Passes
	RotationValidity time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Parsed-SMS intake
		IntakeSubscribeKey: getEnv("SMS_INTAKE_SUBSCRIBE_KEY", ""),
		IntakeChannel:      getEnv("SMS_INTAKE_CHANNEL", "sms-parsed-notifications"),
		IntakeUUID:         getEnv("SMS_INTAKE_UUID", "fanzone-core"),

		// Reconciliation
		ConfidenceThreshold: getEnvAsFloat("SMS_CONFIDENCE_THRESHOLD", 0.65),
		Currency:            getEnv("CURRENCY", "RWF"),

		// Checkout
		CheckoutHoldDuration: getEnvAsDuration("CHECKOUT_HOLD_DURATION", "5m"),
		ZoneCapacity:         getEnvAsIntMap("ZONE_CAPACITY", defaultZoneCapacity),
		ZonePricing:          getEnvAsInt64Map("ZONE_PRICING", defaultZonePricing),
		ZoneGates:            getEnvAsStringMap("ZONE_GATES", defaultZoneGates),

		// Shortcodes
		MTNPayCode:    getEnv("MTN_MOMO_PAY_CODE", ""),
		AirtelPayCode: getEnv("AIRTEL_MONEY_PAY_CODE", ""),

		// Membership
		MembershipValidityDays: getEnvAsInt("MEMBERSHIP_VALIDITY_DAYS", 365),

		// Passes
		RotationValidity: getEnvAsDuration("PASS_ROTATION_VALIDITY", "120s"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

// Validate reports configuration problems that must block startup in
// production. Development keeps running with warnings so local setups work
// without real shortcodes.
func (c *Config) Validate() error {
	var issues []string
	if !IsValidShortcode(c.MTNPayCode) {
		issues = append(issues, "MTN_MOMO_PAY_CODE")
	}
	if !IsValidShortcode(c.AirtelPayCode) {
		issues = append(issues, "AIRTEL_MONEY_PAY_CODE")
	}
	if len(issues) > 0 {
		return fmt.Errorf("missing or invalid payment shortcode configuration: %v", issues)
	}
	return nil
}

func IsValidShortcode(value string) bool {
	return shortcodePattern.MatchString(value)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsIntMap(key string, defaultValue map[string]int) map[string]int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parsed := map[string]int{}
	if err := json.Unmarshal([]byte(valueStr), &parsed); err != nil || len(parsed) == 0 {
		return defaultValue
	}
	return parsed
}

func getEnvAsInt64Map(key string, defaultValue map[string]int64) map[string]int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parsed := map[string]int64{}
	if err := json.Unmarshal([]byte(valueStr), &parsed); err != nil || len(parsed) == 0 {
		return defaultValue
	}
	return parsed
}

func getEnvAsStringMap(key string, defaultValue map[string]string) map[string]string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parsed := map[string]string{}
	if err := json.Unmarshal([]byte(valueStr), &parsed); err != nil || len(parsed) == 0 {
		return defaultValue
	}
	return parsed
}
