package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

type OverpassCfg struct {
	Endpoint          string
	Query             string
	MinZoom           float64
	Timeout           time.Duration
	RetryOnTimeout    bool
	NoInitialRequest  bool
	Debug             bool
	UserAgent         string
	RateLimitRPS      float64
	RateLimitBurst    int
	ResponseCacheSize int
	ResponseCacheTTL  time.Duration
}

type RedisCfg struct {
	Enabled    bool
	Addr       string
	FeatureTTL time.Duration
	H3Res      int
}

// KafkaCfg is shared by the publishing layer and poi-indexer, which reads
// the topic back as GroupID.
type KafkaCfg struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	GroupID      string
	OffsetOldest bool
}

type Config struct {
	Addr        string
	LogLevel    string
	LogConsole  bool
	LogFile     string
	Overpass    OverpassCfg
	Redis       RedisCfg
	Kafka       KafkaCfg
	InitialBBox model.Rectangle
	InitialZoom float64
}

const (
	defaultEndpoint = "https://overpass-api.de/api/"
	defaultQuery    = "(node({{bbox}})[organic];node({{bbox}})[second_hand];);out qt;"
	// central London, roughly one screen at zoom 17
	defaultBBox = "-0.1310,51.5080,-0.1210,51.5130"
)

func FromEnv() Config {
	res := getint("H3_RES", 9)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	bbox, err := ParseBBox(getenv("INITIAL_BBOX", defaultBBox))
	if err != nil {
		bbox, _ = ParseBBox(defaultBBox)
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogFile:    getenv("LOG_FILE", ""),
		Overpass: OverpassCfg{
			Endpoint:          getenv("OVERPASS_ENDPOINT", defaultEndpoint),
			Query:             getenv("OVERPASS_QUERY", defaultQuery),
			MinZoom:           getfloat("MIN_ZOOM", 17),
			Timeout:           getduration("REQUEST_TIMEOUT", 30*time.Second),
			RetryOnTimeout:    getbool("RETRY_ON_TIMEOUT", false),
			NoInitialRequest:  getbool("NO_INITIAL_REQUEST", false),
			Debug:             getbool("DEBUG_BOXES", false),
			UserAgent:         getenv("USER_AGENT", "overpass-layer/1.0"),
			RateLimitRPS:      getfloat("RATE_LIMIT_RPS", 1),
			RateLimitBurst:    getint("RATE_LIMIT_BURST", 2),
			ResponseCacheSize: getint("RESPONSE_CACHE_SIZE", 64),
			ResponseCacheTTL:  getduration("RESPONSE_CACHE_TTL", 10*time.Minute),
		},
		Redis: RedisCfg{
			Enabled:    getbool("REDIS_ENABLED", false),
			Addr:       getenv("REDIS_ADDR", "localhost:6379"),
			FeatureTTL: getduration("FEATURE_TTL", 24*time.Hour),
			H3Res:      res,
		},
		Kafka: KafkaCfg{
			Enabled:      getbool("KAFKA_ENABLED", false),
			Brokers:      splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:        getenv("KAFKA_TOPIC", "poi-discovered"),
			GroupID:      getenv("KAFKA_GROUP_ID", "poi-indexer"),
			OffsetOldest: getbool("KAFKA_OFFSET_OLDEST", true),
		},
		InitialBBox: bbox,
		InitialZoom: getfloat("INITIAL_ZOOM", 17),
	}
}

// ParseBBox parses "west,south,east,north".
func ParseBBox(s string) (model.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.Rectangle{}, fmt.Errorf("bbox must have 4 comma-separated numbers, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.Rectangle{}, fmt.Errorf("bbox[%d]: %w", i, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return model.Rectangle{}, fmt.Errorf("bbox %q: west>east or south>north", s)
	}
	return model.RectangleFromBBox(v[0], v[1], v[2], v[3]), nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
