package server

import (
	"os"
	"strconv"
	"time"
)

// Config 进程级配置，全部来自环境变量（main 里可用 -addr 覆盖监听地址）
type Config struct {
	Addr     string
	LogFile  string // 为空则输出到 stderr
	LogLevel string
	WebDir   string

	PrizeMode         string
	MaxMembersPerRoom int

	RateLimitPerIP   float64 // 每 IP 每秒可建立的连接数
	ActionsPerSecond float64 // 每个连接每秒可发送的动作数，<=0 不限

	EmptyRoomTTL  time.Duration
	SweepInterval time.Duration
	SendBuffer    int
}

func LoadConfig() *Config {
	addr := envStr("BONGO_ADDR", "")
	if addr == "" {
		addr = ":" + envStr("PORT", "3001")
	}
	return &Config{
		Addr:              addr,
		LogFile:           envStr("BONGO_LOG_FILE", ""),
		LogLevel:          envStr("BONGO_LOG_LEVEL", "info"),
		WebDir:            envStr("BONGO_WEB_DIR", "web"),
		PrizeMode:         envStr("BONGO_PRIZE_MODE", "random"),
		MaxMembersPerRoom: envInt("BONGO_MAX_MEMBERS", 0),
		RateLimitPerIP:    float64(envInt("BONGO_RATE_LIMIT_PER_IP", 20)),
		ActionsPerSecond:  float64(envInt("BONGO_ACTIONS_PER_SEC", 20)),
		EmptyRoomTTL:      envDuration("BONGO_EMPTY_ROOM_TTL", 5*time.Minute),
		SweepInterval:     envDuration("BONGO_SWEEP_INTERVAL", 30*time.Second),
		SendBuffer:        envInt("BONGO_SEND_BUFFER", 64),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration 接受 "90s" 这类写法，也接受纯数字（秒）
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
