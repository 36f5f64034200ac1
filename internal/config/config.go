package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	MaxConns int

	// Device connection
	DeviceURL      string
	DevicePassword string
	HTTPTimeout    time.Duration

	// Auth
	ServiceAPIKey string

	// Extraction
	ExtractWait   time.Duration
	RetryWait     time.Duration
	ReadChunkSize int
	MaxChunks     int
	WindowBase    uint16
	DriveUSB0     int
	DriveUSB1     int
	LocalPlaylist string
	PlaylistPath  string
	ResetFirst    bool
	ResetSettle   time.Duration

	// Playback
	SongDuration time.Duration

	// Job state
	JobTTL       time.Duration
	MaxQueueSize int

	// Logging
	LogLevel   string
	LogJournal bool
}

func Load() Config {
	cfg := Config{
		Port:     envOr("PORT", "8090"),
		MaxConns: envInt("MAX_CONNS", 64),

		DeviceURL:      envOr("DEVICE_URL", "http://192.168.1.64"),
		DevicePassword: os.Getenv("DEVICE_PASSWORD"),
		HTTPTimeout:    envDuration("HTTP_TIMEOUT", 10*time.Second),

		ServiceAPIKey: os.Getenv("SERVICE_API_KEY"),

		ExtractWait:   envDuration("EXTRACT_WAIT", 8*time.Second),
		RetryWait:     envDuration("EXTRACT_RETRY_WAIT", 12*time.Second),
		ReadChunkSize: envInt("READ_CHUNK_SIZE", 256),
		MaxChunks:     envInt("MAX_CHUNKS", 16),
		WindowBase:    envAddr("WINDOW_BASE", 0xC000),
		DriveUSB0:     envInt("DRIVE_USB0", 11),
		DriveUSB1:     envInt("DRIVE_USB1", 12),
		LocalPlaylist: os.Getenv("LOCAL_PLAYLIST"),
		PlaylistPath:  envOr("PLAYLIST_PATH", "/USB0/SIDFILES.TXT"),
		ResetFirst:    envBool("RESET_BEFORE_RUN", false),
		ResetSettle:   envDuration("RESET_SETTLE", 2*time.Second),

		SongDuration: envDuration("SONG_DURATION", 0),

		JobTTL:       envDuration("JOB_TTL", 1*time.Hour),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 16),

		LogLevel:   envOr("LOG_LEVEL", "info"),
		LogJournal: envBool("LOG_JOURNAL", false),
	}

	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 64
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.ExtractWait <= 0 {
		cfg.ExtractWait = 8 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 12 * time.Second
	}
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = 256
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 16
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 16
	}

	return cfg
}

// WindowSize is the span of device memory the loader copies into,
// starting at WindowBase.
const WindowSize = 0x1000

func (c Config) Validate() error {
	if c.ServiceAPIKey == "" {
		return fmt.Errorf("SERVICE_API_KEY is required")
	}
	u, err := url.Parse(c.DeviceURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("DEVICE_URL %q is not an http(s) URL", c.DeviceURL)
	}
	if c.DriveUSB0 < 8 || c.DriveUSB0 > 30 || c.DriveUSB1 < 8 || c.DriveUSB1 > 30 {
		return fmt.Errorf("drive units must be between 8 and 30")
	}
	if c.DriveUSB0 == c.DriveUSB1 {
		return fmt.Errorf("DRIVE_USB0 and DRIVE_USB1 must differ")
	}
	if c.WindowBase == 0 {
		return fmt.Errorf("WINDOW_BASE is not a valid address")
	}
	if c.ReadChunkSize*c.MaxChunks < WindowSize {
		return fmt.Errorf("READ_CHUNK_SIZE x MAX_CHUNKS (%d x %d) must cover the %d byte window",
			c.ReadChunkSize, c.MaxChunks, WindowSize)
	}
	if !strings.HasPrefix(c.PlaylistPath, "/") {
		return fmt.Errorf("PLAYLIST_PATH must be absolute")
	}
	return nil
}

func envOr(key, fallback string) string {
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

// envAddr accepts decimal, 0x-prefixed or $-prefixed addresses.
func envAddr(key string, fallback uint16) uint16 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	base := 0
	if strings.HasPrefix(v, "$") {
		v, base = v[1:], 16
	}
	n, err := strconv.ParseUint(v, base, 16)
	if err != nil {
		return fallback
	}
	return uint16(n)
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
