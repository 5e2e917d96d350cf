package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	MediaStoreMemory   = "memory"
	MediaStorePostgres = "postgres"
)

type Config struct {
	Env         string     `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath string     `yaml:"storage_path" env:"STORAGE_PATH" env-default:"./recordings"`
	PolicyPath  string     `yaml:"policy_path" env:"POLICY_PATH" env-default:"./autorecord.json"`
	MediaStore  string     `yaml:"media_store" env:"MEDIA_STORE" env-default:"memory"`
	HTTPServer  HTTPServer `yaml:"http_server"`
	DB          DB         `yaml:"db"`
	Transport   Transport  `yaml:"transport"`
	Recording   Recording  `yaml:"recording"`
	Prober      Prober     `yaml:"prober"`
	Auth        Auth       `yaml:"auth"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env-default:"localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"15s"`
}

type DB struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"5432"`
	Username string `yaml:"username" env-default:"postgres"`
	Password string `yaml:"-" env:"POSTGRES_PASSWORD"`
	DBName   string `yaml:"dbname" env-default:"recorder"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Transport struct {
	Path              string        `yaml:"path" env-default:"/"`
	DialTimeout       time.Duration `yaml:"dial_timeout" env-default:"2s"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env-default:"5s"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" env-default:"60s"`
	MaxReconnects     int           `yaml:"max_reconnects" env-default:"0"`
	VideoQuality      string        `yaml:"video_quality" env-default:"medium"`
}

type Recording struct {
	BufferSize       int           `yaml:"buffer_size" env-default:"60"`
	TimeBasedWrites  bool          `yaml:"time_based_writes" env-default:"false"`
	WriteInterval    time.Duration `yaml:"write_interval" env-default:"10s"`
	RotationInterval time.Duration `yaml:"rotation_interval" env-default:"60m"`
	ErrorThreshold   int           `yaml:"error_threshold" env-default:"5"`
	FallbackEvery    int           `yaml:"fallback_every" env-default:"3"`
	RateWindow       int           `yaml:"rate_window" env-default:"5"`
}

type Prober struct {
	Timeout         time.Duration `yaml:"timeout" env-default:"2s"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env-default:"30s"`
	StatusTTL       time.Duration `yaml:"status_ttl" env-default:"2m"`
	RatePerSecond   float64       `yaml:"rate_per_second" env-default:"10"`
	Burst           int           `yaml:"burst" env-default:"4"`
}

type Auth struct {
	Secret string `yaml:"-" env:"AUTH_SECRET"`
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		panic("CONFIG_PATH is not set")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	return &cfg
}
