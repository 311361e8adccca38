package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config представляет конфигурацию приложения
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Backend — внешний сервис распознавания эмоций и справочник камер
	Backend struct {
		APIURL         string        `yaml:"api_url"`
		ProcessTimeout time.Duration `yaml:"process_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"backend"`

	// WebSocket настройки клиентских соединений
	WebSocket struct {
		ReadBufferSize  int           `yaml:"read_buffer_size"`
		WriteBufferSize int           `yaml:"write_buffer_size"`
		SendQueueSize   int           `yaml:"send_queue_size"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
	} `yaml:"websocket"`

	// Proxy настройки проксирования потоков IP-камер
	Proxy struct {
		PathPrefix      string        `yaml:"path_prefix"`
		FreshnessWindow time.Duration `yaml:"freshness_window"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
		GCInterval      time.Duration `yaml:"gc_interval"`
	} `yaml:"proxy"`

	// Security
	Security struct {
		EnableCORS     bool     `yaml:"enable_cors"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"security"`

	// Static — каталог единой страницы UI
	Static struct {
		Dir   string `yaml:"dir"`
		Index string `yaml:"index"`
	} `yaml:"static"`

	// Logging
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadConfig загружает конфигурацию из файла
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := GetDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// GetDefaultConfig возвращает конфигурацию по умолчанию
func GetDefaultConfig() *Config {
	cfg := &Config{
		Host: "0.0.0.0",
		Port: 3000,
	}

	cfg.Backend.APIURL = "http://localhost:8000"
	cfg.Backend.ProcessTimeout = 10 * time.Second
	cfg.Backend.RequestTimeout = 5 * time.Second

	cfg.WebSocket.ReadBufferSize = 1024
	cfg.WebSocket.WriteBufferSize = 1024
	cfg.WebSocket.SendQueueSize = 100
	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.WriteTimeout = 10 * time.Second

	cfg.Proxy.PathPrefix = "/api/camera-proxy"
	cfg.Proxy.FreshnessWindow = 500 * time.Millisecond
	cfg.Proxy.IdleTimeout = 30 * time.Second
	cfg.Proxy.UpstreamTimeout = 5 * time.Second
	cfg.Proxy.GCInterval = 10 * time.Second

	cfg.Security.EnableCORS = true
	cfg.Security.AllowedOrigins = []string{"*"}

	cfg.Static.Dir = "./static"
	cfg.Static.Index = "./static/index.html"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}
