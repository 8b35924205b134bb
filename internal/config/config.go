package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath используется, когда ни путь, ни GAME_CONFIG не заданы
const DefaultPath = "config/config.yml"

// Config корневая структура конфигурации приложения
type Config struct {
	Grid      GridConfig      `yaml:"grid"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Timing    TimingConfig    `yaml:"timing"`
	Match     MatchConfig     `yaml:"match"`
	Server    ServerConfig    `yaml:"server"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Sync      SyncConfig      `yaml:"sync"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GridConfig размеры сетки P×R×C
type GridConfig struct {
	Planes  int `yaml:"planes"`
	Rows    int `yaml:"rows"`
	Columns int `yaml:"columns"`
}

// CubesPerPlane возвращает емкость одного слоя
func (g GridConfig) CubesPerPlane() int { return g.Rows * g.Columns }

type ScoringConfig struct {
	ScorePerPlane int `yaml:"score_per_plane"`
}

// TimingConfig - все значения в секундах
type TimingConfig struct {
	StartTimeout float64 `yaml:"start_timeout"`
	MinTimeout   float64 `yaml:"min_timeout"`
	TimeoutStep  float64 `yaml:"timeout_step"`
	TimeTrigger  float64 `yaml:"time_trigger"`
	ScoreTrigger int     `yaml:"score_trigger"`
	TimeLimit    float64 `yaml:"time_limit"`
	TickInterval float64 `yaml:"tick_interval"`
}

// Tick возвращает период тика симуляции
func (t TimingConfig) Tick() time.Duration {
	return time.Duration(t.TickInterval * float64(time.Second))
}

type MatchConfig struct {
	DebugMode     bool    `yaml:"debug_mode"`
	VictoryHeight float64 `yaml:"victory_height"`
	PieceOwner    string  `yaml:"piece_owner"` // host | remote
	ResyncDelay   float64 `yaml:"resync_delay"`
	Seed          uint64  `yaml:"seed"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	KCPPort     int    `yaml:"kcp_port"`
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "GAME_KCP_PORT", 7777)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "GAME_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "GAME_METRICS_PORT", 2112)
}

type EventBusConfig struct {
	Type      string `yaml:"type"` // memory | jetstream
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

type SyncConfig struct {
	Source       string `yaml:"source"`
	BatchSize    int    `yaml:"batch_size"`
	FlushEvery   int    `yaml:"flush_every_seconds"`
	UseGzipCompr bool   `yaml:"use_gzip_compression"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // memory | badger | redis | mysql | sqlite | mongo
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
	Redis   struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Mongo struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	} `yaml:"mongo"`
}

type AuthConfig struct {
	JWTSecret string  `yaml:"jwt_secret"`
	TokenTTL  float64 `yaml:"token_ttl_hours"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

// Default возвращает конфигурацию с параметрами исходной игры
func Default() *Config {
	return &Config{
		Grid:    GridConfig{Planes: 12, Rows: 6, Columns: 6},
		Scoring: ScoringConfig{ScorePerPlane: 100},
		Timing: TimingConfig{
			StartTimeout: 2.0,
			MinTimeout:   0.3,
			TimeoutStep:  0.1,
			TimeTrigger:  30,
			ScoreTrigger: 500,
			TimeLimit:    300,
			TickInterval: 0.05,
		},
		Match: MatchConfig{
			VictoryHeight: 0,
			PieceOwner:    "host",
			ResyncDelay:   0.5,
		},
		EventBus: EventBusConfig{Type: "memory", Stream: "CUBESTACK", Retention: 24, Buffer: 1024},
		Sync:     SyncConfig{Source: "host", BatchSize: 64, FlushEvery: 1, UseGzipCompr: true},
		Storage:  StorageConfig{Backend: "memory", Path: "data/best_score"},
		Auth:     AuthConfig{TokenTTL: 12},
		Telemetry: TelemetryConfig{
			ServiceName: "cubestack",
			Endpoint:    "localhost:4318",
		},
		Logging: LoggingConfig{Dir: "logs", ConsoleLevel: "info", FileLevel: "debug"},
	}
}

var (
	ErrBadGrid   = errors.New("некорректные размеры сетки")
	ErrBadTiming = errors.New("некорректные параметры времени")
)

// MinFootprint - минимальные строки и столбцы, в которые помещается любая фигура
const MinFootprint = 4

// Validate проверяет согласованность параметров
func (c *Config) Validate() error {
	g := c.Grid
	if g.Planes <= 0 || g.Rows <= 0 || g.Columns <= 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrBadGrid, g.Planes, g.Rows, g.Columns)
	}
	if g.Rows < MinFootprint || g.Columns < 2 {
		return fmt.Errorf("%w: фигуры не помещаются в %dx%d", ErrBadGrid, g.Rows, g.Columns)
	}
	t := c.Timing
	if t.StartTimeout <= 0 || t.MinTimeout <= 0 || t.MinTimeout > t.StartTimeout {
		return fmt.Errorf("%w: start=%.2f min=%.2f", ErrBadTiming, t.StartTimeout, t.MinTimeout)
	}
	if t.TimeoutStep < 0 || t.TimeLimit <= 0 || t.TickInterval <= 0 {
		return fmt.Errorf("%w: step=%.2f limit=%.2f tick=%.3f", ErrBadTiming, t.TimeoutStep, t.TimeLimit, t.TickInterval)
	}
	if c.Scoring.ScorePerPlane < 0 {
		return fmt.Errorf("score_per_plane не может быть отрицательным: %d", c.Scoring.ScorePerPlane)
	}
	switch c.Match.PieceOwner {
	case "host", "remote":
	default:
		return fmt.Errorf("piece_owner должен быть host или remote, получено %q", c.Match.PieceOwner)
	}
	return nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", используется ENV GAME_CONFIG, затем DefaultPath;
// отсутствие файла по умолчанию не является ошибкой.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("GAME_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// конфиг не задан - используем дефолты
	default:
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
