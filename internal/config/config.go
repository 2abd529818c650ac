package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Engine     EngineConfig     `json:"engine"`
	Storage    StorageConfig    `json:"storage"`
	Reverse    ReverseConfig    `json:"reverse"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	Services   ServicesConfig   `json:"services"`
}

type ServerConfig struct {
	HTTPAddr       string `json:"http_addr"`
	AuthToken      string `json:"auth_token"`
	DBAAppBkBizID  int    `json:"dba_app_bk_biz_id"`
	MaxRequestBody int64  `json:"max_request_body"`
}

// ServicesConfig points at the platform services the worker calls out
// to. Empty addresses disable the corresponding components.
type ServicesConfig struct {
	JobAddr      string `json:"job_addr"`
	MonitorAddr  string `json:"monitor_addr"`
	CLBAddr      string `json:"clb_addr"`
	ResourceAddr string `json:"resource_addr"`
	Token        string `json:"token"`
}

type EngineConfig struct {
	TemporalAddr string `json:"temporal_addr"`
	Namespace    string `json:"namespace"`
	TaskQueue    string `json:"task_queue"`
	HealthAddr   string `json:"health_addr"`
}

type StorageConfig struct {
	PostgresDSN string `json:"postgres_dsn"`
}

type ReverseConfig struct {
	KafkaOptions   KafkaOptions `json:"kafka_options"`
	CrondBeatPath  string       `json:"crond_beat_path"`
	CrondAgentAddr string       `json:"crond_agent_addr"`
}

type KafkaOptions struct {
	Brokers  []string `json:"brokers"`
	Username string   `json:"username"`
	Password string   `json:"password"`
}

type ReconcilerConfig struct {
	Enabled          bool   `json:"enabled"`
	PollIntervalSecs int    `json:"poll_interval_secs"`
	AutofixCron      string `json:"autofix_cron"`
	DrillCron        string `json:"drill_cron"`
	DrillSpecPath    string `json:"drill_spec_path"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// applyEnv overlays the environment inputs agents and deploy tooling set.
// Env values win over the file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("REVERSE_REPORT_KAFKA_OPTIONS")); v != "" {
		var opts KafkaOptions
		if err := json.Unmarshal([]byte(v), &opts); err == nil {
			cfg.Reverse.KafkaOptions = opts
		}
	}
	if v := strings.TrimSpace(os.Getenv("MYSQL_CROND_BEAT_PATH")); v != "" {
		cfg.Reverse.CrondBeatPath = v
	}
	if v := strings.TrimSpace(os.Getenv("MYSQL_CROND_AGENT_ADDRESS")); v != "" {
		cfg.Reverse.CrondAgentAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DBA_APP_BK_BIZ_ID")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.DBAAppBkBizID = n
		}
	}
}

func (c Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr required")
	}
	if c.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn required")
	}
	if c.Engine.TemporalAddr == "" {
		return errors.New("engine.temporal_addr required")
	}
	if c.Engine.TaskQueue == "" {
		return errors.New("engine.task_queue required")
	}
	if c.Reconciler.Enabled {
		if strings.TrimSpace(c.Reconciler.AutofixCron) == "" {
			return errors.New("reconciler.autofix_cron required when reconciler.enabled is true")
		}
	}
	if len(c.Reverse.KafkaOptions.Brokers) > 0 {
		for _, b := range c.Reverse.KafkaOptions.Brokers {
			if strings.TrimSpace(b) == "" {
				return errors.New("reverse.kafka_options.brokers must not contain empty entries")
			}
		}
	}
	return nil
}
