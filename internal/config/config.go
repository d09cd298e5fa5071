// Package config loads the YAML file describing connections and tasks.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"saasloader/internal/domain"
	"saasloader/internal/mail"
	"saasloader/internal/secret"
)

const (
	// DefaultPath is used when neither --config nor SAASLOADER_CONFIG is set.
	DefaultPath = "saasloader.yaml"
	// EnvPath names the environment variable holding the config path.
	EnvPath = "SAASLOADER_CONFIG"

	DefaultStateDB     = "saasloader.db"
	DefaultTaskTimeout = 30 * time.Minute
)

// Config is the root of saasloader.yaml.
type Config struct {
	StateDB     string                        `yaml:"state_db"`
	LogLevel    string                        `yaml:"log_level"`
	LogFormat   string                        `yaml:"log_format"`
	MetricsAddr string                        `yaml:"metrics_addr"`
	Lock        LockConfig                    `yaml:"lock"`
	Events      EventsConfig                  `yaml:"events"`
	SMTP        mail.SMTPConfig               `yaml:"smtp"`
	Connections map[string]*domain.Connection `yaml:"connections"`
	Tasks       []Task                        `yaml:"tasks"`
}

// LockConfig selects the table lock backend. Without a Redis address locks
// are held in-process.
type LockConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// EventsConfig enables publishing run events to Kafka.
type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	Topic        string   `yaml:"topic"`
}

// Task is one configured operator invocation.
type Task struct {
	ID       string         `yaml:"id" json:"id"`
	Operator string         `yaml:"operator" json:"operator"`
	Schedule string         `yaml:"schedule" json:"schedule,omitempty"` // cron expression
	Watch    []string       `yaml:"watch" json:"watch,omitempty"`       // files that trigger a run
	Timeout  time.Duration  `yaml:"timeout" json:"timeout,omitempty"`
	Params   map[string]any `yaml:"params" json:"params,omitempty"`
}

// EffectiveTimeout returns the task timeout or the default.
func (t *Task) EffectiveTimeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTaskTimeout
}

// ResolvePath applies the precedence flag > env > default.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands ${VAR} references and decodes the YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StateDB == "" {
		c.StateDB = DefaultStateDB
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Connections == nil {
		c.Connections = map[string]*domain.Connection{}
	}
	for id, conn := range c.Connections {
		if conn == nil {
			conn = &domain.Connection{}
			c.Connections[id] = conn
		}
		conn.ID = id
	}
}

// knownTypes lists the connection types operators understand.
var knownTypes = map[string]bool{
	string(domain.DatabaseDriverPostgres): true,
	string(domain.DatabaseDriverRedshift): true,
	string(domain.DatabaseDriverMySQL):    true,
	string(domain.DatabaseDriverSQLite):   true,
	string(domain.DatabaseDriverMongoDB):  true,
	"aws":                                 true,
	"http":                                true,
	"zoom":                                true,
	"gotowebinar":                         true,
	"outreach":                            true,
	"hubspot":                             true,
	"salesforce":                          true,
	"youcanbookme":                        true,
	"surveygizmo":                         true,
	"zuora":                               true,
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	ids := make([]string, 0, len(c.Connections))
	for id := range c.Connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if t := c.Connections[id].Type; !knownTypes[t] {
			errs = append(errs, fmt.Errorf("connection %s: unknown type %q", id, t))
		}
	}

	seen := map[string]bool{}
	for i, t := range c.Tasks {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("task #%d: id is required", i+1))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("task %s: duplicate id", t.ID))
		}
		seen[t.ID] = true
		if t.Operator == "" {
			errs = append(errs, fmt.Errorf("task %s: operator is required", t.ID))
		}
	}
	return errors.Join(errs...)
}

// Task returns the task with the given id.
func (c *Config) Task(id string) (*Task, error) {
	for i := range c.Tasks {
		if c.Tasks[i].ID == id {
			return &c.Tasks[i], nil
		}
	}
	return nil, fmt.Errorf("task not found: %s", id)
}

// Connection implements domain.ConnectionResolver.
func (c *Config) Connection(id string) (*domain.Connection, error) {
	conn, ok := c.Connections[id]
	if !ok {
		return nil, fmt.Errorf("connection not found: %s", id)
	}
	return conn, nil
}

// ResolveSecrets fills empty connection passwords (and the SMTP password
// under "smtp") from the store. SQLite connections have no password.
func (c *Config) ResolveSecrets(store secret.SecretStore) error {
	if store == nil {
		return nil
	}
	for id, conn := range c.Connections {
		if conn.Password != "" || conn.Driver() == domain.DatabaseDriverSQLite {
			continue
		}
		v, err := store.Get(id)
		if err != nil {
			return fmt.Errorf("secret for %s: %w", id, err)
		}
		conn.Password = strings.TrimRight(string(v), "\r\n")
	}
	if c.SMTP.Password == "" && c.SMTP.Username != "" {
		v, err := store.Get("smtp")
		if err != nil {
			return fmt.Errorf("secret for smtp: %w", err)
		}
		c.SMTP.Password = strings.TrimRight(string(v), "\r\n")
	}
	return nil
}
