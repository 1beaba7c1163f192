package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"neptuneload/internal/loader"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Neptune     Neptune     `yaml:"neptune"`
	Credentials Credentials `yaml:"credentials"`
	Load        LoadOptions `yaml:"load"`
	HTTP        HTTP        `yaml:"http"`
	Journal     string      `yaml:"journal"`
	MetricsAddr string      `yaml:"metrics_addr"`
	Workers     int         `yaml:"workers"`
	LogLevel    string      `yaml:"log_level"`
}

// Neptune represents the target cluster
type Neptune struct {
	Endpoint   string `yaml:"endpoint"`
	Port       int    `yaml:"port"`
	Region     string `yaml:"region"`
	IAMRoleARN string `yaml:"iam_role_arn"`
}

// Credentials holds explicit signing credentials. When the access key is
// empty the ambient provider chain is used instead.
type Credentials struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// LoadOptions represents bulk load configuration
type LoadOptions struct {
	Source                  string        `yaml:"source"`
	Format                  string        `yaml:"format"`
	Parallelism             string        `yaml:"parallelism"`
	UpdateSingleCardinality bool          `yaml:"update_single_cardinality"`
	QueueRequest            bool          `yaml:"queue_request"`
	FailOnError             bool          `yaml:"fail_on_error"`
	PollInterval            time.Duration `yaml:"poll_interval"`
	MaxWait                 time.Duration `yaml:"max_wait"`
	FailFast                bool          `yaml:"fail_fast"`
	CancelActive            bool          `yaml:"cancel_active"`
	VerifySource            bool          `yaml:"verify_source"`
	S3Endpoint              string        `yaml:"s3_endpoint"`
}

// HTTP represents transport configuration
type HTTP struct {
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// Default returns the configuration used before any file, environment
// variable or flag is applied.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Journal:  "./loads.db",
		Workers:  4,
		Neptune: Neptune{
			Port: 8182,
		},
		Load: LoadOptions{
			Format:                  "ntriples",
			Parallelism:             string(loader.ParallelismMedium),
			UpdateSingleCardinality: true,
			PollInterval:            5 * time.Second,
			MaxWait:                 10 * time.Minute,
			FailFast:                true,
			S3Endpoint:              "s3.amazonaws.com",
		},
		HTTP: HTTP{
			Timeout: 30 * time.Second,
		},
	}
}

// Load loads configuration from file, environment and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg, os.Getenv)

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv applies the variables the loader scripts are deployed with.
func loadFromEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("NEPTUNE_ENDPOINT"); v != "" {
		cfg.Neptune.Endpoint = v
	}
	if v := getenv("NEPTUNE_LOADER_IAM_ROLE"); v != "" {
		cfg.Neptune.IAMRoleARN = v
	}
	if v := getenv("SERVICE_REGION"); v != "" {
		cfg.Neptune.Region = v
	}
	for _, name := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if cfg.Neptune.Region != "" {
			break
		}
		cfg.Neptune.Region = getenv(name)
	}
	if bucket, name := getenv("S3_BUCKET"), getenv("TRIPLE_NAME"); bucket != "" {
		cfg.Load.Source = fmt.Sprintf("s3://%s/%s", bucket, name)
	}
	if v := getenv("AWS_ACCESS_KEY_ID"); v != "" && cfg.Credentials.AccessKeyID == "" {
		cfg.Credentials.AccessKeyID = v
		cfg.Credentials.SecretAccessKey = getenv("AWS_SECRET_ACCESS_KEY")
		cfg.Credentials.SessionToken = getenv("AWS_SESSION_TOKEN")
	}
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetString(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetBool(name)
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetInt(name)
		}
	}
	duration := func(name string, dst *time.Duration) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetDuration(name)
		}
	}

	str("endpoint", &cfg.Neptune.Endpoint)
	integer("port", &cfg.Neptune.Port)
	str("region", &cfg.Neptune.Region)
	str("iam-role-arn", &cfg.Neptune.IAMRoleARN)

	str("access-key-id", &cfg.Credentials.AccessKeyID)
	str("secret-access-key", &cfg.Credentials.SecretAccessKey)
	str("session-token", &cfg.Credentials.SessionToken)

	str("source", &cfg.Load.Source)
	str("format", &cfg.Load.Format)
	str("parallelism", &cfg.Load.Parallelism)
	boolean("update-single-cardinality", &cfg.Load.UpdateSingleCardinality)
	boolean("queue-request", &cfg.Load.QueueRequest)
	boolean("fail-on-error", &cfg.Load.FailOnError)
	duration("poll-interval", &cfg.Load.PollInterval)
	duration("max-wait", &cfg.Load.MaxWait)
	boolean("fail-fast", &cfg.Load.FailFast)
	boolean("cancel-active", &cfg.Load.CancelActive)
	boolean("verify-source", &cfg.Load.VerifySource)
	str("s3-endpoint", &cfg.Load.S3Endpoint)

	duration("http-timeout", &cfg.HTTP.Timeout)
	boolean("insecure-skip-verify", &cfg.HTTP.InsecureSkipVerify)

	str("journal", &cfg.Journal)
	str("metrics-addr", &cfg.MetricsAddr)
	integer("workers", &cfg.Workers)
	str("log-level", &cfg.LogLevel)

	return err
}

func (c *Config) validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Load.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Load.MaxWait <= 0 {
		return fmt.Errorf("max wait must be positive")
	}
	if _, err := loader.ParseParallelism(c.Load.Parallelism); err != nil {
		return err
	}
	if c.Credentials.AccessKeyID != "" && c.Credentials.SecretAccessKey == "" {
		return fmt.Errorf("secret access key is required when an access key id is set")
	}
	return nil
}

// ValidateEndpoint checks what every command talking to the cluster needs.
func (c *Config) ValidateEndpoint() error {
	if c.Neptune.Endpoint == "" {
		return fmt.Errorf("neptune endpoint is required")
	}
	if c.Neptune.Region == "" {
		return fmt.Errorf("region is required")
	}
	return nil
}

// ValidateLoad checks what starting a new load needs.
func (c *Config) ValidateLoad() error {
	if err := c.ValidateEndpoint(); err != nil {
		return err
	}
	if c.Load.Source == "" {
		return fmt.Errorf("load source is required")
	}
	if _, _, err := loader.ParseSource(c.Load.Source); err != nil {
		return err
	}
	if c.Neptune.IAMRoleARN == "" {
		return fmt.Errorf("loader IAM role ARN is required")
	}
	return nil
}

// Host returns the endpoint with the port appended when it has none.
func (c *Config) Host() string {
	if c.Neptune.Port == 0 || strings.Contains(c.Neptune.Endpoint, ":") {
		return c.Neptune.Endpoint
	}
	return fmt.Sprintf("%s:%d", c.Neptune.Endpoint, c.Neptune.Port)
}

// LoaderConfig returns the bulk loader configuration.
func (c *Config) LoaderConfig() loader.Config {
	parallelism, _ := loader.ParseParallelism(c.Load.Parallelism)
	return loader.Config{
		Endpoint:                          c.Host(),
		IAMRoleARN:                        c.Neptune.IAMRoleARN,
		Region:                            c.Neptune.Region,
		Format:                            c.Load.Format,
		Parallelism:                       parallelism,
		UpdateSingleCardinalityProperties: c.Load.UpdateSingleCardinality,
		QueueRequest:                      c.Load.QueueRequest,
		FailOnError:                       c.Load.FailOnError,
	}
}
