package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"neptuneload/internal/loader"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"NEPTUNE_ENDPOINT", "NEPTUNE_LOADER_IAM_ROLE", "SERVICE_REGION",
		"AWS_REGION", "AWS_DEFAULT_REGION",
		"S3_BUCKET", "TRIPLE_NAME",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN",
	} {
		t.Setenv(name, "")
	}
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("endpoint", "", "")
	fs.String("source", "", "")
	fs.String("parallelism", "", "")
	fs.Duration("max-wait", 0, "")
	fs.Bool("fail-fast", true, "")
	fs.Int("workers", 0, "")
	return fs
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "ntriples", cfg.Load.Format)
	assert.Equal(t, "MEDIUM", cfg.Load.Parallelism)
	assert.True(t, cfg.Load.UpdateSingleCardinality)
	assert.False(t, cfg.Load.QueueRequest)
	assert.False(t, cfg.Load.FailOnError)
	assert.True(t, cfg.Load.FailFast)
	assert.Equal(t, 5*time.Second, cfg.Load.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Load.MaxWait)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "./loads.db", cfg.Journal)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)

	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
neptune:
  endpoint: from-file.example.com
  region: eu-west-1
  iam_role_arn: arn:aws:iam::123456789012:role/file
load:
  source: s3://file-bucket/data.nt
  parallelism: low
  max_wait: 1m
workers: 2
`), 0o600))

	t.Setenv("NEPTUNE_ENDPOINT", "from-env.example.com")
	t.Setenv("S3_BUCKET", "env-bucket")
	t.Setenv("TRIPLE_NAME", "triples.nt")

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--parallelism=Parallelism.HIGH", "--max-wait=90s"}))

	cfg, err := Load(file, fs)
	require.NoError(t, err)

	assert.Equal(t, "from-env.example.com", cfg.Neptune.Endpoint)
	assert.Equal(t, "eu-west-1", cfg.Neptune.Region)
	assert.Equal(t, "arn:aws:iam::123456789012:role/file", cfg.Neptune.IAMRoleARN)
	assert.Equal(t, "s3://env-bucket/triples.nt", cfg.Load.Source)
	assert.Equal(t, "Parallelism.HIGH", cfg.Load.Parallelism)
	assert.Equal(t, 90*time.Second, cfg.Load.MaxWait)
	assert.Equal(t, 2, cfg.Workers)

	// Unchanged flags keep the lower layers.
	assert.True(t, cfg.Load.FailFast)

	lc := cfg.LoaderConfig()
	assert.Equal(t, loader.ParallelismHigh, lc.Parallelism)
	assert.Equal(t, "from-env.example.com:8182", lc.Endpoint)
}

func TestLoadCredentialsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_SESSION_TOKEN", "token")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", cfg.Credentials.AccessKeyID)
	assert.Equal(t, "secret", cfg.Credentials.SecretAccessKey)
	assert.Equal(t, "token", cfg.Credentials.SessionToken)
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"parallelism", []string{"--parallelism=extreme"}},
		{"max wait", []string{"--max-wait=0s"}},
		{"workers", []string{"--workers=0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := testFlags()
			require.NoError(t, fs.Parse(tt.args))
			_, err := Load("", fs)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidateLoad(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateEndpoint())
	assert.Error(t, cfg.ValidateLoad())

	cfg.Neptune.Endpoint = "neptune.example.com"
	assert.Error(t, cfg.ValidateEndpoint())

	cfg.Neptune.Region = "us-east-1"
	require.NoError(t, cfg.ValidateEndpoint())
	assert.Error(t, cfg.ValidateLoad())

	cfg.Load.Source = "https://bucket/key"
	assert.Error(t, cfg.ValidateLoad())

	cfg.Load.Source = "s3://bucket/key"
	assert.Error(t, cfg.ValidateLoad())

	cfg.Neptune.IAMRoleARN = "arn:aws:iam::123456789012:role/loader"
	assert.NoError(t, cfg.ValidateLoad())
}

func TestHost(t *testing.T) {
	cfg := Default()
	cfg.Neptune.Endpoint = "neptune.example.com"
	assert.Equal(t, "neptune.example.com:8182", cfg.Host())

	cfg.Neptune.Endpoint = "neptune.example.com:9999"
	assert.Equal(t, "neptune.example.com:9999", cfg.Host())

	cfg.Neptune.Endpoint = "neptune.example.com"
	cfg.Neptune.Port = 0
	assert.Equal(t, "neptune.example.com", cfg.Host())
}

func TestRegionFallsBackToAWSEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AWS_DEFAULT_REGION", "us-west-2")

	cfg := Default()
	loadFromEnv(cfg, os.Getenv)
	assert.Equal(t, "us-west-2", cfg.Neptune.Region)

	t.Setenv("AWS_REGION", "eu-west-1")
	cfg = Default()
	loadFromEnv(cfg, os.Getenv)
	assert.Equal(t, "eu-west-1", cfg.Neptune.Region)

	t.Setenv("SERVICE_REGION", "ap-southeast-1")
	cfg = Default()
	loadFromEnv(cfg, os.Getenv)
	assert.Equal(t, "ap-southeast-1", cfg.Neptune.Region)
	assert.Equal(t, "ap-southeast-1", cfg.LoaderConfig().Region)
}

func TestFileRegionWinsOverAWSEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg := Default()
	cfg.Neptune.Region = "us-east-2"
	loadFromEnv(cfg, os.Getenv)
	assert.Equal(t, "us-east-2", cfg.Neptune.Region)
}
