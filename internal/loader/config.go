package loader

import (
	"fmt"
	"net/url"
	"strings"
)

// Parallelism is the loader's thread-count hint.
type Parallelism string

const (
	ParallelismLow           Parallelism = "LOW"
	ParallelismMedium        Parallelism = "MEDIUM"
	ParallelismHigh          Parallelism = "HIGH"
	ParallelismOversubscribe Parallelism = "OVERSUBSCRIBE"
)

// ParseParallelism accepts "high", "HIGH" and qualified forms such as
// "Parallelism.HIGH".
func ParseParallelism(s string) (Parallelism, error) {
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	p := Parallelism(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case ParallelismLow, ParallelismMedium, ParallelismHigh, ParallelismOversubscribe:
		return p, nil
	}
	return "", &ConfigurationError{Reason: fmt.Sprintf("unknown parallelism %q", s)}
}

// Config is the static configuration of a load.
type Config struct {
	// Endpoint is the cluster host, optionally with port, e.g.
	// "my-cluster.cluster-xyz.eu-west-1.neptune.amazonaws.com:8182".
	Endpoint string

	IAMRoleARN string
	Region     string

	// Format of the source files. Default: ntriples
	Format string

	// Parallelism hint. Default: MEDIUM
	Parallelism Parallelism

	UpdateSingleCardinalityProperties bool
	QueueRequest                      bool
	FailOnError                       bool
}

func (c *Config) applyDefaults() {
	if c.Format == "" {
		c.Format = "ntriples"
	}
	if c.Parallelism == "" {
		c.Parallelism = ParallelismMedium
	}
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return &ConfigurationError{Reason: "endpoint is required"}
	}
	if c.Region == "" {
		return &ConfigurationError{Reason: "region is required"}
	}
	if _, err := ParseParallelism(string(c.Parallelism)); err != nil {
		return err
	}
	return nil
}

// ParseSource splits an s3://bucket/key location. The key may be empty or a
// prefix.
func ParseSource(source string) (bucket, key string, err error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", &ConfigurationError{Reason: fmt.Sprintf("not a valid S3 URL %q: %v", source, err)}
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", &ConfigurationError{Reason: fmt.Sprintf("not a valid S3 URL %q", source)}
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func flag(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
