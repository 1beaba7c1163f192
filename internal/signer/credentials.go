package signer

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Credentials are the values a request is signed with.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

func (c Credentials) validate() error {
	if c.Region == "" {
		return errors.New("region is required")
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.New("access key id and secret access key are required")
	}
	return nil
}

// CredentialSource resolves the credentials for the next request.
type CredentialSource interface {
	Credentials() (Credentials, error)
}

// StaticCredentials is a CredentialSource holding explicit credentials.
type StaticCredentials Credentials

// Credentials implements CredentialSource.
func (s StaticCredentials) Credentials() (Credentials, error) {
	return Credentials(s), nil
}

// ProviderCredentials resolves credentials from a minio-go provider, for
// example the ambient chain returned by NewAmbientCredentials.
type ProviderCredentials struct {
	provider *credentials.Credentials
	region   string
}

// NewProviderCredentials wraps a minio-go credentials provider. If region is
// empty it falls back to AWS_REGION, then AWS_DEFAULT_REGION.
func NewProviderCredentials(provider *credentials.Credentials, region string) *ProviderCredentials {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	return &ProviderCredentials{provider: provider, region: region}
}

// NewAmbientCredentials resolves credentials from the environment, the
// shared credentials file and instance metadata, in that order.
func NewAmbientCredentials(region string) *ProviderCredentials {
	chain := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
	})
	return NewProviderCredentials(chain, region)
}

// Provider returns the underlying minio-go provider.
func (p *ProviderCredentials) Provider() *credentials.Credentials {
	return p.provider
}

// Credentials implements CredentialSource.
func (p *ProviderCredentials) Credentials() (Credentials, error) {
	v, err := p.provider.Get()
	if err != nil {
		return Credentials{}, fmt.Errorf("resolve credentials: %w", err)
	}
	return Credentials{
		AccessKeyID:     v.AccessKeyID,
		SecretAccessKey: v.SecretAccessKey,
		SessionToken:    v.SessionToken,
		Region:          p.region,
	}, nil
}
