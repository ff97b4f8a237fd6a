// Package secrets supplies the broker credentials the connection cache
// authenticates with.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	errspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/errors"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/jsoncodec"
	loggingpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/logging"
)

// Credentials are the broker login details stored in the secret.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
}

func (c Credentials) String() string {
	password := ""
	if c.Password != "" {
		password = "***REDACTED***"
	}
	return fmt.Sprintf("{Username:%s Password:%s Host:%s}", c.Username, password, c.Host)
}

// Validate reports every missing field.
func (c Credentials) Validate() error {
	var errs []error
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	return errors.Join(errs...)
}

// Provider fetches broker credentials.
type Provider interface {
	Fetch(ctx context.Context) (Credentials, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Credentials, error)

func (f ProviderFunc) Fetch(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// StaticProvider always returns the same credentials. Used for local brokers.
func StaticProvider(creds Credentials) Provider {
	return ProviderFunc(func(context.Context) (Credentials, error) {
		if err := creds.Validate(); err != nil {
			return Credentials{}, &errspkg.CredentialFetchError{Source: "static", Err: err}
		}
		return creds, nil
	})
}

var AWSDefaultConfigLoader = awsconfig.LoadDefaultConfig

// LoadAWSConfig resolves the SDK configuration for the given region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	// Ensure region is set even if the loader ignores options (e.g. in tests)
	if region != "" {
		cfg.Region = region
	}
	return cfg, nil
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerProvider reads a JSON {username,password,host} secret.
type SecretsManagerProvider struct {
	client     secretsManagerAPI
	secretName string
	logger     loggingpkg.ServiceLogger
}

func NewSecretsManagerProvider(client secretsManagerAPI, secretName string, logger loggingpkg.ServiceLogger) *SecretsManagerProvider {
	if client == nil {
		panic("secrets manager client is required")
	}
	if secretName == "" {
		panic("secret name is required")
	}
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &SecretsManagerProvider{client: client, secretName: secretName, logger: logger}
}

// NewSecretsManagerProviderFromConfig builds the SDK client. endpoint
// optionally points at LocalStack.
func NewSecretsManagerProviderFromConfig(cfg aws.Config, secretName, endpoint string, logger loggingpkg.ServiceLogger) *SecretsManagerProvider {
	client := secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewSecretsManagerProvider(client, secretName, logger)
}

func (p *SecretsManagerProvider) Fetch(ctx context.Context) (Credentials, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretName),
	})
	if err != nil {
		fields := loggingpkg.LogFields{"secret_name": p.secretName}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			fields["error_code"] = apiErr.ErrorCode()
		}
		p.logger.Error("Failed to retrieve broker credentials", err, fields)
		return Credentials{}, p.fail(err)
	}
	if out == nil || out.SecretString == nil {
		return Credentials{}, p.fail(errors.New("secret has no string value"))
	}

	var creds Credentials
	if err := jsoncodec.Unmarshal([]byte(*out.SecretString), &creds); err != nil {
		return Credentials{}, p.fail(fmt.Errorf("parse secret: %w", err))
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, p.fail(err)
	}

	p.logger.Debug("Retrieved broker credentials", loggingpkg.LogFields{
		"secret_name": p.secretName,
		"host":        creds.Host,
	})
	return creds, nil
}

func (p *SecretsManagerProvider) fail(err error) error {
	return &errspkg.CredentialFetchError{Source: p.secretName, Err: err}
}

// CachingProvider keeps the first successfully fetched credentials for the
// rest of the process lifetime. Failures are not cached: the next Fetch asks
// the wrapped provider again.
type CachingProvider struct {
	inner Provider

	mu     sync.Mutex
	creds  Credentials
	cached bool
}

func NewCachingProvider(inner Provider) *CachingProvider {
	if inner == nil {
		panic("provider is required")
	}
	return &CachingProvider{inner: inner}
}

func (p *CachingProvider) Fetch(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached {
		return p.creds, nil
	}
	creds, err := p.inner.Fetch(ctx)
	if err != nil {
		return Credentials{}, err
	}
	p.creds = creds
	p.cached = true
	return creds, nil
}

// Invalidate forgets the cached credentials so the next Fetch asks the
// wrapped provider again, for example after the broker refused them.
func (p *CachingProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = Credentials{}
	p.cached = false
}

// Cached reports whether credentials have been fetched successfully.
func (p *CachingProvider) Cached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}
