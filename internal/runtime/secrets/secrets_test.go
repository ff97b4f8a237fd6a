package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/errors"
)

type fakeSecretsManager struct {
	mu       sync.Mutex
	calls    int
	secretID string
	out      *secretsmanager.GetSecretValueOutput
	err      error
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.secretID = aws.ToString(in.SecretId)
	return f.out, f.err
}

func secretOutput(s string) *secretsmanager.GetSecretValueOutput {
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(s)}
}

func TestSecretsManagerProviderFetch(t *testing.T) {
	client := &fakeSecretsManager{out: secretOutput(`{"username":"bridge","password":"s3cret","host":"b-1.mq.eu-north-1.amazonaws.com"}`)}
	p := NewSecretsManagerProvider(client, "rabbitmq-credentials", nil)

	creds, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rabbitmq-credentials", client.secretID)
	assert.Equal(t, Credentials{Username: "bridge", Password: "s3cret", Host: "b-1.mq.eu-north-1.amazonaws.com"}, creds)
}

func TestSecretsManagerProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeSecretsManager
		wantMsg string
	}{
		{
			name:    "api error",
			client:  &fakeSecretsManager{err: &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "no such secret"}},
			wantMsg: "ResourceNotFoundException",
		},
		{
			name:    "binary secret",
			client:  &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte("x")}},
			wantMsg: "secret has no string value",
		},
		{
			name:    "invalid json",
			client:  &fakeSecretsManager{out: secretOutput(`{"username":`)},
			wantMsg: "parse secret",
		},
		{
			name:    "missing host",
			client:  &fakeSecretsManager{out: secretOutput(`{"username":"u","password":"p"}`)},
			wantMsg: "host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewSecretsManagerProvider(tt.client, "rabbitmq-credentials", nil)
			_, err := p.Fetch(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, errspkg.ErrCredentialFetchFailed)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNewSecretsManagerProviderPanicsOnMissingArguments(t *testing.T) {
	assert.Panics(t, func() { NewSecretsManagerProvider(nil, "name", nil) })
	assert.Panics(t, func() { NewSecretsManagerProvider(&fakeSecretsManager{}, "", nil) })
}

func TestCredentialsStringRedactsPassword(t *testing.T) {
	creds := Credentials{Username: "bridge", Password: "hunter2", Host: "broker"}
	str := creds.String()
	assert.NotContains(t, str, "hunter2")
	assert.Contains(t, str, "bridge")
	assert.Contains(t, str, "REDACTED")
}

func TestCredentialsValidateReportsEveryField(t *testing.T) {
	err := Credentials{}.Validate()
	require.Error(t, err)
	for _, field := range []string{"username", "password", "host"} {
		assert.True(t, strings.Contains(err.Error(), field), "missing %s in %v", field, err)
	}
}

func TestStaticProvider(t *testing.T) {
	creds, err := StaticProvider(Credentials{Username: "guest", Password: "guest", Host: "localhost"}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "localhost", creds.Host)

	_, err = StaticProvider(Credentials{}).Fetch(context.Background())
	assert.ErrorIs(t, err, errspkg.ErrCredentialFetchFailed)
}

func TestCachingProviderFetchesOnceAfterSuccess(t *testing.T) {
	calls := 0
	p := NewCachingProvider(ProviderFunc(func(context.Context) (Credentials, error) {
		calls++
		return Credentials{Username: "u", Password: "p", Host: "h"}, nil
	}))

	for i := 0; i < 5; i++ {
		_, err := p.Fetch(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
	assert.True(t, p.Cached())
}

func TestCachingProviderRetriesAfterFailure(t *testing.T) {
	calls := 0
	p := NewCachingProvider(ProviderFunc(func(context.Context) (Credentials, error) {
		calls++
		if calls == 1 {
			return Credentials{}, errors.New("throttled")
		}
		return Credentials{Username: "u", Password: "p", Host: "h"}, nil
	}))

	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	assert.False(t, p.Cached())

	creds, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "h", creds.Host)
	assert.Equal(t, 2, calls)
}

func TestCachingProviderInvalidateRefetches(t *testing.T) {
	calls := 0
	p := NewCachingProvider(ProviderFunc(func(context.Context) (Credentials, error) {
		calls++
		return Credentials{Username: "u", Password: fmt.Sprintf("p%d", calls), Host: "h"}, nil
	}))

	first, err := p.Fetch(context.Background())
	require.NoError(t, err)
	p.Invalidate()
	assert.False(t, p.Cached())

	second, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", first.Password)
	assert.Equal(t, "p2", second.Password)
	assert.Equal(t, 2, calls)
}

func TestCachingProviderConcurrentCallersShareOneFetch(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	p := NewCachingProvider(ProviderFunc(func(context.Context) (Credentials, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return Credentials{Username: "u", Password: "p", Host: "h"}, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Fetch(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestLoadAWSConfigSetsRegion(t *testing.T) {
	origLoader := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = origLoader })

	AWSDefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}

	cfg, err := LoadAWSConfig(context.Background(), "eu-north-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-north-1", cfg.Region)
}

func TestLoadAWSConfigReturnsError(t *testing.T) {
	origLoader := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = origLoader })

	AWSDefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("boom")
	}

	_, err := LoadAWSConfig(context.Background(), "eu-north-1")
	assert.Error(t, err)
}

func TestNewSecretsManagerProviderFromConfig(t *testing.T) {
	p := NewSecretsManagerProviderFromConfig(aws.Config{Region: "eu-north-1"}, "rabbitmq-credentials", "http://localhost:4566", nil)
	require.NotNil(t, p)
	assert.Equal(t, "rabbitmq-credentials", p.secretName)
}
