package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// ErrNoToken is returned when neither a token nor a secret id is configured.
var ErrNoToken = errors.New("no GitHub token configured (set GITHUB_TOKEN or GITHUB_TOKEN_SECRET_ID)")

// SecretsAPI is the subset of the Secrets Manager client used to fetch the token.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveToken returns the GitHub token, reading it from AWS Secrets Manager
// when only a secret id is configured.
func ResolveToken(ctx context.Context, cfg *types.GitHubConfig) (string, error) {
	if cfg == nil {
		return "", ErrNoToken
	}
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if cfg.TokenSecretID == "" {
		return "", ErrNoToken
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}
	return TokenFromSecret(ctx, secretsmanager.NewFromConfig(awsCfg), cfg.TokenSecretID)
}

// TokenFromSecret fetches a secret holding either the raw token or a JSON
// object with a "token" or "GITHUB_TOKEN" key.
func TokenFromSecret(ctx context.Context, client SecretsAPI, secretID string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", secretID, err)
	}
	raw := strings.TrimSpace(aws.ToString(out.SecretString))
	if raw == "" {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("parsing secret %s: %w", secretID, err)
	}
	for _, key := range []string{"token", "GITHUB_TOKEN"} {
		if v := fields[key]; v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("secret %s has no token field", secretID)
}
