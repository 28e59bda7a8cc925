package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/models"
)

// SecretsAPI is the Secrets Manager call used to fetch the master secret.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// MasterSecret resolves the vault master secret: the configured value wins,
// then Secrets Manager by name or ARN.
func MasterSecret(ctx context.Context, cfg config.SecurityConfig) (string, error) {
	if cfg.MasterSecret != "" {
		return cfg.MasterSecret, nil
	}
	if cfg.MasterSecretID == "" {
		return "", fmt.Errorf("master secret: %w", models.ErrConfigMissing)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("aws config: %w", err)
	}
	return MasterSecretFrom(ctx, secretsmanager.NewFromConfig(awsCfg), cfg.MasterSecretID)
}

// MasterSecretFrom fetches the master secret from Secrets Manager. The
// payload is either the raw secret or a JSON object with "master_secret".
func MasterSecretFrom(ctx context.Context, sm SecretsAPI, secretID string) (string, error) {
	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret has no string payload: %w", models.ErrConfigMissing)
	}

	payload := strings.TrimSpace(*out.SecretString)
	if strings.HasPrefix(payload, "{") {
		var wrapped struct {
			MasterSecret string `json:"master_secret"`
		}
		if err := json.Unmarshal([]byte(payload), &wrapped); err != nil {
			return "", fmt.Errorf("parse secret json: %w", err)
		}
		payload = wrapped.MasterSecret
	}

	if payload == "" {
		return "", fmt.Errorf("secret %s is empty: %w", secretID, models.ErrConfigMissing)
	}
	return payload, nil
}
