// Package auth resolves the Telegram bot token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

const (
	// TokenEnv holds the token directly.
	TokenEnv = "TELEGRAM_TOKEN"

	// DefaultSecretFile is where Docker/Compose mounts the token secret.
	DefaultSecretFile = "/run/secrets/telegram_bot_token"

	// DefaultSSMParam is the SSM parameter holding the token in AWS.
	DefaultSSMParam = "/polybot/prod/telegram-token"
)

// SSMAPI is the subset of *ssm.Client used to read the token.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// TokenSource describes where to look for the bot token. Empty fields
// disable the corresponding source.
type TokenSource struct {
	SecretFile string
	SSM        SSMAPI
	SSMParam   string
}

// BotToken retrieves the Telegram bot token. Priority order:
//  1. TELEGRAM_TOKEN environment variable
//  2. the secret file
//  3. the SSM parameter (decrypted)
func (s TokenSource) BotToken(ctx context.Context) (string, error) {
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		log.Debug().Msg("Using bot token from environment variable")
		return token, nil
	}

	var errs []error
	if s.SecretFile != "" {
		token, err := readSecretFile(s.SecretFile)
		if err == nil {
			log.Debug().Str("file", s.SecretFile).Msg("Using bot token from secret file")
			return token, nil
		}
		errs = append(errs, err)
	}

	if s.SSM != nil && s.SSMParam != "" {
		token, err := readSSM(ctx, s.SSM, s.SSMParam)
		if err == nil {
			return token, nil
		}
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	log.Error().Err(err).Msg("Failed to retrieve bot token")
	return "", &ValidationError{
		Type:    ErrTypeNoToken,
		Message: "bot token not found; set " + TokenEnv + ", mount " + DefaultSecretFile + " or configure SSM",
		Err:     err,
	}
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return token, nil
}

func readSSM(ctx context.Context, client SSMAPI, param string) (string, error) {
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &param,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("SSM GetParameter %s: %w", param, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %s has no value", param)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Bot token loaded from SSM")
	return strings.TrimSpace(*result.Parameter.Value), nil
}
