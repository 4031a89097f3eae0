package auth

import (
	"errors"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// ValidationError represents a specific type of bot token failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes token failures.
type ValidationErrorType int

const (
	// ErrTypeNoToken indicates no token was found.
	ErrTypeNoToken ValidationErrorType = iota
	// ErrTypeMalformedToken indicates the token does not look like a bot token.
	ErrTypeMalformedToken
	// ErrTypeInvalidToken indicates Telegram rejected the token.
	ErrTypeInvalidToken
	// ErrTypeNetworkError indicates Telegram could not be reached.
	ErrTypeNetworkError
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// tokenPattern matches "<bot id>:<secret>" as issued by BotFather.
var tokenPattern = regexp.MustCompile(`^[0-9]+:[A-Za-z0-9_-]{30,}$`)

// CheckTokenFormat rejects strings that cannot be bot tokens before any
// network call is made.
func CheckTokenFormat(token string) error {
	if token == "" {
		return &ValidationError{Type: ErrTypeNoToken, Message: "bot token is empty"}
	}
	if !tokenPattern.MatchString(token) {
		return &ValidationError{Type: ErrTypeMalformedToken, Message: "bot token must look like <id>:<secret>"}
	}
	return nil
}

// ClassifyConnectError turns an error from connecting the bot (getMe)
// into a ValidationError.
func ClassifyConnectError(err error) *ValidationError {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 404:
			log.Error().Int("code", apiErr.Code).Msg("Telegram rejected the bot token")
			return &ValidationError{
				Type:    ErrTypeInvalidToken,
				Message: "bot token is invalid or was revoked",
				Err:     err,
			}
		default:
			log.Error().Int("code", apiErr.Code).Str("message", apiErr.Message).Msg("Telegram API error")
			return &ValidationError{Type: ErrTypeUnknown, Message: apiErr.Message, Err: err}
		}
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "unauthorized"):
		return &ValidationError{Type: ErrTypeInvalidToken, Message: "bot token is invalid or was revoked", Err: err}
	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host"):
		log.Error().Err(err).Msg("Network error while connecting to Telegram")
		return &ValidationError{
			Type:    ErrTypeNetworkError,
			Message: "cannot reach Telegram - check network access",
			Err:     err,
		}
	default:
		return &ValidationError{Type: ErrTypeUnknown, Message: "failed to connect bot", Err: err}
	}
}
