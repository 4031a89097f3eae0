// Package config loads polybot settings with viper. Every key can be set in
// an optional config file and overridden by its environment variable.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fpang/polybot/internal/auth"
	"github.com/fpang/polybot/internal/detect"
	"github.com/fpang/polybot/internal/groupstore"
)

// Keys understood by Load. The environment variable of each key is listed
// in envBindings.
const (
	KeyAppURL         = "app_url"
	KeyBucket         = "bucket_name"
	KeyDetectorURL    = "detector_url"
	KeyGroupTable     = "group_table"
	KeyWebhookSecret  = "webhook_secret"
	KeyWebhookPath    = "webhook_path"
	KeyAddr           = "addr"
	KeyScratchDir     = "scratch_dir"
	KeyResultsDir     = "results_dir"
	KeyStagingDir     = "staging_dir"
	KeyGroupTTL       = "group_ttl"
	KeySweepInterval  = "sweep_interval"
	KeyLogLevel       = "log_level"
	KeyTokenFile      = "token_file"
	KeyTokenParam     = "token_param"
	KeyRegisterOnBoot = "register_webhook"
)

var envBindings = map[string]string{
	KeyAppURL:         "TELEGRAM_APP_URL",
	KeyBucket:         "BUCKET_NAME",
	KeyDetectorURL:    "DETECTOR_URL",
	KeyGroupTable:     "GROUP_TABLE",
	KeyWebhookSecret:  "WEBHOOK_SECRET",
	KeyWebhookPath:    "WEBHOOK_PATH",
	KeyAddr:           "POLYBOT_ADDR",
	KeyScratchDir:     "POLYBOT_SCRATCH_DIR",
	KeyResultsDir:     "POLYBOT_RESULTS_DIR",
	KeyStagingDir:     "POLYBOT_STAGING_DIR",
	KeyGroupTTL:       "GROUP_TTL",
	KeySweepInterval:  "GROUP_SWEEP_INTERVAL",
	KeyLogLevel:       "POLYBOT_LOG_LEVEL",
	KeyTokenFile:      "TELEGRAM_TOKEN_FILE",
	KeyTokenParam:     "SSM_TOKEN_PARAM",
	KeyRegisterOnBoot: "REGISTER_WEBHOOK",
}

// Config holds the resolved settings.
type Config struct {
	AppURL        string
	Bucket        string
	DetectorURL   string
	GroupTable    string
	WebhookSecret string
	WebhookPath   string
	Addr          string
	ScratchDir    string
	ResultsDir    string
	StagingDir    string
	GroupTTL      time.Duration
	SweepInterval time.Duration
	LogLevel      string
	TokenFile     string
	TokenParam    string
	Register      bool
}

// NewViper returns a viper instance with defaults and environment bindings.
func NewViper() *viper.Viper {
	v := viper.New()
	base := filepath.Join(os.TempDir(), "polybot")

	v.SetDefault(KeyDetectorURL, detect.DefaultBaseURL)
	v.SetDefault(KeyAddr, ":8443")
	v.SetDefault(KeyScratchDir, filepath.Join(base, "scratch"))
	v.SetDefault(KeyResultsDir, filepath.Join(base, "results"))
	v.SetDefault(KeyStagingDir, filepath.Join(base, "groups"))
	v.SetDefault(KeyGroupTTL, groupstore.DefaultTTL)
	v.SetDefault(KeySweepInterval, time.Minute)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyTokenFile, auth.DefaultSecretFile)
	v.SetDefault(KeyTokenParam, auth.DefaultSSMParam)
	v.SetDefault(KeyRegisterOnBoot, false)

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

// ReadFile merges a YAML/JSON/TOML config file into v. An empty path is a
// no-op.
func ReadFile(v *viper.Viper, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load resolves v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Resolve(v)
	return cfg, cfg.Validate()
}

// Resolve reads v into a Config without validating it. Commands that only
// talk to the Telegram API use it, since they need no bucket.
func Resolve(v *viper.Viper) Config {
	return Config{
		AppURL:        strings.TrimRight(strings.TrimSpace(v.GetString(KeyAppURL)), "/"),
		Bucket:        strings.TrimSpace(v.GetString(KeyBucket)),
		DetectorURL:   strings.TrimSpace(v.GetString(KeyDetectorURL)),
		GroupTable:    strings.TrimSpace(v.GetString(KeyGroupTable)),
		WebhookSecret: v.GetString(KeyWebhookSecret),
		WebhookPath:   strings.Trim(strings.TrimSpace(v.GetString(KeyWebhookPath)), "/"),
		Addr:          v.GetString(KeyAddr),
		ScratchDir:    v.GetString(KeyScratchDir),
		ResultsDir:    v.GetString(KeyResultsDir),
		StagingDir:    v.GetString(KeyStagingDir),
		GroupTTL:      v.GetDuration(KeyGroupTTL),
		SweepInterval: v.GetDuration(KeySweepInterval),
		LogLevel:      v.GetString(KeyLogLevel),
		TokenFile:     v.GetString(KeyTokenFile),
		TokenParam:    v.GetString(KeyTokenParam),
		Register:      v.GetBool(KeyRegisterOnBoot),
	}
}

// Validate checks settings every binary needs.
func (c Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, fmt.Errorf("%s (%s) is required", KeyBucket, envBindings[KeyBucket]))
	}
	if c.GroupTTL <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyGroupTTL, c.GroupTTL))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeySweepInterval, c.SweepInterval))
	}
	if c.Register && c.AppURL == "" {
		errs = append(errs, fmt.Errorf("%s (%s) is required to register the webhook", KeyAppURL, envBindings[KeyAppURL]))
	}
	return errors.Join(errs...)
}

// HookPath returns the URL path Telegram posts updates to. Without an
// explicit webhook_path the token itself is the path, which keeps the
// endpoint unguessable.
func (c Config) HookPath(token string) string {
	p := c.WebhookPath
	if p == "" {
		p = token
	}
	return "/" + p + "/"
}

// HookURL returns the public URL registered with Telegram.
func (c Config) HookURL(token string) string {
	return c.AppURL + c.HookPath(token)
}

// TokenSource returns where the bot token is looked up. ssm may be nil
// when AWS is not configured.
func (c Config) TokenSource(ssm auth.SSMAPI) auth.TokenSource {
	src := auth.TokenSource{SecretFile: c.TokenFile}
	if ssm != nil {
		src.SSM = ssm
		src.SSMParam = c.TokenParam
	}
	return src
}
