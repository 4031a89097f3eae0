// Package lambdaboot wires the bot from configuration. Both the Lambda
// entry point and the long-running server build their dependencies here,
// so each main is a short composition of these helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/polybot/internal/auth"
	"github.com/fpang/polybot/internal/bot"
	"github.com/fpang/polybot/internal/config"
	"github.com/fpang/polybot/internal/detect"
	"github.com/fpang/polybot/internal/groupstore"
	"github.com/fpang/polybot/internal/imgproc"
	"github.com/fpang/polybot/internal/logging"
	"github.com/fpang/polybot/internal/s3util"
	"github.com/fpang/polybot/internal/telegram"
)

// stagingPrefix is the S3 prefix holding media group members.
const stagingPrefix = "groups"

// AWSClients holds the AWS SDK clients used by the bot.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
	S3     *s3.Client
}

// InitAWS loads the default AWS config and creates the clients.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
		S3:     s3.NewFromConfig(cfg),
	}, nil
}

// LoadToken resolves the bot token and rejects malformed values.
func LoadToken(ctx context.Context, cfg config.Config, ssmClient auth.SSMAPI) (string, error) {
	token, err := cfg.TokenSource(ssmClient).BotToken(ctx)
	if err != nil {
		return "", err
	}
	if err := auth.CheckTokenFormat(token); err != nil {
		return "", err
	}
	return token, nil
}

// Connect resolves the token and connects to Telegram, which validates it.
func Connect(ctx context.Context, cfg config.Config, ssmClient auth.SSMAPI) (*telegram.Client, string, error) {
	token, err := LoadToken(ctx, cfg, ssmClient)
	if err != nil {
		return nil, "", err
	}
	tg, err := telegram.NewClient(token)
	if err != nil {
		return nil, "", auth.ClassifyConnectError(err)
	}
	log.Info().Str("bot", tg.Username()).Msg("Connected to Telegram")
	return tg, token, nil
}

// InitGroupStore picks the media group backend. With a group table the
// index lives in DynamoDB and members are staged in S3, so concurrent
// Lambda containers share state. Without one, everything stays in this
// process.
func InitGroupStore(clients AWSClients, cfg config.Config) *groupstore.Store {
	if cfg.GroupTable != "" {
		index := groupstore.NewDynamoIndex(dynamodb.NewFromConfig(clients.Config), cfg.GroupTable, cfg.GroupTTL)
		staging := s3util.NewStaging(clients.S3, cfg.Bucket, stagingPrefix, cfg.StagingDir)
		log.Info().Str("table", cfg.GroupTable).Str("bucket", cfg.Bucket).Msg("Media groups shared via DynamoDB and S3")
		return groupstore.New(index, staging, cfg.GroupTTL)
	}
	log.Info().Str("dir", cfg.StagingDir).Msg("Media groups kept in memory")
	return groupstore.New(groupstore.NewMemoryIndex(), groupstore.NewDirStaging(cfg.StagingDir), cfg.GroupTTL)
}

// App is a fully wired bot.
type App struct {
	Config     config.Config
	Token      string
	Telegram   *telegram.Client
	Groups     *groupstore.Store
	Dispatcher *bot.Dispatcher

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// Build creates every dependency of the bot. Connecting to Telegram
// validates the token.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	clients, err := InitAWS(ctx)
	if err != nil {
		return nil, err
	}

	tg, token, err := Connect(ctx, cfg, clients.SSM)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.ScratchDir, cfg.ResultsDir, cfg.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	pipeline := bot.NewPipeline(
		imgproc.NewFilter(),
		s3util.NewBucket(clients.S3, cfg.Bucket),
		detect.NewClient(cfg.DetectorURL),
		cfg.ResultsDir,
	)
	groups := InitGroupStore(clients, cfg)
	dispatcher := bot.NewDispatcher(tg, pipeline, groups, cfg.ScratchDir)
	if logging.InLambda() {
		dispatcher.WithMetrics(os.Stdout)
	}

	return &App{
		Config:     cfg,
		Token:      token,
		Telegram:   tg,
		Groups:     groups,
		Dispatcher: dispatcher,
	}, nil
}

// SweepIfDue evicts stale media groups when the sweep interval has passed
// since the last sweep by this process. It is used where no background
// sweeper can run, such as between Lambda invocations.
func (a *App) SweepIfDue(ctx context.Context) {
	a.sweepMu.Lock()
	if time.Since(a.lastSweep) < a.Config.SweepInterval {
		a.sweepMu.Unlock()
		return
	}
	a.lastSweep = time.Now()
	a.sweepMu.Unlock()

	evicted, err := a.Groups.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Media group sweep failed")
		return
	}
	for _, e := range evicted {
		a.Dispatcher.NotifyEvicted(ctx, e)
	}
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}

// StartupLogger returns the startup event of a built App, ready for the
// caller to add binary-specific details and Log.
func (a *App) StartupLogger(name string, initStart time.Time) *logging.StartupLogger {
	cfg := a.Config
	groupBackend := "memory"
	if cfg.GroupTable != "" {
		groupBackend = "dynamodb"
	}
	return StartupLog(name, initStart).
		S3Bucket("images", cfg.Bucket).
		DynamoTable("groups", cfg.GroupTable).
		SSMParam("token", cfg.TokenParam).
		Endpoint("detector", cfg.DetectorURL).
		Endpoint("app", cfg.AppURL).
		Feature("webhookSecret", cfg.WebhookSecret != "").
		Config("bot", a.Telegram.Username()).
		Config("groupBackend", groupBackend).
		Config("groupTTL", cfg.GroupTTL.String()).
		Config("resultsDir", filepath.Clean(cfg.ResultsDir))
}
