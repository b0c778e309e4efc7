package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"nfcom/internal/archive"
	"nfcom/internal/config"
	"nfcom/internal/events"
	"nfcom/internal/notifier"
	"nfcom/internal/receivable"
	"nfcom/internal/scheduler"
	"nfcom/internal/sefaz"
	"nfcom/internal/signer"
	"nfcom/internal/store"
	"nfcom/pkg/models"
)

// app holds the collaborators shared by the commands. Optional integrations
// stay nil when their configuration is empty.
type app struct {
	cfg      *config.Config
	store    *store.Store
	s3       *s3.Client
	signer   *signer.Signer
	sefaz    *sefaz.Transmitter
	events   *events.Publisher
	archive  *archive.S3Archive
	rabbitmq *notifier.RabbitMQDeliverer
	log      zerolog.Logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration. Check your .env file or the environment:\n"+
			"  DATABASE_DSN - PostgreSQL DSN or SQLite file\n"+
			"  CERT_ENCRYPTION_KEY - 64 hex characters or base64 of 32 bytes\n"+
			"  NFCOM_ENVIRONMENT - production or homologation\n"+
			"Original error: %w", err)
	}
	return cfg, nil
}

// openApp connects the store and builds the signer, the transmitter and the
// configured integrations.
func openApp(ctx context.Context, log zerolog.Logger) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st, log: log}

	if cfg.CertBucket != "" || cfg.ArchiveBucket != "" {
		a.s3, err = archive.NewS3Client(ctx, cfg.AWSRegion)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	key, err := signer.ParseKey(cfg.CertEncryptionKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("CERT_ENCRYPTION_KEY: %w", err)
	}
	var source signer.BundleSource = st
	if cfg.CertBucket != "" {
		source = signer.NewS3Source(a.s3, cfg.CertBucket, cfg.CertPrefix, st)
	}
	a.signer, err = signer.New(signer.NewCachedSource(source, cfg.CertCacheTTL), key)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sefaz, err = sefaz.New(sefaz.Config{
		Environment:      cfg.Environment,
		AuthorizationURL: cfg.AuthorizationURL,
		StatusURL:        cfg.StatusURL,
		Timeout:          cfg.SefazTimeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.KafkaBroker != "" {
		a.events = events.NewPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
	}
	if cfg.ArchiveBucket != "" {
		a.archive = archive.New(a.s3, cfg.ArchiveBucket, cfg.ArchivePrefix)
	}

	log.Debug().
		Int("environment", cfg.Environment).
		Bool("kafka", a.events != nil).
		Bool("archive", a.archive != nil).
		Bool("certificates_in_s3", cfg.CertBucket != "").
		Msg("Pipeline wired")
	return a, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(store.Config{
		DSN:        cfg.DatabaseDSN,
		Debug:      cfg.DBDebug,
		Migrations: cfg.Migrations,
	})
}

// scheduler builds the emission scheduler. dryRun overrides nothing else.
func (a *app) scheduler(dryRun bool) *scheduler.Scheduler {
	gateways := receivable.NewRegistry().
		Add(models.BankModeREST, receivable.NewRESTGateway(&http.Client{Timeout: 30 * time.Second})).
		Add(models.BankModeRemittance, receivable.NewRemittanceGateway(a.store))

	opts := []scheduler.Option{
		scheduler.WithReceivables(receivable.NewGenerator(a.store, gateways)),
	}
	if a.events != nil {
		opts = append(opts, scheduler.WithPublisher(a.events))
	}
	if a.archive != nil {
		opts = append(opts, scheduler.WithArchive(a.archive))
	}

	return scheduler.New(scheduler.Config{
		Environment:    a.cfg.Environment,
		BatchSize:      a.cfg.BatchSize,
		Workers:        a.cfg.Workers,
		MaxAttempts:    a.cfg.MaxAttempts,
		InitialBackoff: a.cfg.InitialBackoff,
		MaxBackoff:     a.cfg.MaxBackoff,
		DryRun:         dryRun,
	}, a.store, scheduler.FromSigner(a.signer), a.sefaz, opts...)
}

// notifier dials RabbitMQ and builds the batch notifier.
func (a *app) notifier() (*notifier.Notifier, error) {
	if a.cfg.RabbitMQURL == "" {
		return nil, errors.New("RABBITMQ_URL is required to notify customers")
	}
	if a.rabbitmq == nil {
		d, err := notifier.DialRabbitMQ(a.cfg.RabbitMQURL, a.cfg.NotifyQueue)
		if err != nil {
			return nil, err
		}
		a.rabbitmq = d
	}

	var opts []notifier.Option
	if a.events != nil {
		opts = append(opts, notifier.WithEvents(a.events))
	}
	return notifier.New(notifier.Config{Workers: a.cfg.NotifyWorkers}, a.store, a.rabbitmq, opts...)
}

// remittanceArchive returns the archive as a receivable.Archiver, or nil.
func (a *app) remittanceArchive() receivable.Archiver {
	if a.archive == nil {
		return nil
	}
	return a.archive
}

// Close releases every open connection.
func (a *app) Close() {
	if a.rabbitmq != nil {
		if err := a.rabbitmq.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close Kafka writer")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
}

// commandContext is cancelled on SIGINT or SIGTERM. In-flight transmissions
// still finish; no new work starts.
func commandContext(log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, finishing in-flight work")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
