package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"saasloader/internal/config"
	"saasloader/internal/etl"
	"saasloader/internal/lock"
	"saasloader/internal/mail"
	"saasloader/internal/metrics"
	"saasloader/internal/secret"
	"saasloader/internal/service"
	"saasloader/internal/storage"
)

// secretEnvPrefix names the variables the env secret store reads, e.g.
// SAASLOADER_SECRET_WAREHOUSE for the connection "warehouse".
const secretEnvPrefix = "SAASLOADER_SECRET_"

// app holds everything a command needs once the config is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	tasks   *service.TaskService
	metrics *metrics.Collector

	closers []func() error
}

func secretStore() secret.SecretStore {
	return secret.Chain{&secret.EnvStore{Prefix: secretEnvPrefix}, secret.NewKeyringStore()}
}

// loadConfig reads the config file and builds the logger. Flags take
// precedence over the file.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.ResolvePath(o.configPath))
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// open loads the config, resolves secrets and wires the task service with
// its state DB, table locker, event emitters, mailer and metrics.
func (o *rootOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.ResolveSecrets(secretStore()); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	db, err := storage.New(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	var emitter service.EventEmitter = &service.LogEmitter{Logger: logger}
	if len(cfg.Events.KafkaBrokers) > 0 {
		kafka, err := service.NewKafkaEmitter(cfg.Events.KafkaBrokers, cfg.Events.Topic, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, kafka.Close)
		emitter = service.MultiEmitter{emitter, kafka}
	}

	var mailer mail.Sender
	if cfg.SMTP.Host != "" {
		mailer = &mail.SMTPSender{Config: cfg.SMTP}
	}

	a.tasks = service.NewTaskService(service.Options{
		Config:  cfg,
		Store:   storage.NewTaskStore(db),
		Emitter: emitter,
		Metrics: a.metrics,
		Logger:  logger,
		Locker:  a.locker(),
		Mailer:  mailer,
	})
	return a, nil
}

// locker picks the table lock backend: Redis when configured so separate
// processes exclude each other, in-process otherwise.
func (a *app) locker() etl.TableLocker {
	if a.cfg.Lock.RedisAddr == "" {
		return lock.NewLocal()
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.Lock.RedisAddr})
	a.closers = append(a.closers, client.Close)
	a.logger.Debug("table locks in redis", "addr", a.cfg.Lock.RedisAddr)
	return &lock.Redis{Client: client, TTL: a.cfg.Lock.TTL}
}

// Close releases what open acquired, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
