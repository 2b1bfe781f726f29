package api

import (
	"context"
	"fmt"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	echoapi "github.com/abmarghoub/EduPathInsight/apps/api/echo"
	"github.com/abmarghoub/EduPathInsight/assets"
	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/notification"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	"github.com/abmarghoub/EduPathInsight/core/report"
	"github.com/abmarghoub/EduPathInsight/services/broker"
	"github.com/abmarghoub/EduPathInsight/services/cache"
	"github.com/abmarghoub/EduPathInsight/services/clients"
	emailsvc "github.com/abmarghoub/EduPathInsight/services/email"
	"github.com/abmarghoub/EduPathInsight/storage/database"
)

// Deps are the dependencies every service shares. Services ask it for the optional
// infrastructure they use (broker, cache, sibling clients); whatever it opens is closed
// when the service stops.
type Deps struct {
	Conf       *core.Config
	Logger     core.Logger
	DB         *sqlx.DB
	Validate   *validator.Validate
	Translator ut.Translator
	Metrics    *echoapi.Metrics

	closers []closer
	workers []Worker
}

type closer struct {
	name  string
	close func() error
}

// NewDeps loads what every service needs: validators, email templates and the migrated database.
func NewDeps(ctx context.Context, conf *core.Config, logger core.Logger) (*Deps, error) {
	validate, translator := NewValidator()

	if err := core.ParseEmailTemplates(assets.FS, assets.EmailTemplatesDir, conf); err != nil {
		return nil, errors.Wrap(err, "parsing email templates")
	}

	db, err := setUpDB(ctx, conf)
	if err != nil {
		return nil, errors.Wrap(err, "setting up database")
	}

	d := &Deps{
		Conf:       conf,
		Logger:     logger,
		DB:         db,
		Validate:   validate,
		Translator: translator,
		Metrics:    echoapi.NewMetrics(conf.Service),
	}
	d.onClose("database", db.Close)
	return d, nil
}

func setUpDB(ctx context.Context, conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(ctx, db, conf.Database.Engine, conf.Service); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewValidator returns a validator knowing the custom tags of every domain package.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	presence.InitValidators(validate, translator)
	activity.InitValidators(validate, translator)
	anomaly.InitValidators(validate, translator)
	report.InitValidators(validate, translator)
	notification.InitValidators(validate, translator)
	return validate, translator
}

func (d *Deps) onClose(name string, fn func() error) {
	d.closers = append(d.closers, closer{name: name, close: fn})
}

// Close releases everything opened through d, newest first.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil {
			d.Logger.Error(fmt.Sprintf("closing %s: %v", c.name, err), err)
		}
	}
	d.closers = nil
}

// Workers returns the background workers started by the infrastructure handed out by d.
func (d *Deps) Workers() []Worker {
	return d.workers
}

// Publisher returns an outbox feeding the RabbitMQ exchange from a background worker,
// or a publisher discarding every event when the broker is disabled.
func (d *Deps) Publisher() core.Publisher {
	if !d.Conf.Broker.Enabled {
		d.Logger.Warn("broker disabled: events are not delivered to other services")
		return broker.NewDiscard(d.Logger)
	}
	rmq := broker.NewRabbitMQ(d.Conf.Broker, d.Logger)
	d.onClose("broker", rmq.Close)

	outbox := broker.NewOutbox(rmq, d.Logger, d.Conf.Broker.OutboxSize)
	d.onClose("broker outbox", outbox.Close)
	d.workers = append(d.workers, outbox.Run)
	return outbox
}

// Consumer returns the RabbitMQ queue consumer, or one that never receives anything
// when the broker is disabled.
func (d *Deps) Consumer() core.Consumer {
	if !d.Conf.Broker.Enabled {
		d.Logger.Warn("broker disabled: no event will be consumed")
		return broker.NewDiscard(d.Logger)
	}
	rmq := broker.NewRabbitMQ(d.Conf.Broker, d.Logger)
	d.onClose("broker", rmq.Close)
	return rmq
}

// Cache returns the Redis cache, or an in-process one when Redis is disabled or unreachable.
func (d *Deps) Cache(ctx context.Context) core.Cache {
	if !d.Conf.Cache.Enabled {
		return cache.NewMemory()
	}
	client, err := cache.NewRedisClient(ctx, d.Conf.Cache)
	if err != nil {
		d.Logger.Warn(fmt.Sprintf("redis unavailable, using in-process cache: %v", err), err)
		return cache.NewMemory()
	}
	d.onClose("redis", client.Close)
	return cache.NewRedis(client)
}

// EmailService prints emails in debug mode and sends them through Sendgrid otherwise.
func (d *Deps) EmailService() core.EmailService {
	if d.Conf.Debug {
		return emailsvc.NewConsoleService(d.Conf, d.Logger)
	}
	return emailsvc.NewSendgridService(d.Conf, d.Logger)
}

// ClientOptions returns the options of a sibling service client authenticated as this service.
func (d *Deps) ClientOptions(service string) clients.Options {
	return clients.OptionsFromConfig(d.Conf.Services, service, echoapi.ServiceTokenFunc(d.Conf))
}

func (d *Deps) Modules() *clients.ModuleClient {
	return clients.NewModuleClient(d.ClientOptions(clients.ServiceModule), d.Logger)
}
