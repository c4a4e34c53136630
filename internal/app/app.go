// Package app собирает сервис из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/service/intake"
	"github.com/vladislavdragonenkov/storefront/internal/service/mailer"
	"github.com/vladislavdragonenkov/storefront/internal/service/notify"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/receipt"
	"github.com/vladislavdragonenkov/storefront/internal/service/uploader"
	"github.com/vladislavdragonenkov/storefront/internal/service/whatsapp"
	"github.com/vladislavdragonenkov/storefront/internal/trace"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// App - собранный сервис.
type App struct {
	cfg      Config
	logger   *log.Entry
	registry *prometheus.Registry
	service  *orders.Service
	health   *health.Handler
	handler  http.Handler
	closers  []namedCloser
}

type namedCloser struct {
	name  string
	close func(context.Context) error
}

// Run собирает сервис и обслуживает HTTP до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, lis)
}

// New создаёт все коллабораторы. Необязательные интеграции, которые не удалось
// поднять, отключаются с предупреждением: соответствующие каналы будут skipped.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   log.WithField("component", "app"),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orderMetrics := metrics.NewOrderMetricsWithRegisterer(a.registry)

	if cfg.OTLPEndpoint != "" {
		shutdown, err := trace.InitTracer(ctx, cfg.ServiceName, version.GetVersion())
		if err != nil {
			a.logger.WithError(err).Warn("failed to init tracer, continuing without tracing")
		} else {
			a.addCloser("tracer", shutdown)
			a.logger.WithField("endpoint", cfg.OTLPEndpoint).Info("tracing enabled")
		}
	}

	store, timeline, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	runner := notify.NewRunner(log.WithField("component", "notify"), orderMetrics)
	dispatcher := notify.NewDispatcher(a.notifyConfig(), a.newMailer(), a.newMessenger(), a.newEventPublisher(), runner)

	a.service = orders.NewService(orders.Config{
		StoreTimeout:   cfg.StoreTimeout,
		UploadTimeout:  cfg.Upload.Timeout,
		ReceiptTimeout: cfg.ReceiptTimeout,
	}, orders.Deps{
		Normalizer: intake.NewNormalizer(intake.Config{ZoneFees: cfg.ZoneFees}),
		Store:      store,
		Timeline:   timeline,
		Uploader:   a.newUploader(),
		Renderer:   receipt.NewRenderer(a.receiptConfig()),
		Dispatcher: dispatcher,
		Metrics:    orderMetrics,
		Logger:     log.WithField("component", "orders"),
	})

	a.health = health.NewHandler(version.GetVersion())
	// Приём заказов работает и без хранилища, поэтому его сбой - degraded.
	a.health.RegisterChecker("order_store", health.NewOptional("order_store", a.service.Ready))

	api := httpapi.NewServer(httpapi.Config{
		AdminToken:     cfg.HTTP.AdminToken,
		JWTSecret:      cfg.HTTP.JWTSecret,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, a.service, httpapi.Options{
		Health:   a.health,
		Gatherer: a.registry,
		Metrics:  orderMetrics,
		Logger:   log.WithField("component", "httpapi"),
	})
	a.handler = api.Routes()

	if cfg.HTTP.AdminToken == "" && cfg.HTTP.JWTSecret == "" {
		a.logger.Warn("no admin credentials configured, admin endpoints will reject every request")
	}
	return a, nil
}

// Handler возвращает корневой HTTP-обработчик.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Serve обслуживает lis до отмены ctx, затем аккуратно останавливает сервер.
func (a *App) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP сервер слушает %s", lis.Addr())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("graceful shutdown превысил таймаут, принудительно закрываем")
			_ = srv.Close()
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close освобождает ресурсы в обратном порядке создания.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil {
			a.logger.WithError(err).WithField("resource", c.name).Warn("failed to close resource")
			continue
		}
		a.logger.WithField("resource", c.name).Info("resource closed")
	}
	a.closers = nil
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) notifyConfig() notify.Config {
	cfg := notify.DefaultConfig()
	cfg.Brand = a.cfg.Brand
	cfg.Currency = a.cfg.Currency
	cfg.AdminEmails = a.cfg.AdminEmails
	cfg.AdminPhone = a.cfg.AdminPhone
	cfg.OrderTemplate = a.cfg.WhatsApp.Template
	if a.cfg.WhatsApp.TemplateLanguage != "" {
		cfg.TemplateLanguage = a.cfg.WhatsApp.TemplateLanguage
	}
	if a.cfg.SMTP.Timeout > 0 {
		cfg.EmailTimeout = a.cfg.SMTP.Timeout
	}
	if a.cfg.WhatsApp.Timeout > 0 {
		cfg.MessageTimeout = a.cfg.WhatsApp.Timeout
	}
	if a.cfg.Kafka.Timeout > 0 {
		cfg.EventTimeout = a.cfg.Kafka.Timeout
	}
	return cfg
}

func (a *App) receiptConfig() receipt.Config {
	cfg := receipt.DefaultConfig()
	cfg.Brand = a.cfg.Brand
	cfg.Currency = a.cfg.Currency
	return cfg
}

// Конструкторы ниже возвращают интерфейс только для настроенного канала:
// типизированный nil внутри интерфейса не считался бы отсутствием канала.

func (a *App) newMailer() domain.Mailer {
	c := a.cfg.SMTP
	if c.Host == "" {
		a.logger.Info("SMTP not configured, email channels disabled")
		return nil
	}
	m, err := mailer.New(mailer.Config{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		TLS:      c.TLS,
		Timeout:  c.Timeout,
	})
	if err != nil {
		a.logger.WithError(err).Warn("failed to create mailer, email channels disabled")
		return nil
	}
	return m
}

func (a *App) newMessenger() domain.Messenger {
	c := a.cfg.WhatsApp
	if c.Token == "" {
		a.logger.Info("WhatsApp not configured, message channels disabled")
		return nil
	}
	client, err := whatsapp.New(whatsapp.Config{
		BaseURL:       c.BaseURL,
		Token:         c.Token,
		PhoneNumberID: c.PhoneNumberID,
		Timeout:       c.Timeout,
	})
	if err != nil {
		a.logger.WithError(err).Warn("failed to create WhatsApp client, message channels disabled")
		return nil
	}
	return client
}

func (a *App) newUploader() domain.Uploader {
	c := a.cfg.Upload
	if c.CloudName == "" {
		a.logger.Info("proof upload not configured, proofs will be dropped")
		return nil
	}
	client, err := uploader.New(uploader.Config{
		BaseURL:      c.BaseURL,
		CloudName:    c.CloudName,
		UploadPreset: c.Preset,
		Folder:       c.Folder,
		MaxBytes:     c.MaxBytes,
		Timeout:      c.Timeout,
	})
	if err != nil {
		a.logger.WithError(err).Warn("failed to create uploader, proofs will be dropped")
		return nil
	}
	return client
}

func (a *App) newEventPublisher() domain.EventPublisher {
	c := a.cfg.Kafka
	if len(c.Brokers) == 0 {
		return nil
	}
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  c.Brokers,
		ClientID: c.ClientID,
		Timeout:  c.Timeout,
	})
	if err != nil {
		a.logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	a.logger.WithField("brokers", c.Brokers).Info("kafka producer initialized")
	a.addCloser("kafka producer", func(context.Context) error { return producer.Close() })
	return kafka.NewEventPublisher(producer, c.Topic)
}
