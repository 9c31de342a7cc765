package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"postflow/internal/awsutil"
	"postflow/internal/config"
	"postflow/internal/content"
	"postflow/internal/domain"
	"postflow/internal/httpapi"
	"postflow/internal/logging"
	"postflow/internal/notifier"
	"postflow/internal/observability"
	"postflow/internal/policy"
	"postflow/internal/publisher"
	sqsqueue "postflow/internal/queue/sqs"
	"postflow/internal/ratelimit"
	"postflow/internal/scanner"
	"postflow/internal/store"
	"postflow/internal/store/pg"
	"postflow/internal/token"
	workerproc "postflow/internal/worker"
)

func main() {
	cfg := config.LoadWorker()
	logging.Init("worker", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		slog.Error("worker db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	pgStore := pg.New(db)

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	// shared rate windows: redis when configured, otherwise the pg counter table
	var rateStore store.RateStore = pgStore
	var redisWindows *ratelimit.RedisWindows
	if cfg.RedisAddr != "" {
		redisWindows = ratelimit.NewRedisWindows(cfg.RedisAddr)
		rateStore = redisWindows
		slog.Info("rate windows backed by redis", "addr", cfg.RedisAddr)
	}
	shared := &ratelimit.Limiter{
		Store:    rateStore,
		Window:   cfg.RateWindow,
		Capacity: cfg.RateCapacity,
	}

	refresher := token.NewOAuthRefresher(
		token.ClientCredentials{ID: cfg.FacebookClientID, Secret: cfg.FacebookClientSecret},
		token.ClientCredentials{ID: cfg.LinkedInClientID, Secret: cfg.LinkedInClientSecret},
		token.ClientCredentials{ID: cfg.GoogleClientID, Secret: cfg.GoogleClientSecret},
		cfg.PublishTimeout,
	)
	guard := &token.Guard{
		Creds:      pgStore,
		Refresher:  refresher,
		ExpirySkew: cfg.TokenExpirySkew,
	}

	apiClient := &http.Client{Timeout: cfg.PublishTimeout}
	publishers := publisher.NewRegistry(
		&publisher.FacebookPage{HTTP: apiClient},
		&publisher.InstagramBusiness{HTTP: apiClient},
		&publisher.LinkedIn{HTTP: apiClient},
		&publisher.YouTubeDraft{
			HTTP: apiClient,
			// video transfers outlive the API call timeout
			MediaHTTP: &http.Client{Timeout: 5 * time.Minute},
		},
	)

	breakers := make(map[domain.Platform]*gobreaker.CircuitBreaker, len(domain.Platforms))
	for _, p := range domain.Platforms {
		breakers[p] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(p),
			MaxRequests: 3,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		})
	}

	// SQS is used both for dispatch decoupling and for handing fallback
	// emails to the notification service; neither is required locally
	var sqsClient *sqs.Client
	if cfg.SQSQueueURL != "" || cfg.NotifyQueueURL != "" {
		sqsClient, err = awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("worker sqs client init failed", "err", err)
			os.Exit(1)
		}
	}

	var mailer notifier.Mailer = notifier.LogMailer{}
	if cfg.NotifyQueueURL != "" {
		mailer = &sqsqueue.Mailer{SQS: sqsClient, QueueURL: cfg.NotifyQueueURL, From: cfg.FallbackFrom}
	}

	var fallbackNotifier *notifier.Notifier
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewClient(ctx)
		if err != nil {
			slog.Error("worker gcs client init failed", "err", err)
			os.Exit(1)
		}
		defer gcs.Close()
		fallbackNotifier = &notifier.Notifier{
			Links:  &content.GCSLinker{Client: gcs, Bucket: cfg.GCSBucket, TTL: cfg.SignedLinkTTL},
			Mailer: mailer,
		}
	} else {
		slog.Warn("no content bucket configured, fallback notifications disabled")
	}

	processor := &workerproc.Processor{
		Store:      pgStore,
		Creds:      pgStore,
		Tokens:     guard,
		Publishers: publishers,
		Shared:     shared,
		Local:      rate.NewLimiter(rate.Limit(cfg.LocalRPS), cfg.LocalBurst),
		Breakers:   breakers,
		Policy: &policy.Policy{
			MaxTries:             cfg.MaxTries,
			Delays:               cfg.RetryDelays,
			RateLimitDelay:       cfg.RateLimitBackoff,
			RateLimitConsumesTry: cfg.RateLimitConsumesTry,
		},
		Notifier: fallbackNotifier,
		Timeout:  cfg.PublishTimeout,
	}

	// dispatch path: in-process by default, claim-then-enqueue when a queue
	// is configured
	var dispatcher scanner.Dispatcher = processor
	consumeErrCh := make(chan error, 1)
	if cfg.SQSQueueURL != "" {
		dispatcher = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSQueueURL}
		consumer := &sqsqueue.Consumer{
			SQS: sqsClient, QueueURL: cfg.SQSQueueURL,
			WaitTimeSeconds:   cfg.SQSWaitTime,
			MaxMessages:       cfg.SQSMaxMsgs,
			VisibilityTimeout: cfg.SQSVizTimeout,
		}
		go func() {
			slog.Info("worker consuming publish jobs", "queue_url", cfg.SQSQueueURL)
			consumeErrCh <- consumer.PollConcurrent(ctx, cfg.SQSConcurrency, func(ctx context.Context, job sqsqueue.PublishJob) error {
				rec, found, err := pgStore.Get(ctx, job.ScheduleID)
				if err != nil {
					return err
				}
				// redelivery of an already-resolved claim is a no-op
				if !found || rec.Status != domain.StatusProcessing {
					return nil
				}
				_, err = processor.Attempt(ctx, rec)
				var ae *workerproc.AttemptError
				if errors.As(err, &ae) {
					return nil
				}
				return err
			})
		}()
	}

	instance := cfg.Instance
	if instance == "" {
		instance, _ = os.Hostname()
	}
	scan := &scanner.Scanner{
		Store:         pgStore,
		Heartbeats:    pgStore,
		Dispatcher:    dispatcher,
		Interval:      cfg.ScanInterval,
		SweepInterval: cfg.SweepInterval,
		StaleAfter:    cfg.StaleClaim,
		Batch:         cfg.ScanBatch,
		MaxConcurrent: cfg.ScanConcurrent,
		Instance:      instance,
	}

	scanErrCh := make(chan error, 1)
	go func() {
		slog.Info("scanner starting", "instance", instance, "interval", cfg.ScanInterval)
		scanErrCh <- scan.Run(ctx)
	}()

	readyChecks := []httpapi.ReadyzCheck{
		{Name: "db", Check: func(c context.Context) error { return db.Ping(c) }},
	}
	if redisWindows != nil {
		readyChecks = append(readyChecks, httpapi.ReadyzCheck{
			Name:  "redis",
			Check: func(c context.Context) error { return redisWindows.Client.Ping(c).Err() },
		})
	}
	if sqsClient != nil && cfg.SQSQueueURL != "" {
		readyChecks = append(readyChecks, httpapi.ReadyzCheck{
			Name: "sqs",
			Check: func(c context.Context) error {
				_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
					QueueUrl:       &cfg.SQSQueueURL,
					AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
				})
				return err
			},
		})
	}

	s := httpapi.New()
	s.Router.HandleFunc("/healthz", httpapi.Healthz())
	s.Router.HandleFunc("/readyz", httpapi.Readyz(2*time.Second, readyChecks...))
	workerAPI := &httpapi.WorkerAPI{Store: pgStore, Proc: processor}
	workerAPI.Register(s.Router, cfg.WorkerSecret)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.Logging(s.Router),
	}
	srvErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker listening", "port", cfg.Port)
		srvErrCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-scanErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("scanner failed", "err", err)
			os.Exit(1)
		}
	case err := <-consumeErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("worker consume failed", "err", err)
			os.Exit(1)
		}
	case err := <-srvErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	select {
	case <-scanErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("worker shutdown timeout waiting for scanner")
	}
}
