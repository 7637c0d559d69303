package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"greendrake/offerdesk/internal/api"
	"greendrake/offerdesk/internal/cache"
	"greendrake/offerdesk/internal/config"
	"greendrake/offerdesk/internal/db"
	"greendrake/offerdesk/internal/document"
	"greendrake/offerdesk/internal/email"
	"greendrake/offerdesk/internal/mailbox"
	"greendrake/offerdesk/internal/services"
	"greendrake/offerdesk/internal/storage"
	"greendrake/offerdesk/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (scheduler and offer worker), 'mail' (reply listener), 'all' (default)")

// mailboxLockTTL bounds how long a crashed listener blocks a new one.
const mailboxLockTTL = 30 * time.Second

// buildSender picks the outbound transport for the current environment.
func buildSender(cfg *config.Config, rdb redis.Cmdable) email.Sender {
	var primary email.Sender
	if cfg.MockServices {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primary = email.NewRedisSender(rdb)
	} else {
		primary = email.NewSMTPSender(cfg)
	}

	composite := email.NewCompositeEmailSender(primary)
	if cfg.LogEmailsTo != "" {
		fileSender, err := email.NewFileEmailSender(cfg.LogEmailsTo)
		if err != nil {
			log.Printf("WARNING: Failed to initialize file email sender (LOG_EMAILS='%s'): %v. Proceeding without file logging.", cfg.LogEmailsTo, err)
		} else {
			composite.AddSender(fileSender)
			log.Printf("LOG_EMAILS set, copying outbound mail to %s", cfg.LogEmailsTo)
		}
	}
	return composite
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(indexCtx, mongoDb); err != nil {
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancelIndex()

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	objectStorage, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize object storage: %v", err)
	}

	userService := services.NewUserService(mongoDb)
	propertyService := services.NewPropertyService(mongoDb)
	offerService := services.NewOfferService(mongoDb)
	sentMessageService := services.NewSentMessageService(mongoDb)
	emailTemplateService := services.NewEmailTemplateService(mongoDb)
	analyticsService := services.NewAnalyticsService(mongoDb)

	taskClient := tasks.NewClient(cfg)
	defer taskClient.Close()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownChan := make(chan struct{}, 1)

	// Service API always runs.
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(redisClient, shutdownChan),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		fmt.Println("Service API server stopped.")
	}()

	var mainApiSrv *http.Server
	var workerSrv *asynq.Server
	var scheduler *asynq.Scheduler
	var mailboxLock *mailbox.RedisLock

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		mainApiSrv = &http.Server{
			Addr: ":" + cfg.ApiPort,
			Handler: api.SetupRouter(cfg, api.Dependencies{
				Users:        userService,
				Properties:   propertyService,
				Offers:       offerService,
				SentMessages: sentMessageService,
				Analytics:    analyticsService,
				Storage:      objectStorage,
				Queue:        taskClient,
			}),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		gateway := email.NewGateway(cfg, buildSender(cfg, redisClient), sentMessageService)
		pipeline := tasks.NewOfferPipeline(
			userService,
			propertyService,
			offerService,
			emailTemplateService,
			document.NewBuilder(objectStorage),
			objectStorage,
			gateway,
		)

		var mux *asynq.ServeMux
		workerSrv, mux = tasks.SetupServer(cfg, tasks.NewTaskProcessor(pipeline))
		if err := workerSrv.Start(mux); err != nil {
			log.Fatalf("Offer worker failed to start: %v", err)
		}
		fmt.Println("Offer worker started.")

		scheduler = tasks.NewAsynqScheduler(cfg)
		payload, err := tasks.NewOfferGeneratePayload("schedule")
		if err != nil {
			log.Fatalf("Failed to build schedule payload: %v", err)
		}
		offerScheduler := tasks.NewOfferScheduler(scheduler, redisClient)
		if _, err := offerScheduler.ScheduleDaily(ctx, tasks.DailyOfferJob, cfg.OfferCron, payload); err != nil {
			log.Fatalf("Failed to schedule offer generation: %v", err)
		}
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Scheduler failed to start: %v", err)
		}
		fmt.Printf("Offer generation scheduled at '%s' (%s).\n", cfg.OfferCron, cfg.OfferCronTimezone)
	}

	mailMode := func() {
		if cfg.ImapHost == "" {
			log.Println("IMAP_HOST not set: reply listener disabled.")
			return
		}
		mailboxLock = mailbox.NewRedisLock(redisClient, cfg.ImapUsername, mailboxLockTTL)
		if err := mailboxLock.Acquire(ctx); err != nil {
			if errors.Is(err, mailbox.ErrLockHeld) {
				log.Fatalf("Refusing to start: reply listener for %s is already running", cfg.ImapUsername)
			}
			log.Fatalf("Failed to acquire mailbox lock: %v", err)
		}

		listenCtx, stopListening := context.WithCancel(ctx)
		go mailboxLock.KeepAlive(listenCtx, func(err error) {
			log.Printf("Stopping reply listener: %v", err)
			stopListening()
		})

		threader := mailbox.NewThreader(sentMessageService).WithEmailChain(sentMessageService, offerService)
		listener := mailbox.NewListener(cfg, mailbox.NewIMAPDialer(cfg), threader)
		listener.OnStateChange(func(from, to mailbox.State) {
			log.Printf("Mailbox %s: %s -> %s", cfg.ImapUsername, from, to)
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stopListening()
			if err := listener.Run(listenCtx); err != nil {
				log.Printf("Reply listener stopped: %v", err)
			}
			fmt.Println("Reply listener stopped.")
		}()
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "mail":
		mailMode()
	case "all":
		apiMode()
		bgMode()
		mailMode()
	default:
		log.Fatalf("Invalid run mode specified in config: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	}

	// Stops the reply listener and lock refresh.
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}
	if scheduler != nil {
		scheduler.Shutdown()
	}
	if workerSrv != nil {
		workerSrv.Shutdown()
	}

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()

	if mailboxLock != nil {
		if err := mailboxLock.Release(ctxShutdown); err != nil {
			log.Printf("Mailbox lock release error: %v", err)
		}
	}

	fmt.Println("Server gracefully stopped")
}
