package main

import (
	"context"
	"crowdfund-bend/api/admin"
	"crowdfund-bend/api/callbacks"
	"crowdfund-bend/api/campaign"
	"crowdfund-bend/api/user"
	"crowdfund-bend/config"
	"crowdfund-bend/dao"
	"crowdfund-bend/escrow"
	"crowdfund-bend/ledger"
	"crowdfund-bend/milestone"
	"crowdfund-bend/models"
	"crowdfund-bend/refund"
	"crowdfund-bend/scheduler"
	"crowdfund-bend/utils"
	"crowdfund-bend/utils/cache"
	"crowdfund-bend/utils/notifications"
	"crowdfund-bend/utils/payment"
	"crowdfund-bend/utils/queue"
	"crowdfund-bend/voting"
	"crowdfund-bend/worker"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgrijalva/jwt-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	cfg              config.Config
	store            *dao.MongoStore
	factoryDAO       *dao.FactoryDAO
	userService      *user.Service
	campaignService  *campaign.Service
	adminService     *admin.Service
	callbacksService *callbacks.Service
	sweeper          *scheduler.Scheduler
	jobWorker        *worker.Worker
	closers          []func() error
)

func main() {
	cfg = config.Load()
	if cfg.Secret == "" {
		log.Fatal("SECRET not set")
	}

	client, err := dao.Initialize(cfg.MongoURI)
	if err != nil {
		log.Fatalf("failed to initialize database, err: %v", err)
		return
	}
	defer func() {
		if err = client.Disconnect(context.TODO()); err != nil {
			log.Fatal(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCollections(ctx, client)
	if err := initServices(ctx); err != nil {
		log.Fatalf("failed to initialize services, err: %v", err)
		return
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Printf("close_err: %v", err)
			}
		}
	}()

	r := initRoutes()
	r.Use(func(next http.Handler) http.Handler {
		return handlers.LoggingHandler(os.Stdout, next)
	})

	// background services
	go sweeper.Run(ctx)
	go func() {
		if err := jobWorker.Run(ctx); err != nil {
			log.Printf("worker_err: %v", err)
		}
	}()

	log.Println("Running server on port", cfg.Port)

	header := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	methods := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "HEAD", "OPTIONS"})
	origins := handlers.AllowedOrigins([]string{"*"})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handlers.CORS(header, methods, origins)(r)}
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Printf("shutdown_err: %v", err)
		}
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func initRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok", "message": "crowdfund-backend"}`))
	})
	v1 := r.PathPrefix("/api/v1").Subrouter()
	callbacksRouter := v1.PathPrefix("/callbacks").Subrouter()
	campaignsRouter := v1.PathPrefix("/campaigns").Subrouter()
	withdrawalsRouter := v1.PathPrefix("/withdrawals").Subrouter()
	userRouter := v1.PathPrefix("/user").Subrouter()
	adminRouter := v1.PathPrefix("/admin").Subrouter()

	// Callbacks
	callbacksRouter.HandleFunc("/payment", callbacksService.ConfirmPayment).Methods("POST")

	// Campaigns
	campaignsRouter.HandleFunc("/{id}/funding", campaignService.Funding).Methods("GET")
	campaignsRouter.HandleFunc("/{id}/donations", useAuth(campaignService.Donate)).Methods("POST")
	campaignsRouter.HandleFunc("/{id}/withdrawals", useAuth(campaignService.RequestWithdrawal)).Methods("POST")

	// Withdrawals
	withdrawalsRouter.HandleFunc("/{id}/votes", useAuth(campaignService.Vote)).Methods("POST")
	withdrawalsRouter.HandleFunc("/{id}/tally", useAuth(campaignService.Tally)).Methods("GET")
	withdrawalsRouter.HandleFunc("/{id}/progress-update", useAuth(campaignService.ProgressUpdate)).Methods("POST")

	// Users
	userRouter.HandleFunc("/payout-options", useAuth(userService.AddPayoutOption)).Methods("POST")
	userRouter.HandleFunc("/notifications", useAuth(userService.Notifications)).Methods("GET")

	// Admin
	adminRouter.HandleFunc("/withdrawals", useAdmin(adminService.ListWithdrawals)).Methods("GET")
	adminRouter.HandleFunc("/withdrawals/{id}/approve", useAdmin(adminService.Approve)).Methods("PUT")
	adminRouter.HandleFunc("/withdrawals/{id}/reject", useAdmin(adminService.Reject)).Methods("PUT")
	adminRouter.HandleFunc("/withdrawals/{id}/retry-release", useAdmin(adminService.RetryRelease)).Methods("PUT")
	adminRouter.HandleFunc("/campaigns/{id}/cancel", useAdmin(adminService.CancelCampaign)).Methods("PUT")
	adminRouter.HandleFunc("/campaigns/{id}/refunds", useAdmin(adminService.Refunds)).Methods("GET")
	adminRouter.HandleFunc("/recovery/{id}/recoveries", useAdmin(adminService.RecordRecovery)).Methods("POST")
	adminRouter.HandleFunc("/recovery/{id}/escalate", useAdmin(adminService.Escalate)).Methods("PUT")

	return r
}

func initCollections(ctx context.Context, client *mongo.Client) {
	db := client.Database(cfg.MongoDB)
	store = dao.NewMongoStore(client, db)
	factoryDAO = dao.NewFactoryDAO(db)
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Fatalf("failed to create indexes, err: %v", err)
	}
}

func initServices(ctx context.Context) error {
	var (
		c      cache.Cache = cache.NewMemory()
		locker cache.Locker = cache.NewMemoryLocker()
	)
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		closers = append(closers, rdb.Close)
		c = cache.NewRedis(rdb)
		locker = cache.NewRedisLocker(rdb)
	} else {
		log.Println("REDIS_URL not set, using in-process cache and locks")
	}

	var (
		jobs   queue.Queue
		source queue.Source
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaJobTopic)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		consumer, err := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaJobTopic)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		closers = append(closers, producer.Close)
		jobs, source = producer, consumer
	} else {
		log.Println("KAFKA_BROKERS not set, using in-process job queue")
		local := queue.NewLocal(256)
		jobs, source = local, local
	}

	var gateway payment.Gateway = &payment.Stub{}
	if cfg.PayPalClientID != "" {
		pp, err := payment.NewPayPal(ctx, payment.PayPalConfig{
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			Sandbox:      cfg.IsDev(),
			ReturnURL:    cfg.PayPalReturnURL,
			CancelURL:    cfg.PayPalCancelURL,
		})
		if err != nil {
			return err
		}
		gateway = pp
	} else {
		log.Println("PAYPAL_CLIENT_ID not set, using stub gateway")
	}

	mailer := utils.NewMailer(utils.MailConfig{
		MailgunDomain:     cfg.MailgunDomain,
		MailgunPrivateKey: cfg.MailgunPrivateKey,
		MailFrom:          cfg.MailFrom,
		SMTPUser:          cfg.EmailSender,
		SMTPPass:          cfg.EmailSenderPass,
	})

	var pusher notifications.Pusher
	if cfg.ServiceAccountKeyPath != "" {
		fcm, err := notifications.NewFCM(ctx, cfg.ServiceAccountKeyPath)
		if err != nil {
			log.Printf("fcm_init_err: %v", err)
		} else {
			pusher = fcm
		}
	}
	notifier := notifications.NewNotifiable(factoryDAO, mailer, pusher)

	votingSrv := voting.NewService(store, c, cfg.Policy)
	machine := escrow.NewMachine(escrow.Deps{
		Store:    store,
		Transfer: gateway,
		Notifier: notifier,
		Cache:    c,
		Locker:   locker,
		Voting:   votingSrv,
		Policy:   cfg.Policy,
	})
	milestones := milestone.NewEngine(store, machine)
	refunds := refund.NewEngine(refund.Deps{
		Store:    store,
		Machine:  machine,
		Voting:   votingSrv,
		Notifier: notifier,
		Policy:   cfg.Policy,
	})
	funding := ledger.New(ledger.Deps{
		Store:     store,
		Charger:   gateway,
		Queue:     jobs,
		Cache:     c,
		Machine:   machine,
		Milestone: milestones,
		Voting:    votingSrv,
		Refunds:   refunds,
	})

	sweeper = scheduler.New(scheduler.Deps{
		Store:     store,
		Machine:   machine,
		Milestone: milestones,
		Refunds:   refunds,
		Locker:    locker,
		Notifier:  notifier,
		Policy:    cfg.Policy,
	})
	jobWorker = worker.New(source, store, mailer, notifier)

	userService = user.NewUserService(store.Users(), factoryDAO)
	campaignService = campaign.NewCampaignService(funding, machine, votingSrv)
	adminService = admin.NewAdminService(machine, refunds)
	callbacksService = callbacks.NewCallbacksService(funding, gateway)
	return nil
}

// useAuth validates a token for protected routes
func useAuth(nextHandler http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorizationHeader := r.Header.Get("Authorization")
		if authorizationHeader == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "You are not authorized")
			return
		}
		token, err := jwt.Parse(authorizationHeader, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("Unexpected signing method: %v", token.Header["alg"])
			}

			return []byte(cfg.Secret), nil
		})
		if err != nil {
			log.Printf("auth parse err: %v", err)
			utils.RespondWithError(w, http.StatusUnauthorized, "You are not authorized")
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
			var id, email string
			id, ok = claims["id"].(string)
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Error converting claim to string")
				return
			}
			email, ok = claims["email"].(string)
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Error converting claim to string")
				return
			}
			role, _ := claims["role"].(string)

			ctx := context.WithValue(r.Context(), models.UserIDKey, id)
			ctx = context.WithValue(ctx, models.UserEmailKey, email)
			ctx = context.WithValue(ctx, models.UserRoleKey, role)

			nextHandler.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		utils.RespondWithError(w, http.StatusUnauthorized, "An authorized error occurred")
	})
}

// useAdmin is useAuth restricted to tokens carrying the admin role
func useAdmin(nextHandler http.HandlerFunc) http.HandlerFunc {
	return useAuth(func(w http.ResponseWriter, r *http.Request) {
		if role, _ := r.Context().Value(models.UserRoleKey).(string); role != models.RoleAdmin {
			utils.RespondWithError(w, http.StatusForbidden, "Admin access required")
			return
		}
		nextHandler(w, r)
	})
}
