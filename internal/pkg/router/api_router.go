package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/sponsorrun/SponsorRun/app/controllers"
	"github.com/sponsorrun/SponsorRun/internal/pkg/chain"
	"github.com/sponsorrun/SponsorRun/internal/pkg/database"
	"github.com/sponsorrun/SponsorRun/internal/pkg/env"
	"github.com/sponsorrun/SponsorRun/internal/pkg/jobqueue"
	"github.com/sponsorrun/SponsorRun/internal/pkg/payment"
	"github.com/sponsorrun/SponsorRun/internal/pkg/strava"
	"github.com/sponsorrun/SponsorRun/internal/pkg/tokens"
	"github.com/sponsorrun/SponsorRun/internal/pkg/webhook"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	db := database.GetDB()
	repo := webhook.NewRepository(db)
	client := strava.NewClientFromEnv()
	tokenManager := tokens.NewManager(tokens.NewStore(db), client)

	service := webhook.NewService(repo, tokenManager, client, func(eventID string) {
		jobqueue.GetManager().EnqueueWebhookProcess(eventID)
	})
	jobqueue.Setup(service, repo)

	chainClient := setupChainClient()
	var monitor *payment.Monitor
	if chainClient != nil {
		monitor = payment.NewMonitor(payment.ConfigFromEnv(), chainClient)
	}

	controllers.InitializeWebhookController(service, client)
	controllers.InitializeEventsController(repo)
	controllers.InitializeOAuthController(client, db)
	controllers.InitializeActivitiesController(repo, tokenManager, client)
	controllers.InitializePaymentController(monitor, chainClient)

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
	}))
	v1 := api.Group("/v1")

	v1.Get("/strava/webhook", controllers.HandleWebhookVerify)
	v1.Post("/strava/webhook", controllers.HandleWebhookEvent)

	v1.Post("/strava/webhook-subscriptions", controllers.HandleCreateWebhookSubscription)
	v1.Get("/strava/webhook-subscriptions", controllers.HandleListWebhookSubscriptions)
	v1.Delete("/strava/webhook-subscriptions/:id", controllers.HandleDeleteWebhookSubscription)

	v1.Post("/strava/oauth/token", controllers.HandleStravaTokenExchange)
	v1.Get("/strava/activities", controllers.HandleListUpstreamActivities)
	v1.Get("/activities", controllers.HandleListActivities)

	v1.Get("/webhook-events", controllers.HandleListWebhookEvents)
	v1.Get("/webhook-events/:id", controllers.HandleGetWebhookEvent)
	v1.Delete("/webhook-events", controllers.HandleClearWebhookEvents)

	v1.Post("/payment-monitors", controllers.HandleStartPaymentMonitor)
	v1.Get("/payment-monitors/receipt/:hash", controllers.HandleGetTransactionReceipt)
	v1.Get("/payment-monitors/:id", controllers.HandleGetPaymentMonitor)
	v1.Delete("/payment-monitors/:id", controllers.HandleCancelPaymentMonitor)
}

// setupChainClient dials the configured RPC endpoint. Payment monitoring is
// optional; without CHAIN_RPC_URL the rest of the service runs normally.
func setupChainClient() *chain.Client {
	rpcURL := env.GetEnv("CHAIN_RPC_URL", "")
	if rpcURL == "" {
		log.Warn("[Chain] CHAIN_RPC_URL not set, payment monitoring disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := chain.NewClient(ctx, rpcURL)
	if err != nil {
		log.Errorf("[Chain] Failed to connect to RPC endpoint: %v", err)
		return nil
	}

	log.Info("[Chain] Connected to RPC endpoint")
	return client
}
