package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go-ptw/internal/clock"
	common_api "go-ptw/internal/common/api"
	"go-ptw/internal/config"
	"go-ptw/internal/database"
	"go-ptw/internal/features/audit"
	"go-ptw/internal/features/directory"
	"go-ptw/internal/features/notification"
	"go-ptw/internal/features/permit"
	"go-ptw/internal/features/policy"
	"go-ptw/internal/features/reminder"
	"go-ptw/internal/features/scheduler"
	"go-ptw/internal/features/system"
	"go-ptw/internal/logger"
	"go-ptw/internal/middleware"
	"go-ptw/pkg/utils"

	_ "go-ptw/docs" // Import swagger docs

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),    // Cast to Interface
		fx.ResultTags(`group:"routes"`), // Add to Group
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route, logger *zap.Logger) {
	for _, route := range routes {
		logger.Debug("Setting up route", zap.String("route", fmt.Sprintf("%T", route)))
		route.Setup(app)
	}
	logger.Info("All routes registered", zap.Int("count", len(routes)))
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	utils.SetSecret(cfg.JWTSecret)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// InitializeIndexes creates the unique indexes the engine relies on (permit
// numbers, job keys, one policy per tenant) before the scheduler sweeps.
func InitializeIndexes(
	lc fx.Lifecycle,
	logger *zap.Logger,
	policyRepo policy.PolicyRepository,
	directoryRepo directory.DirectoryRepository,
	jobRepo scheduler.JobRepository,
	permitRepo permit.PermitRepository,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			for name, ensure := range map[string]func(context.Context) error{
				"policy":    policyRepo.EnsureIndexes,
				"directory": directoryRepo.EnsureIndexes,
				"jobs":      jobRepo.EnsureIndexes,
				"permits":   permitRepo.EnsureIndexes,
			} {
				if err := ensure(ctx); err != nil {
					logger.Error("Failed to ensure indexes", zap.String("collection", name), zap.Error(err))
				}
			}
			return nil
		},
	})
}

// WireScheduler routes fired jobs to the permit engine and lets the sweep
// retry expiry schedules that failed earlier.
func WireScheduler(timer scheduler.Timer, sweeper *scheduler.TimerService, permits permit.PermitService, reminders reminder.Client) {
	permit.RegisterJobHandlers(timer, permits)
	sweeper.OnSweep(reminders.RetryPending)
}

func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Initialize Database
			database.NewDatabase,

			clock.Real,

			// Initialize Repository
			audit.NewAuditRepository,
			policy.NewPolicyRepository,
			directory.NewDirectoryRepository,
			notification.NewNotificationRepository,
			scheduler.NewJobRepository,
			permit.NewPermitRepository,

			// Initialize Service
			audit.NewAuditService,
			policy.NewPolicyService,
			directory.NewApproverResolver,
			notification.NewNotificationService,
			scheduler.NewTimerService,
			reminder.NewClient,
			permit.NewChainBuilder,
			permit.NewPermitService,

			// Interface Adapters
			func(r directory.DirectoryRepository) audit.UserFinder { return r },
			func(s notification.NotificationService) notification.Notifier { return s },
			func(s *scheduler.TimerService) scheduler.Timer { return s },

			// Initialize Controller
			audit.NewAuditController,
			policy.NewPolicyController,
			notification.NewNotificationController,
			scheduler.NewJobController,
			permit.NewPermitController,

			// Initialize API Routes
			AsRoute(audit.NewAuditApi),
			AsRoute(policy.NewPolicyApi),
			AsRoute(notification.NewNotificationApi),
			AsRoute(scheduler.NewJobApi),
			AsRoute(permit.NewPermitApi),
			AsRoute(system.NewHealthApi),
			AsRoute(system.NewSwaggerApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			InitializeIndexes,
			WireScheduler,
			// Register Routes & Start
			RegisterAllRoutesWithAnnotation,
			StartServer,
		),
	)

	app.Run()
}
