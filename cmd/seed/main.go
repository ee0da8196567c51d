package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/config"
	"go-ptw/internal/database"
	"go-ptw/internal/features/audit"
	"go-ptw/internal/features/directory"
	"go-ptw/internal/features/policy"
	"go-ptw/internal/logger"
	"go-ptw/pkg/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type seedUser struct {
	ID      string             `json:"id"`
	PlantID string             `json:"plant_id"`
	Name    string             `json:"name"`
	Email   string             `json:"email"`
	Role    common_models.Role `json:"role"`
}

type seedArea struct {
	ID        string `json:"id"`
	PlantID   string `json:"plant_id"`
	Name      string `json:"name"`
	Personnel []struct {
		Role   common_models.Role `json:"role"`
		UserID string             `json:"user_id"`
	} `json:"personnel"`
}

type seedData struct {
	CompanyID string     `json:"company_id"`
	Users     []seedUser `json:"users"`
	Areas     []seedArea `json:"areas"`
}

// Seed loads a demo tenant: the PTW policy, users and areas with their
// designated personnel. It is idempotent.
func Seed(
	lc fx.Lifecycle,
	cfg *config.Config,
	mongodb *database.MongodbDB,
	directoryRepo directory.DirectoryRepository,
	policyRepo policy.PolicyRepository,
	policyService policy.PolicyService,
	logger *zap.Logger,
	shutdowner fx.Shutdowner,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if err := shutdowner.Shutdown(); err != nil {
						logger.Error("Failed to shutdown", zap.Error(err))
					}
				}()

				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()

				logger.Info("🌱 Starting PTW seeding...")

				// Data Paths (Assuming running from backend root)
				var data seedData
				raw, err := os.ReadFile("cmd/seed/data/directory.json")
				if err != nil {
					logger.Error("Failed to read seed data", zap.Error(err))
					return
				}
				if err := json.Unmarshal(raw, &data); err != nil {
					logger.Error("Failed to parse seed data", zap.Error(err))
					return
				}

				if err := directoryRepo.EnsureIndexes(ctx); err != nil {
					logger.Warn("Failed to ensure directory indexes", zap.Error(err))
				}
				if err := policyRepo.EnsureIndexes(ctx); err != nil {
					logger.Warn("Failed to ensure policy indexes", zap.Error(err))
				}

				pol, err := policy.LoadFile(cfg.PolicyPath)
				if err != nil {
					logger.Warn("Policy file unusable, seeding built-in policy", zap.Error(err))
					pol = policy.Default(data.CompanyID)
				}
				pol.CompanyID = data.CompanyID
				if _, err := policyService.SavePolicy(ctx, pol, "seed"); err != nil {
					logger.Error("Failed to seed policy", zap.Error(err))
					return
				}
				logger.Info("Policy seeded", zap.String("tenant_id", data.CompanyID), zap.String("closure_mode", string(pol.Closure.Mode)))

				now := time.Now().UTC()
				users := mongodb.DB.Collection("users")
				for i, u := range data.Users {
					oid, err := primitive.ObjectIDFromHex(u.ID)
					if err != nil {
						logger.Error("Invalid user id", zap.String("id", u.ID))
						continue
					}
					doc := directory.User{
						ID:        oid,
						CompanyID: data.CompanyID,
						PlantID:   u.PlantID,
						Name:      u.Name,
						Email:     u.Email,
						Role:      u.Role,
						Active:    true,
						// stagger so holder order is deterministic
						AssignedAt: now.Add(time.Duration(i) * time.Minute),
					}
					if _, err := users.ReplaceOne(ctx, bson.M{"_id": oid}, doc, options.Replace().SetUpsert(true)); err != nil {
						logger.Error("Failed to seed user", zap.String("email", u.Email), zap.Error(err))
					}
				}

				areas := mongodb.DB.Collection("areas")
				for _, a := range data.Areas {
					oid, err := primitive.ObjectIDFromHex(a.ID)
					if err != nil {
						logger.Error("Invalid area id", zap.String("id", a.ID))
						continue
					}
					doc := directory.Area{
						ID:        oid,
						CompanyID: data.CompanyID,
						PlantID:   a.PlantID,
						Name:      a.Name,
						CreatedAt: now,
					}
					for _, p := range a.Personnel {
						doc.Personnel = append(doc.Personnel, directory.AreaAssignment{Role: p.Role, UserID: p.UserID, AssignedAt: now})
					}
					if _, err := areas.ReplaceOne(ctx, bson.M{"_id": oid}, doc, options.Replace().SetUpsert(true)); err != nil {
						logger.Error("Failed to seed area", zap.String("area", a.Name), zap.Error(err))
					}
				}

				// Development tokens, one per seeded user.
				utils.SetSecret(cfg.JWTSecret)
				for _, u := range data.Users {
					areaID := ""
					for _, a := range data.Areas {
						for _, p := range a.Personnel {
							if p.UserID == u.ID && areaID == "" {
								areaID = a.ID
							}
						}
					}
					if areaID == "" && len(data.Areas) > 0 {
						areaID = data.Areas[0].ID
					}
					token, err := utils.GenerateToken(common_models.Identity{
						UserID:    u.ID,
						Name:      u.Name,
						Role:      u.Role,
						CompanyID: data.CompanyID,
						PlantID:   u.PlantID,
						AreaID:    areaID,
					})
					if err != nil {
						logger.Error("Failed to sign token", zap.String("email", u.Email), zap.Error(err))
						continue
					}
					logger.Info("Seeded user", zap.String("email", u.Email), zap.String("role", string(u.Role)), zap.String("token", token))
				}

				logger.Info("✅ Seeding completed", zap.Int("users", len(data.Users)), zap.Int("areas", len(data.Areas)))
			}()
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			database.NewDatabase,
			logger.NewLogger,
			audit.NewAuditRepository,
			audit.NewAuditService,
			directory.NewDirectoryRepository,
			policy.NewPolicyRepository,
			policy.NewPolicyService,
			func(r directory.DirectoryRepository) audit.UserFinder { return r },
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(Seed),
	)

	app.Run()
}
