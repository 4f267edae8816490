// handlers/rewards_routes.go
package handlers

import (
	"errors"
	"log"

	"reward-ledger-system/middleware"
	"reward-ledger-system/models"
	"reward-ledger-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupRewardRoutes wires the reward-economy surface. Controllers do no
// business logic; they parse, call a service, and map errors to messages.
func SetupRewardRoutes(
	app *fiber.App,
	ledger *services.LedgerService,
	achievements *services.AchievementService,
	challenges *services.ChallengeService,
	tournaments *services.TournamentService,
	prizes *services.PrizeService,
) {
	// Internal surface: trusted services behind the gateway (order service,
	// admin tools, scheduler webhooks).
	internal := app.Group("/internal")

	internal.Post("/ledger/award", func(c *fiber.Ctx) error {
		var req struct {
			UserID         string                 `json:"user_id"`
			Amount         int64                  `json:"amount"`
			Source         string                 `json:"source"`
			Description    string                 `json:"description"`
			Metadata       map[string]interface{} `json:"metadata"`
			Category       string                 `json:"category"`
			IdempotencyKey string                 `json:"idempotency_key"`
			Multiplier     float64                `json:"multiplier"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		result, err := ledger.Award(services.AwardRequest{
			UserID:         req.UserID,
			Amount:         req.Amount,
			Source:         models.LedgerSource(req.Source),
			Description:    req.Description,
			Metadata:       req.Metadata,
			Category:       req.Category,
			IdempotencyKey: req.IdempotencyKey,
			Multiplier:     req.Multiplier,
		})
		if err != nil {
			if errors.Is(err, services.ErrInvalidAmount) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			}
			log.Printf("Award failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "award failed"})
		}
		return c.JSON(result)
	})

	internal.Post("/ledger/deduct", func(c *fiber.Ctx) error {
		var req struct {
			UserID         string                 `json:"user_id"`
			Amount         int64                  `json:"amount"`
			Source         string                 `json:"source"`
			Description    string                 `json:"description"`
			Metadata       map[string]interface{} `json:"metadata"`
			Category       string                 `json:"category"`
			IdempotencyKey string                 `json:"idempotency_key"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		result, err := ledger.Deduct(services.DeductRequest{
			UserID:         req.UserID,
			Amount:         req.Amount,
			Source:         models.LedgerSource(req.Source),
			Description:    req.Description,
			Metadata:       req.Metadata,
			Category:       req.Category,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			switch {
			case errors.Is(err, services.ErrInvalidAmount):
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			case errors.Is(err, services.ErrInsufficientBalance):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Insufficient coins"})
			}
			log.Printf("Deduct failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "deduct failed"})
		}
		return c.JSON(result)
	})

	internal.Post("/ledger/transfer", func(c *fiber.Ctx) error {
		var req struct {
			FromUserID  string `json:"from_user_id"`
			ToUserID    string `json:"to_user_id"`
			Amount      int64  `json:"amount"`
			Description string `json:"description"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		result, err := ledger.Transfer(req.FromUserID, req.ToUserID, req.Amount, req.Description)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrInvalidAmount):
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			case errors.Is(err, services.ErrInsufficientBalance):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Insufficient coins"})
			}
			log.Printf("Transfer failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "transfer failed"})
		}
		return c.JSON(result)
	})

	// Metric updates fan in from the aggregation pipeline. A gamification
	// failure here must never bounce the triggering user action, so this
	// always answers 200 with whatever was unlocked.
	internal.Post("/metrics/:userID", func(c *fiber.Ctx) error {
		var req struct {
			Metrics map[string]float64 `json:"metrics"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		result, err := achievements.ProcessMetricUpdate(c.Params("userID"), req.Metrics)
		if err != nil {
			log.Printf("Metric update failed for %s: %v", c.Params("userID"), err)
			return c.JSON(fiber.Map{"unlocked_types": []string{}})
		}
		return c.JSON(result)
	})

	internal.Post("/progress/:userID", func(c *fiber.Ctx) error {
		var req struct {
			Action   string `json:"action"`
			Amount   int64  `json:"amount"`
			Store    string `json:"store"`
			Category string `json:"category"`
			Value    int64  `json:"value"`
			Source   string `json:"source"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		updated, err := challenges.AddProgress(c.Params("userID"), services.ProgressEventInput{
			Action:   req.Action,
			Amount:   req.Amount,
			Store:    req.Store,
			Category: req.Category,
			Value:    req.Value,
			Source:   req.Source,
		})
		if err != nil {
			log.Printf("Progress event failed for %s: %v", c.Params("userID"), err)
			return c.JSON([]models.UserChallengeProgress{})
		}
		return c.JSON(updated)
	})

	internal.Post("/challenges/:id/status", func(c *fiber.Ctx) error {
		var req struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		err := challenges.TransitionStatus(c.Params("id"), models.ChallengeStatus(req.Status), req.Reason)
		if err != nil {
			if errors.Is(err, services.ErrInvalidTransition) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "transition failed"})
		}
		return c.JSON(fiber.Map{"message": "status updated"})
	})

	internal.Post("/distributions/:configID", func(c *fiber.Ctx) error {
		result, err := prizes.DistributeCycle(c.Params("configID"))
		if err != nil {
			log.Printf("Manual distribution failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "distribution failed"})
		}
		return c.JSON(result)
	})

	// User surface: gateway forwards the authenticated user id.
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/wallet", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		wallet, categories, err := ledger.GetWallet(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(fiber.Map{"wallet": wallet, "categories": categories})
	})

	secured.Get("/wallet/history", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		entries, err := ledger.RecentEntries(userID, c.QueryInt("limit", 50))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(entries)
	})

	secured.Get("/achievements", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		records, err := achievements.UserAchievements(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(records)
	})

	secured.Get("/challenges", func(c *fiber.Ctx) error {
		active, err := challenges.ActiveChallenges()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(active)
	})

	secured.Post("/challenges/:id/join", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		progress, err := challenges.Join(userID, c.Params("id"))
		if err != nil {
			if errors.Is(err, services.ErrChallengeNotJoinable) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
			}
			log.Printf("Join failed for %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "join failed"})
		}
		return c.Status(fiber.StatusCreated).JSON(progress)
	})

	secured.Post("/claims/:progressID", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		result, err := challenges.Claim(userID, c.Params("progressID"))
		if err != nil {
			switch {
			case errors.Is(err, services.ErrClaimInProgress):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Claim already in progress"})
			case errors.Is(err, services.ErrNothingToClaim):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
			}
			log.Printf("Claim failed for %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "claim failed"})
		}
		return c.JSON(result)
	})

	secured.Post("/tournaments/:id/join", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		entry, err := tournaments.Join(userID, c.Params("id"))
		if err != nil {
			switch {
			case errors.Is(err, services.ErrTournamentNotJoinable):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
			case errors.Is(err, services.ErrInsufficientBalance):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Insufficient coins"})
			}
			log.Printf("Tournament join failed for %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "join failed"})
		}
		return c.Status(fiber.StatusCreated).JSON(entry)
	})
}
