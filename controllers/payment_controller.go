package controller

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"gorm.io/gorm"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

func InitStripe() {
	stripe.Key = config.AppConfig.StripeSecretKey
}

// creditPack is a purchasable bundle of email credits.
type creditPack struct {
	Credits int
	Amount  int64 // cents
	Label   string
}

var creditPacks = map[string]creditPack{
	"starter": {Credits: 500, Amount: 900, Label: "Starter pack (500 credits)"},
	"growth":  {Credits: 2500, Amount: 3900, Label: "Growth pack (2,500 credits)"},
	"scale":   {Credits: 10000, Amount: 12900, Label: "Scale pack (10,000 credits)"},
}

type PurchaseRequest struct {
	Pack string `json:"pack" validate:"required,oneof=starter growth scale"`
}

// ListCreditPacks returns the purchasable packs.
func ListCreditPacks(c *fiber.Ctx) error {
	packs := make([]fiber.Map, 0, len(creditPacks))
	for slug, pack := range creditPacks {
		packs = append(packs, fiber.Map{
			"slug":     slug,
			"credits":  pack.Credits,
			"amount":   pack.Amount,
			"currency": "usd",
			"label":    pack.Label,
		})
	}
	return c.JSON(utils.SuccessResponse(packs))
}

// CreateCreditPurchase creates a Stripe payment intent for a credit
// pack and records the pending transaction.
func CreateCreditPurchase(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	pack := creditPacks[req.Pack]

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(pack.Amount),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Metadata: map[string]string{
			"school_id": strconv.Itoa(int(school.ID)),
			"pack":      req.Pack,
		},
		Description: stripe.String(pack.Label),
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		utils.LogError("payment_intent_failed", err, map[string]interface{}{
			"school_id": school.ID,
			"pack":      req.Pack,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process payment",
		})
	}

	transaction := models.CreditTransaction{
		SchoolID:              school.ID,
		Credits:               pack.Credits,
		BalanceAfter:          school.EmailCredits,
		Type:                  models.TransactionPurchase,
		Description:           pack.Label,
		Amount:                int(pack.Amount),
		Currency:              "usd",
		StripePaymentIntentID: pi.ID,
		PaymentStatus:         "pending",
	}
	if err := config.DB.Create(&transaction).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record transaction",
		})
	}

	return c.JSON(fiber.Map{
		"clientSecret":   pi.ClientSecret,
		"transaction_id": transaction.ID,
		"amount":         pack.Amount,
		"currency":       "usd",
	})
}

// HandlePaymentWebhook handles Stripe webhook events.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	event, err := utils.ConstructStripeEvent(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Error parsing payment intent",
			})
		}
		return handlePaymentIntentSucceeded(c, &pi)

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Error parsing payment intent",
			})
		}
		return handlePaymentIntentFailed(c, &pi)

	default:
		return c.SendStatus(fiber.StatusOK)
	}
}

// handlePaymentIntentSucceeded credits the school exactly once per
// payment intent.
func handlePaymentIntentSucceeded(c *fiber.Ctx, pi *stripe.PaymentIntent) error {
	err := config.DB.Transaction(func(tx *gorm.DB) error {
		var transaction models.CreditTransaction
		if err := tx.Where("stripe_payment_intent_id = ?", pi.ID).First(&transaction).Error; err != nil {
			return err
		}
		if transaction.PaymentStatus == "completed" {
			// Stripe retries webhooks; don't credit twice
			return nil
		}

		if err := tx.Model(&models.School{}).Where("id = ?", transaction.SchoolID).
			Update("email_credits", gorm.Expr("email_credits + ?", transaction.Credits)).Error; err != nil {
			return err
		}

		var school models.School
		if err := tx.First(&school, transaction.SchoolID).Error; err != nil {
			return err
		}

		return tx.Model(&transaction).Updates(map[string]interface{}{
			"payment_status": "completed",
			"balance_after":  school.EmailCredits,
		}).Error
	})
	if err != nil {
		utils.LogError("payment_webhook_failed", err, map[string]interface{}{
			"payment_intent_id": pi.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to apply payment",
		})
	}
	return c.SendStatus(fiber.StatusOK)
}

func handlePaymentIntentFailed(c *fiber.Ctx, pi *stripe.PaymentIntent) error {
	updates := map[string]interface{}{
		"payment_status": "failed",
	}
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		updates["description"] = "Payment failed: " + pi.LastPaymentError.Msg
	}

	err := config.DB.Model(&models.CreditTransaction{}).
		Where("stripe_payment_intent_id = ?", pi.ID).
		Updates(updates).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update transaction",
		})
	}
	return c.SendStatus(fiber.StatusOK)
}

// ListCreditTransactions pages through the school's credit ledger.
func ListCreditTransactions(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := config.DB.Model(&models.CreditTransaction{}).Where("school_id = ?", school.ID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count transactions",
		})
	}

	var transactions []models.CreditTransaction
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch transactions",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  transactions,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}
