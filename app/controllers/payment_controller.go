package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/go-playground/validator/v10"

	"github.com/sponsorrun/SponsorRun/internal/pkg/chain"
	"github.com/sponsorrun/SponsorRun/internal/pkg/payment"
)

var (
	paymentMonitor  *payment.Monitor
	paymentChain    *chain.Client
	paymentValidate = validator.New()
)

func InitializePaymentController(monitor *payment.Monitor, chainClient *chain.Client) {
	paymentMonitor = monitor
	paymentChain = chainClient
}

type startMonitorRequest struct {
	CharityAddress string `json:"charity_address" validate:"required,eth_addr"`
}

// HandleStartPaymentMonitor opens a watch session for an exact sponsorship
// transfer to the given charity address.
func HandleStartPaymentMonitor(c *fiber.Ctx) error {
	if paymentMonitor == nil {
		return chainUnavailable(c)
	}

	var body startMonitorRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := paymentValidate.Struct(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "charity_address must be a valid address"})
	}

	view, err := paymentMonitor.StartSession(body.CharityAddress)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidAddress) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "charity_address must be a valid address"})
		}
		log.Errorf("[Payment] Failed to start session: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_start_failed"})
	}

	log.Infof("[Payment] Started session %s for %s", view.ID, body.CharityAddress)
	return c.Status(fiber.StatusCreated).JSON(view)
}

// HandleGetPaymentMonitor returns the current state of a watch session.
func HandleGetPaymentMonitor(c *fiber.Ctx) error {
	if paymentMonitor == nil {
		return chainUnavailable(c)
	}

	view, err := paymentMonitor.Session(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

// HandleCancelPaymentMonitor stops a watch session before its window ends.
func HandleCancelPaymentMonitor(c *fiber.Ctx) error {
	if paymentMonitor == nil {
		return chainUnavailable(c)
	}

	if err := paymentMonitor.CancelSession(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

// HandleGetTransactionReceipt checks whether a transaction has landed and
// whether it succeeded. A transaction the node has not seen yet reports as
// pending rather than an error.
func HandleGetTransactionReceipt(c *fiber.Ctx) error {
	if paymentChain == nil {
		return chainUnavailable(c)
	}

	rawHash := c.Params("hash")
	if !strings.HasPrefix(rawHash, "0x") || len(rawHash) != 66 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid transaction hash"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
	defer cancel()

	receipt, err := paymentChain.TransactionReceipt(ctx, common.HexToHash(rawHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{
				"tx_hash": rawHash,
				"status":  "pending",
			})
		}
		log.Errorf("[Payment] Receipt lookup failed for %s: %v", rawHash, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "receipt_lookup_failed"})
	}

	status := "failed"
	if receipt.Status == 1 {
		status = "completed"
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"tx_hash":      rawHash,
		"status":       status,
		"block_number": receipt.BlockNumber.Uint64(),
	})
}

func chainUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "payment monitoring is not configured",
	})
}
