package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/i474232898/seller-order-enrichment/internal/metrics"
	"github.com/i474232898/seller-order-enrichment/internal/pipeline"
	"github.com/i474232898/seller-order-enrichment/internal/store"
)

var validate = validator.New()

// MaxOrdersPerRequest bounds POST /api/v1/enrich.
const MaxOrdersPerRequest = 50000

// Runner executes one enrichment run.
type Runner interface {
	Run(ctx context.Context, orders []enrich.OrderRecord) (pipeline.Outcome, error)
}

// RunStore reads run history.
type RunStore interface {
	GetLatest() (store.RunRecord, error)
	Get(id string) (store.RunRecord, error)
	GetRange(from, to time.Time) ([]store.RunRecord, error)
}

// ErrorHandler renders every error as a JSON body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterOps adds the health and metrics endpoints.
func RegisterOps(app *fiber.App, service string, m *metrics.Registry) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": service,
		})
	})
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. Timestamps
// without a zone in submitted orders are read in orderLoc.
func RegisterRoutes(app *fiber.App, runner Runner, runs RunStore, orderLoc *time.Location) {
	v1 := app.Group("/api/v1")

	v1.Post("/enrich", func(c *fiber.Ctx) error {
		var req enrichRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		orders, err := pipeline.DecodeOrders(req.Orders, orderLoc)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		out, err := runner.Run(c.UserContext(), orders)
		switch {
		case err == nil:
			return c.JSON(enrichResponse{Run: out.Run, Rows: out.Rows})
		case errors.Is(err, pipeline.ErrFatalValidation):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(enrichResponse{Run: out.Run, Rows: out.Rows})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return fiber.NewError(fiber.StatusServiceUnavailable, "enrichment run cancelled")
		default:
			return fiber.NewError(fiber.StatusInternalServerError, "enrichment run failed: "+err.Error())
		}
	})

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		run, err := runs.GetLatest()
		if err != nil {
			return storeError(err, "no runs recorded")
		}
		return c.JSON(run)
	})

	v1.Get("/runs/:id", func(c *fiber.Ctx) error {
		run, err := runs.Get(c.Params("id"))
		if err != nil {
			return storeError(err, "run not found")
		}
		return c.JSON(run)
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		found, err := runs.GetRange(req.From, req.To)
		if err != nil {
			return storeError(err, "no runs in requested range")
		}

		return c.JSON(fiber.Map{
			"from": req.From,
			"to":   req.To,
			"runs": found,
		})
	})
}

func storeError(err error, notFound string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, notFound)
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
}

type enrichRequest struct {
	Orders []pipeline.RawOrder `json:"orders" validate:"required,min=1,max=50000"`
}

type enrichResponse struct {
	Run  store.RunRecord              `json:"run"`
	Rows []enrich.EnrichedOrderRecord `json:"rows"`
}

// historyQuery holds query parameters for the run history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
