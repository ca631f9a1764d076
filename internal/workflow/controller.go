// Package workflow executes user-initiated rental mutations through the
// gateway and forces a reconciliation after each success so the view
// reflects the mutation without waiting for the next poll tick.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/orion-deck/orion-deck/internal/gateway"
	"github.com/orion-deck/orion-deck/internal/logging"
	"github.com/orion-deck/orion-deck/internal/metrics"
	"github.com/orion-deck/orion-deck/internal/view"
	"github.com/orion-deck/orion-deck/pkg/models"
)

// SpecialLeaseHours is the fixed duration of the admin special lease.
const SpecialLeaseHours = 1

// Refresher triggers an immediate reconciliation.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Snapshot is the reconciler surface the controller needs for the
// optimistic release update. The controller owns no node state itself.
type Snapshot interface {
	ClearLease(rentalID int64)
	FindByRental(rentalID int64) (models.Node, bool)
}

// ValidationError is a client-side rejection; no call was made.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RentRequest is the input to Rent.
type RentRequest struct {
	DurationHours int    `json:"duration_hours" validate:"required,gt=0"`
	Count         int    `json:"count" validate:"required,gt=0"`
	SSHPassword   string `json:"ssh_password,omitempty" validate:"-"`
}

// Controller issues rent, release, extend, and reveal calls.
type Controller struct {
	caller    gateway.Caller
	view      view.View
	refresher Refresher
	snapshot  Snapshot
	validate  *validator.Validate
	logger    *slog.Logger
}

// Option configures the controller
type Option func(*Controller)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a workflow controller.
func New(caller gateway.Caller, v view.View, refresher Refresher, snapshot Snapshot, opts ...Option) *Controller {
	c := &Controller{
		caller:    caller,
		view:      v,
		refresher: refresher,
		snapshot:  snapshot,
		validate:  validator.New(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Rent requests allocation of req.Count nodes for req.DurationHours. An
// optional custom password overrides the server-generated one. On success
// the returned lease details carry everything needed to connect.
func (c *Controller) Rent(ctx context.Context, req RentRequest) ([]models.AllocatedLease, error) {
	if err := c.validate.Struct(req); err != nil {
		metrics.RecordMutation("rent", "invalid")
		return nil, rentValidationError(err)
	}

	var resp struct {
		Allocated []models.AllocatedLease `json:"allocated"`
	}
	if err := gateway.CallJSON(ctx, c.caller, http.MethodPost, "/api/rent", req, &resp); err != nil {
		metrics.RecordMutation("rent", "error")
		return nil, err
	}

	metrics.RecordMutation("rent", "success")
	logging.Info(ctx, "nodes rented",
		slog.Int("count", len(resp.Allocated)),
		slog.Int("duration_hours", req.DurationHours))

	c.view.Notify(fmt.Sprintf("Rented %d node(s) for %d hour(s).", len(resp.Allocated), req.DurationHours))
	c.refresher.Refresh(ctx)
	return resp.Allocated, nil
}

// SpecialLease is the admin-only shortcut: one node for a short fixed
// duration. Exposure is gated by the session's role claim; the control
// plane still authorizes the underlying rent call itself.
func (c *Controller) SpecialLease(ctx context.Context) ([]models.AllocatedLease, error) {
	return c.Rent(ctx, RentRequest{DurationHours: SpecialLeaseHours, Count: 1})
}

// Release ends a lease. On success the rendered leased state is removed
// optimistically, ahead of the confirming reconciliation.
func (c *Controller) Release(ctx context.Context, rentalID int64) error {
	path := fmt.Sprintf("/api/release/%d", rentalID)
	if _, err := c.caller.Call(ctx, http.MethodPost, path, nil); err != nil {
		metrics.RecordMutation("release", "error")
		return err
	}

	metrics.RecordMutation("release", "success")
	logging.Info(ctx, "lease released", slog.Int64("rental_id", rentalID))

	c.snapshot.ClearLease(rentalID)
	c.view.Notify(fmt.Sprintf("Lease %d released.", rentalID))
	c.refresher.Refresh(ctx)
	return nil
}

// Extend lengthens a lease. Non-positive hours are rejected client-side;
// no call is made.
func (c *Controller) Extend(ctx context.Context, rentalID int64, additionalHours int) error {
	if additionalHours <= 0 {
		metrics.RecordMutation("extend", "invalid")
		return &ValidationError{Message: "additional hours must be a positive integer"}
	}

	path := fmt.Sprintf("/api/extend/%d", rentalID)
	body := map[string]int{"additional_hours": additionalHours}
	if _, err := c.caller.Call(ctx, http.MethodPost, path, body); err != nil {
		metrics.RecordMutation("extend", "error")
		return err
	}

	metrics.RecordMutation("extend", "success")
	logging.Info(ctx, "lease extended",
		slog.Int64("rental_id", rentalID),
		slog.Int("additional_hours", additionalHours))

	c.view.Notify(fmt.Sprintf("Lease %d extended by %d hour(s).", rentalID, additionalHours))
	c.refresher.Refresh(ctx)
	return nil
}

// RevealPassword fetches a lease's SSH password on demand; the password is
// never part of the bulk node listing. On success the view's reveal
// affordance is replaced with the plaintext; on failure it stays in place.
func (c *Controller) RevealPassword(ctx context.Context, rentalID int64) (string, error) {
	path := fmt.Sprintf("/api/lease/%d/password", rentalID)
	var resp struct {
		SSHPassword string `json:"ssh_password"`
	}
	if err := gateway.CallJSON(ctx, c.caller, http.MethodGet, path, nil, &resp); err != nil {
		metrics.RecordMutation("reveal", "error")
		return "", err
	}

	metrics.RecordMutation("reveal", "success")
	c.view.SetPassword(rentalID, resp.SSHPassword)
	return resp.SSHPassword, nil
}

// rentValidationError flattens validator output into one user-facing
// message.
func rentValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Message: err.Error()}
	}
	for _, fe := range fieldErrs {
		switch fe.Field() {
		case "DurationHours":
			return &ValidationError{Message: "duration must be a positive number of hours"}
		case "Count":
			return &ValidationError{Message: "node count must be a positive integer"}
		}
	}
	return &ValidationError{Message: "invalid rent request"}
}
