// Package shifts runs cash-drawer accounting periods: open, cash in/out,
// close with reconciliation.
package shifts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/money"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/validate"
)

const ListLimit = 30

type OpenRequest struct {
	StoreID     string          `json:"storeId" validate:"required"`
	RegisterID  string          `json:"registerId" validate:"required"`
	OpeningCash decimal.Decimal `json:"openingCash" validate:"gte=0"`
	Notes       string          `json:"notes" validate:"max=200"`
}

type CashMovementRequest struct {
	ShiftID   string               `json:"-" validate:"required"`
	Direction orders.CashDirection `json:"direction" validate:"required,oneof=IN OUT"`
	Amount    decimal.Decimal      `json:"amount" validate:"gt=0"`
	Reason    string               `json:"reason" validate:"max=200"`
}

type CloseRequest struct {
	ShiftID    string          `json:"-" validate:"required"`
	ActualCash decimal.Decimal `json:"actualCash" validate:"gte=0"`
	Notes      string          `json:"notes" validate:"max=200"`
}

type Service struct {
	store orders.Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(store orders.Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("component", "shifts").Logger(), now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open starts a shift on a register. A register has at most one open shift.
func (s *Service) Open(ctx context.Context, actor orders.Actor, req OpenRequest) (*orders.Shift, error) {
	if err := validate.Struct(ctx, req); err != nil {
		return nil, err
	}
	if err := s.authorize(actor, req.StoreID); err != nil {
		return nil, err
	}

	reg, err := s.store.FindRegister(ctx, req.RegisterID)
	if err != nil && !errors.Is(err, orders.ErrNotFound) {
		return nil, apperr.From(err)
	}
	if reg == nil || reg.StoreID != req.StoreID || !reg.IsActive {
		return nil, apperr.Reference(apperr.CodeRegisterInvalid, "register is invalid or inactive")
	}

	now := s.now().UTC()
	sh := &orders.Shift{
		ID:          uuid.NewString(),
		StoreID:     req.StoreID,
		RegisterID:  req.RegisterID,
		UserID:      actor.UserID,
		Status:      orders.ShiftOpen,
		OpeningCash: money.Freeze(req.OpeningCash),
		CashIn:      decimal.Zero,
		CashOut:     decimal.Zero,
		Notes:       req.Notes,
		OpenedAt:    now,
	}
	err = s.store.InTx(ctx, func(tx orders.Tx) error {
		_, err := tx.FindOpenShift(ctx, req.RegisterID)
		if err == nil {
			return apperr.Conflict(apperr.CodeShiftAlreadyOpen, "register already has an open shift")
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return err
		}
		if err := tx.InsertShift(ctx, sh); err != nil {
			return err
		}
		return tx.InsertAuditLog(ctx, shiftAudit(actor, sh, orders.AuditShiftOpened,
			fmt.Sprintf("Shift opened with %s", sh.OpeningCash.StringFixed(2)), nil, now))
	})
	if err != nil {
		return nil, s.fail(err, sh.ID)
	}
	s.log.Info().Str("shift_id", sh.ID).Str("register_id", sh.RegisterID).Msg("shift opened")
	return sh, nil
}

// RecordCashMovement adds cash in or takes cash out of an open shift's drawer.
func (s *Service) RecordCashMovement(ctx context.Context, actor orders.Actor, req CashMovementRequest) (*orders.Shift, error) {
	if err := validate.Struct(ctx, req); err != nil {
		return nil, err
	}
	if !actor.CanManageShifts() {
		return nil, apperr.Forbidden(apperr.CodeRoleForbidden, "your role cannot manage shifts")
	}

	var updated *orders.Shift
	err := s.store.InTx(ctx, func(tx orders.Tx) error {
		sh, err := s.loadOpen(ctx, tx, actor, req.ShiftID)
		if err != nil {
			return err
		}
		amount := money.Freeze(req.Amount)
		if req.Direction == orders.CashIn {
			sh.CashIn = sh.CashIn.Add(amount)
		} else {
			sh.CashOut = sh.CashOut.Add(amount)
		}
		if err := tx.UpdateShift(ctx, sh); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := tx.InsertCashMovement(ctx, &orders.CashMovement{
			ID:        uuid.NewString(),
			ShiftID:   sh.ID,
			Direction: req.Direction,
			Amount:    amount,
			Reason:    req.Reason,
			UserID:    actor.UserID,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.InsertAuditLog(ctx, shiftAudit(actor, sh, orders.AuditShiftCashMovement,
			fmt.Sprintf("Cash %s %s", req.Direction, amount.StringFixed(2)),
			map[string]any{"direction": string(req.Direction), "amount": amount.String(), "reason": req.Reason}, now)); err != nil {
			return err
		}
		updated = sh
		return nil
	})
	if err != nil {
		return nil, s.fail(err, req.ShiftID)
	}
	return updated, nil
}

// Close freezes expected cash (opening + cash payments + cash in - cash out)
// and the counted actual cash.
func (s *Service) Close(ctx context.Context, actor orders.Actor, req CloseRequest) (*orders.Shift, error) {
	if err := validate.Struct(ctx, req); err != nil {
		return nil, err
	}
	if !actor.CanManageShifts() {
		return nil, apperr.Forbidden(apperr.CodeRoleForbidden, "your role cannot manage shifts")
	}

	var closed *orders.Shift
	err := s.store.InTx(ctx, func(tx orders.Tx) error {
		sh, err := s.loadOpen(ctx, tx, actor, req.ShiftID)
		if err != nil {
			return err
		}
		actual := money.Freeze(req.ActualCash)
		closed, err = s.closeShift(ctx, tx, actor, sh, &actual, req.Notes)
		return err
	})
	if err != nil {
		return nil, s.fail(err, req.ShiftID)
	}
	return closed, nil
}

// CloseActive closes every open shift of the actor, counting actual cash as
// exactly the expected cash.
func (s *Service) CloseActive(ctx context.Context, actor orders.Actor) ([]orders.Shift, error) {
	if !actor.CanManageShifts() {
		return nil, apperr.Forbidden(apperr.CodeRoleForbidden, "your role cannot manage shifts")
	}

	var out []orders.Shift
	err := s.store.InTx(ctx, func(tx orders.Tx) error {
		open, err := tx.ListOpenShiftsByUser(ctx, actor.UserID)
		if err != nil {
			return err
		}
		for i := range open {
			c, err := s.closeShift(ctx, tx, actor, &open[i], nil, "")
			if err != nil {
				return err
			}
			out = append(out, *c)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "")
	}
	return out, nil
}

// List returns the most recent shifts of a store. Non-admins default to
// their own store.
func (s *Service) List(ctx context.Context, actor orders.Actor, storeID string) ([]orders.Shift, error) {
	if !actor.CanUseBackoffice() {
		return nil, apperr.Forbidden(apperr.CodeRoleForbidden, "only MANAGER or ADMIN can list shifts")
	}
	if storeID == "" {
		storeID = actor.StoreID
	}
	if storeID == "" {
		return nil, apperr.Validation("storeId is required", apperr.FieldError{Field: "storeId", Message: "is required"})
	}
	if !actor.HasStoreAccess(storeID) {
		return nil, apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this store")
	}
	list, err := s.store.ListShifts(ctx, orders.ShiftFilter{StoreID: storeID, Limit: ListLimit})
	if err != nil {
		return nil, apperr.From(err)
	}
	return list, nil
}

// closeShift computes expected cash; a nil actual means "count equals expected".
func (s *Service) closeShift(ctx context.Context, tx orders.Tx, actor orders.Actor, sh *orders.Shift, actual *decimal.Decimal, notes string) (*orders.Shift, error) {
	cash, err := tx.CashPaymentsTotal(ctx, sh.ID)
	if err != nil {
		return nil, err
	}
	expected := money.Freeze(sh.OpeningCash.Add(cash).Add(sh.CashIn).Sub(sh.CashOut))
	if actual == nil {
		actual = &expected
	}
	now := s.now().UTC()
	sh.Status = orders.ShiftClosed
	sh.ExpectedCash = &expected
	sh.ActualCash = actual
	sh.ClosedAt = &now
	if notes != "" {
		sh.Notes = notes
	}
	if err := tx.UpdateShift(ctx, sh); err != nil {
		return nil, err
	}

	variance, _ := sh.Variance()
	if err := tx.InsertAuditLog(ctx, shiftAudit(actor, sh, orders.AuditShiftClosed,
		fmt.Sprintf("Shift closed, expected %s, counted %s", expected.StringFixed(2), actual.StringFixed(2)),
		map[string]any{
			"expectedCash": expected.String(),
			"actualCash":   actual.String(),
			"variance":     variance.String(),
			"cashPayments": cash.String(),
		}, now)); err != nil {
		return nil, err
	}
	s.log.Info().Str("shift_id", sh.ID).Str("variance", variance.String()).Msg("shift closed")
	return sh, nil
}

func (s *Service) authorize(actor orders.Actor, storeID string) error {
	if !actor.CanManageShifts() {
		return apperr.Forbidden(apperr.CodeRoleForbidden, "your role cannot manage shifts")
	}
	if !actor.HasStoreAccess(storeID) {
		return apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this store")
	}
	return nil
}

func (s *Service) loadOpen(ctx context.Context, tx orders.Tx, actor orders.Actor, id string) (*orders.Shift, error) {
	sh, err := tx.GetShiftForUpdate(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeShiftNotFound, "shift not found")
	}
	if err != nil {
		return nil, err
	}
	if !actor.HasStoreAccess(sh.StoreID) {
		return nil, apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this store")
	}
	if sh.Status != orders.ShiftOpen {
		return nil, apperr.Conflict(apperr.CodeShiftClosed, "shift is already closed")
	}
	return sh, nil
}

func (s *Service) fail(err error, shiftID string) error {
	e := apperr.From(err)
	if e.Kind == apperr.KindInternal {
		s.log.Error().Err(err).Str("shift_id", shiftID).Msg("shift operation failed")
	}
	return e
}

func shiftAudit(actor orders.Actor, sh *orders.Shift, action orders.AuditAction, msg string, meta map[string]any, at time.Time) *orders.AuditLog {
	return &orders.AuditLog{
		ID:        uuid.NewString(),
		StoreID:   sh.StoreID,
		UserID:    actor.UserID,
		Action:    action,
		Entity:    "Shift",
		EntityID:  sh.ID,
		Message:   msg,
		Metadata:  meta,
		CreatedAt: at,
	}
}
