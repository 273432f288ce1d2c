package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/payment/repository"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/observability"
	"github.com/Nobert1/event-driven-systems/platform/retry"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrReservationNotFound = errors.New("no reservation for order")
)

// Outcome is the decision for one reservation request.
type Outcome struct {
	Approved bool
	Reason   string
}

// conflictPolicy bounds read-modify-write loops on one account.
var conflictPolicy = retry.Policy{MaxAttempts: 5, BackoffBase: 10 * time.Millisecond}

// AccountService owns user credit. Every debit or credit is a conditional
// write on the account, so concurrent instances never lose an update.
type AccountService struct {
	logger *zap.Logger
	repo   repository.AccountRepository
	now    func() time.Time
}

func NewAccountService(logger *zap.Logger, repo repository.AccountRepository) *AccountService {
	return &AccountService{
		logger: logger,
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser opens an account with zero credit.
func (s *AccountService) CreateUser(ctx context.Context) (string, error) {
	userID := uuid.NewString()
	if err := s.repo.Create(ctx, repository.Account{UserID: userID}); err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}
	observability.L(ctx, s.logger).Info("account created", zap.String("user_id", userID))
	return userID, nil
}

func (s *AccountService) FindUser(ctx context.Context, userID string) (repository.Account, error) {
	acc, _, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Account{}, ErrAccountNotFound
		}
		return repository.Account{}, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

func (s *AccountService) AddFunds(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.mutate(ctx, userID, func(acc *repository.Account) (bool, error) {
		acc.Credit += amount
		return true, nil
	})
}

// Pay debits amount directly, outside of any saga.
func (s *AccountService) Pay(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.mutate(ctx, userID, func(acc *repository.Account) (bool, error) {
		if acc.Credit-amount < 0 {
			return false, ErrInsufficientCredit
		}
		acc.Credit -= amount
		return true, nil
	})
}

// BatchInit overwrites accounts "0".."n-1" with startingMoney credit.
func (s *AccountService) BatchInit(ctx context.Context, n int, startingMoney int64) error {
	if n < 0 || startingMoney < 0 {
		return ErrInvalidAmount
	}
	for i := 0; i < n; i++ {
		acc := repository.Account{UserID: strconv.Itoa(i), Credit: startingMoney}
		if err := s.repo.Put(ctx, acc); err != nil {
			return fmt.Errorf("seed account %d: %w", i, err)
		}
	}
	observability.L(ctx, s.logger).Info("accounts seeded", zap.Int("n", n), zap.Int64("starting_money", startingMoney))
	return nil
}

// Reserve decides a reservation for orderID exactly once. A repeated call
// returns the recorded decision without looking at the balance again.
func (s *AccountService) Reserve(ctx context.Context, orderID, userID string, amount int64) (Outcome, error) {
	log := observability.L(ctx, s.logger).With(zap.String("order_id", orderID), zap.String("user_id", userID))
	if amount < 0 {
		return Outcome{}, ErrInvalidAmount
	}

	d, err := s.repo.GetDecision(ctx, orderID)
	if err == nil {
		log.Info("reservation already decided", zap.String("reason", d.Reason))
		return Outcome{Reason: d.Reason}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return Outcome{}, fmt.Errorf("get decision: %w", err)
	}

	var out Outcome
	err = s.mutate(ctx, userID, func(acc *repository.Account) (bool, error) {
		if r, ok := acc.Reservations[orderID]; ok {
			out = outcomeOf(r)
			log.Info("reservation already decided", zap.String("status", string(r.Status)))
			return false, nil
		}

		if acc.Credit-amount < 0 {
			acc.Reservations[orderID] = repository.Reservation{
				Amount:    amount,
				Status:    repository.ReservationRejected,
				Reason:    event.ReasonInsufficientCredit,
				DecidedAt: s.now(),
			}
			out = Outcome{Reason: event.ReasonInsufficientCredit}
			return true, nil
		}

		acc.Credit -= amount
		acc.Reservations[orderID] = repository.Reservation{
			Amount:    amount,
			Status:    repository.ReservationReserved,
			DecidedAt: s.now(),
		}
		out = Outcome{Approved: true}
		return true, nil
	})
	if errors.Is(err, ErrAccountNotFound) {
		return s.rejectMissingAccount(ctx, log, orderID, userID)
	}
	if err != nil {
		return Outcome{}, err
	}

	log.Info("payment reservation decided", zap.Bool("approved", out.Approved), zap.String("reason", out.Reason))
	return out, nil
}

// rejectMissingAccount records the rejection on its own key. A lost race
// returns whatever the winner recorded.
func (s *AccountService) rejectMissingAccount(ctx context.Context, log *zap.Logger, orderID, userID string) (Outcome, error) {
	err := s.repo.CreateDecision(ctx, repository.Decision{
		OrderID:   orderID,
		UserID:    userID,
		Status:    repository.ReservationRejected,
		Reason:    event.ReasonAccountNotFound,
		DecidedAt: s.now(),
	})
	if errors.Is(err, repository.ErrConflict) {
		d, err := s.repo.GetDecision(ctx, orderID)
		if err != nil {
			return Outcome{}, fmt.Errorf("get decision: %w", err)
		}
		return Outcome{Reason: d.Reason}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("create decision: %w", err)
	}

	log.Info("payment rejected, account not found")
	return Outcome{Reason: event.ReasonAccountNotFound}, nil
}

// Release credits back a reservation. Releasing twice, or releasing a
// rejected reservation, changes nothing.
func (s *AccountService) Release(ctx context.Context, orderID, userID string, amount int64) error {
	log := observability.L(ctx, s.logger).With(zap.String("order_id", orderID), zap.String("user_id", userID))

	released := false
	err := s.mutate(ctx, userID, func(acc *repository.Account) (bool, error) {
		r, ok := acc.Reservations[orderID]
		if !ok {
			return false, ErrReservationNotFound
		}
		if r.Status != repository.ReservationReserved {
			log.Info("release is a no-op", zap.String("status", string(r.Status)))
			return false, nil
		}
		if r.Amount != amount {
			log.Warn("release amount differs from reservation, using reserved amount",
				zap.Int64("reserved", r.Amount), zap.Int64("requested", amount))
		}
		acc.Credit += r.Amount
		r.Status = repository.ReservationReleased
		acc.Reservations[orderID] = r
		released = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if released {
		log.Info("payment released", zap.Int64("amount", amount))
	}
	return nil
}

// mutate applies fn to the current account and writes it back conditionally,
// retrying on conflict. fn returns false to skip the write.
func (s *AccountService) mutate(ctx context.Context, userID string, fn func(acc *repository.Account) (bool, error)) error {
	return retry.Do(ctx, conflictPolicy,
		func(err error) bool { return errors.Is(err, repository.ErrConflict) },
		func(attempt int, _ time.Duration, _ error) {
			s.logger.Debug("account update conflict, retrying", zap.String("user_id", userID), zap.Int("attempt", attempt))
		},
		func(ctx context.Context) error {
			acc, version, err := s.repo.Get(ctx, userID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrAccountNotFound
				}
				return fmt.Errorf("get account: %w", err)
			}
			if acc.Reservations == nil {
				acc.Reservations = make(map[string]repository.Reservation)
			}

			changed, err := fn(&acc)
			if err != nil || !changed {
				return err
			}
			if err := s.repo.Update(ctx, acc, version); err != nil {
				return fmt.Errorf("update account: %w", err)
			}
			return nil
		},
	)
}

func outcomeOf(r repository.Reservation) Outcome {
	if r.Status == repository.ReservationRejected {
		return Outcome{Reason: r.Reason}
	}
	return Outcome{Approved: true}
}
