package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/payment/repository"
	"github.com/Nobert1/event-driven-systems/internal/payment/repository/mocks"
	"github.com/Nobert1/event-driven-systems/internal/payment/repository/store"
	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/kv"
	kvmemory "github.com/Nobert1/event-driven-systems/platform/kv/memory"
)

func TestAccountService_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("recorded decision short-circuits, account not read", func(t *testing.T) {
		// Arrange
		mockRepo := mocks.NewAccountRepository(t)
		svc := NewAccountService(zap.NewNop(), mockRepo)
		mockRepo.On("GetDecision", ctx, "order-1").Return(repository.Decision{
			OrderID: "order-1",
			Status:  repository.ReservationRejected,
			Reason:  event.ReasonAccountNotFound,
		}, nil).Once()

		// Act
		out, err := svc.Reserve(ctx, "order-1", "user-1", 10)

		// Assert
		require.NoError(t, err)
		require.False(t, out.Approved)
		require.Equal(t, event.ReasonAccountNotFound, out.Reason)
		mockRepo.AssertNotCalled(t, "Get")
	})

	t.Run("missing account records rejection", func(t *testing.T) {
		// Arrange
		mockRepo := mocks.NewAccountRepository(t)
		svc := NewAccountService(zap.NewNop(), mockRepo)
		mockRepo.On("GetDecision", ctx, "order-2").Return(repository.Decision{}, repository.ErrNotFound).Once()
		mockRepo.On("Get", mock.Anything, "ghost").Return(repository.Account{}, int64(0), repository.ErrNotFound).Once()
		mockRepo.On("CreateDecision", ctx, mock.MatchedBy(func(d repository.Decision) bool {
			return d.OrderID == "order-2" && d.Reason == event.ReasonAccountNotFound
		})).Return(nil).Once()

		// Act
		out, err := svc.Reserve(ctx, "order-2", "ghost", 10)

		// Assert
		require.NoError(t, err)
		require.Equal(t, Outcome{Reason: event.ReasonAccountNotFound}, out)
	})

	t.Run("store unavailable is not absence", func(t *testing.T) {
		// Arrange
		mockRepo := mocks.NewAccountRepository(t)
		svc := NewAccountService(zap.NewNop(), mockRepo)
		unavailable := kv.Unavailable("get", errors.New("connection refused"))
		mockRepo.On("GetDecision", ctx, "order-3").Return(repository.Decision{}, repository.ErrNotFound).Once()
		mockRepo.On("Get", mock.Anything, "user-1").Return(repository.Account{}, int64(0), unavailable).Once()

		// Act
		_, err := svc.Reserve(ctx, "order-3", "user-1", 10)

		// Assert
		require.ErrorIs(t, err, kv.ErrUnavailable)
		mockRepo.AssertNotCalled(t, "CreateDecision")
		mockRepo.AssertNotCalled(t, "Update")
	})

	t.Run("conflict is retried against the fresh version", func(t *testing.T) {
		// Arrange
		mockRepo := mocks.NewAccountRepository(t)
		svc := NewAccountService(zap.NewNop(), mockRepo)
		mockRepo.On("GetDecision", ctx, "order-4").Return(repository.Decision{}, repository.ErrNotFound).Once()
		mockRepo.On("Get", mock.Anything, "user-1").Return(repository.Account{UserID: "user-1", Credit: 20}, int64(3), nil).Once()
		mockRepo.On("Update", mock.Anything, mock.Anything, int64(3)).Return(repository.ErrConflict).Once()
		mockRepo.On("Get", mock.Anything, "user-1").Return(repository.Account{UserID: "user-1", Credit: 12}, int64(4), nil).Once()
		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(acc repository.Account) bool {
			return acc.Credit == 2 && acc.Reservations["order-4"].Status == repository.ReservationReserved
		}), int64(4)).Return(nil).Once()

		// Act
		out, err := svc.Reserve(ctx, "order-4", "user-1", 10)

		// Assert
		require.NoError(t, err)
		require.True(t, out.Approved)
	})
}

func newLedger(t *testing.T) (*AccountService, *kvmemory.Store) {
	t.Helper()
	kvStore := kvmemory.NewStore()
	return NewAccountService(zap.NewNop(), store.NewRepository(kvStore)), kvStore
}

func TestAccountService_Ledger(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		credit     int64
		amount     int64
		wantOut    Outcome
		wantCredit int64
	}{
		{"exact credit", 15, 15, Outcome{Approved: true}, 0},
		{"insufficient credit", 5, 15, Outcome{Reason: event.ReasonInsufficientCredit}, 5},
		{"zero amount", 5, 0, Outcome{Approved: true}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newLedger(t)
			require.NoError(t, svc.BatchInit(ctx, 1, tt.credit))

			out, err := svc.Reserve(ctx, "order-1", "0", tt.amount)
			require.NoError(t, err)
			require.Equal(t, tt.wantOut, out)

			acc, err := svc.FindUser(ctx, "0")
			require.NoError(t, err)
			require.Equal(t, tt.wantCredit, acc.Credit)
		})
	}
}

func TestAccountService_ReserveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)
	require.NoError(t, svc.BatchInit(ctx, 1, 15))

	first, err := svc.Reserve(ctx, "order-1", "0", 10)
	require.NoError(t, err)
	require.True(t, first.Approved)

	// funds change between deliveries; the decision must not be re-evaluated
	require.NoError(t, svc.AddFunds(ctx, "0", 100))

	second, err := svc.Reserve(ctx, "order-1", "0", 10)
	require.NoError(t, err)
	require.Equal(t, first, second)

	acc, err := svc.FindUser(ctx, "0")
	require.NoError(t, err)
	require.Equal(t, int64(105), acc.Credit)
}

func TestAccountService_RejectionIsSticky(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)
	require.NoError(t, svc.BatchInit(ctx, 1, 5))

	out, err := svc.Reserve(ctx, "order-1", "0", 15)
	require.NoError(t, err)
	require.False(t, out.Approved)

	require.NoError(t, svc.AddFunds(ctx, "0", 100))

	again, err := svc.Reserve(ctx, "order-1", "0", 15)
	require.NoError(t, err)
	require.Equal(t, out, again)
}

func TestAccountService_ConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)
	require.NoError(t, svc.BatchInit(ctx, 1, 50))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := "order-" + string(rune('a'+i))
			// redelivery of the same order from a second instance
			for j := 0; j < 2; j++ {
				_, err := svc.Reserve(ctx, orderID, "0", 5)
				if err != nil && !errors.Is(err, repository.ErrConflict) {
					t.Errorf("reserve %s: %v", orderID, err)
				}
			}
		}(i)
	}
	wg.Wait()

	acc, err := svc.FindUser(ctx, "0")
	require.NoError(t, err)
	approved := 0
	for _, r := range acc.Reservations {
		if r.Status == repository.ReservationReserved {
			approved++
		}
	}
	require.GreaterOrEqual(t, acc.Credit, int64(0))
	require.Equal(t, int64(50)-int64(approved)*5, acc.Credit)
}

func TestAccountService_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("restores credit once", func(t *testing.T) {
		svc, _ := newLedger(t)
		require.NoError(t, svc.BatchInit(ctx, 1, 15))
		_, err := svc.Reserve(ctx, "order-1", "0", 15)
		require.NoError(t, err)

		require.NoError(t, svc.Release(ctx, "order-1", "0", 15))
		require.NoError(t, svc.Release(ctx, "order-1", "0", 15))

		acc, err := svc.FindUser(ctx, "0")
		require.NoError(t, err)
		require.Equal(t, int64(15), acc.Credit)
		require.Equal(t, repository.ReservationReleased, acc.Reservations["order-1"].Status)

		// a redelivered reserve after release still reports the original decision
		out, err := svc.Reserve(ctx, "order-1", "0", 15)
		require.NoError(t, err)
		require.True(t, out.Approved)
		acc, err = svc.FindUser(ctx, "0")
		require.NoError(t, err)
		require.Equal(t, int64(15), acc.Credit)
	})

	t.Run("rejected reservation is not credited", func(t *testing.T) {
		svc, _ := newLedger(t)
		require.NoError(t, svc.BatchInit(ctx, 1, 5))
		_, err := svc.Reserve(ctx, "order-1", "0", 15)
		require.NoError(t, err)

		require.NoError(t, svc.Release(ctx, "order-1", "0", 15))

		acc, err := svc.FindUser(ctx, "0")
		require.NoError(t, err)
		require.Equal(t, int64(5), acc.Credit)
	})

	t.Run("unknown order and account", func(t *testing.T) {
		svc, _ := newLedger(t)
		require.NoError(t, svc.BatchInit(ctx, 1, 5))

		require.ErrorIs(t, svc.Release(ctx, "order-x", "0", 5), ErrReservationNotFound)
		require.ErrorIs(t, svc.Release(ctx, "order-x", "ghost", 5), ErrAccountNotFound)
	})
}

func TestAccountService_Funds(t *testing.T) {
	ctx := context.Background()
	svc, kvStore := newLedger(t)

	userID, err := svc.CreateUser(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, svc.AddFunds(ctx, userID, 0), ErrInvalidAmount)
	require.NoError(t, svc.AddFunds(ctx, userID, 10))
	require.ErrorIs(t, svc.Pay(ctx, userID, 11), ErrInsufficientCredit)
	require.NoError(t, svc.Pay(ctx, userID, 4))

	acc, err := svc.FindUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(6), acc.Credit)

	_, err = svc.FindUser(ctx, "ghost")
	require.ErrorIs(t, err, ErrAccountNotFound)

	kvStore.SetFailing(errors.New("connection reset"))
	_, err = svc.FindUser(ctx, userID)
	require.ErrorIs(t, err, kv.ErrUnavailable)
	require.NotErrorIs(t, err, ErrAccountNotFound)
}
