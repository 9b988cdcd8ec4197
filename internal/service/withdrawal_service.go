package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"teoledger/internal/config"
	"teoledger/internal/model"
	"teoledger/internal/repository"
	"teoledger/pkg/idgen"
)

// WithdrawalService queues TEO withdrawals to external wallets. A user may
// hold at most the configured number of open (pending or processing)
// withdrawals at once; the cap is checked under the account row lock so
// concurrent creates cannot both slip under it.
type WithdrawalService struct {
	db             *gorm.DB
	ledger         *LedgerService
	accountRepo    *repository.AccountRepository
	withdrawalRepo *repository.WithdrawalRepository
}

func NewWithdrawalService(
	db *gorm.DB,
	ledger *LedgerService,
	accountRepo *repository.AccountRepository,
	withdrawalRepo *repository.WithdrawalRepository,
) *WithdrawalService {
	return &WithdrawalService{
		db:             db,
		ledger:         ledger,
		accountRepo:    accountRepo,
		withdrawalRepo: withdrawalRepo,
	}
}

type withdrawalUpdatedEvent struct {
	Event        string          `json:"event"`
	WithdrawalNo string          `json:"withdrawal_no"`
	UserID       int64           `json:"user_id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	TxHash       string          `json:"tx_hash,omitempty"`
}

func (s *WithdrawalService) enqueueWithdrawalEvent(ctx context.Context, tx *gorm.DB, wdr *model.WithdrawalRequest, status string) error {
	event := withdrawalUpdatedEvent{
		Event:        model.EventWithdrawalUpdated,
		WithdrawalNo: wdr.WithdrawalNo,
		UserID:       wdr.UserID,
		Status:       status,
		Amount:       wdr.Amount,
		TxHash:       wdr.TxHash,
	}
	return s.ledger.enqueueEvent(ctx, tx, config.GlobalConfig.Kafka.Topic.Withdrawal, wdr.WithdrawalNo, event)
}

// Create reserves the amount out of the available balance and queues the
// withdrawal. The reservation means a later spend cannot touch these funds
// while the settlement bridge works through the queue.
func (s *WithdrawalService) Create(ctx context.Context, userID int64, amount decimal.Decimal, walletAddress string) (*model.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, repository.ErrInvalidAmount
	}

	withdrawal := &model.WithdrawalRequest{
		WithdrawalNo:  idgen.GenerateWithdrawalNo(),
		UserID:        userID,
		Amount:        amount,
		WalletAddress: walletAddress,
		Status:        model.WithdrawalStatusPending,
	}

	err := s.ledger.withAccountLock(ctx, userID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if _, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID); err != nil {
				return err
			}

			open, err := s.withdrawalRepo.CountOpen(ctx, tx, userID)
			if err != nil {
				return err
			}
			if open >= int64(config.GlobalConfig.Business.WithdrawalCap) {
				return repository.ErrWithdrawalLimitReached
			}

			if _, err := s.ledger.Apply(ctx, tx, Change{
				UserID:        userID,
				Kind:          model.TransactionKindWithdrawalReserved,
				Amount:        amount.Neg(),
				ReservedDelta: amount,
				RelatedEntity: withdrawal.WithdrawalNo,
				Remark:        "withdrawal reserved",
			}); err != nil {
				return err
			}

			if err := s.withdrawalRepo.Create(ctx, tx, withdrawal); err != nil {
				return err
			}
			return s.enqueueWithdrawalEvent(ctx, tx, withdrawal, model.WithdrawalStatusPending)
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("withdrawal queued",
		zap.String("withdrawal_no", withdrawal.WithdrawalNo),
		zap.Int64("user_id", userID),
		zap.String("amount", amount.String()))
	return withdrawal, nil
}

// Cancel returns a still-pending withdrawal's funds to the available balance.
// Once the bridge has picked the request up (processing) the user can no
// longer cancel; the outcome comes from Complete or Fail.
func (s *WithdrawalService) Cancel(ctx context.Context, userID int64, withdrawalNo string) (*model.WithdrawalRequest, error) {
	withdrawal, err := s.withdrawalRepo.GetByNo(ctx, withdrawalNo)
	if err != nil {
		return nil, err
	}
	if withdrawal.UserID != userID {
		return nil, repository.ErrWithdrawalNotFound
	}

	err = s.ledger.withAccountLock(ctx, userID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			locked, err := s.withdrawalRepo.GetByNoForUpdate(ctx, tx, withdrawalNo)
			if err != nil {
				return err
			}
			if locked.Status != model.WithdrawalStatusPending {
				return repository.ErrInvalidTransition
			}
			if err := s.withdrawalRepo.UpdateStatus(ctx, tx, withdrawalNo, locked.Status, model.WithdrawalStatusCancelled, nil); err != nil {
				return err
			}

			if _, err := s.ledger.Apply(ctx, tx, Change{
				UserID:        userID,
				Kind:          model.TransactionKindWithdrawalCancelled,
				Amount:        locked.Amount,
				ReservedDelta: locked.Amount.Neg(),
				RelatedEntity: withdrawalNo,
				Remark:        "withdrawal cancelled",
			}); err != nil {
				return err
			}
			return s.enqueueWithdrawalEvent(ctx, tx, locked, model.WithdrawalStatusCancelled)
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("withdrawal cancelled", zap.String("withdrawal_no", withdrawalNo), zap.Int64("user_id", userID))
	withdrawal.Status = model.WithdrawalStatusCancelled
	return withdrawal, nil
}

// MarkProcessing is called by the settlement bridge when it picks a request
// off the queue. Processing requests still count against the cap but can no
// longer be cancelled by the user.
func (s *WithdrawalService) MarkProcessing(ctx context.Context, withdrawalNo string) (*model.WithdrawalRequest, error) {
	withdrawal, err := s.withdrawalRepo.GetByNo(ctx, withdrawalNo)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.withdrawalRepo.UpdateStatus(ctx, tx, withdrawalNo, model.WithdrawalStatusPending, model.WithdrawalStatusProcessing, nil); err != nil {
			return err
		}
		return s.enqueueWithdrawalEvent(ctx, tx, withdrawal, model.WithdrawalStatusProcessing)
	})
	if err != nil {
		return nil, err
	}

	withdrawal.Status = model.WithdrawalStatusProcessing
	return withdrawal, nil
}

// Complete records the on-chain transfer. The reserved amount is burned off
// the ledger; the zero-amount entry keeps the available projection in step
// with the transaction log while the withdrawal row carries the outflow.
func (s *WithdrawalService) Complete(ctx context.Context, withdrawalNo, txHash string) (*model.WithdrawalRequest, error) {
	withdrawal, err := s.withdrawalRepo.GetByNo(ctx, withdrawalNo)
	if err != nil {
		return nil, err
	}

	err = s.ledger.withAccountLock(ctx, withdrawal.UserID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			locked, err := s.withdrawalRepo.GetByNoForUpdate(ctx, tx, withdrawalNo)
			if err != nil {
				return err
			}
			if err := s.withdrawalRepo.UpdateStatus(ctx, tx, withdrawalNo, locked.Status, model.WithdrawalStatusCompleted, map[string]interface{}{
				"tx_hash": txHash,
			}); err != nil {
				return err
			}

			if _, err := s.ledger.Apply(ctx, tx, Change{
				UserID:        locked.UserID,
				Kind:          model.TransactionKindWithdrawalCompleted,
				Amount:        decimal.Zero,
				ReservedDelta: locked.Amount.Neg(),
				RelatedEntity: withdrawalNo,
				Remark:        "withdrawal completed, tx " + txHash,
			}); err != nil {
				return err
			}
			locked.TxHash = txHash
			return s.enqueueWithdrawalEvent(ctx, tx, locked, model.WithdrawalStatusCompleted)
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("withdrawal completed",
		zap.String("withdrawal_no", withdrawalNo),
		zap.String("tx_hash", txHash))
	withdrawal.Status = model.WithdrawalStatusCompleted
	withdrawal.TxHash = txHash
	return withdrawal, nil
}

// Fail releases the reservation back to the available balance when the bridge
// could not execute the transfer.
func (s *WithdrawalService) Fail(ctx context.Context, withdrawalNo, reason string) (*model.WithdrawalRequest, error) {
	withdrawal, err := s.withdrawalRepo.GetByNo(ctx, withdrawalNo)
	if err != nil {
		return nil, err
	}

	err = s.ledger.withAccountLock(ctx, withdrawal.UserID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			locked, err := s.withdrawalRepo.GetByNoForUpdate(ctx, tx, withdrawalNo)
			if err != nil {
				return err
			}
			if err := s.withdrawalRepo.UpdateStatus(ctx, tx, withdrawalNo, locked.Status, model.WithdrawalStatusFailed, map[string]interface{}{
				"fail_reason": reason,
			}); err != nil {
				return err
			}

			if _, err := s.ledger.Apply(ctx, tx, Change{
				UserID:        locked.UserID,
				Kind:          model.TransactionKindWithdrawalCancelled,
				Amount:        locked.Amount,
				ReservedDelta: locked.Amount.Neg(),
				RelatedEntity: withdrawalNo,
				Remark:        "withdrawal failed: " + reason,
			}); err != nil {
				return err
			}
			locked.FailReason = reason
			return s.enqueueWithdrawalEvent(ctx, tx, locked, model.WithdrawalStatusFailed)
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Warn("withdrawal failed",
		zap.String("withdrawal_no", withdrawalNo),
		zap.String("reason", reason))
	withdrawal.Status = model.WithdrawalStatusFailed
	withdrawal.FailReason = reason
	return withdrawal, nil
}

func (s *WithdrawalService) GetWithdrawal(ctx context.Context, withdrawalNo string) (*model.WithdrawalRequest, error) {
	return s.withdrawalRepo.GetByNo(ctx, withdrawalNo)
}

func (s *WithdrawalService) ListByUser(ctx context.Context, userID int64, status string, page, pageSize int) ([]*model.WithdrawalRequest, int64, error) {
	return s.withdrawalRepo.ListByUserID(ctx, userID, status, page, pageSize)
}
