package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"teoledger/internal/config"
	"teoledger/internal/infrastructure/lock"
	"teoledger/internal/model"
	"teoledger/internal/repository"
	"teoledger/internal/tier"
	"teoledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
)

// LedgerService owns every balance mutation. All other services route their
// ledger effects through Apply so the projection, the transaction log and the
// outbox stay consistent within one database transaction.
type LedgerService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	tierResolver    *tier.Resolver
}

func NewLedgerService(
	db *gorm.DB,
	redisClient *redis.Client,
	accountRepo *repository.AccountRepository,
	transactionRepo *repository.TransactionRepository,
	outboxRepo *repository.OutboxRepository,
	tierResolver *tier.Resolver,
) *LedgerService {
	return &LedgerService{
		db:              db,
		redisClient:     redisClient,
		accountRepo:     accountRepo,
		transactionRepo: transactionRepo,
		outboxRepo:      outboxRepo,
		tierResolver:    tierResolver,
	}
}

// Change is one ledger effect on a single account. For asset TEO, Amount is
// the signed delta applied to the available balance; StakedDelta and
// ReservedDelta move the other two columns so transfers between them stay in
// one effect. EUR changes only append a log row.
type Change struct {
	UserID        int64
	Kind          string
	Asset         string
	Amount        decimal.Decimal
	StakedDelta   decimal.Decimal
	ReservedDelta decimal.Decimal
	RelatedEntity string
	Remark        string
}

type balanceChangedEvent struct {
	Event         string          `json:"event"`
	UserID        int64           `json:"user_id"`
	Asset         string          `json:"asset"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	TransactionNo string          `json:"transaction_no"`
}

// Apply executes one Change inside the caller's transaction. The account row
// lock taken here serializes concurrent effects on the same user; the version
// CAS in the balance write catches anything that slips past it.
func (s *LedgerService) Apply(ctx context.Context, tx *gorm.DB, ch Change) (*model.AccountTransaction, error) {
	if ch.Asset == "" {
		ch.Asset = model.AssetTEO
	}

	account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, ch.UserID)
	if err != nil {
		return nil, err
	}

	before := account.AvailableBalance
	after := before

	if ch.Asset == model.AssetTEO {
		after = before.Add(ch.Amount)
		balances := repository.Balances{
			Available: after,
			Staked:    account.StakedAmount.Add(ch.StakedDelta),
			Reserved:  account.ReservedForWithdrawal.Add(ch.ReservedDelta),
		}
		if err := s.accountRepo.UpdateBalances(ctx, tx, ch.UserID, balances, account.Version); err != nil {
			return nil, err
		}
	}

	trans := &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        ch.UserID,
		Asset:         ch.Asset,
		Kind:          ch.Kind,
		Amount:        ch.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		RelatedEntity: ch.RelatedEntity,
		Remark:        ch.Remark,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, err
	}

	event := balanceChangedEvent{
		Event:         model.EventBalanceChanged,
		UserID:        ch.UserID,
		Asset:         ch.Asset,
		Kind:          ch.Kind,
		Amount:        ch.Amount,
		BalanceAfter:  after,
		TransactionNo: trans.TransactionNo,
	}
	if err := s.enqueueEvent(ctx, tx, config.GlobalConfig.Kafka.Topic.Balance, trans.TransactionNo, event); err != nil {
		return nil, err
	}

	return trans, nil
}

func (s *LedgerService) enqueueEvent(ctx context.Context, tx *gorm.DB, topic, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// withAccountLock wraps fn in the per-user redis lock that keeps concurrent
// API calls for the same account from piling up on the row lock.
func (s *LedgerService) withAccountLock(ctx context.Context, userID int64, fn func() error) error {
	accountLock := lock.NewAccountLock(s.redisClient, userID, uuid.NewString())
	if err := accountLock.Lock(ctx, 100*time.Millisecond, 50); err != nil {
		return err
	}
	defer func() {
		if err := accountLock.Unlock(context.Background()); err != nil {
			zap.L().Warn("failed to release account lock", zap.Int64("user_id", userID), zap.Error(err))
		}
	}()
	return fn()
}

// Deposit credits minted or bridged TEO. It is idempotent on the chain
// transaction hash: replays return the original ledger entry.
func (s *LedgerService) Deposit(ctx context.Context, userID int64, role string, amount decimal.Decimal, txHash, remark string) (*model.AccountTransaction, error) {
	if !amount.IsPositive() {
		return nil, repository.ErrInvalidAmount
	}

	if _, err := s.accountRepo.GetOrCreate(ctx, userID, role); err != nil {
		return nil, err
	}

	// The replay check runs after the row lock is held so concurrent
	// confirmations of the same hash serialize and the loser sees the
	// winner's committed row instead of crediting again.
	var trans *model.AccountTransaction
	err := s.withAccountLock(ctx, userID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if _, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID); err != nil {
				return err
			}

			existing, err := s.transactionRepo.ListByRelatedEntity(ctx, tx, txHash)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				trans = existing[0]
				return nil
			}

			var applyErr error
			trans, applyErr = s.Apply(ctx, tx, Change{
				UserID:        userID,
				Kind:          model.TransactionKindDeposit,
				Amount:        amount,
				RelatedEntity: txHash,
				Remark:        remark,
			})
			return applyErr
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("deposit credited",
		zap.Int64("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", txHash))
	return trans, nil
}

// Reward credits platform-minted TEO, e.g. course completion rewards.
func (s *LedgerService) Reward(ctx context.Context, userID int64, role string, amount decimal.Decimal, relatedEntity, remark string) (*model.AccountTransaction, error) {
	if !amount.IsPositive() {
		return nil, repository.ErrInvalidAmount
	}

	if _, err := s.accountRepo.GetOrCreate(ctx, userID, role); err != nil {
		return nil, err
	}

	var trans *model.AccountTransaction
	err := s.withAccountLock(ctx, userID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var applyErr error
			trans, applyErr = s.Apply(ctx, tx, Change{
				UserID:        userID,
				Kind:          model.TransactionKindReward,
				Amount:        amount,
				RelatedEntity: relatedEntity,
				Remark:        remark,
			})
			return applyErr
		})
	})
	if err != nil {
		return nil, err
	}
	return trans, nil
}

// Stake moves TEO from available into the staked column. The staked amount
// keeps earning tier status but cannot be spent or withdrawn.
func (s *LedgerService) Stake(ctx context.Context, userID int64, amount decimal.Decimal) (*model.AccountTransaction, error) {
	if !amount.IsPositive() {
		return nil, repository.ErrInvalidAmount
	}

	var trans *model.AccountTransaction
	err := s.withAccountLock(ctx, userID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var applyErr error
			trans, applyErr = s.Apply(ctx, tx, Change{
				UserID:      userID,
				Kind:        model.TransactionKindStake,
				Amount:      amount.Neg(),
				StakedDelta: amount,
				Remark:      "stake",
			})
			return applyErr
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("stake applied", zap.Int64("user_id", userID), zap.String("amount", amount.String()))
	return trans, nil
}

// Unstake moves TEO back from staked to available. Takes effect immediately;
// there is no unbonding period.
func (s *LedgerService) Unstake(ctx context.Context, userID int64, amount decimal.Decimal) (*model.AccountTransaction, error) {
	if !amount.IsPositive() {
		return nil, repository.ErrInvalidAmount
	}

	var trans *model.AccountTransaction
	err := s.withAccountLock(ctx, userID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var applyErr error
			trans, applyErr = s.Apply(ctx, tx, Change{
				UserID:      userID,
				Kind:        model.TransactionKindUnstake,
				Amount:      amount,
				StakedDelta: amount.Neg(),
				Remark:      "unstake",
			})
			return applyErr
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("unstake applied", zap.Int64("user_id", userID), zap.String("amount", amount.String()))
	return trans, nil
}

// AccountView is the account projection plus the staking tier derived from it.
type AccountView struct {
	Account           *model.Account  `json:"account"`
	TierName          string          `json:"tier_name"`
	CommissionPercent decimal.Decimal `json:"commission_rate_percent"`
	NextTierName      string          `json:"next_tier_name,omitempty"`
	NextTierMinStake  decimal.Decimal `json:"next_tier_min_stake,omitempty"`
}

func (s *LedgerService) GetAccount(ctx context.Context, userID int64) (*AccountView, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	current := s.tierResolver.Resolve(account.StakedAmount)
	view := &AccountView{
		Account:           account,
		TierName:          current.Name,
		CommissionPercent: current.CommissionRatePercent,
	}
	for _, t := range s.tierResolver.Tiers() {
		if t.MinStake.GreaterThan(account.StakedAmount) {
			view.NextTierName = t.Name
			view.NextTierMinStake = t.MinStake
			break
		}
	}
	return view, nil
}

// Tiers exposes the staking bracket table.
func (s *LedgerService) Tiers() []tier.Tier {
	return s.tierResolver.Tiers()
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

// Reconcile re-derives the available balance from the TEO log and compares it
// to the cached projection. A mismatch means a write skipped the ledger.
func (s *LedgerService) Reconcile(ctx context.Context, userID int64) (bool, decimal.Decimal, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return false, decimal.Zero, err
	}
	sum, err := s.transactionRepo.SumTEOByUserID(ctx, userID)
	if err != nil {
		return false, decimal.Zero, err
	}
	return sum.Equal(account.AvailableBalance), sum, nil
}
