package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"teoledger/internal/config"
	"teoledger/internal/infrastructure/lock"
	"teoledger/internal/model"
	"teoledger/internal/repository"

	"github.com/go-redis/redis/v8"
)

// AbsorptionService resolves teacher opportunities. Manual decisions and the
// expiry sweeper both land here; the status CAS in the opportunity table is
// the single arbiter, so whichever caller wins, the ledger effects run
// exactly once.
type AbsorptionService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	ledger          *LedgerService
	accountRepo     *repository.AccountRepository
	opportunityRepo *repository.OpportunityRepository
}

func NewAbsorptionService(
	db *gorm.DB,
	redisClient *redis.Client,
	ledger *LedgerService,
	accountRepo *repository.AccountRepository,
	opportunityRepo *repository.OpportunityRepository,
) *AbsorptionService {
	return &AbsorptionService{
		db:              db,
		redisClient:     redisClient,
		ledger:          ledger,
		accountRepo:     accountRepo,
		opportunityRepo: opportunityRepo,
	}
}

// deadlinePassed reports whether a manual decision arrives too late. The
// deadline instant itself already belongs to the sweeper.
func deadlinePassed(now, deadline time.Time) bool {
	return !now.Before(deadline)
}

type opportunityResolvedEvent struct {
	Event         string    `json:"event"`
	OpportunityNo string    `json:"opportunity_no"`
	TeacherID     int64     `json:"teacher_id"`
	Status        string    `json:"status"`
	ResolvedBy    string    `json:"resolved_by"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// Resolve moves an opportunity out of pending. choice is absorb or refuse;
// resolvedBy identifies the teacher or the expiry sweeper. When the
// opportunity is already terminal the terminal record comes back alongside
// ErrAlreadyResolved so callers can show the final state.
func (s *AbsorptionService) Resolve(ctx context.Context, opportunityNo, choice, resolvedBy string) (*model.AbsorptionOpportunity, error) {
	if choice != model.ChoiceAbsorb && choice != model.ChoiceRefuse {
		return nil, repository.ErrInvalidTransition
	}

	opportunity, err := s.opportunityRepo.GetByNo(ctx, opportunityNo)
	if err != nil {
		return nil, err
	}
	if model.OpportunityStatusTerminal(opportunity.Status) {
		return opportunity, repository.ErrAlreadyResolved
	}
	if resolvedBy == model.ResolvedByTeacher && deadlinePassed(time.Now(), opportunity.DeadlineAt) {
		return opportunity, repository.ErrDeadlinePassed
	}

	targetStatus := model.OpportunityStatusRefused
	if choice == model.ChoiceAbsorb {
		targetStatus = model.OpportunityStatusAbsorbed
	}
	if resolvedBy == model.ResolvedBySystem {
		targetStatus = model.OpportunityStatusExpired
	}

	// The redis lock sheds racing callers early; losing it means someone
	// else is resolving right now, which the CAS would reject anyway.
	oppLock := lock.NewOpportunityLock(s.redisClient, opportunityNo, uuid.NewString())
	acquired, err := oppLock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		latest, getErr := s.opportunityRepo.GetByNo(ctx, opportunityNo)
		if getErr != nil {
			return nil, getErr
		}
		if model.OpportunityStatusTerminal(latest.Status) {
			return latest, repository.ErrAlreadyResolved
		}
		return latest, repository.ErrStaleWrite
	}
	defer func() {
		if err := oppLock.Unlock(context.Background()); err != nil {
			zap.L().Warn("failed to release opportunity lock", zap.String("opportunity_no", opportunityNo), zap.Error(err))
		}
	}()

	resolvedAt := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.opportunityRepo.Resolve(ctx, tx, opportunityNo, targetStatus, resolvedBy, resolvedAt); err != nil {
			return err
		}

		if choice == model.ChoiceAbsorb {
			if err := s.applyAbsorb(ctx, tx, opportunity); err != nil {
				return err
			}
		} else {
			if err := s.applyRefuse(ctx, tx, opportunity); err != nil {
				return err
			}
		}

		event := opportunityResolvedEvent{
			Event:         model.EventOpportunityResolved,
			OpportunityNo: opportunityNo,
			TeacherID:     opportunity.TeacherID,
			Status:        targetStatus,
			ResolvedBy:    resolvedBy,
			ResolvedAt:    resolvedAt,
		}
		return s.ledger.enqueueEvent(ctx, tx, config.GlobalConfig.Kafka.Topic.Opportunity, opportunityNo, event)
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyResolved) {
			latest, getErr := s.opportunityRepo.GetByNo(ctx, opportunityNo)
			if getErr == nil {
				return latest, repository.ErrAlreadyResolved
			}
		}
		return nil, err
	}

	zap.L().Info("opportunity resolved",
		zap.String("opportunity_no", opportunityNo),
		zap.String("status", targetStatus),
		zap.String("resolved_by", resolvedBy))

	opportunity.Status = targetStatus
	opportunity.ResolvedBy = resolvedBy
	opportunity.ResolvedAt = &resolvedAt
	return opportunity, nil
}

// applyAbsorb pays option B: the absorbed TEO leaves the pool for the
// teacher, the bonus is minted on top, and the reduced EUR commission is
// logged for reconciliation.
func (s *AbsorptionService) applyAbsorb(ctx context.Context, tx *gorm.DB, opp *model.AbsorptionOpportunity) error {
	poolUserID := config.GlobalConfig.Business.PoolUserID

	if _, err := s.ledger.Apply(ctx, tx, Change{
		UserID:        poolUserID,
		Kind:          model.TransactionKindDiscountAbsorbed,
		Amount:        opp.TeoUsed.Neg(),
		RelatedEntity: opp.OpportunityNo,
		Remark:        "pool payout",
	}); err != nil {
		return err
	}
	if _, err := s.ledger.Apply(ctx, tx, Change{
		UserID:        opp.TeacherID,
		Kind:          model.TransactionKindDiscountAbsorbed,
		Amount:        opp.TeoUsed,
		RelatedEntity: opp.OpportunityNo,
		Remark:        "absorbed student discount",
	}); err != nil {
		return err
	}
	if _, err := s.ledger.Apply(ctx, tx, Change{
		UserID:        opp.TeacherID,
		Kind:          model.TransactionKindBonus,
		Amount:        opp.TeacherBonusTeo,
		RelatedEntity: opp.OpportunityNo,
		Remark:        "absorption bonus",
	}); err != nil {
		return err
	}
	_, err := s.ledger.Apply(ctx, tx, Change{
		UserID:        opp.TeacherID,
		Kind:          model.TransactionKindDiscountAbsorbed,
		Asset:         model.AssetEUR,
		Amount:        opp.OptionBTeacherEur,
		RelatedEntity: opp.OpportunityNo,
		Remark:        "reduced commission settlement",
	})
	return err
}

// applyRefuse pays option A: the full EUR commission is logged and the
// student's TEO stays in the pool untouched.
func (s *AbsorptionService) applyRefuse(ctx context.Context, tx *gorm.DB, opp *model.AbsorptionOpportunity) error {
	_, err := s.ledger.Apply(ctx, tx, Change{
		UserID:        opp.TeacherID,
		Kind:          model.TransactionKindDiscountDeclined,
		Asset:         model.AssetEUR,
		Amount:        opp.OptionATeacherEur,
		RelatedEntity: opp.OpportunityNo,
		Remark:        "full commission settlement",
	})
	return err
}

func (s *AbsorptionService) GetOpportunity(ctx context.Context, opportunityNo string) (*model.AbsorptionOpportunity, error) {
	return s.opportunityRepo.GetByNo(ctx, opportunityNo)
}

func (s *AbsorptionService) ListByTeacher(ctx context.Context, teacherID int64, status string, page, pageSize int) ([]*model.AbsorptionOpportunity, int64, error) {
	return s.opportunityRepo.ListByTeacher(ctx, teacherID, status, page, pageSize)
}

// ExpireDue resolves every pending opportunity past its deadline as a system
// refusal. Returns how many were expired; individual failures are logged and
// skipped so one bad row cannot stall the sweep.
func (s *AbsorptionService) ExpireDue(ctx context.Context, now time.Time, batchSize int) (int, error) {
	due, err := s.opportunityRepo.GetExpired(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, opp := range due {
		_, err := s.Resolve(ctx, opp.OpportunityNo, model.ChoiceRefuse, model.ResolvedBySystem)
		if err != nil {
			if errors.Is(err, repository.ErrAlreadyResolved) {
				continue
			}
			zap.L().Error("failed to expire opportunity",
				zap.String("opportunity_no", opp.OpportunityNo),
				zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}
