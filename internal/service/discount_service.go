package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"teoledger/internal/config"
	"teoledger/internal/model"
	"teoledger/internal/pricing"
	"teoledger/internal/repository"
	"teoledger/pkg/idgen"
)

// DiscountService handles the student side of discount absorption: quoting,
// spending TEO into the platform pool, and spawning the teacher's opportunity
// when the enrollment is finalized.
type DiscountService struct {
	db              *gorm.DB
	ledger          *LedgerService
	accountRepo     *repository.AccountRepository
	discountRepo    *repository.DiscountRepository
	opportunityRepo *repository.OpportunityRepository
}

func NewDiscountService(
	db *gorm.DB,
	ledger *LedgerService,
	accountRepo *repository.AccountRepository,
	discountRepo *repository.DiscountRepository,
	opportunityRepo *repository.OpportunityRepository,
) *DiscountService {
	return &DiscountService{
		db:              db,
		ledger:          ledger,
		accountRepo:     accountRepo,
		discountRepo:    discountRepo,
		opportunityRepo: opportunityRepo,
	}
}

// Quote prices a discount without touching any state. The same inputs always
// return the same decimals, so the preview and the later request agree.
func (s *DiscountService) Quote(coursePriceEur decimal.Decimal, discountPercent int) (pricing.Quote, error) {
	return pricing.NewQuote(coursePriceEur, discountPercent, config.GlobalConfig.Business.PricingPolicy())
}

type CreateRequestParams struct {
	StudentID       int64
	TeacherID       int64
	CourseID        string
	CoursePriceEur  decimal.Decimal
	DiscountPercent int
}

// CreateRequest debits the student's TEO into the platform pool and records
// the open discount request. The debit and the request row commit together;
// an insufficient balance rolls back everything.
func (s *DiscountService) CreateRequest(ctx context.Context, params CreateRequestParams) (*model.DiscountRequest, error) {
	quote, err := s.Quote(params.CoursePriceEur, params.DiscountPercent)
	if err != nil {
		return nil, err
	}

	if _, err := s.accountRepo.GetOrCreate(ctx, params.StudentID, model.RoleStudent); err != nil {
		return nil, err
	}
	poolUserID := config.GlobalConfig.Business.PoolUserID
	if _, err := s.accountRepo.GetOrCreate(ctx, poolUserID, model.RolePlatform); err != nil {
		return nil, err
	}

	request := &model.DiscountRequest{
		RequestNo:       idgen.GenerateRequestNo(),
		StudentID:       params.StudentID,
		TeacherID:       params.TeacherID,
		CourseID:        params.CourseID,
		CoursePriceEur:  params.CoursePriceEur,
		DiscountPercent: params.DiscountPercent,
		DiscountEur:     quote.DiscountEur,
		TeoCost:         quote.TeoCost,
		TeacherBonusTeo: quote.TeacherBonusTeo,
		Status:          model.DiscountRequestStatusOpen,
	}

	err = s.ledger.withAccountLock(ctx, params.StudentID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if _, err := s.ledger.Apply(ctx, tx, Change{
				UserID:        params.StudentID,
				Kind:          model.TransactionKindDiscountUsed,
				Amount:        quote.TeoCost.Neg(),
				RelatedEntity: request.RequestNo,
				Remark:        fmt.Sprintf("%d%% discount on course %s", params.DiscountPercent, params.CourseID),
			}); err != nil {
				return err
			}
			if _, err := s.ledger.Apply(ctx, tx, Change{
				UserID:        poolUserID,
				Kind:          model.TransactionKindDiscountUsed,
				Amount:        quote.TeoCost,
				RelatedEntity: request.RequestNo,
				Remark:        "pool intake",
			}); err != nil {
				return err
			}
			return s.discountRepo.Create(ctx, tx, request)
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("discount request created",
		zap.String("request_no", request.RequestNo),
		zap.Int64("student_id", params.StudentID),
		zap.String("teo_cost", quote.TeoCost.String()))
	return request, nil
}

// ConfirmRequest finalizes the discounted enrollment and opens the teacher's
// absorption opportunity. Both payout options are frozen here using the
// teacher's staking tier at confirmation time.
func (s *DiscountService) ConfirmRequest(ctx context.Context, requestNo string) (*model.AbsorptionOpportunity, error) {
	request, err := s.discountRepo.GetByRequestNo(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	if request.Status != model.DiscountRequestStatusOpen {
		return nil, repository.ErrInvalidTransition
	}

	teacherAccount, err := s.accountRepo.GetOrCreate(ctx, request.TeacherID, model.RoleTeacher)
	if err != nil {
		return nil, err
	}
	teacherTier := s.ledger.tierResolver.Resolve(teacherAccount.StakedAmount)

	optionAEur := pricing.TeacherEur(request.CoursePriceEur, teacherTier.CommissionRatePercent)
	opportunity := &model.AbsorptionOpportunity{
		OpportunityNo:     idgen.GenerateOpportunityNo(),
		DiscountRequestNo: request.RequestNo,
		TeacherID:         request.TeacherID,
		DiscountEur:       request.DiscountEur,
		TeoUsed:           request.TeoCost,
		TeacherBonusTeo:   request.TeacherBonusTeo,
		OptionATeacherEur: optionAEur,
		OptionBTeacherEur: optionAEur.Sub(request.DiscountEur),
		OptionBTeacherTeo: request.TeoCost.Add(request.TeacherBonusTeo),
		DeadlineAt:        time.Now().Add(config.GlobalConfig.Business.DecisionDeadline()),
		Status:            model.OpportunityStatusPending,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.discountRepo.Confirm(ctx, tx, requestNo); err != nil {
			return err
		}
		return s.opportunityRepo.Create(ctx, tx, opportunity)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("absorption opportunity opened",
		zap.String("opportunity_no", opportunity.OpportunityNo),
		zap.Int64("teacher_id", request.TeacherID),
		zap.Time("deadline_at", opportunity.DeadlineAt))
	return opportunity, nil
}

func (s *DiscountService) GetRequest(ctx context.Context, requestNo string) (*model.DiscountRequest, error) {
	return s.discountRepo.GetByRequestNo(ctx, requestNo)
}

func (s *DiscountService) ListRequests(ctx context.Context, studentID int64, page, pageSize int) ([]*model.DiscountRequest, int64, error) {
	return s.discountRepo.ListByStudent(ctx, studentID, page, pageSize)
}
