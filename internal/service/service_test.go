package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"teoledger/internal/config"
	"teoledger/internal/infrastructure/lock"
	"teoledger/internal/model"
	"teoledger/internal/repository"
	"teoledger/internal/tier"
	"teoledger/pkg/idgen"
)

func TestDeadlineBoundary(t *testing.T) {
	now := time.Now()

	if !deadlinePassed(now, now) {
		t.Error("a decision exactly at the deadline instant must be rejected")
	}
	if !deadlinePassed(now, now.Add(-time.Second)) {
		t.Error("a decision after the deadline must be rejected")
	}
	if deadlinePassed(now, now.Add(time.Nanosecond)) {
		t.Error("a decision before the deadline must be accepted")
	}
}

type serviceDeps struct {
	db              *gorm.DB
	redisClient     *redis.Client
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	opportunityRepo *repository.OpportunityRepository
	ledger          *LedgerService
	discount        *DiscountService
	absorption      *AbsorptionService
	withdrawal      *WithdrawalService
}

func setupServiceTest(t *testing.T) *serviceDeps {
	t.Helper()

	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN is not set")
	}
	redisAddr := os.Getenv("TEST_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}

	err = db.AutoMigrate(
		&model.Account{},
		&model.AccountTransaction{},
		&model.DiscountRequest{},
		&model.AbsorptionOpportunity{},
		&model.WithdrawalRequest{},
		&model.OutboxMessage{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"account", "account_transaction", "discount_request", "absorption_opportunity", "withdrawal_request", "outbox_message"} {
		if err := db.Exec("TRUNCATE TABLE " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis connection: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	config.GlobalConfig = &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				Balance:     "test.balance",
				Opportunity: "test.opportunity",
				Withdrawal:  "test.withdrawal",
			},
		},
		Business: config.BusinessConfig{
			DecisionDeadlineHours: 24,
			SweepIntervalSeconds:  60,
			SweepBatchSize:        100,
			WithdrawalCap:         3,
			PoolUserID:            0,
			TeoPerEur:             10,
			BonusPercent:          25,
			MaxRetryCount:         3,
		},
	}

	accountRepo := repository.NewAccountRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	discountRepo := repository.NewDiscountRepository(db)
	opportunityRepo := repository.NewOpportunityRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)

	ledger := NewLedgerService(db, redisClient, accountRepo, transactionRepo, outboxRepo, tier.NewResolver(nil))

	return &serviceDeps{
		db:              db,
		redisClient:     redisClient,
		accountRepo:     accountRepo,
		transactionRepo: transactionRepo,
		opportunityRepo: opportunityRepo,
		ledger:          ledger,
		discount:        NewDiscountService(db, ledger, accountRepo, discountRepo, opportunityRepo),
		absorption:      NewAbsorptionService(db, redisClient, ledger, accountRepo, opportunityRepo),
		withdrawal:      NewWithdrawalService(db, ledger, accountRepo, withdrawalRepo),
	}
}

func (d *serviceDeps) available(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	account, err := d.accountRepo.GetByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load account %d: %v", userID, err)
	}
	return account.AvailableBalance
}

func TestDepositReplayCreditsOnce(t *testing.T) {
	deps := setupServiceTest(t)
	ctx := context.Background()

	first, err := deps.ledger.Deposit(ctx, 101, model.RoleStudent, decimal.NewFromInt(50), "0xaaa", "")
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	again, err := deps.ledger.Deposit(ctx, 101, model.RoleStudent, decimal.NewFromInt(50), "0xaaa", "")
	if err != nil {
		t.Fatalf("replayed deposit: %v", err)
	}
	if again.TransactionNo != first.TransactionNo {
		t.Fatalf("replay returned a new ledger entry: %s vs %s", again.TransactionNo, first.TransactionNo)
	}
	if got := deps.available(t, 101); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("balance = %s, want 50", got)
	}
}

func TestConcurrentDepositReplays(t *testing.T) {
	deps := setupServiceTest(t)
	ctx := context.Background()

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = deps.ledger.Deposit(ctx, 102, model.RoleStudent, decimal.NewFromInt(25), "0xbbb", "")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	if got := deps.available(t, 102); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("balance = %s, want exactly one 25 credit", got)
	}
	rows, err := deps.transactionRepo.ListByRelatedEntity(ctx, nil, "0xbbb")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d ledger entries for one tx hash, want 1", len(rows))
	}
}

func openDiscountOpportunity(t *testing.T, deps *serviceDeps, studentID, teacherID int64) *model.AbsorptionOpportunity {
	t.Helper()
	ctx := context.Background()

	if _, err := deps.ledger.Deposit(ctx, studentID, model.RoleStudent, decimal.NewFromInt(300), fmt.Sprintf("0xseed%d", studentID), ""); err != nil {
		t.Fatalf("seed student: %v", err)
	}

	request, err := deps.discount.CreateRequest(ctx, CreateRequestParams{
		StudentID:       studentID,
		TeacherID:       teacherID,
		CourseID:        "course-1",
		CoursePriceEur:  decimal.NewFromInt(200),
		DiscountPercent: 15,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	opportunity, err := deps.discount.ConfirmRequest(ctx, request.RequestNo)
	if err != nil {
		t.Fatalf("confirm request: %v", err)
	}
	return opportunity
}

func TestAbsorbCreditsTeacher(t *testing.T) {
	deps := setupServiceTest(t)
	ctx := context.Background()

	opportunity := openDiscountOpportunity(t, deps, 201, 202)

	if !opportunity.TeoUsed.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("teo used = %s, want 300", opportunity.TeoUsed)
	}
	if !opportunity.OptionATeacherEur.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("option A = %s, want 150 (Bronze 25%% of 200)", opportunity.OptionATeacherEur)
	}
	if !opportunity.OptionBTeacherEur.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("option B eur = %s, want 120", opportunity.OptionBTeacherEur)
	}
	if !opportunity.OptionBTeacherTeo.Equal(decimal.NewFromInt(375)) {
		t.Fatalf("option B teo = %s, want 375", opportunity.OptionBTeacherTeo)
	}

	resolved, err := deps.absorption.Resolve(ctx, opportunity.OpportunityNo, model.ChoiceAbsorb, model.ResolvedByTeacher)
	if err != nil {
		t.Fatalf("resolve absorb: %v", err)
	}
	if resolved.Status != model.OpportunityStatusAbsorbed {
		t.Fatalf("status = %s, want absorbed", resolved.Status)
	}

	if got := deps.available(t, 202); !got.Equal(decimal.NewFromInt(375)) {
		t.Fatalf("teacher balance = %s, want 375", got)
	}
	if got := deps.available(t, 0); !got.IsZero() {
		t.Fatalf("pool balance = %s, want 0 after payout", got)
	}

	consistent, _, err := deps.ledger.Reconcile(ctx, 202)
	if err != nil {
		t.Fatal(err)
	}
	if !consistent {
		t.Fatal("teacher projection drifted from the transaction log")
	}
}

func TestRefuseLeavesPoolUntouched(t *testing.T) {
	deps := setupServiceTest(t)
	ctx := context.Background()

	opportunity := openDiscountOpportunity(t, deps, 211, 212)

	resolved, err := deps.absorption.Resolve(ctx, opportunity.OpportunityNo, model.ChoiceRefuse, model.ResolvedByTeacher)
	if err != nil {
		t.Fatalf("resolve refuse: %v", err)
	}
	if resolved.Status != model.OpportunityStatusRefused {
		t.Fatalf("status = %s, want refused", resolved.Status)
	}

	if got := deps.available(t, 212); !got.IsZero() {
		t.Fatalf("teacher TEO balance = %s, want 0", got)
	}
	if got := deps.available(t, 0); !got.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("pool balance = %s, want 300", got)
	}

	rows, err := deps.transactionRepo.ListByRelatedEntity(ctx, nil, opportunity.OpportunityNo)
	if err != nil {
		t.Fatal(err)
	}
	var eurRows int
	for _, row := range rows {
		if row.Asset == model.AssetEUR {
			eurRows++
			if !row.Amount.Equal(decimal.NewFromInt(150)) {
				t.Errorf("eur settlement = %s, want the full 150 commission", row.Amount)
			}
			if row.Kind != model.TransactionKindDiscountDeclined {
				t.Errorf("eur settlement kind = %s, want discount_declined", row.Kind)
			}
		}
	}
	if eurRows != 1 {
		t.Fatalf("got %d EUR settlement rows, want 1", eurRows)
	}
}

func TestSecondResolveReturnsTerminalState(t *testing.T) {
	deps := setupServiceTest(t)
	ctx := context.Background()

	opportunity := openDiscountOpportunity(t, deps, 221, 222)

	if _, err := deps.absorption.Resolve(ctx, opportunity.OpportunityNo, model.ChoiceAbsorb, model.ResolvedByTeacher); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	latest, err := deps.absorption.Resolve(ctx, opportunity.OpportunityNo, model.ChoiceRefuse, model.ResolvedByTeacher)
	if !errors.Is(err, repository.ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v, want ErrAlreadyResolved", err)
	}
	if latest == nil || latest.Status != model.OpportunityStatusAbsorbed {
		t.Fatalf("second resolve must return the terminal record, got %+v", latest)
	}

	if got := deps.available(t, 222); !got.Equal(decimal.NewFromInt(375)) {
		t.Fatalf("teacher balance = %s after double resolve, want 375 (no double credit)", got)
	}
}

func TestResolveWhileLockHeldSignalsRetry(t *testing.T) {
	deps := setupServiceTest(t)
	ctx := context.Background()

	opportunity := openDiscountOpportunity(t, deps, 231, 232)

	held := lock.NewOpportunityLock(deps.redisClient, opportunity.OpportunityNo, uuid.NewString())
	acquired, err := held.TryLock(ctx)
	if err != nil || !acquired {
		t.Fatalf("acquire lock: acquired=%v err=%v", acquired, err)
	}
	defer held.Unlock(ctx)

	latest, err := deps.absorption.Resolve(ctx, opportunity.OpportunityNo, model.ChoiceAbsorb, model.ResolvedByTeacher)
	if !errors.Is(err, repository.ErrStaleWrite) {
		t.Fatalf("err = %v, want ErrStaleWrite while another resolver holds the lock", err)
	}
	if latest == nil || latest.Status != model.OpportunityStatusPending {
		t.Fatalf("a retry signal must carry the still-pending record, got %+v", latest)
	}
}

func TestExpireDueResolvesAsSystem(t *testing.T) {
	deps := setupServiceTest(t)
	ctx := context.Background()

	if _, err := deps.accountRepo.GetOrCreate(ctx, 242, model.RoleTeacher); err != nil {
		t.Fatal(err)
	}
	if _, err := deps.accountRepo.GetOrCreate(ctx, 0, model.RolePlatform); err != nil {
		t.Fatal(err)
	}

	opportunity := &model.AbsorptionOpportunity{
		OpportunityNo:     idgen.GenerateOpportunityNo(),
		DiscountRequestNo: idgen.GenerateRequestNo(),
		TeacherID:         242,
		DiscountEur:       decimal.NewFromInt(30),
		TeoUsed:           decimal.NewFromInt(300),
		TeacherBonusTeo:   decimal.NewFromInt(75),
		OptionATeacherEur: decimal.NewFromInt(150),
		OptionBTeacherEur: decimal.NewFromInt(120),
		OptionBTeacherTeo: decimal.NewFromInt(375),
		DeadlineAt:        time.Now().Add(-time.Minute),
		Status:            model.OpportunityStatusPending,
	}
	if err := deps.opportunityRepo.Create(ctx, nil, opportunity); err != nil {
		t.Fatal(err)
	}

	expired, err := deps.absorption.ExpireDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	final, err := deps.opportunityRepo.GetByNo(ctx, opportunity.OpportunityNo)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.OpportunityStatusExpired {
		t.Errorf("status = %s, want expired", final.Status)
	}
	if final.ResolvedBy != model.ResolvedBySystem {
		t.Errorf("resolved_by = %s, want system", final.ResolvedBy)
	}
	if got := deps.available(t, 242); !got.IsZero() {
		t.Errorf("teacher TEO balance = %s after expiry, want 0", got)
	}
}

func TestWithdrawalCapCycle(t *testing.T) {
	deps := setupServiceTest(t)
	ctx := context.Background()

	if _, err := deps.ledger.Deposit(ctx, 301, model.RoleTeacher, decimal.NewFromInt(1000), "0xccc", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var first *model.WithdrawalRequest
	for i := 0; i < 3; i++ {
		wdr, err := deps.withdrawal.Create(ctx, 301, decimal.NewFromInt(100), "0xwallet")
		if err != nil {
			t.Fatalf("withdrawal %d: %v", i+1, err)
		}
		if first == nil {
			first = wdr
		}
	}

	if got := deps.available(t, 301); !got.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("available = %s after three reservations, want 700", got)
	}

	_, err := deps.withdrawal.Create(ctx, 301, decimal.NewFromInt(100), "0xwallet")
	if !errors.Is(err, repository.ErrWithdrawalLimitReached) {
		t.Fatalf("fourth withdrawal err = %v, want ErrWithdrawalLimitReached", err)
	}

	if _, err := deps.withdrawal.Cancel(ctx, 301, first.WithdrawalNo); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := deps.available(t, 301); !got.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("available = %s after cancel, want 800", got)
	}

	if _, err := deps.withdrawal.Create(ctx, 301, decimal.NewFromInt(100), "0xwallet"); err != nil {
		t.Fatalf("withdrawal after cancel should pass: %v", err)
	}
}
