package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"teoledger/internal/model"
	"teoledger/internal/repository"
	"teoledger/pkg/idgen"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN is not set")
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

	return db
}

func seedAccount(t *testing.T, db *gorm.DB, userID int64, available string) *model.Account {
	t.Helper()

	repo := repository.NewAccountRepository(db)
	account, err := repo.GetOrCreate(context.Background(), userID, model.RoleStudent)
	if err != nil {
		t.Fatalf("get or create account: %v", err)
	}
	if available != "0" {
		err = db.Model(&model.Account{}).Where("user_id = ?", userID).
			Update("available_balance", decimal.RequireFromString(available)).Error
		if err != nil {
			t.Fatalf("seed balance: %v", err)
		}
		account, err = repo.GetByUserID(context.Background(), userID)
		if err != nil {
			t.Fatalf("reload account: %v", err)
		}
	}
	return account
}

func TestUpdateBalancesVersionGuard(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()

	account := seedAccount(t, db, 1, "100")

	next := repository.Balances{
		Available: decimal.NewFromInt(80),
		Staked:    decimal.NewFromInt(20),
		Reserved:  decimal.Zero,
	}
	if err := repo.UpdateBalances(ctx, db, 1, next, account.Version); err != nil {
		t.Fatalf("first update: %v", err)
	}

	err := repo.UpdateBalances(ctx, db, 1, next, account.Version)
	if !errors.Is(err, repository.ErrStaleWrite) {
		t.Fatalf("stale version should fail with ErrStaleWrite, got %v", err)
	}

	reloaded, err := repo.GetByUserID(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Version != account.Version+1 {
		t.Errorf("version = %d, want %d", reloaded.Version, account.Version+1)
	}
	if !reloaded.AvailableBalance.Equal(decimal.NewFromInt(80)) {
		t.Errorf("available = %s, want 80", reloaded.AvailableBalance)
	}
}

func TestUpdateBalancesRejectsNegative(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewAccountRepository(db)

	account := seedAccount(t, db, 2, "10")

	err := repo.UpdateBalances(context.Background(), db, 2, repository.Balances{
		Available: decimal.NewFromInt(-5),
		Staked:    decimal.Zero,
		Reserved:  decimal.Zero,
	}, account.Version)
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("negative balance should fail with ErrInsufficientBalance, got %v", err)
	}
}

func TestOpportunityResolvesExactlyOnce(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewOpportunityRepository(db)
	ctx := context.Background()

	opp := &model.AbsorptionOpportunity{
		OpportunityNo:     idgen.GenerateOpportunityNo(),
		DiscountRequestNo: idgen.GenerateRequestNo(),
		TeacherID:         10,
		DiscountEur:       decimal.NewFromInt(10),
		TeoUsed:           decimal.NewFromInt(100),
		TeacherBonusTeo:   decimal.NewFromInt(25),
		OptionATeacherEur: decimal.NewFromInt(75),
		OptionBTeacherEur: decimal.NewFromInt(65),
		OptionBTeacherTeo: decimal.NewFromInt(125),
		DeadlineAt:        time.Now().Add(24 * time.Hour),
		Status:            model.OpportunityStatusPending,
	}
	if err := repo.Create(ctx, nil, opp); err != nil {
		t.Fatalf("create opportunity: %v", err)
	}

	if err := repo.Resolve(ctx, nil, opp.OpportunityNo, model.OpportunityStatusAbsorbed, model.ResolvedByTeacher, time.Now()); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	err := repo.Resolve(ctx, nil, opp.OpportunityNo, model.OpportunityStatusRefused, model.ResolvedBySystem, time.Now())
	if !errors.Is(err, repository.ErrAlreadyResolved) {
		t.Fatalf("second resolve should fail with ErrAlreadyResolved, got %v", err)
	}

	final, err := repo.GetByNo(ctx, opp.OpportunityNo)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.OpportunityStatusAbsorbed {
		t.Errorf("status = %s, want absorbed", final.Status)
	}
	if final.ResolvedBy != model.ResolvedByTeacher {
		t.Errorf("resolved_by = %s, want teacher", final.ResolvedBy)
	}
}

func TestExpiredScanSkipsFutureDeadlines(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewOpportunityRepository(db)
	ctx := context.Background()

	now := time.Now()
	mk := func(deadline time.Time, status string) string {
		opp := &model.AbsorptionOpportunity{
			OpportunityNo:     idgen.GenerateOpportunityNo(),
			DiscountRequestNo: idgen.GenerateRequestNo(),
			TeacherID:         11,
			DiscountEur:       decimal.NewFromInt(5),
			TeoUsed:           decimal.NewFromInt(50),
			TeacherBonusTeo:   decimal.RequireFromString("12.5"),
			OptionATeacherEur: decimal.NewFromInt(40),
			OptionBTeacherEur: decimal.NewFromInt(35),
			OptionBTeacherTeo: decimal.RequireFromString("62.5"),
			DeadlineAt:        deadline,
			Status:            status,
		}
		if err := repo.Create(ctx, nil, opp); err != nil {
			t.Fatalf("create: %v", err)
		}
		return opp.OpportunityNo
	}

	overdue := mk(now.Add(-time.Hour), model.OpportunityStatusPending)
	mk(now.Add(time.Hour), model.OpportunityStatusPending)
	mk(now.Add(-2*time.Hour), model.OpportunityStatusRefused)

	due, err := repo.GetExpired(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 overdue opportunity, got %d", len(due))
	}
	if due[0].OpportunityNo != overdue {
		t.Errorf("got %s, want %s", due[0].OpportunityNo, overdue)
	}
}

func TestWithdrawalTransitionGuard(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewWithdrawalRepository(db)
	ctx := context.Background()

	wdr := &model.WithdrawalRequest{
		WithdrawalNo:  idgen.GenerateWithdrawalNo(),
		UserID:        3,
		Amount:        decimal.NewFromInt(50),
		WalletAddress: "0xabc",
		Status:        model.WithdrawalStatusPending,
	}
	if err := repo.Create(ctx, nil, wdr); err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}

	if err := repo.UpdateStatus(ctx, nil, wdr.WithdrawalNo, model.WithdrawalStatusPending, model.WithdrawalStatusProcessing, nil); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}

	err := repo.UpdateStatus(ctx, nil, wdr.WithdrawalNo, model.WithdrawalStatusProcessing, model.WithdrawalStatusCancelled, nil)
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("processing -> cancelled should fail, got %v", err)
	}

	err = repo.UpdateStatus(ctx, nil, wdr.WithdrawalNo, model.WithdrawalStatusPending, model.WithdrawalStatusCompleted, nil)
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("stale from-status should fail the CAS, got %v", err)
	}
}

func TestCountOpenWithdrawals(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewWithdrawalRepository(db)
	ctx := context.Background()

	statuses := []string{
		model.WithdrawalStatusPending,
		model.WithdrawalStatusProcessing,
		model.WithdrawalStatusCompleted,
		model.WithdrawalStatusCancelled,
		model.WithdrawalStatusFailed,
	}
	for _, status := range statuses {
		err := repo.Create(ctx, nil, &model.WithdrawalRequest{
			WithdrawalNo:  idgen.GenerateWithdrawalNo(),
			UserID:        4,
			Amount:        decimal.NewFromInt(10),
			WalletAddress: "0xdef",
			Status:        status,
		})
		if err != nil {
			t.Fatalf("create withdrawal: %v", err)
		}
	}

	open, err := repo.CountOpen(ctx, nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	if open != 2 {
		t.Fatalf("open count = %d, want 2 (pending + processing)", open)
	}
}

func TestTEOSumExcludesEurRows(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewTransactionRepository(db)
	ctx := context.Background()

	seedAccount(t, db, 5, "0")

	rows := []struct {
		asset  string
		amount string
	}{
		{model.AssetTEO, "100"},
		{model.AssetTEO, "-30"},
		{model.AssetTEO, "0.5"},
		{model.AssetEUR, "75"},
	}
	for i, row := range rows {
		err := repo.Create(ctx, nil, &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        5,
			Asset:         row.asset,
			Kind:          model.TransactionKindReward,
			Amount:        decimal.RequireFromString(row.amount),
			BalanceBefore: decimal.Zero,
			BalanceAfter:  decimal.Zero,
			RelatedEntity: fmt.Sprintf("seed-%d", i),
		})
		if err != nil {
			t.Fatalf("create transaction: %v", err)
		}
	}

	sum, err := repo.SumTEOByUserID(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Equal(decimal.RequireFromString("70.5")) {
		t.Fatalf("sum = %s, want 70.5", sum)
	}
}
