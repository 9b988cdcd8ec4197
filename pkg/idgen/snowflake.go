package idgen

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snowflake layout: 41-bit millisecond timestamp, 10-bit worker id,
// 12-bit per-millisecond sequence. IDs are unique and trend-increasing,
// which keeps the uniqueIndex columns cheap to maintain.

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			zap.L().Fatal("worker id out of range", zap.Int64("worker_id", workerID), zap.Int64("max", maxWorkerID))
		}
		defaultGenerator = &Snowflake{workerID: workerID}
	})
}

func NextID() int64 {
	if defaultGenerator == nil {
		Init(1)
	}
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	id := ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence

	return id
}

func numbered(prefix string) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
}

// GenerateTransactionNo returns a ledger entry number, e.g. TXN2026011514305212345678.
func GenerateTransactionNo() string {
	return numbered("TXN")
}

// GenerateRequestNo returns a discount request number.
func GenerateRequestNo() string {
	return numbered("DRQ")
}

// GenerateOpportunityNo returns an absorption opportunity number.
func GenerateOpportunityNo() string {
	return numbered("OPP")
}

// GenerateWithdrawalNo returns a withdrawal request number.
func GenerateWithdrawalNo() string {
	return numbered("WDR")
}
