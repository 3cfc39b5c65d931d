package job

import (
	"context"
	"errors"
	"log"
	"time"

	"creditcore/internal/config"
	"creditcore/internal/infrastructure/lock"
	"creditcore/internal/model"
	"creditcore/internal/repository"
	"creditcore/internal/service"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// expiredHoldSource 到期预授权来源
type expiredHoldSource interface {
	GetExpiredHolds(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error)
}

// holdVoider 撤销入口
type holdVoider interface {
	Void(ctx context.Context, transactionID string) (*model.Transaction, error)
}

// HoldExpiryJob 预授权到期撤销任务
// 商户迟迟不请款的预授权不能永久占用会员额度，
// 超过有效期的 APPROVED 占用由本任务自动撤销并释放额度
type HoldExpiryJob struct {
	holds     expiredHoldSource
	voider    holdVoider
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewHoldExpiryJob(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *HoldExpiryJob {
	memberRepo := repository.NewMemberRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	locker := lock.NewRedisLocker(rdb)

	return &HoldExpiryJob{
		holds: transactionRepo,
		voider: service.NewCaptureService(memberRepo, transactionRepo, locker,
			service.CaptureConfig{EventTopic: cfg.Kafka.Topic.AuthResult}),
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		batchSize: 100,
	}
}

func (j *HoldExpiryJob) Start(ctx context.Context) {
	log.Println("[HoldExpiryJob] 预授权到期撤销任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[HoldExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[HoldExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.voidExpiredHolds(ctx)
		}
	}
}

func (j *HoldExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *HoldExpiryJob) voidExpiredHolds(ctx context.Context) {
	holds, err := j.holds.GetExpiredHolds(ctx, time.Now(), j.batchSize)
	if err != nil {
		log.Printf("[HoldExpiryJob] 查询到期预授权失败: %v", err)
		return
	}

	if len(holds) == 0 {
		return
	}

	log.Printf("[HoldExpiryJob] 发现 %d 笔到期预授权", len(holds))

	voidedCount := 0
	for _, hold := range holds {
		_, err := j.voider.Void(ctx, hold.TransactionID)
		if err != nil {
			// 并发的请款/撤销可能已经胜出，属于正常情况
			if errors.Is(err, repository.ErrInvalidTransition) {
				continue
			}
			log.Printf("[HoldExpiryJob] 撤销到期预授权失败: transactionID=%s err=%v",
				hold.TransactionID, err)
			continue
		}
		voidedCount++
		log.Printf("[HoldExpiryJob] 到期预授权已撤销: transactionID=%s member=%s amount=%s",
			hold.TransactionID, hold.MemberNumber, hold.Amount)
	}

	log.Printf("[HoldExpiryJob] 本次撤销 %d 笔到期预授权", voidedCount)
}
