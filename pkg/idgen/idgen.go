package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ============================================================================
// 交易号 / 授权码生成
// ============================================================================
//
// 交易号要求：
//   1. 全局唯一 - 多实例并发生成也不能碰撞
//   2. 趋势递增 - 时间分量在前，便于索引与排查
//   3. 不可预测 - 随机分量来自 crypto/rand
//
// 格式：TXN + UTC秒级时间戳(14位) + 随机十六进制(10位)
// 例如：TXN20240115063052A3F09B21CD
//
// 随机分量 40 bit，同一秒内碰撞概率约 n²/2^41，交易号唯一索引兜底，
// 写入冲突时由调用方换号重试（有限次）。
//
// ============================================================================

const (
	transactionIDPrefix = "TXN"
	randomBytes         = 5
)

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand 读取失败意味着运行环境已不可信，直接中止
		panic(fmt.Sprintf("idgen: 读取安全随机源失败: %v", err))
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// GenerateTransactionID 生成交易号
func GenerateTransactionID() string {
	timestamp := time.Now().UTC().Format("20060102150405")
	return transactionIDPrefix + timestamp + randomHex(randomBytes)
}

// GenerateAuthCode 生成 6 位授权码
// 授权码只是面向人的确认码，不是安全令牌，均匀随机即可
func GenerateAuthCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		panic(fmt.Sprintf("idgen: 读取安全随机源失败: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}
