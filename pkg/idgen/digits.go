package idgen

import (
	"math/rand"
	"strings"
)

// RandomDigits 均匀随机生成 n 位数字串（允许前导 0）
func RandomDigits(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(byte('0' + rand.Intn(10)))
	}
	return sb.String()
}
