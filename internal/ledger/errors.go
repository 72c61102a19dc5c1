package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound 所有"不存在"类错误都可以用 errors.Is 匹配到它
var ErrNotFound = errors.New("not found")

var (
	ErrAccountNotFound     = fmt.Errorf("account %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)

	ErrInvalidAmount     = errors.New("amount must be a positive decimal with at most 4 fractional digits")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSameAccount       = errors.New("source and destination account must differ")

	// ErrStorageConflict 读写之间账户被并发修改，本次没有任何写入生效，调用方可重试
	ErrStorageConflict = errors.New("storage conflict, retry")

	ErrDuplicateAccountNumber = errors.New("duplicate account number")
	ErrNumberSpaceExhausted   = errors.New("account number space exhausted")

	ErrLockNotAcquired = errors.New("account is busy, retry later")
)
