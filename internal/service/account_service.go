package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"ledger/internal/config"
	"ledger/internal/ledger"
	"ledger/internal/model"
	"ledger/pkg/idgen"
)

var (
	ErrInvalidAccountName = errors.New("account name must be 3 to 100 characters")
	ErrInvalidAccountType = errors.New("account type must be SAVINGS or CHECKING")
)

// AccountStore 账户存储
type AccountStore interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	FindAccountByID(ctx context.Context, id int64) (*model.Account, error)
	FindAccountByNumber(ctx context.Context, number string) (*model.Account, error)
	ExistsAccountNumber(ctx context.Context, number string) (bool, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]*model.Account, error)
}

type AccountService struct {
	store  AccountStore
	cfg    config.AccountNumberConfig
	digits func(n int) string
	logger *zap.Logger
}

func NewAccountService(store AccountStore, cfg config.AccountNumberConfig, logger *zap.Logger) *AccountService {
	if cfg.Length <= 0 {
		cfg.Length = 10
	}
	if cfg.MaxLength < cfg.Length {
		cfg.MaxLength = cfg.Length
	}
	if cfg.AttemptsPerLength <= 0 {
		cfg.AttemptsPerLength = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		store:  store,
		cfg:    cfg,
		digits: idgen.RandomDigits,
		logger: logger,
	}
}

// CreateAccount 新开账户，余额为 0，账号由系统分配
func (s *AccountService) CreateAccount(ctx context.Context, userID int64, name, accountType string) (*model.Account, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 3 || n > 100 {
		return nil, ErrInvalidAccountName
	}
	accountType = strings.ToUpper(strings.TrimSpace(accountType))
	if !model.ValidAccountType(accountType) {
		return nil, ErrInvalidAccountType
	}

	account := &model.Account{
		AccountName: name,
		AccountType: accountType,
		Active:      true,
		UserID:      userID,
	}
	if err := s.assignNumber(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		zap.Int64("account_id", account.ID),
		zap.String("account_number", account.AccountNumber),
		zap.Int64("user_id", userID),
	)
	return account, nil
}

// assignNumber 每个长度最多尝试 AttemptsPerLength 次，用尽后加一位，超过 MaxLength 返回 ErrNumberSpaceExhausted
//
// 插入时撞上唯一索引（并发下另一个请求抽到同一个号）同样算一次失败的尝试
func (s *AccountService) assignNumber(ctx context.Context, account *model.Account) error {
	for length := s.cfg.Length; length <= s.cfg.MaxLength; length++ {
		for attempt := 0; attempt < s.cfg.AttemptsPerLength; attempt++ {
			number := s.digits(length)

			exists, err := s.store.ExistsAccountNumber(ctx, number)
			if err != nil {
				return fmt.Errorf("check account number: %w", err)
			}
			if exists {
				continue
			}

			account.AccountNumber = number
			err = s.store.CreateAccount(ctx, account)
			if errors.Is(err, ledger.ErrDuplicateAccountNumber) {
				s.logger.Debug("account number taken on insert, retrying", zap.String("account_number", number))
				continue
			}
			if err != nil {
				return fmt.Errorf("create account: %w", err)
			}
			return nil
		}

		if length < s.cfg.MaxLength {
			s.logger.Warn("account number space crowded, widening", zap.Int("from", length), zap.Int("to", length+1))
		}
	}
	return ledger.ErrNumberSpaceExhausted
}

func (s *AccountService) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	return s.store.FindAccountByID(ctx, id)
}

func (s *AccountService) GetByNumber(ctx context.Context, number string) (*model.Account, error) {
	return s.store.FindAccountByNumber(ctx, number)
}

func (s *AccountService) ListByUser(ctx context.Context, userID int64) ([]*model.Account, error) {
	return s.store.ListAccountsByUser(ctx, userID)
}
