package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"gorm.io/gorm"

	"kimi/internal/models/db_models"
	"kimi/internal/models/request_models"
	"kimi/internal/models/response_models"
	"kimi/internal/repositories"
	mem "kimi/pkg/memcache"
	"kimi/pkg/utils"
)

var accountLog = logging.Logger("account")

type AccountServiceInterface interface {
	Login(request request_models.LoginRequest, ctx context.Context) (*response_models.AccountLoginResponse, error)
	CreateAccount(ctx context.Context, request request_models.SignUpRequest) (*db_models.Account, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*response_models.AccountResponse, error)
	SubmitKYC(ctx context.Context, id uuid.UUID, request request_models.SubmitKYCRequest) (*response_models.KYCResponse, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, request request_models.ResetPasswordRequest) error
	ChangePassword(ctx context.Context, id uuid.UUID, request request_models.ChangePasswordRequest) error
}

type AccountService struct {
	accountRepo   repositories.AccountRepository
	mailService   IMailService
	resets        mem.ResetTokenStore
	tokens        *utils.TokenManager
	kyc           KYCProvider
	minConfidence float64
	tokenTTL      time.Duration
	resetTTL      time.Duration
	now           utils.Clock
}

// NewAccountService wires the account flows. mailService may be nil, in which
// case reset links are issued but never delivered.
func NewAccountService(accountRepo repositories.AccountRepository, mailService IMailService, resets mem.ResetTokenStore,
	tokens *utils.TokenManager, kyc KYCProvider, minConfidence float64, tokenTTL, resetTTL time.Duration) AccountServiceInterface {
	return &AccountService{
		accountRepo:   accountRepo,
		mailService:   mailService,
		resets:        resets,
		tokens:        tokens,
		kyc:           kyc,
		minConfidence: minConfidence,
		tokenTTL:      tokenTTL,
		resetTTL:      resetTTL,
		now:           utils.SystemClock,
	}
}

func (a *AccountService) Login(request request_models.LoginRequest, ctx context.Context) (*response_models.AccountLoginResponse, error) {
	startTime := time.Now()

	account, err := a.accountRepo.FindByEmail(ctx, strings.ToLower(request.Email))
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if account == nil {
		return nil, utils.ErrInvalidCredentials
	}

	if err := utils.ComparePasswords(account.PasswordHash, request.Password); err != nil {
		return nil, utils.ErrInvalidCredentials
	}

	token, err := a.tokens.CreateToken(account.ID, string(account.Role))
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	accountLog.Debugw("login", "account", account.ID, "took", time.Since(startTime))

	return &response_models.AccountLoginResponse{
		Token:     token,
		ExpiresAt: a.now().Add(a.tokenTTL),
	}, nil
}

func (a *AccountService) CreateAccount(ctx context.Context, request request_models.SignUpRequest) (*db_models.Account, error) {
	email := strings.ToLower(strings.TrimSpace(request.Email))
	phone := utils.NormalizePhone(request.PhoneNumber)
	if !utils.ValidCameroonMobile(phone) {
		return nil, utils.NewValidationError("phone_number", "expected a Cameroon mobile number (+2376XXXXXXXX)")
	}

	existing, err := a.accountRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if existing != nil {
		return nil, utils.ErrEmailAlreadyExists
	}
	if existing, err = a.accountRepo.FindByPhone(ctx, phone); err != nil {
		return nil, utils.ErrDatabaseError
	} else if existing != nil {
		return nil, utils.ErrEmailAlreadyExists
	}

	hashedPassword, err := utils.HashPassword(request.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := db_models.RoleBuyer
	if request.Role == string(db_models.RoleSeller) {
		role = db_models.RoleSeller
	}

	newAccount := &db_models.Account{
		Name:         request.DisplayName,
		Email:        email,
		PhoneNumber:  phone,
		PasswordHash: hashedPassword,
		Role:         role,
		KYCStatus:    db_models.KYCPending,
	}

	if err := a.accountRepo.InsertTx(newAccount, ctx); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, utils.ErrEmailAlreadyExists
		}
		return nil, utils.ErrDatabaseError
	}

	accountLog.Infow("account created", "account", newAccount.ID, "role", role, "phone", utils.MaskSensitive(phone, 7))
	return newAccount, nil
}

func (a *AccountService) GetProfile(ctx context.Context, id uuid.UUID) (*response_models.AccountResponse, error) {
	account, err := a.accountRepo.FindById(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if account == nil {
		return nil, utils.ErrNotFound
	}
	return toAccountResponse(account), nil
}

// SubmitKYC sends the documents to the identity provider and records the
// outcome. Approval below the confidence threshold counts as a rejection.
func (a *AccountService) SubmitKYC(ctx context.Context, id uuid.UUID, request request_models.SubmitKYCRequest) (*response_models.KYCResponse, error) {
	account, err := a.accountRepo.FindById(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if account == nil {
		return nil, utils.ErrNotFound
	}
	if account.KYCStatus == db_models.KYCVerified {
		return &response_models.KYCResponse{Status: string(account.KYCStatus), Confidence: account.KYCConfidence}, nil
	}

	now := a.now()
	account.KYCDocuments = request.Documents
	account.KYCSubmittedAt = &now
	account.KYCStatus = db_models.KYCUnderReview

	result, err := a.kyc.VerifyIdentity(ctx, request.Documents)
	if err != nil {
		account.KYCStatus = db_models.KYCSubmitted
		if uerr := a.accountRepo.UpdateKYC(ctx, account); uerr != nil {
			accountLog.Errorw("saving kyc submission", "account", id, "err", uerr)
		}
		return nil, fmt.Errorf("kyc provider: %w", err)
	}

	account.KYCConfidence = result.Confidence
	if result.Approved && result.Confidence >= a.minConfidence {
		account.KYCStatus = db_models.KYCVerified
		account.KYCVerifiedAt = &now
		account.KYCRejectionReason = ""
	} else {
		account.KYCStatus = db_models.KYCRejected
		account.KYCRejectionReason = result.Reason
		if account.KYCRejectionReason == "" {
			account.KYCRejectionReason = "confidence below threshold"
		}
	}

	if err := a.accountRepo.UpdateKYC(ctx, account); err != nil {
		return nil, utils.ErrDatabaseError
	}

	accountLog.Infow("kyc processed", "account", id, "status", account.KYCStatus, "confidence", result.Confidence)
	return &response_models.KYCResponse{
		Status:     string(account.KYCStatus),
		Confidence: result.Confidence,
		Reason:     account.KYCRejectionReason,
	}, nil
}

// ForgotPassword mails a single-use reset token. Unknown addresses and
// delivery failures look the same to the caller.
func (a *AccountService) ForgotPassword(ctx context.Context, email string) error {
	account, err := a.accountRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return utils.ErrDatabaseError
	}
	if account == nil {
		accountLog.Debugw("password reset for unknown email")
		return nil
	}

	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	if err := a.resets.Set(ctx, token, account.ID.String(), a.resetTTL); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	if a.mailService == nil {
		accountLog.Warnw("mail not configured, reset token not delivered", "account", account.ID)
		return nil
	}
	if err := a.mailService.SendMailToResetPassword(account.Email, token); err != nil {
		accountLog.Errorw("send reset mail", "account", account.ID, "err", err)
		return nil
	}
	accountLog.Infow("password reset requested", "account", account.ID)
	return nil
}

func (a *AccountService) ResetPassword(ctx context.Context, request request_models.ResetPasswordRequest) error {
	raw, err := a.resets.Consume(ctx, strings.TrimSpace(request.Token))
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return utils.ErrInvalidResetToken
	}

	if err := a.setPassword(ctx, id, request.NewPassword); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.ErrInvalidResetToken
		}
		return err
	}
	accountLog.Infow("password reset", "account", id)
	return nil
}

func (a *AccountService) ChangePassword(ctx context.Context, id uuid.UUID, request request_models.ChangePasswordRequest) error {
	account, err := a.accountRepo.FindById(ctx, id)
	if err != nil {
		return utils.ErrDatabaseError
	}
	if account == nil {
		return utils.ErrNotFound
	}
	if err := utils.ComparePasswords(account.PasswordHash, request.OldPassword); err != nil {
		return utils.NewValidationError("old_password", "current password is incorrect")
	}
	if request.OldPassword == request.NewPassword {
		return utils.NewValidationError("new_password", "must differ from the current password")
	}

	if err := a.setPassword(ctx, id, request.NewPassword); err != nil {
		return err
	}
	accountLog.Infow("password changed", "account", id)
	return nil
}

func (a *AccountService) setPassword(ctx context.Context, id uuid.UUID, password string) error {
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.accountRepo.UpdatePassword(ctx, id, hashed); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrNotFound
		}
		return utils.ErrDatabaseError
	}
	return nil
}

func toAccountResponse(a *db_models.Account) *response_models.AccountResponse {
	return &response_models.AccountResponse{
		ID:              a.ID.String(),
		Name:            a.Name,
		Email:           a.Email,
		PhoneNumber:     a.PhoneNumber,
		Role:            string(a.Role),
		KYCStatus:       string(a.KYCStatus),
		CanCreateEscrow: a.CanCreateEscrow(),
		CanArbitrate:    a.CanArbitrate(),
	}
}
