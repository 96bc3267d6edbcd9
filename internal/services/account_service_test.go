package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kimi/internal/models/db_models"
	"kimi/internal/models/request_models"
	"kimi/internal/repositories"
	"kimi/internal/testutil"
	mem "kimi/pkg/memcache"
	"kimi/pkg/utils"
)

type failingKYC struct{}

func (failingKYC) VerifyIdentity(context.Context, []string) (KYCResult, error) {
	return KYCResult{}, errors.New("provider down")
}

func newAccountService(t *testing.T, kyc KYCProvider) (AccountServiceInterface, *utils.TokenManager) {
	t.Helper()
	svc, tokens, _ := newAccountServiceWithMail(t, kyc)
	return svc, tokens
}

func newAccountServiceWithMail(t *testing.T, kyc KYCProvider) (AccountServiceInterface, *utils.TokenManager, *fakeMail) {
	t.Helper()
	db := testutil.NewSQLite(t)
	tokens := utils.NewTokenManager("test-secret", time.Hour)
	mail := &fakeMail{}
	svc := NewAccountService(repositories.NewAccountRepository(db), mail, mem.NewResetTokens(), tokens, kyc, 0.8, time.Hour, 30*time.Minute)
	return svc, tokens, mail
}

func signUp(email, phone string) request_models.SignUpRequest {
	return request_models.SignUpRequest{
		DisplayName: "Amina",
		Email:       email,
		PhoneNumber: phone,
		Password:    "s3cret-pass",
		Role:        "SELLER",
	}
}

func TestCreateAccountAndLogin(t *testing.T) {
	svc, tokens := newAccountService(t, StaticKYCProvider{})
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, signUp("Amina@Kimi.cm", "670 00 00 01"))
	require.NoError(t, err)
	assert.Equal(t, "amina@kimi.cm", acc.Email)
	assert.Equal(t, "+237670000001", acc.PhoneNumber)
	assert.Equal(t, db_models.RoleSeller, acc.Role)
	assert.Equal(t, db_models.KYCPending, acc.KYCStatus)
	assert.NotEqual(t, "s3cret-pass", acc.PasswordHash)

	_, err = svc.Login(request_models.LoginRequest{Email: "amina@kimi.cm", Password: "wrong-pass"}, ctx)
	assert.ErrorIs(t, err, utils.ErrInvalidCredentials)

	resp, err := svc.Login(request_models.LoginRequest{Email: "AMINA@kimi.cm", Password: "s3cret-pass"}, ctx)
	require.NoError(t, err)
	claims, err := tokens.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, acc.ID.String(), claims.UserID)
	assert.Equal(t, "SELLER", claims.Role)
}

func TestCreateAccountRejectsDuplicates(t *testing.T) {
	svc, _ := newAccountService(t, StaticKYCProvider{})
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, signUp("a@kimi.cm", "+237670000001"))
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, signUp("a@kimi.cm", "+237670000002"))
	assert.ErrorIs(t, err, utils.ErrEmailAlreadyExists)
	_, err = svc.CreateAccount(ctx, signUp("b@kimi.cm", "+237670000001"))
	assert.ErrorIs(t, err, utils.ErrEmailAlreadyExists)
}

func TestCreateAccountRejectsForeignPhone(t *testing.T) {
	svc, _ := newAccountService(t, StaticKYCProvider{})
	_, err := svc.CreateAccount(context.Background(), signUp("a@kimi.cm", "+33612345678"))
	var ve *utils.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSubmitKYC(t *testing.T) {
	cases := []struct {
		name      string
		documents []string
		status    db_models.KYCStatus
	}{
		{"id and selfie", []string{"cni_front.jpg", "selfie.jpg"}, db_models.KYCVerified},
		{"low confidence", []string{"passport.pdf"}, db_models.KYCRejected},
		{"no identity document", []string{"utility_bill.pdf"}, db_models.KYCRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newAccountService(t, StaticKYCProvider{})
			ctx := context.Background()
			acc, err := svc.CreateAccount(ctx, signUp("k@kimi.cm", "+237690000001"))
			require.NoError(t, err)

			resp, err := svc.SubmitKYC(ctx, acc.ID, request_models.SubmitKYCRequest{Documents: tc.documents})
			require.NoError(t, err)
			assert.Equal(t, string(tc.status), resp.Status)

			profile, err := svc.GetProfile(ctx, acc.ID)
			require.NoError(t, err)
			assert.Equal(t, string(tc.status), profile.KYCStatus)
			assert.Equal(t, tc.status == db_models.KYCVerified, profile.CanCreateEscrow)
		})
	}
}

func TestSubmitKYCProviderFailure(t *testing.T) {
	svc, _ := newAccountService(t, failingKYC{})
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, signUp("k@kimi.cm", "+237690000001"))
	require.NoError(t, err)

	_, err = svc.SubmitKYC(ctx, acc.ID, request_models.SubmitKYCRequest{Documents: []string{"cni.jpg"}})
	require.Error(t, err)

	profile, err := svc.GetProfile(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(db_models.KYCSubmitted), profile.KYCStatus)
}

func TestForgotAndResetPassword(t *testing.T) {
	svc, _, mail := newAccountServiceWithMail(t, StaticKYCProvider{})
	ctx := context.Background()
	_, err := svc.CreateAccount(ctx, signUp("r@kimi.cm", "+237670000011"))
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(ctx, "ghost@kimi.cm"))
	assert.Empty(t, mail.resetToken("ghost@kimi.cm"))

	require.NoError(t, svc.ForgotPassword(ctx, " R@Kimi.cm "))
	token := mail.resetToken("r@kimi.cm")
	require.NotEmpty(t, token)

	err = svc.ResetPassword(ctx, request_models.ResetPasswordRequest{Token: "not-a-token", NewPassword: "fresh-pass"})
	assert.ErrorIs(t, err, utils.ErrInvalidResetToken)

	require.NoError(t, svc.ResetPassword(ctx, request_models.ResetPasswordRequest{Token: token, NewPassword: "fresh-pass"}))
	err = svc.ResetPassword(ctx, request_models.ResetPasswordRequest{Token: token, NewPassword: "other-pass"})
	assert.ErrorIs(t, err, utils.ErrInvalidResetToken, "token is single use")

	_, err = svc.Login(request_models.LoginRequest{Email: "r@kimi.cm", Password: "s3cret-pass"}, ctx)
	assert.ErrorIs(t, err, utils.ErrInvalidCredentials)
	_, err = svc.Login(request_models.LoginRequest{Email: "r@kimi.cm", Password: "fresh-pass"}, ctx)
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	svc, _ := newAccountService(t, StaticKYCProvider{})
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, signUp("c@kimi.cm", "+237670000012"))
	require.NoError(t, err)

	var ve *utils.ValidationError
	err = svc.ChangePassword(ctx, acc.ID, request_models.ChangePasswordRequest{OldPassword: "wrong-pass", NewPassword: "next-pass"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "old_password", ve.Field)

	err = svc.ChangePassword(ctx, acc.ID, request_models.ChangePasswordRequest{OldPassword: "s3cret-pass", NewPassword: "s3cret-pass"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "new_password", ve.Field)

	require.NoError(t, svc.ChangePassword(ctx, acc.ID, request_models.ChangePasswordRequest{OldPassword: "s3cret-pass", NewPassword: "next-pass"}))
	_, err = svc.Login(request_models.LoginRequest{Email: "c@kimi.cm", Password: "next-pass"}, ctx)
	assert.NoError(t, err)
}
