package db_models

import (
	"time"

	"github.com/lib/pq"
)

type Role string

const (
	RoleBuyer   Role = "BUYER"
	RoleSeller  Role = "SELLER"
	RoleArbitre Role = "ARBITRE"
	RoleAdmin   Role = "ADMIN"
)

type KYCStatus string

const (
	KYCPending     KYCStatus = "PENDING"
	KYCSubmitted   KYCStatus = "SUBMITTED"
	KYCUnderReview KYCStatus = "UNDER_REVIEW"
	KYCVerified    KYCStatus = "VERIFIED"
	KYCRejected    KYCStatus = "REJECTED"
	KYCExpired     KYCStatus = "EXPIRED"
)

type Account struct {
	BaseModel
	Name          string    `json:"name"`
	Email         string    `gorm:"uniqueIndex" json:"email"`
	PhoneNumber   string    `gorm:"uniqueIndex;size:20" json:"phone_number"`
	PasswordHash  string    `json:"-"`
	Role          Role      `gorm:"size:20;index;default:BUYER" json:"role"`
	PhoneVerified bool      `json:"phone_verified"`
	KYCStatus     KYCStatus `gorm:"column:kyc_status;size:20;index;default:PENDING" json:"kyc_status"`

	KYCDocuments       pq.StringArray `gorm:"column:kyc_documents;type:text[]" json:"-"`
	KYCConfidence      float64        `gorm:"column:kyc_confidence" json:"-"`
	KYCSubmittedAt     *time.Time     `gorm:"column:kyc_submitted_at" json:"kyc_submitted_at,omitempty"`
	KYCVerifiedAt      *time.Time     `gorm:"column:kyc_verified_at" json:"kyc_verified_at,omitempty"`
	KYCRejectionReason string         `gorm:"column:kyc_rejection_reason" json:"kyc_rejection_reason,omitempty"`
}

// CanCreateEscrow mirrors the marketplace rule: trading roles with verified identity.
func (a *Account) CanCreateEscrow() bool {
	return (a.Role == RoleBuyer || a.Role == RoleSeller) && a.KYCStatus == KYCVerified
}

func (a *Account) CanArbitrate() bool {
	return a.Role == RoleArbitre && a.KYCStatus == KYCVerified
}
