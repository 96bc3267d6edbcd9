package repositories

import "gorm.io/gorm"

// Set bundles every repository over one connection pool.
type Set struct {
	Accounts       AccountRepository
	Transactions   EscrowTransactionRepository
	EscrowAccounts EscrowAccountRepository
	Payments       PaymentRepository
	Milestones     MilestoneRepository
	Disputes       DisputeRepository
	Conversations  ConversationRepository
	Audit          AuditRepository
	Webhooks       WebhookRepository
}

func NewSet(db *gorm.DB) Set {
	return Set{
		Accounts:       NewAccountRepository(db),
		Transactions:   NewEscrowTransactionRepository(db),
		EscrowAccounts: NewEscrowAccountRepository(db),
		Payments:       NewPaymentRepository(db),
		Milestones:     NewMilestoneRepository(db),
		Disputes:       NewDisputeRepository(db),
		Conversations:  NewConversationRepository(db),
		Audit:          NewAuditRepository(db),
		Webhooks:       NewWebhookRepository(db),
	}
}

// WithTx binds the transactional repositories to tx. Accounts and Webhooks
// are never written inside a settlement transaction and stay on the pool.
func (s Set) WithTx(tx *gorm.DB) Set {
	out := s
	out.Transactions = s.Transactions.WithTx(tx)
	out.EscrowAccounts = s.EscrowAccounts.WithTx(tx)
	out.Payments = s.Payments.WithTx(tx)
	out.Milestones = s.Milestones.WithTx(tx)
	out.Disputes = s.Disputes.WithTx(tx)
	out.Conversations = s.Conversations.WithTx(tx)
	out.Audit = s.Audit.WithTx(tx)
	return out
}
