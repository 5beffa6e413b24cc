package ledger

import (
	"time"

	"github.com/google/uuid"
)

// AccountType distinguishes personal and business customers.
type AccountType string

const (
	AccountPersonal AccountType = "personal"
	AccountBusiness AccountType = "business"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	return t == AccountPersonal || t == AccountBusiness
}

// AccountStatus is the lifecycle state of an account. Closed is terminal.
type AccountStatus string

const (
	StatusActive AccountStatus = "active"
	StatusFrozen AccountStatus = "frozen"
	StatusClosed AccountStatus = "closed"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	return s == StatusActive || s == StatusFrozen || s == StatusClosed
}

// CustomerProfile holds the legal and contact details of the account holder.
type CustomerProfile struct {
	Name                 string     `json:"name" validate:"required,max=200"`
	Phone                string     `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email                string     `json:"email,omitempty" validate:"omitempty,email"`
	MotherName           string     `json:"mother_name,omitempty"`
	Birthdate            *time.Time `json:"birthdate,omitempty"`
	Gender               string     `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
	Nationality          string     `json:"nationality,omitempty"`
	IDType               string     `json:"id_type,omitempty"`
	IDNumber             string     `json:"id_number,omitempty"`
	Address              string     `json:"address,omitempty"`
	BusinessName         string     `json:"business_name,omitempty"`
	BusinessRegistration string     `json:"business_registration,omitempty"`
	BusinessAddress      string     `json:"business_address,omitempty"`
}

// Account is a customer balance-holding record. Balance is in minor units
// and never negative; a closed account always has a zero balance.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	AccountNumber string          `json:"account_number"`
	Type          AccountType     `json:"account_type"`
	Balance       int64           `json:"balance"`
	Status        AccountStatus   `json:"status"`
	Profile       CustomerProfile `json:"profile"`
	CreatedBy     *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

// TransactionType enumerates money movements.
type TransactionType string

const (
	TypeDeposit  TransactionType = "deposit"
	TypeWithdraw TransactionType = "withdraw"
	TypeTransfer TransactionType = "transfer"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TypeDeposit || t == TypeWithdraw || t == TypeTransfer
}

// TransactionStatus is the state of a recorded transaction. The synchronous
// engine only writes completed; pending and rejected are reserved for an
// approval workflow.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxRejected  TransactionStatus = "rejected"
)

// Method records how money entered or left the ledger.
type Method string

const (
	MethodCash         Method = "cash"
	MethodBankTransfer Method = "bank_transfer"
	MethodCheck        Method = "check"
	MethodInternal     Method = "internal"
	MethodExternalBank Method = "external_bank"
)

// Transaction is the immutable record of one money movement.
type Transaction struct {
	ID                   uuid.UUID         `json:"id"`
	Type                 TransactionType   `json:"transaction_type"`
	Amount               int64             `json:"amount"`
	SourceAccountID      *uuid.UUID        `json:"source_account_id,omitempty"`
	DestinationAccountID *uuid.UUID        `json:"destination_account_id,omitempty"`
	ExternalAccount      *string           `json:"external_account,omitempty"`
	Method               Method            `json:"method,omitempty"`
	Note                 string            `json:"note,omitempty"`
	PerformedBy          uuid.UUID         `json:"performed_by"`
	Status               TransactionStatus `json:"status"`
	RejectionReason      *string           `json:"rejection_reason,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

// TransactionRequest asks the engine to move money. Source and Destination
// accept either an account id or an account number.
type TransactionRequest struct {
	Type            TransactionType `json:"transaction_type"`
	Amount          int64           `json:"amount"`
	Source          string          `json:"source,omitempty"`
	Destination     string          `json:"destination,omitempty"`
	ExternalAccount string          `json:"external_account,omitempty"`
	Method          Method          `json:"method,omitempty"`
	Note            string          `json:"note,omitempty"`
	IdempotencyKey  string          `json:"-"`
}

// OpenAccountInput carries the data needed to open a customer account.
type OpenAccountInput struct {
	Type    AccountType     `json:"account_type" validate:"required,oneof=personal business"`
	Profile CustomerProfile `json:"profile"`
}

// ProfileUpdate replaces the fields that are set.
type ProfileUpdate struct {
	Name        *string `json:"name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Email       *string `json:"email,omitempty"`
	Address     *string `json:"address,omitempty"`
	IDType      *string `json:"id_type,omitempty"`
	IDNumber    *string `json:"id_number,omitempty"`
	Nationality *string `json:"nationality,omitempty"`
}

// AccountFilter narrows account listings.
type AccountFilter struct {
	Query   string
	Type    AccountType
	Status  AccountStatus
	Page    int
	PerPage int
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	AccountID *uuid.UUID
	Type      TransactionType
	Page      int
	PerPage   int
}
