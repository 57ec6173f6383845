package billing

import "errors"

var (
	ErrNoFeeDefined       = errors.New("no fee defined")
	ErrNoApprovedLogEntry = errors.New("no unique Approved log entry")
	ErrCycleExpired       = errors.New("latest billing cycle has expired")
	ErrCycleNotFound      = errors.New("billing cycle not found")
	ErrCyclePaid          = errors.New("billing cycle has no outstanding fee")
	ErrBillNotFound       = errors.New("bill not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrAlreadyBilled      = errors.New("billing cycle already has an original bill")
	ErrDuplicateCycle     = errors.New("billing cycle already exists")
	ErrDuplicateBill      = errors.New("bill already exists")
	ErrDuplicatePayment   = errors.New("payment already recorded")
)
