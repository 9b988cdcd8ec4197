package repository

import "errors"

// Sentinel errors shared by the repositories. Services wrap them with %w and
// handlers map them onto business response codes.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrStaleWrite             = errors.New("concurrent modification, retry")
	ErrRequestNotFound        = errors.New("discount request not found")
	ErrOpportunityNotFound    = errors.New("absorption opportunity not found")
	ErrAlreadyResolved        = errors.New("opportunity already resolved")
	ErrWithdrawalNotFound     = errors.New("withdrawal request not found")
	ErrWithdrawalLimitReached = errors.New("withdrawal limit reached")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrDeadlinePassed         = errors.New("decision deadline passed")
)
