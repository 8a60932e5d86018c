// Package errors provides the closed set of payout error codes and the
// structured error type returned across component boundaries.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Admission errors (payment intents)
	CodeInvalidPayload      Code = "INVALID_PAYLOAD"
	CodePayloadExpired      Code = "PAYLOAD_EXPIRED"
	CodeWrongNetwork        Code = "WRONG_NETWORK"
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodePayloadReplayed     Code = "PAYLOAD_REPLAYED"
	CodeInsufficientAmount  Code = "INSUFFICIENT_AMOUNT"
	CodeWrongRecipient      Code = "WRONG_RECIPIENT"
	CodeWrongToken          Code = "WRONG_TOKEN"
	CodeFacilitatorRejected Code = "FACILITATOR_REJECTED"
	CodeFacilitatorError    Code = "FACILITATOR_ERROR"
	CodeSettlementFailed    Code = "SETTLEMENT_FAILED"
	CodeSettlementError     Code = "SETTLEMENT_ERROR"

	// Guard rejections
	CodeServiceNotReady         Code = "SERVICE_NOT_READY"
	CodeServiceLockedDown       Code = "SERVICE_LOCKED_DOWN"
	CodeMatchAlreadyProcessed   Code = "MATCH_ALREADY_PROCESSED"
	CodeInvalidAmount           Code = "INVALID_AMOUNT"
	CodeAmountExceedsLimit      Code = "AMOUNT_EXCEEDS_LIMIT"
	CodeHourlyLimitReached      Code = "HOURLY_LIMIT_REACHED"
	CodeDailyLimitReached       Code = "DAILY_LIMIT_REACHED"
	CodeWalletRateLimited       Code = "WALLET_RATE_LIMITED"
	CodeInvalidRequest          Code = "INVALID_REQUEST"
	CodeUnauthorized            Code = "UNAUTHORIZED"

	// Settlement verification errors
	CodeMatchNotFound         Code = "MATCH_NOT_FOUND"
	CodeAlreadyPaid           Code = "ALREADY_PAID"
	CodeAlreadyRefunded       Code = "ALREADY_REFUNDED"
	CodePayoutInFlight        Code = "PAYOUT_IN_FLIGHT"
	CodeParticipantMismatch   Code = "PARTICIPANT_MISMATCH"
	CodeTokenMismatch         Code = "TOKEN_MISMATCH"
	CodeAmountMismatch        Code = "AMOUNT_MISMATCH"
	CodeEventStoreUnavailable Code = "EVENT_STORE_UNAVAILABLE"

	// Submission failures
	CodeInsufficientBalance    Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientFeeBalance Code = "INSUFFICIENT_SOL_FOR_FEES"
	CodeTransactionFailed      Code = "TRANSACTION_FAILED"
	CodePartialRefund          Code = "PARTIAL_REFUND"

	// Vault errors
	CodeVaultInitFailed Code = "VAULT_INIT_FAILED"
	CodeNotReady        Code = "NOT_READY"
)

// Class groups codes by how callers and the lockdown machinery treat them.
type Class int

const (
	ClassUnknown Class = iota
	// ClassAdmission covers malformed, expired, or mis-targeted intents.
	ClassAdmission
	// ClassGuard covers rate, ceiling, lockdown, and duplicate rejections.
	ClassGuard
	// ClassVerification covers settlement event mismatches.
	ClassVerification
	// ClassSubmission covers funds and transaction failures. Only this class
	// counts toward lockdown.
	ClassSubmission
)

func (c Class) String() string {
	switch c {
	case ClassAdmission:
		return "admission"
	case ClassGuard:
		return "guard"
	case ClassVerification:
		return "verification"
	case ClassSubmission:
		return "submission"
	default:
		return "unknown"
	}
}

// Class reports the error class for the code.
func (c Code) Class() Class {
	switch c {
	case CodeInvalidPayload,
		CodePayloadExpired,
		CodeWrongNetwork,
		CodeInvalidSignature,
		CodePayloadReplayed,
		CodeInsufficientAmount,
		CodeWrongRecipient,
		CodeWrongToken,
		CodeFacilitatorRejected,
		CodeFacilitatorError,
		CodeSettlementFailed,
		CodeSettlementError:
		return ClassAdmission

	case CodeServiceNotReady,
		CodeServiceLockedDown,
		CodeMatchAlreadyProcessed,
		CodeInvalidAmount,
		CodeAmountExceedsLimit,
		CodeHourlyLimitReached,
		CodeDailyLimitReached,
		CodeWalletRateLimited,
		CodeInvalidRequest,
		CodeUnauthorized:
		return ClassGuard

	case CodeMatchNotFound,
		CodeAlreadyPaid,
		CodeAlreadyRefunded,
		CodePayoutInFlight,
		CodeParticipantMismatch,
		CodeTokenMismatch,
		CodeAmountMismatch,
		CodeEventStoreUnavailable:
		return ClassVerification

	case CodeInsufficientBalance,
		CodeInsufficientFeeBalance,
		CodeTransactionFailed,
		CodePartialRefund:
		return ClassSubmission

	default:
		return ClassUnknown
	}
}

// CountsTowardLockdown reports whether a failure with this code increments
// the consecutive failure counter.
func (c Code) CountsTowardLockdown() bool {
	return c.Class() == ClassSubmission && c != CodePartialRefund
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidPayload,
		CodeWrongNetwork,
		CodeInvalidSignature,
		CodeInsufficientAmount,
		CodeWrongRecipient,
		CodeWrongToken,
		CodeInvalidAmount,
		CodeInvalidRequest,
		CodeParticipantMismatch,
		CodeTokenMismatch,
		CodeAmountMismatch:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodePayloadExpired,
		CodeAlreadyPaid,
		CodeAlreadyRefunded,
		CodeInsufficientBalance,
		CodeInsufficientFeeBalance,
		CodeAmountExceedsLimit:
		return codes.FailedPrecondition

	// AlreadyExists - duplicates and replays
	case CodePayloadReplayed,
		CodeMatchAlreadyProcessed,
		CodePayoutInFlight:
		return codes.AlreadyExists

	// ResourceExhausted - rate limits
	case CodeHourlyLimitReached,
		CodeDailyLimitReached,
		CodeWalletRateLimited:
		return codes.ResourceExhausted

	// Unavailable - service state or dependencies
	case CodeServiceNotReady,
		CodeServiceLockedDown,
		CodeNotReady,
		CodeFacilitatorError,
		CodeSettlementError,
		CodeEventStoreUnavailable:
		return codes.Unavailable

	case CodeMatchNotFound:
		return codes.NotFound

	case CodeUnauthorized:
		return codes.PermissionDenied

	case CodeFacilitatorRejected,
		CodeSettlementFailed:
		return codes.Aborted

	default:
		return codes.Internal
	}
}
