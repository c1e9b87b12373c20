package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Components wrap one of these with the underlying cause, e.g.
// fmt.Errorf("%w: %w", ErrConnection, err).
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrConnection          = errors.New("connection error")
	ErrSubscription        = errors.New("subscription error")
	ErrInvalidInput        = errors.New("invalid input")
	ErrSubmission          = errors.New("submission error")
	ErrDispatchFailed      = errors.New("dispatch failed")
	ErrOutcomeUnknown      = errors.New("dispatch outcome unknown")
	ErrTimeout             = errors.New("timeout")
	ErrCanceled            = errors.New("canceled")
	ErrBusy                = errors.New("transfer already in progress")
)

type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindWalletNotFound      ErrorKind = "wallet_not_found"
	KindAuthorizationDenied ErrorKind = "authorization_denied"
	KindConnection          ErrorKind = "connection_error"
	KindSubscription        ErrorKind = "subscription_error"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindSubmission          ErrorKind = "submission_error"
	KindDispatchFailed      ErrorKind = "dispatch_failed"
	KindOutcomeUnknown      ErrorKind = "outcome_unknown"
	KindTimeout             ErrorKind = "timeout"
	KindCanceled            ErrorKind = "canceled"
	KindBusy                ErrorKind = "busy"
	KindUnknown             ErrorKind = "unknown"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	// DispatchFailed is checked before Submission so an included-but-rejected
	// transaction is never classified as a send failure.
	{ErrDispatchFailed, KindDispatchFailed},
	{ErrOutcomeUnknown, KindOutcomeUnknown},
	{ErrTimeout, KindTimeout},
	{ErrCanceled, KindCanceled},
	{ErrWalletNotFound, KindWalletNotFound},
	{ErrAuthorizationDenied, KindAuthorizationDenied},
	{ErrInvalidInput, KindInvalidInput},
	{ErrSubscription, KindSubscription},
	{ErrSubmission, KindSubmission},
	{ErrConnection, KindConnection},
	{ErrBusy, KindBusy},
}

// KindOf classifies err into the error taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// ContextError maps a context error to ErrTimeout or ErrCanceled.
func ContextError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	default:
		return err
	}
}

// UserMessage renders err for display. "Could not send" and "sent but
// rejected" always produce different messages.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindWalletNotFound:
		return "Wallet not found. Install or enable the wallet and try again."
	case KindAuthorizationDenied:
		return "Wallet authorization was denied."
	case KindConnection:
		return "Failed to connect or fetch data"
	case KindSubscription:
		return "Failed to subscribe to balance changes"
	case KindInvalidInput:
		return "Invalid transfer: " + strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": ")
	case KindSubmission:
		return "Transfer failed. Please try again."
	case KindDispatchFailed:
		var de *DispatchError
		if errors.As(err, &de) {
			return "Transaction error: " + de.Error()
		}
		return "Transaction error: the network rejected the transfer"
	case KindOutcomeUnknown:
		return "The transfer was included in a block but its result could not be confirmed. Check the balance before retrying."
	case KindTimeout:
		return "The operation timed out."
	case KindCanceled:
		return "The operation was canceled."
	case KindBusy:
		return "A transfer is already being submitted."
	default:
		return err.Error()
	}
}
