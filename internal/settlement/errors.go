package settlement

import "errors"

var (
	ErrQuoteUnavailable  = errors.New("quote unavailable")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrPersistence       = errors.New("persistence failure")
	ErrUserNotFound      = errors.New("user not found")
)

type Code string

const (
	CodeOK                Code = "ok"
	CodeInvalidOrder      Code = "invalid_order"
	CodeQuoteUnavailable  Code = "quote_unavailable"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeUserNotFound      Code = "user_not_found"
	CodePersistence       Code = "persistence_error"
)

func codeFor(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidOrder):
		return CodeInvalidOrder
	case errors.Is(err, ErrQuoteUnavailable):
		return CodeQuoteUnavailable
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrUserNotFound):
		return CodeUserNotFound
	default:
		return CodePersistence
	}
}
