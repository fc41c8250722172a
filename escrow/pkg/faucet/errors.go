package faucet

import "github.com/malbeclabs/escrow/ledger/pkg/failure"

var (
	ErrInvalidSeed         = failure.New(failure.ClassValidation, "InvalidSeed", "faucet seed must not be empty")
	ErrSeedTooLong         = failure.New(failure.ClassValidation, "SeedTooLong", "faucet seed is too long")
	ErrNameTooLong         = failure.New(failure.ClassValidation, "NameTooLong", "token name is too long")
	ErrSymbolTooLong       = failure.New(failure.ClassValidation, "SymbolTooLong", "token symbol is too long")
	ErrURITooLong          = failure.New(failure.ClassValidation, "URITooLong", "token uri is too long")
	ErrInvalidAmount       = failure.New(failure.ClassValidation, "InvalidAmount", "amount must be greater than zero")
	ErrAmountTooHigh       = failure.New(failure.ClassValidation, "RequestAmountTooHigh", "request amount exceeds the faucet rate limit")
	ErrUnauthorized        = failure.New(failure.ClassAuthorization, "UnauthorizedFaucetAdmin", "signer is not the faucet admin")
	ErrFaucetExists        = failure.New(failure.ClassState, "FaucetAlreadyExists", "a faucet with this seed already exists")
	ErrFaucetNotEmpty      = failure.New(failure.ClassState, "FaucetNotEmpty", "faucet pool still holds tokens")
	ErrTokensOutstanding   = failure.New(failure.ClassState, "TokensOutstanding", "tokens dispensed by the faucet are still in circulation")
	ErrInsufficientBalance = failure.New(failure.ClassBalance, "InsufficientFaucetBalance", "faucet pool balance is too low")
	ErrCooldownNotMet      = failure.New(failure.ClassTemporal, "CooldownNotMet", "cooldown period has not elapsed")
	ErrFaucetNotFound      = failure.New(failure.ClassNotFound, "FaucetNotFound", "faucet does not exist")
	ErrUserRecordNotFound  = failure.New(failure.ClassNotFound, "UserRecordNotFound", "identity has not requested from this faucet")
)
