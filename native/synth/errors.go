package synth

import "errors"

var (
	ErrAmountMustBePositive    = errors.New("synth engine: amount must be positive")
	ErrAssetNotAllowed         = errors.New("synth engine: collateral asset not allow-listed")
	ErrLengthMismatch          = errors.New("synth engine: asset and feed lists must have equal length")
	ErrInsufficientCollateral  = errors.New("synth engine: insufficient collateral balance")
	ErrTransferFailed          = errors.New("synth engine: collateral transfer failed")
	ErrMintFailed              = errors.New("synth engine: synthetic mint failed")
	ErrBurnFailed              = errors.New("synth engine: synthetic burn failed")
	ErrHealthFactorTooLow      = errors.New("synth engine: health factor below minimum")
	ErrHealthFactorOk          = errors.New("synth engine: health factor not below minimum")
	ErrHealthFactorNotImproved = errors.New("synth engine: health factor not improved")
	ErrEngineBusy              = errors.New("synth engine: operation already in flight")
	ErrNilState                = errors.New("synth engine: state not configured")
	ErrOracleNotConfigured     = errors.New("synth engine: oracle not configured")
	ErrSynthNotConfigured      = errors.New("synth engine: synthetic ledger not configured")
	ErrTokenNotConfigured      = errors.New("synth engine: token ledger not configured for asset")
)

var (
	ErrFeedUnavailable = errors.New("synth oracle: price feed unavailable")
	ErrStalePrice      = errors.New("synth oracle: price reading stale")
	ErrInvalidPrice    = errors.New("synth oracle: price must be positive")
)
