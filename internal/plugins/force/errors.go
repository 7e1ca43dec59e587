package force

import "errors"

// Load errors leave the plugin inert. ErrUnexpectedPayload is returned to the
// bus for events the receiver cannot turn into a wrench.
var (
	ErrMissingLinkName   = errors.New("force plugin missing link_name")
	ErrLinkNotFound      = errors.New("link does not exist")
	ErrInvalidChannel    = errors.New("invalid channel name")
	ErrAlreadyLoaded     = errors.New("force plugin already loaded")
	ErrTransportFailed   = errors.New("subscribing to wrench channel failed")
	ErrEngineFailed      = errors.New("connecting to world update failed")
	ErrUnexpectedPayload = errors.New("unexpected wrench payload")
)
