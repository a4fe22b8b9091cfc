package rpma

import "github.com/behrlich/rpma/internal/constants"

// Re-export constants for public API.
const (
	DefaultMsgSize          = constants.DefaultMsgSize
	DefaultSendQueueLength  = constants.DefaultSendQueueLength
	DefaultRecvQueueLength  = constants.DefaultRecvQueueLength
	DefaultCQSize           = constants.DefaultCQSize
	DefaultEQTimeout        = constants.DefaultEQTimeout
	CQWaitPollInterval      = constants.CQWaitPollInterval
	DispatcherIdleSleep     = constants.DispatcherIdleSleep
	CommitReadSize          = constants.CommitReadSize
)
