package rpma

// Flags is a bitset of Config role/behavior flags.
type Flags uint32

// IsServer marks a Config for a zone that accepts connections rather than
// initiating one (spec.md §3 Config "flags").
const IsServer Flags = 1 << 0

// AllocFunc allocates a buffer of size bytes for the send/recv ring, taking
// the place of the reference implementation's caller-supplied `malloc`
// (spec.md §3 Config "malloc/free").
type AllocFunc func(size int) []byte

// FreeFunc releases a buffer previously returned by an AllocFunc.
type FreeFunc func(buf []byte)

// Config holds the immutable connection parameters copied into a Zone at
// construction (spec.md §3). Values are set through validated builder
// methods that return a new Config, matching the teacher's
// DeviceParams/DefaultDeviceParams value-struct idiom while adding the
// validation spec.md §8's "null inputs" scenario requires.
type Config struct {
	addr            string
	service         string
	msgSize         int
	sendQueueLength int
	recvQueueLength int
	flags           Flags

	malloc AllocFunc
	free   FreeFunc

	// ServerIdleShutdown surfaces the source's ambiguous
	// on_connection_timeout behavior (spec.md §9): when true and no
	// on_timeout callback is registered, the zone event loop breaks itself
	// after one timeout period with no event (DefaultEQTimeout unless
	// RegisterOnTimeout set another), even with clients still connected.
	// A registered on_timeout callback takes precedence. Default false —
	// callers must opt in.
	ServerIdleShutdown bool
}

// NewConfig returns a Config populated with spec.md §3's documented
// defaults.
func NewConfig() Config {
	return Config{
		msgSize:         DefaultMsgSize,
		sendQueueLength: DefaultSendQueueLength,
		recvQueueLength: DefaultRecvQueueLength,
	}
}

// SetAddr sets the connection address. An empty address fails, matching the
// source's "set_addr(null) returns -1" contract (spec.md §8 scenario 2).
func (c Config) SetAddr(addr string) (Config, error) {
	if addr == "" {
		return c, NewError("config.set_addr", EInvalidMsg, "address must not be empty")
	}
	c.addr = addr
	return c, nil
}

// SetService sets the connection service (port). An empty service fails.
func (c Config) SetService(service string) (Config, error) {
	if service == "" {
		return c, NewError("config.set_service", EInvalidMsg, "service must not be empty")
	}
	c.service = service
	return c, nil
}

// SetMsgSize sets the two-sided message size in bytes. Must be positive.
func (c Config) SetMsgSize(size int) (Config, error) {
	if size <= 0 {
		return c, NewError("config.set_msg_size", EInvalidMsg, "msg_size must be positive")
	}
	c.msgSize = size
	return c, nil
}

// SetSendQueueLength sets the send-ring depth. Must be positive.
func (c Config) SetSendQueueLength(n int) (Config, error) {
	if n <= 0 {
		return c, NewError("config.set_send_queue_length", EInvalidMsg, "send_queue_length must be positive")
	}
	c.sendQueueLength = n
	return c, nil
}

// SetRecvQueueLength sets the number of pre-posted receive slots. Must be
// positive.
func (c Config) SetRecvQueueLength(n int) (Config, error) {
	if n <= 0 {
		return c, NewError("config.set_recv_queue_length", EInvalidMsg, "recv_queue_length must be positive")
	}
	c.recvQueueLength = n
	return c, nil
}

// SetFlags sets the role/behavior bitset.
func (c Config) SetFlags(flags Flags) (Config, error) {
	c.flags = flags
	return c, nil
}

// SetAlloc installs optional queue-allocator hooks used in place of the
// library's default page-aligned allocator for the send/recv ring
// (spec.md §3 Config "malloc/free"). Both must be supplied together, or
// both left nil to keep the default allocator.
func (c Config) SetAlloc(malloc AllocFunc, free FreeFunc) (Config, error) {
	if (malloc == nil) != (free == nil) {
		return c, NewError("config.set_alloc", EInvalidMsg, "malloc and free must both be set or both be nil")
	}
	c.malloc = malloc
	c.free = free
	return c, nil
}

func (c Config) Addr() string            { return c.addr }
func (c Config) Service() string         { return c.service }
func (c Config) MsgSize() int            { return c.msgSize }
func (c Config) SendQueueLength() int    { return c.sendQueueLength }
func (c Config) RecvQueueLength() int    { return c.recvQueueLength }
func (c Config) GetFlags() Flags         { return c.flags }
func (c Config) IsServer() bool          { return c.flags&IsServer != 0 }

// Alloc returns the configured queue-allocator hooks, both nil if unset.
func (c Config) Alloc() (AllocFunc, FreeFunc) { return c.malloc, c.free }
