// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness poller used by the multiplexed
// engine: an epoll(7) instance paired with an eventfd wake-up on Linux, and a
// stub reporting api.ErrNotSupported elsewhere.
package reactor
