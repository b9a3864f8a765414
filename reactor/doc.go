// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode readiness reactor used by the
// client event loop, with a level-triggered epoll implementation on Linux.
package reactor
