// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer pooling for the client service path. Scratch buffers used
// while parsing handshake replies cycle through a sync.Pool; each
// established connection keeps a padded receive buffer sized from
// its protocol descriptor.
package pool
