package abi

// Fixed user image layout. There is no ASLR; every image gets the same
// text base, a scratch page for program state, and one stack mapping
// with the argument block at the top.
const (
	UserTextBase    = 0x00400000
	UserScratchBase = 0x30000000
	UserScratchSize = 4096
	UserStackTop    = 0x7fff0000
	UserStackSize   = 64 * 1024
)
