package abi

// Register indices into TrapFrame.Regs. The result register doubles as
// the syscall-number register on entry, mirroring the usual hardware
// convention.
const (
	RegPC = iota
	RegSP
	RegRet
	RegArg0
	RegArg1
	RegArg2
	RegArg3
	RegArg4
	RegArg5
	RegFlags
	NumRegs
)

// TrapFrame is the register state saved when a thread enters the kernel.
// The loader forges one for a fresh thread, fork copies the parent's
// wholesale, and a successful exec overwrites the caller's in place.
type TrapFrame struct {
	Regs [NumRegs]uint64
}

// Sysno returns the syscall number from an entry frame.
func (tf *TrapFrame) Sysno() uint64 { return tf.Regs[RegRet] }

// Arg returns syscall argument i as a raw word.
func (tf *TrapFrame) Arg(i int) uint64 { return tf.Regs[RegArg0+i] }

// SetRet stores the result word.
func (tf *TrapFrame) SetRet(v uint64) { tf.Regs[RegRet] = v }

// Ret returns the result word as written by SetRet.
func (tf *TrapFrame) Ret() uint64 { return tf.Regs[RegRet] }

// Clone returns an independent copy of the frame.
func (tf *TrapFrame) Clone() *TrapFrame {
	c := *tf
	return &c
}
