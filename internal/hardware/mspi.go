package hardware

import (
	"encoding/binary"
	"fmt"
)

// MSPI issues user commands through the SPI_MEM controller registers. It is
// the raw bus command primitive: one call programs the phases, starts the
// transaction and busy-waits for the controller to clear its USR bit.
type MSPI struct {
	regs      Registers
	pollLimit int
}

// NewMSPI returns a bus that drives the controller through regs.
func NewMSPI(regs Registers) *MSPI {
	return &MSPI{regs: regs, pollLimit: DefaultPollLimit}
}

// SetPollLimit changes the busy-wait bound; PollForever restores the
// unbounded wait of the boot ROM.
func (m *MSPI) SetPollLimit(n int) { m.pollLimit = n }

func (m *MSPI) Execute(port Port, cmd *Command) error {
	if len(cmd.Write) > MaxTransfer || len(cmd.Read) > MaxTransfer {
		return ErrTooLong
	}
	base := SPIBase(port)
	r := m.regs

	var user, user1, user2 uint32
	if cmd.OpcodeBits > 0 {
		user |= UserCommand
		user2 = (uint32(cmd.OpcodeBits)-1)<<User2CmdBitlenS | uint32(cmd.Opcode)&User2CmdValueMask
	}
	if cmd.AddrBits > 0 {
		user |= UserAddr
		user1 |= (uint32(cmd.AddrBits) - 1) << User1AddrBitlenS
		r.Write32(base+RegAddr, cmd.Addr)
	}
	if cmd.Dummy > 0 {
		user |= UserDummy
		user1 |= (uint32(cmd.Dummy) - 1) & User1DummyMask
	}
	if n := len(cmd.Write); n > 0 {
		user |= UserMosi
		r.Write32(base+RegMosiDlen, uint32(n*8-1)&DlenMask)
		var word [4]byte
		for i := 0; i < align(n, 4); i += 4 {
			word = [4]byte{}
			copy(word[:], cmd.Write[i:])
			r.Write32(base+RegW0+uint32(i), binary.LittleEndian.Uint32(word[:]))
		}
	}
	if n := len(cmd.Read); n > 0 {
		user |= UserMiso
		r.Write32(base+RegMisoDlen, uint32(n*8-1)&DlenMask)
	}
	r.Write32(base+RegUser, user)
	r.Write32(base+RegUser1, user1)
	r.Write32(base+RegUser2, user2)

	ctrl := r.Read32(base+RegCtrl) &^ CtrlLineMask
	switch cmd.Lines {
	case 0, 1:
	case 2:
		ctrl |= CtrlFreadDIO
	case 4:
		ctrl |= CtrlFreadQIO
	case 8:
		ctrl |= CtrlFcmdOct | CtrlFaddrOct | CtrlFdinOct | CtrlFdoutOct
	default:
		return fmt.Errorf("mspi: %d data lines: %w", cmd.Lines, ErrUnsupported)
	}
	r.Write32(base+RegCtrl, ctrl)
	if cmd.DTR {
		SetBits(r, base+RegDDR, DDREn)
	} else {
		ClearBits(r, base+RegDDR, DDREn)
	}

	misc := r.Read32(base+RegMisc) | MiscCS0Dis | MiscCS1Dis
	if cmd.CS == CSPSRAM {
		misc &^= MiscCS1Dis
	} else {
		misc &^= MiscCS0Dis
	}
	r.Write32(base+RegMisc, misc)

	r.Write32(base+RegCmd, CmdUsr)
	if err := Poll(m.pollLimit, func() bool { return r.Read32(base+RegCmd)&CmdUsr == 0 }); err != nil {
		return fmt.Errorf("mspi: %s opcode 0x%x: %w", port, cmd.Opcode, err)
	}

	if n := len(cmd.Read); n > 0 {
		var word [4]byte
		for i := 0; i < n; i += 4 {
			binary.LittleEndian.PutUint32(word[:], r.Read32(base+RegW0+uint32(i)))
			copy(cmd.Read[i:], word[:])
		}
	}
	return nil
}
