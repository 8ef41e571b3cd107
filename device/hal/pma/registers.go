package pma

// Register offsets from the peripheral base.
const (
	regEP0R   = 0x00 // Endpoint register slot 0, stride 4
	regCNTR   = 0x40 // Control
	regISTR   = 0x44 // Interrupt status
	regFNR    = 0x48 // Frame number
	regDADDR  = 0x4C // Device address
	regBTABLE = 0x50 // Buffer table address
	regBCDR   = 0x58 // Battery charging detector, carries the pull-up
)

const epStride = 4

func regEPR(slot uint8) uint32 { return regEP0R + uint32(slot)*epStride }

// EPnR bits.
const (
	epCTRRx  = 0x8000 // Correct transfer for reception, rc_w0
	epDTOGRx = 0x4000 // Data toggle for reception, toggle
	epSTATRx = 0x3000 // Reception status, toggle
	epSETUP  = 0x0800 // Last reception was SETUP, read-only
	epTYPE   = 0x0600 // Endpoint type
	epKIND   = 0x0100 // DBL_BUF for bulk, STATUS_OUT for control
	epCTRTx  = 0x0080 // Correct transfer for transmission, rc_w0
	epDTOGTx = 0x0040 // Data toggle for transmission, toggle
	epSTATTx = 0x0030 // Transmission status, toggle
	epEA     = 0x000F // Endpoint address

	// Bits written back unchanged when modifying toggle fields. CTR bits
	// are in the mask so that writing them as 1 leaves them alone.
	epRegMask = epCTRRx | epSETUP | epTYPE | epKIND | epCTRTx | epEA

	statRxShift = 12
	statTxShift = 4
)

// EP_TYPE field values.
const (
	epTypeBulk      = 0x0000
	epTypeControl   = 0x0200
	epTypeIso       = 0x0400
	epTypeInterrupt = 0x0600
)

// CNTR bits.
const (
	cntrCTRM   = 0x8000
	cntrWKUPM  = 0x1000
	cntrSUSPM  = 0x0800
	cntrRESETM = 0x0400
	cntrFSUSP  = 0x0008
	cntrPDWN   = 0x0002
	cntrFRES   = 0x0001
)

// ISTR bits.
const (
	istrCTR   = 0x8000 // Read-only, any endpoint CTR set
	istrWKUP  = 0x1000
	istrSUSP  = 0x0800
	istrRESET = 0x0400
	istrDIR   = 0x0010 // 1: OUT (CTR_RX set), 0: IN
	istrEPID  = 0x000F

	istrClearable = istrWKUP | istrSUSP | istrRESET
)

// DADDR bits.
const (
	daddrEF  = 0x80
	daddrADD = 0x7F
)

// BCDR bits.
const bcdrDPPU = 0x8000

// Buffer descriptor cells, byte offsets within an 8-byte entry.
const (
	cellAddrTx  = 0
	cellCountTx = 2
	cellAddrRx  = 4
	cellCountRx = 6
)

// COUNT_RX fields.
const (
	countBLSIZE   = 0x8000
	countNumBlock = 0x7C00
	countMask     = 0x03FF

	numBlockShift = 10
)

// rxCountCell encodes a receive buffer size into BL_SIZE and NUM_BLOCK.
func rxCountCell(size uint16) uint16 {
	if size <= 62 {
		return (size / 2) << numBlockShift
	}
	return countBLSIZE | (size/32-1)<<numBlockShift
}

// rxCellSize decodes BL_SIZE and NUM_BLOCK back into a buffer size.
func rxCellSize(cell uint16) uint16 {
	blocks := (cell & countNumBlock) >> numBlockShift
	if cell&countBLSIZE != 0 {
		return (blocks + 1) * 32
	}
	return blocks * 2
}
