package otg

// Register offsets from the core base.
const (
	regGAHBCFG  = 0x008
	regGUSBCFG  = 0x00C
	regGRSTCTL  = 0x010
	regGINTSTS  = 0x014
	regGINTMSK  = 0x018
	regGRXSTSP  = 0x020 // Receive status read and pop
	regGRXFSIZ  = 0x024
	regDIEPTXF0 = 0x028 // Endpoint 0 transmit FIFO size
	regGCCFG    = 0x038
	regDIEPTXF1 = 0x104 // Endpoint 1..n transmit FIFO size, stride 4

	regDCFG     = 0x800
	regDCTL     = 0x804
	regDSTS     = 0x808
	regDIEPMSK  = 0x810
	regDOEPMSK  = 0x814
	regDAINT    = 0x818
	regDAINTMSK = 0x81C

	regDIEPCTL0  = 0x900 // Stride 0x20
	regDIEPINT0  = 0x908
	regDIEPTSIZ0 = 0x910
	regDTXFSTS0  = 0x918
	regDOEPCTL0  = 0xB00
	regDOEPINT0  = 0xB08
	regDOEPTSIZ0 = 0xB10

	regFIFO0 = 0x1000 // Endpoint n FIFO window at 0x1000 * (n+1)

	epRegStride = 0x20
	fifoStride  = 0x1000
)

func regDIEPCTL(n uint8) uint32  { return regDIEPCTL0 + uint32(n)*epRegStride }
func regDIEPINT(n uint8) uint32  { return regDIEPINT0 + uint32(n)*epRegStride }
func regDIEPTSIZ(n uint8) uint32 { return regDIEPTSIZ0 + uint32(n)*epRegStride }
func regDOEPCTL(n uint8) uint32  { return regDOEPCTL0 + uint32(n)*epRegStride }
func regDOEPINT(n uint8) uint32  { return regDOEPINT0 + uint32(n)*epRegStride }
func regDOEPTSIZ(n uint8) uint32 { return regDOEPTSIZ0 + uint32(n)*epRegStride }
func regFIFO(n uint8) uint32     { return regFIFO0 + uint32(n)*fifoStride }

func regDIEPTXF(n uint8) uint32 {
	if n == 0 {
		return regDIEPTXF0
	}
	return regDIEPTXF1 + uint32(n-1)*4
}

// GINTSTS bits. Those marked w1c clear by writing one.
const (
	gintRXFLVL  = 1 << 4  // Receive FIFO non-empty
	gintUSBSUSP = 1 << 11 // w1c
	gintUSBRST  = 1 << 12 // w1c
	gintENUMDNE = 1 << 13 // w1c
	gintIEPINT  = 1 << 18 // Some IN endpoint interrupt
	gintOEPINT  = 1 << 19 // Some OUT endpoint interrupt
	gintWKUPINT = 1 << 31 // w1c

	gintW1C = gintUSBSUSP | gintUSBRST | gintENUMDNE | gintWKUPINT
)

// GRXSTSP fields.
const (
	rxstsEPNUM  = 0x0000000F
	rxstsBCNT   = 0x00007FF0
	rxstsPKTSTS = 0x001E0000

	rxstsBCNTShift   = 4
	rxstsPKTSTSShift = 17
)

// Receive packet status values.
const (
	pktGlobalNak = 1
	pktOutData   = 2
	pktOutDone   = 3
	pktSetupDone = 4
	pktSetupData = 6
)

// GRSTCTL bits.
const (
	rstCSRST   = 1 << 0
	rstRXFFLSH = 1 << 4
	rstTXFFLSH = 1 << 5
	rstTXFNUM  = 0x1F << 6
	rstTXFAll  = 0x10 << 6
)

// GCCFG bits.
const (
	gccfgPWRDWN = 1 << 16 // Transceiver enable
)

// DCTL bits.
const (
	dctlSDIS = 1 << 1 // Soft disconnect
)

// DCFG bits.
const (
	dcfgDSPDFull = 0x3
	dcfgDAD      = 0x7F << 4
	dcfgDADShift = 4
)

// DIEPCTLx and DOEPCTLx bits.
const (
	epctlMPSIZ  = 0x7FF
	epctlUSBAEP = 1 << 15
	epctlNAKSTS = 1 << 17
	epctlEPTYP  = 3 << 18
	epctlSTALL  = 1 << 21
	epctlTXFNUM = 0xF << 22
	epctlCNAK   = 1 << 26
	epctlSNAK   = 1 << 27
	epctlSD0PID = 1 << 28
	epctlEPDIS  = 1 << 30
	epctlEPENA  = 1 << 31

	epctlEPTYPShift  = 18
	epctlTXFNUMShift = 22
)

// Endpoint 0 MPSIZ encodes the packet size as a code.
func ep0MPSCode(mps uint16) uint32 {
	switch mps {
	case 8:
		return 3
	case 16:
		return 2
	case 32:
		return 1
	default:
		return 0
	}
}

func ep0MPSFromCode(code uint32) int {
	return [4]int{64, 32, 16, 8}[code&3]
}

// DIEPINTx and DOEPINTx bits, w1c.
const (
	epintXFRC   = 1 << 0 // Transfer complete
	epintEPDISD = 1 << 1
	epintSTUP   = 1 << 3 // SETUP phase done, OUT only
	epintTXFE   = 1 << 7 // Transmit FIFO empty, IN only
)

// DIEPTSIZx and DOEPTSIZx fields.
const (
	tsizXFRSIZ   = 0x7FFFF
	tsizPKTCNT   = 0x3FF << 19
	tsizSTUPCNT  = 3 << 29
	tsizPKTShift = 19
)
