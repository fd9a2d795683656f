package txstatus

type TXStatus byte

// Values match the ReadyForQuery transaction indicator.
const (
	TXIDLE = TXStatus('I')
	TXERR  = TXStatus('E')
	TXACT  = TXStatus('T')
	TXCONT = TXStatus(1)
)

type TxStatusMgr interface {
	SetTxStatus(status TXStatus)
	TxStatus() TXStatus
}

func (s TXStatus) String() string {
	switch s {
	case TXIDLE:
		return "IDLE"
	case TXERR:
		return "ERROR"
	case TXACT:
		return "ACTIVE"
	case TXCONT:
		return "INTERNAL STATE"
	}
	return "invalid"
}

// InTransaction reports an open remote transaction, failed or not.
func (s TXStatus) InTransaction() bool {
	return s == TXACT || s == TXERR
}
