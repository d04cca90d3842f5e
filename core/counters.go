package core

const (
	seqOrderKey   = "seq:order"
	seqTradeKey   = "seq:trade"
	seqRequestKey = "seq:request"
	seqEpochKey   = "seq:epoch"
)

// Global counters (next_order_id, next_trade_id, next_request_id,
// next_epoch_id): a single monotonic sequence per entity stored in the
// transactional store, never derived from wall-clock time. Each Next*
// call is only safe to invoke once per logical create inside a
// transaction that ultimately commits: a rolled back transaction "burns"
// the sequence number, which is acceptable since ids only need to be
// unique and monotonic, not necessarily contiguous.
func nextSeq(tx Tx, key string) uint64 {
	var n uint64
	if raw, ok := tx.Get([]byte(key)); ok {
		decode(raw, &n)
	}
	n++
	tx.Set([]byte(key), encode(n))
	return n
}

func nextOrderID(tx Tx) OrderID     { return OrderID(nextSeq(tx, seqOrderKey)) }
func nextTradeID(tx Tx) TradeID     { return TradeID(nextSeq(tx, seqTradeKey)) }
func nextRequestID(tx Tx) RequestID { return RequestID(nextSeq(tx, seqRequestKey)) }
func nextEpochID(tx Tx) EpochID     { return EpochID(nextSeq(tx, seqEpochKey)) }
