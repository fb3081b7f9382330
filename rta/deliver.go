package rta

import (
	"context"
	"time"
)

const deliverTimeout = 10 * time.Second

// Deliver implements p2p/broadcast.LocalDeliverer (spec.md §4.5 step 4): if
// recipientID is set, forward to the supernode(s) registered for it; if
// empty, fan the payload out to every locally registered supernode. It
// reports whether at least one supernode actually received the payload.
func (r *Registry) Deliver(recipientID string, payload []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	if recipientID == "" {
		return r.deliverToAll(ctx, payload)
	}

	sns, err := r.Lookup(recipientID)
	if err != nil {
		logger.Warn("local rta delivery failed", "recipient", recipientID, "err", err)
		return false
	}
	delivered := false
	for _, sn := range sns {
		if err := r.redirectTo(ctx, sn, "rta_deliver", payload); err != nil {
			logger.Warn("local rta delivery failed", "recipient", recipientID, "supernode", sn.ID, "err", err)
			continue
		}
		delivered = true
	}
	return delivered
}

// deliverToAll implements the recipient-less fan-out spec.md §4.5 step 4
// requires: POST to every registered local supernode, regardless of the
// route table.
func (r *Registry) deliverToAll(ctx context.Context, payload []byte) bool {
	sns := r.AllSupernodes()
	delivered := false
	for _, sn := range sns {
		if err := r.redirectTo(ctx, sn, "rta_deliver", payload); err != nil {
			logger.Warn("broadcast rta fan-out failed", "supernode", sn.ID, "err", err)
			continue
		}
		delivered = true
	}
	return delivered
}
