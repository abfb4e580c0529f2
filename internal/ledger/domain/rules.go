package domain

import paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"

// Resolve applies an observed status to the current one. Terminal states are
// sticky against PENDING and UNKNOWN, a different terminal state corrects the
// record, and UNKNOWN never replaces anything known.
func Resolve(current, observed paymentdomain.PaymentStatus) (paymentdomain.PaymentStatus, bool) {
	if observed == current {
		return current, false
	}
	if observed == paymentdomain.StatusUnknown || observed == "" {
		return current, false
	}
	if current.IsTerminal() && !observed.IsTerminal() {
		return current, false
	}
	return observed, true
}

// InitialStatus is the status stored when a transaction is first seen.
func InitialStatus(observed paymentdomain.PaymentStatus) paymentdomain.PaymentStatus {
	if observed == paymentdomain.StatusUnknown || observed == "" {
		return paymentdomain.StatusPending
	}
	return observed
}
