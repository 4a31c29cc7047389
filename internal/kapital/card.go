package kapital

// Card is the bank card used to authenticate the session.
type Card struct {
	Pan         string // digits only
	Expiry      string // MMYY, exactly 4 digits
	AppPassword string
}

// Validate checks the card's format. It runs before any network call.
func (c Card) Validate() error {
	if c.Pan == "" || !allDigits(c.Pan) {
		return &ValidationError{Field: "pan", Reason: "must be numeric: 1111222...4444 (card number)"}
	}
	if len(c.Expiry) != 4 || !allDigits(c.Expiry) {
		return &ValidationError{Field: "expiry", Reason: "must be 4 digits: 0124 (MMYY)"}
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
