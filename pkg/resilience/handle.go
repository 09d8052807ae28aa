package resilience

// Handle is an opaque session resumption token together with the order in
// which it arrived. Seq is assigned by the transport and increases with every
// update it receives.
type Handle struct {
	Token string `msgpack:"token" json:"token"`
	Seq   uint64 `msgpack:"seq" json:"seq"`
}

// IsZero reports whether h carries no token.
func (h Handle) IsZero() bool {
	return h.Token == ""
}

// NewerThan reports whether h should replace cur: it must carry a token that
// differs from cur's and arrive strictly later.
func (h Handle) NewerThan(cur Handle) bool {
	return h.Token != "" && h.Token != cur.Token && h.Seq > cur.Seq
}
