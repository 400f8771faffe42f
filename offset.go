package dbus

// nextOffset returns the next byte position at or after current that
// satisfies the given alignment, and the number of padding bytes needed
// to get there. Alignment is always computed against the message start,
// never against the start of a sub-buffer — this is the "global offset"
// discipline the whole codec depends on (see encode.go/decode.go).
func nextOffset(current int, align int) (next int, padding int) {
	if align <= 1 || current%align == 0 {
		return current, 0
	}
	next = (current + align - 1) &^ (align - 1)
	return next, next - current
}
