package schedule

// Complete reports whether the entry has both dates and a real channel and
// location selected.
func (e Entry) Complete() bool {
	return e.StartDate != nil &&
		e.EndDate != nil &&
		e.Channel != ChannelPlaceholder &&
		e.Location != LocationPlaceholder
}

// Validate is the all-or-nothing gate applied before a save: it returns
// false if any entry is incomplete.
func Validate(entries []Entry) bool {
	for i := range entries {
		if !entries[i].Complete() {
			return false
		}
	}
	return true
}

// Incomplete returns the keys of incomplete entries in collection order.
func Incomplete(entries []Entry) []int {
	var keys []int
	for i := range entries {
		if !entries[i].Complete() {
			keys = append(keys, entries[i].Key)
		}
	}
	return keys
}
