package types

// Update is one normalized step of an assistant turn. Text always carries the whole
// text accumulated so far for the turn.
type Update struct {
	Text    string `json:"text"`
	Partial bool   `json:"partial"`
}

// Final reports whether the update closes its turn.
func (u Update) Final() bool {
	return !u.Partial
}
