package instance

// Result reports the outcome of a reload.
type Result int

const (
	ResultUnchanged Result = iota
	ResultUpdated
	// ResultError means the file could not be read. Nothing was emitted and
	// no state changed; a later event or poll retries.
	ResultError
)

func (result Result) String() string {
	switch result {
	case ResultUnchanged:
		return "unchanged"
	case ResultUpdated:
		return "updated"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}
