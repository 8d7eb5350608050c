package command

import "strings"

const (
	AnnounceKeyword = "announce "
	WithdrawKeyword = "withdraw "
)

// IsCommand reports whether line is an announce or withdraw command.
func IsCommand(line string) bool {
	return IsAnnounce(line) || IsWithdraw(line)
}

func IsAnnounce(line string) bool {
	return strings.HasPrefix(line, AnnounceKeyword)
}

func IsWithdraw(line string) bool {
	return strings.HasPrefix(line, WithdrawKeyword)
}

// Withdrawal returns the inverse of an announce line. The remainder of the
// line is kept byte for byte. ok is false for any other line.
func Withdrawal(line string) (string, bool) {
	if !IsAnnounce(line) {
		return "", false
	}
	return WithdrawKeyword + line[len(AnnounceKeyword):], true
}

// Summary returns the first two whitespace-delimited tokens of line.
func Summary(line string) string {
	fields := strings.Fields(line)
	if len(fields) > 2 {
		fields = fields[:2]
	}
	return strings.Join(fields, " ")
}

// Filter splits raw file content into lines, keeping line terminators, and
// returns the commands in order along with every discarded line.
func Filter(content string) (accepted []string, discarded []string) {
	accepted = []string{}
	for len(content) > 0 {
		end := strings.IndexByte(content, '\n')
		var line string
		if end < 0 {
			line, content = content, ""
		} else {
			line, content = content[:end+1], content[end+1:]
		}
		if IsCommand(line) {
			accepted = append(accepted, line)
			continue
		}
		discarded = append(discarded, line)
	}
	return accepted, discarded
}
