package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCommand(t *testing.T) {
	cases := []struct {
		line     string
		expected bool
	}{
		{line: "announce route 1.2.3.0/24 next-hop 10.0.0.1\n", expected: true},
		{line: "withdraw route 1.2.3.0/24 next-hop 10.0.0.1\n", expected: true},
		{line: "announce\n", expected: false},
		{line: "Announce route 1.2.3.0/24\n", expected: false},
		{line: " announce route 1.2.3.0/24\n", expected: false},
		{line: "announce\troute\n", expected: false},
		{line: "garbage\n", expected: false},
		{line: "", expected: false},
	}
	for _, testCase := range cases {
		assert.Equal(t, testCase.expected, IsCommand(testCase.line), "%q", testCase.line)
	}
}

func TestWithdrawalKeepsRemainderVerbatim(t *testing.T) {
	withdrawal, ok := Withdrawal("announce route 1.2.3.0/24 next-hop 10.0.0.1  \r\n")
	assert.True(t, ok)
	assert.Equal(t, "withdraw route 1.2.3.0/24 next-hop 10.0.0.1  \r\n", withdrawal)

	_, ok = Withdrawal("withdraw route 1.2.3.0/24\n")
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "announce route", Summary("announce route 1.2.3.0/24 next-hop 10.0.0.1\n"))
	assert.Equal(t, "withdraw", Summary("withdraw \n"))
	assert.Equal(t, "", Summary(""))
}

func TestFilterKeepsOrderAndDuplicates(t *testing.T) {
	content := "announce A\ngarbage\nwithdraw B\n\nannounce A\nannounce C"

	accepted, discarded := Filter(content)

	assert.Equal(t, []string{"announce A\n", "withdraw B\n", "announce A\n", "announce C"}, accepted)
	assert.Equal(t, []string{"garbage\n", "\n"}, discarded)
}

func TestFilterEmptyContentIsEmptyNotNil(t *testing.T) {
	accepted, discarded := Filter("")

	assert.NotNil(t, accepted)
	assert.Empty(t, accepted)
	assert.Empty(t, discarded)
}
