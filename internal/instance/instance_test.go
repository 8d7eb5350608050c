package instance

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bgpwatch/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	batches [][]string
	err     error
}

func (emitter *recordingEmitter) WriteBatch(lines []string) error {
	if emitter.err != nil {
		return emitter.err
	}
	emitter.batches = append(emitter.batches, append([]string(nil), lines...))
	return nil
}

func (emitter *recordingEmitter) lines() []string {
	var out []string
	for _, batch := range emitter.batches {
		out = append(out, batch...)
	}
	return out
}

func (emitter *recordingEmitter) reset() {
	emitter.batches = nil
}

var epoch = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dir     string
	emitter *recordingEmitter
	logs    *logging.LogBuffer
	now     time.Time
	random  float64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "web1")
	require.NoError(t, os.Mkdir(dir, 0o755))
	return &fixture{
		dir:     dir,
		emitter: &recordingEmitter{},
		logs:    logging.NewLogBuffer(100),
		now:     epoch,
		random:  0.5,
	}
}

func (f *fixture) options() Options {
	return Options{
		Emitter:  f.emitter,
		Logger:   logging.NewLoggerWithOutput(f.logs, logging.LevelDebug, nil),
		Interval: 10 * time.Second,
		Random:   func() float64 { return f.random },
		Now:      func() time.Time { return f.now },
	}
}

func (f *fixture) write(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, AnnounceFile), []byte(content), 0o644))
}

func (f *fixture) remove(t *testing.T) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(f.dir, AnnounceFile)))
}

func (f *fixture) warnings(message string) []logging.LogEntry {
	var out []logging.LogEntry
	for _, entry := range f.logs.List() {
		if entry.Level == logging.LevelWarning && entry.Message == message {
			out = append(out, entry)
		}
	}
	return out
}

func TestNewWithoutAnnounceFileIsUnset(t *testing.T) {
	f := newFixture(t)

	instance := New(f.dir, f.options())

	assert.Equal(t, "web1", instance.Name())
	assert.Equal(t, f.dir, instance.Path())
	assert.Equal(t, "instance(web1)", instance.String())
	assert.Nil(t, instance.Accepted())
	assert.Empty(t, f.emitter.batches)
}

func TestNewLoadsExistingAnnounceFile(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce route 10.0.0.0/24 next-hop self\n")

	instance := New(f.dir, f.options())

	assert.Equal(t, []string{"announce route 10.0.0.0/24 next-hop self\n"}, instance.Accepted())
	assert.Equal(t, [][]string{{"announce route 10.0.0.0/24 next-hop self\n"}}, f.emitter.batches)
}

func TestReloadEmitsAcceptedLinesAndWarnsOnGarbage(t *testing.T) {
	f := newFixture(t)
	instance := New(f.dir, f.options())
	f.write(t, "announce route 1.2.3.0/24 next-hop 10.0.0.1\ngarbage\n")

	result := instance.Reload()

	assert.Equal(t, ResultUpdated, result)
	assert.Equal(t, [][]string{{"announce route 1.2.3.0/24 next-hop 10.0.0.1\n"}}, f.emitter.batches)
	discarded := f.warnings("discarded unknown command")
	require.Len(t, discarded, 1)
	assert.Equal(t, `"garbage\n"`, discarded[0].Context["line"])
}

func TestReloadLogsSummaryOfFirstCommand(t *testing.T) {
	f := newFixture(t)
	instance := New(f.dir, f.options())
	f.write(t, "withdraw route 1.2.3.0/24 next-hop 10.0.0.1\n")

	require.Equal(t, ResultUpdated, instance.Reload())

	var summary string
	for _, entry := range f.logs.List() {
		if entry.Message == "announcement updated" {
			summary = entry.Context["first_command"]
		}
	}
	assert.Equal(t, "withdraw route", summary)
}

func TestReloadTwiceIsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\nwithdraw B\n")
	instance := New(f.dir, f.options())
	f.emitter.reset()

	assert.Equal(t, ResultUnchanged, instance.Reload())
	assert.Equal(t, ResultUnchanged, instance.Reload())
	assert.Empty(t, f.emitter.batches)
}

func TestReloadFiltersWithoutReorderingOrDeduplicating(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		expected []string
	}{
		{name: "empty", content: "", expected: []string{}},
		{name: "only garbage", content: "# comment\n\n", expected: []string{}},
		{
			name:     "duplicates kept",
			content:  "announce A\nannounce A\n",
			expected: []string{"announce A\n", "announce A\n"},
		},
		{
			name:     "interleaved",
			content:  "withdraw Z\nnoise\nannounce A\n  announce B\nannounce C   \n",
			expected: []string{"withdraw Z\n", "announce A\n", "announce C   \n"},
		},
		{
			name:     "keyword without space",
			content:  "announce\nannounce\tA\nwithdrawals\n",
			expected: []string{},
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			f := newFixture(t)
			instance := New(f.dir, f.options())
			f.write(t, testCase.content)

			require.Equal(t, ResultUpdated, instance.Reload())
			assert.Equal(t, testCase.expected, instance.Accepted())
			assert.Equal(t, testCase.expected, append([]string{}, f.emitter.lines()...))
		})
	}
}

func TestReloadEmptyFileFromUnsetIsUpdatedWithoutOutput(t *testing.T) {
	f := newFixture(t)
	instance := New(f.dir, f.options())
	f.write(t, "")

	assert.Equal(t, ResultUpdated, instance.Reload())
	assert.NotNil(t, instance.Accepted())
	assert.Empty(t, instance.Accepted())
	assert.Equal(t, ResultUnchanged, instance.Reload())
	assert.Empty(t, f.emitter.batches)
}

func TestReloadEmptiedFileIsUpdatedAndLaterWithdrawEmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\nannounce B\n")
	instance := New(f.dir, f.options())
	f.emitter.reset()

	f.write(t, "")
	assert.Equal(t, ResultUpdated, instance.Reload())
	assert.Empty(t, f.emitter.batches)
	assert.Equal(t, []string{}, instance.Accepted())

	f.remove(t)
	count, err := instance.Withdraw()
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.emitter.batches)
}

func TestReloadMissingFileIsErrorWithoutStateChange(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\n")
	instance := New(f.dir, f.options())
	f.emitter.reset()
	f.remove(t)

	assert.Equal(t, ResultError, instance.Reload())
	assert.Equal(t, []string{"announce A\n"}, instance.Accepted())
	assert.Empty(t, f.emitter.batches)
	assert.Len(t, f.warnings("error reading announce file"), 1)
}

func TestReloadWriteFailureKeepsStateForRetry(t *testing.T) {
	f := newFixture(t)
	instance := New(f.dir, f.options())
	f.write(t, "announce A\n")
	f.emitter.err = errors.New("broken pipe")

	assert.Equal(t, ResultError, instance.Reload())
	assert.Nil(t, instance.Accepted())

	f.emitter.err = nil
	assert.Equal(t, ResultUpdated, instance.Reload())
	assert.Equal(t, []string{"announce A\n"}, instance.Accepted())
}

func TestWithdrawEmitsOnlyForAnnounceLines(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\nwithdraw B\n")
	instance := New(f.dir, f.options())
	f.emitter.reset()

	count, err := instance.Withdraw()

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, [][]string{{"withdraw A\n"}}, f.emitter.batches)
	assert.Equal(t, []string{"withdraw A\n"}, instance.Accepted())
}

func TestWithdrawKeepsRemainderByteIdentical(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce route 1.2.3.0/24 next-hop 10.0.0.1 \t\r\nannounce route 5.6.7.0/24 next-hop self")
	instance := New(f.dir, f.options())
	f.emitter.reset()

	_, err := instance.Withdraw()

	require.NoError(t, err)
	assert.Equal(t, []string{
		"withdraw route 1.2.3.0/24 next-hop 10.0.0.1 \t\r\n",
		"withdraw route 5.6.7.0/24 next-hop self",
	}, f.emitter.lines())
}

func TestWithdrawTwiceEmitsNothingTheSecondTime(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\nannounce B\n")
	instance := New(f.dir, f.options())
	f.emitter.reset()

	first, err := instance.Withdraw()
	require.NoError(t, err)
	f.emitter.reset()
	second, err := instance.Withdraw()
	require.NoError(t, err)

	assert.Equal(t, 2, first)
	assert.Zero(t, second)
	assert.Empty(t, f.emitter.batches)
}

func TestWithdrawBeforeAnyLoadIsNoop(t *testing.T) {
	f := newFixture(t)
	instance := New(f.dir, f.options())

	count, err := instance.Withdraw()

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Nil(t, instance.Accepted())
}

func TestWithdrawWriteFailureKeepsAnnouncements(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\n")
	instance := New(f.dir, f.options())
	f.emitter.err = errors.New("broken pipe")

	_, err := instance.Withdraw()

	require.Error(t, err)
	assert.Equal(t, []string{"announce A\n"}, instance.Accepted())
}

func TestReloadAfterWithdrawReannounces(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\n")
	instance := New(f.dir, f.options())
	f.remove(t)
	_, err := instance.Withdraw()
	require.NoError(t, err)
	f.emitter.reset()

	f.write(t, "announce A\n")
	assert.Equal(t, ResultUpdated, instance.Reload())
	assert.Equal(t, []string{"announce A\n"}, f.emitter.lines())
}

func TestFirstPollDeadlineIncludesStartFuzz(t *testing.T) {
	f := newFixture(t)
	f.random = 0.25

	instance := New(f.dir, f.options())

	assert.Equal(t, epoch.Add(10*time.Second+1250*time.Millisecond), instance.NextPoll())
}

func TestPollBeforeDeadlineDoesNothing(t *testing.T) {
	f := newFixture(t)
	instance := New(f.dir, f.options())
	f.write(t, "announce A\n")

	_, polled := instance.Poll(instance.NextPoll())

	assert.False(t, polled)
	assert.Empty(t, f.emitter.batches)
}

func TestPollDetectsMissedChange(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\n")
	instance := New(f.dir, f.options())
	f.emitter.reset()
	f.write(t, "announce A\nannounce B\n")

	now := instance.NextPoll().Add(time.Millisecond)
	result, polled := instance.Poll(now)

	assert.True(t, polled)
	assert.Equal(t, ResultUpdated, result)
	assert.Equal(t, [][]string{{"announce A\n", "announce B\n"}}, f.emitter.batches)
	assert.Len(t, f.warnings("scheduled poll detected unexpected changes"), 1)
	assert.Equal(t, now.Add(10*time.Second), instance.NextPoll())
}

func TestPollWithoutChangeReschedulesQuietly(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\n")
	instance := New(f.dir, f.options())
	f.emitter.reset()
	f.random = 0

	now := instance.NextPoll().Add(time.Second)
	result, polled := instance.Poll(now)

	assert.True(t, polled)
	assert.Equal(t, ResultUnchanged, result)
	assert.Empty(t, f.emitter.batches)
	assert.Empty(t, f.warnings("scheduled poll detected unexpected changes"))
	assert.Equal(t, now.Add(9500*time.Millisecond), instance.NextPoll())
}

func TestPollDelayStaysPositiveForShortIntervals(t *testing.T) {
	f := newFixture(t)
	options := f.options()
	options.Interval = 100 * time.Millisecond
	options.PollJitter = time.Second
	f.random = 0
	instance := New(f.dir, options)

	now := instance.NextPoll().Add(time.Millisecond)
	instance.Poll(now)

	assert.Equal(t, now.Add(100*time.Millisecond), instance.NextPoll())
}

func TestPollWithdrawsAfterUnreportedRemoval(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\nwithdraw B\n")
	instance := New(f.dir, f.options())
	f.emitter.reset()
	f.remove(t)

	now := instance.NextPoll().Add(time.Millisecond)
	result, polled := instance.Poll(now)

	assert.True(t, polled)
	assert.Equal(t, ResultUpdated, result)
	assert.Equal(t, []string{"withdraw A\n"}, f.emitter.lines())
	assert.Len(t, f.warnings("scheduled poll detected unexpected changes"), 1)

	f.emitter.reset()
	result, polled = instance.Poll(instance.NextPoll().Add(time.Millisecond))
	assert.True(t, polled)
	assert.Equal(t, ResultUnchanged, result)
	assert.Empty(t, f.emitter.batches)
}

func TestSyncReloadsOrWithdrawsByDiskState(t *testing.T) {
	f := newFixture(t)
	instance := New(f.dir, f.options())

	assert.Equal(t, ResultUnchanged, instance.Sync())
	assert.Nil(t, instance.Accepted())

	f.write(t, "announce A\n")
	assert.Equal(t, ResultUpdated, instance.Sync())
	assert.Equal(t, ResultUnchanged, instance.Sync())

	f.remove(t)
	f.emitter.reset()
	assert.Equal(t, ResultUpdated, instance.Sync())
	assert.Equal(t, []string{"withdraw A\n"}, f.emitter.lines())
	assert.Equal(t, ResultUnchanged, instance.Sync())
	assert.Equal(t, []string{"withdraw A\n"}, f.emitter.lines())
}

func TestSyncTreatsDirectoryAsMissingFile(t *testing.T) {
	f := newFixture(t)
	f.write(t, "announce A\n")
	instance := New(f.dir, f.options())
	f.emitter.reset()
	f.remove(t)
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, AnnounceFile), 0o755))

	assert.Equal(t, ResultUpdated, instance.Sync())
	assert.Equal(t, []string{"withdraw A\n"}, f.emitter.lines())
}
