package logging

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
}

type User struct {
	Name string
}

type StructWithStruct struct {
	x int
	Y User
}

// assertLogMatches will fuzzy match log lines. It checks the time format but ignores the exact time,
// and expects a match on the filename while ignoring the line number.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func newBufferLogger(name string, level Level) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return newImpl(name, level, true, NewWriterAppender(buf)), buf
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, buf := newBufferLogger("impl", DEBUG)

	logger.Info("impl Info log")
	assertLogMatches(t, buf, "2023-10-30T09:12:09.459Z\tINFO\timpl\tlogging/impl_test.go:70\timpl Info log")

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, buf, "2023-10-30T09:12:09.459Z\tINFO\timpl\tlogging/impl_test.go:73\timpl infof log")

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, buf, "2023-10-30T09:12:09.459Z\tINFO\timpl\tlogging/impl_test.go:76\timpl logw\t{\"key\":\"value\"}")

	// Only public fields are serialized.
	logger.Warnw("structs", "basic", BasicStruct{1, "alice"}, "nested", StructWithStruct{1, User{"bob"}})
	assertLogMatches(t, buf,
		"2023-10-30T09:12:09.459Z\tWARN\timpl\tlogging/impl_test.go:80\tstructs\t{\"basic\":{\"X\":1},\"nested\":{\"Y\":{\"Name\":\"bob\"}}}")

	logger.Errorw("unpaired", "lonely")
	assertLogMatches(t, buf,
		"2023-10-30T09:12:09.459Z\tERROR\timpl\tlogging/impl_test.go:84\tunpaired\t{\"lonely\":\"unpaired log key\"}")
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger("filter", WARN)

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	test.That(t, buf.String(), test.ShouldContainSubstring, "kept")

	buf.Reset()
	logger.SetLevel(DEBUG)
	logger.Debugf("now %d", 1)
	test.That(t, buf.String(), test.ShouldContainSubstring, "now 1")
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("jobs").Sublogger("worker")
	sub.Infow("started", "id", "abc")

	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "jobs.worker")
	test.That(t, entries[0].Message, test.ShouldEqual, "started")
	test.That(t, entries[0].ContextMap()["id"], test.ShouldEqual, "abc")
	test.That(t, observed.FilterMessage("started").Len(), test.ShouldEqual, 1)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		isErr    bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"Warning", WARN, false},
		{"error", ERROR, false},
		{"verbose", DEBUG, true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			level, err := LevelFromString(tc.input)
			if tc.isErr {
				test.That(t, err, test.ShouldNotBeNil)
				return
			}
			test.That(t, err, test.ShouldBeNil)
			test.That(t, level, test.ShouldEqual, tc.expected)
		})
	}

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
	out, err := json.Marshal(level)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"warn"`)
}
