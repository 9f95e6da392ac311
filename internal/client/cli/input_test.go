package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/stretchr/testify/require"
)

func TestGetSimpleText(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("hello world\n"))
	var out bytes.Buffer
	got, err := GetSimpleText(in, "Name?", &out)
	if err != nil || got != "hello world" {
		t.Fatalf("got %q, err=%v", got, err)
	}
}

func TestGetSimpleTextEOF(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("lastline"))
	var out bytes.Buffer
	got, err := GetSimpleText(in, "Name?", &out)
	if err != nil || got != "lastline" {
		t.Fatalf("got %q, err=%v", got, err)
	}
}

func TestGetPassword_Error(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}
	var out bytes.Buffer
	_, err := GetPassword(&out)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGetPassword(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) { return []byte("s3cret"), nil }

	var out bytes.Buffer
	pw, err := GetPassword(&out)
	require.NoError(t, err)
	require.Equal(t, "s3cret", string(pw))
	require.Contains(t, out.String(), "Enter password: ")
}

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetFieldLines(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Unix newlines, stop on empty line",
			input:    "a=1\nb=2\n\n",
			expected: []string{"a=1", "b=2"},
		},
		{
			name:     "Windows CRLF, stop on empty line",
			input:    "a=1\r\nb=2\r\n\r\n",
			expected: []string{"a=1", "b=2"},
		},
		{
			name:     "Immediate blank line gives empty slice",
			input:    "\n",
			expected: []string{},
		},
		{
			name:     "EOF without trailing blank line",
			input:    "a=1\nb=2",
			expected: []string{"a=1", "b=2"},
		},
		{
			name:     "Spaces are preserved",
			input:    " name = value \n\n",
			expected: []string{" name = value "},
		},
		{
			name:     "Lines after the blank line are left unread",
			input:    "a=1\n\nnext command\n",
			expected: []string{"a=1"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := GetFieldLines(rdr(tc.input), &out)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestGetFields(t *testing.T) {
	var out bytes.Buffer
	got, err := GetFields(rdr("name=Acme\ncredit=100\nnote=null\n\n"), &out)
	require.NoError(t, err)
	require.Equal(t, "Acme", got["name"])
	require.EqualValues(t, 100, got["credit"])
	v, ok := got["note"]
	require.True(t, ok)
	require.Nil(t, v)
	require.Contains(t, out.String(), "name=value")
}

func TestGetFields_Malformed(t *testing.T) {
	var out bytes.Buffer
	_, err := GetFields(rdr("no separator\n\n"), &out)
	require.Error(t, err)
}

func TestWithFields(t *testing.T) {
	var got models.Fields
	require.NoError(t, withFields(nil, func(f models.Fields) error { got = f; return nil }))
	require.Nil(t, got)

	require.NoError(t, withFields([]string{"a=1"}, func(f models.Fields) error { got = f; return nil }))
	require.EqualValues(t, 1, got["a"])

	require.Error(t, withFields([]string{"=1"}, func(models.Fields) error { return nil }))
}
