// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkReader returns one chunk per Read call, then err (io.EOF if nil).
type chunkReader struct {
	chunks []string
	err    error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func splitEvery(s string, size int) []string {
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func readAll(t *testing.T, r io.Reader) []Record {
	t.Helper()
	lr := NewLineReader(r)
	var out []Record
	for {
		rec, err := lr.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, rec)
	}
}

func fragments(recs []Record) string {
	var sb strings.Builder
	for _, r := range recs {
		sb.WriteString(r.Fragment)
	}
	return sb.String()
}

// =============================================================================
// LINE READER TESTS
// =============================================================================

const sampleStream = `{"model":"llama3.2:3b","message":{"role":"assistant","content":"Hola"},"done":false}
{"model":"llama3.2:3b","message":{"role":"assistant","content":" 👋 ¿qué"},"done":false}

not-json
{"model":"llama3.2:3b","message":{"role":"assistant","content":" tal? 日本"},"done":false}
{"model":"llama3.2:3b","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":4,"eval_duration":2000000000}
`

func TestLineReader_SplitAcrossChunks(t *testing.T) {
	input := "{\"message\":{\"content\":\"A\"}}\n{\"message\":{\"content\":\"B\"},\"done\":true}\n"
	r := &chunkReader{chunks: []string{input[:20], input[20:]}}

	recs := readAll(t, r)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(recs), recs)
	}
	if recs[0].Fragment != "A" || recs[0].Final {
		t.Errorf("first record = %+v, want fragment A, not final", recs[0])
	}
	if recs[1].Fragment != "B" || !recs[1].Final {
		t.Errorf("second record = %+v, want fragment B, final", recs[1])
	}
}

func TestLineReader_ChunkingIsInvisible(t *testing.T) {
	want := readAll(t, strings.NewReader(sampleStream))
	if got := fragments(want); got != "Hola 👋 ¿qué tal? 日本" {
		t.Fatalf("single-chunk fragments = %q", got)
	}

	for size := 1; size <= len(sampleStream); size++ {
		got := readAll(t, &chunkReader{chunks: splitEvery(sampleStream, size)})
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: %d records, want %d", size, len(got), len(want))
		}
		for i := range want {
			if got[i].Fragment != want[i].Fragment || got[i].Final != want[i].Final {
				t.Fatalf("chunk size %d: record %d = %+v, want %+v", size, i, got[i], want[i])
			}
		}
	}
}

func TestLineReader_SkipsMalformedLines(t *testing.T) {
	input := "{\"message\":{\"content\":\"one\"}}\nnot-json\n{\"message\":{\"content\":\"two\"}}\n"
	lr := NewLineReader(strings.NewReader(input))

	var got []string
	for {
		rec, err := lr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, rec.Fragment)
	}

	if strings.Join(got, ",") != "one,two" {
		t.Errorf("fragments = %v, want [one two]", got)
	}
	if lr.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", lr.Skipped())
	}
	if lr.Lines() != 3 {
		t.Errorf("Lines() = %d, want 3", lr.Lines())
	}
}

func TestLineReader_RecordFiltering(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Record
	}{
		{
			name:  "blank and whitespace lines",
			input: "\n   \n\t\n",
			want:  nil,
		},
		{
			name:  "no message field",
			input: "{\"model\":\"x\"}\n",
			want:  nil,
		},
		{
			name:  "empty fragment not final",
			input: "{\"message\":{\"content\":\"\"}}\n",
			want:  nil,
		},
		{
			name:  "final without fragment",
			input: "{\"done\":true}\n",
			want:  []Record{{Final: true}},
		},
		{
			name:  "fragment and final together",
			input: "{\"message\":{\"content\":\"end\"},\"done\":true}\n",
			want:  []Record{{Fragment: "end", Final: true}},
		},
		{
			name:  "mistyped field keeps the fragment",
			input: "{\"message\":{\"content\":\"kept\"},\"done\":1}\n",
			want:  []Record{{Fragment: "kept"}},
		},
		{
			name:  "non-object line",
			input: "[\"x\"]\n\"text\"\n",
			want:  nil,
		},
		{
			name:  "unterminated final line is discarded",
			input: "{\"message\":{\"content\":\"a\"}}\n{\"message\":{\"content\":\"b\"}}",
			want:  []Record{{Fragment: "a"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := readAll(t, strings.NewReader(tc.input))
			if len(got) != len(tc.want) {
				t.Fatalf("got %d records %+v, want %d", len(got), got, len(tc.want))
			}
			for i := range tc.want {
				if got[i].Fragment != tc.want[i].Fragment || got[i].Final != tc.want[i].Final {
					t.Errorf("record %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestLineReader_FinalStats(t *testing.T) {
	recs := readAll(t, strings.NewReader(sampleStream))
	last := recs[len(recs)-1]

	if !last.Final || last.Stats == nil {
		t.Fatalf("last record = %+v, want final with stats", last)
	}
	if last.Stats.OutputTokens != 4 {
		t.Errorf("OutputTokens = %d, want 4", last.Stats.OutputTokens)
	}
	if last.Stats.DoneReason != "stop" {
		t.Errorf("DoneReason = %q, want stop", last.Stats.DoneReason)
	}
	if tps := last.Stats.TokensPerSecond(); tps != 2 {
		t.Errorf("TokensPerSecond() = %v, want 2", tps)
	}
	for _, r := range recs[:len(recs)-1] {
		if r.Stats != nil {
			t.Errorf("non-final record carries stats: %+v", r)
		}
	}
}

func TestLineReader_ReadFailureAfterCompleteLines(t *testing.T) {
	boom := errors.New("connection reset by peer")
	r := &chunkReader{
		chunks: []string{"{\"message\":{\"content\":\"partial\"}}\n{\"message\":"},
		err:    boom,
	}
	lr := NewLineReader(r)

	rec, err := lr.Next()
	if err != nil || rec.Fragment != "partial" {
		t.Fatalf("Next() = %+v, %v; want fragment partial", rec, err)
	}

	_, err = lr.Next()
	if err == nil || err == io.EOF {
		t.Fatalf("Next() error = %v, want read failure", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap the read failure", err)
	}
	var clientErr *ClientError
	if !errors.As(err, &clientErr) || clientErr.Type != ErrTypeStreamRead {
		t.Errorf("error %v is not a stream read ClientError", err)
	}
}
