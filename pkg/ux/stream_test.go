// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = `event: status
data: {"id":"e1","type":"status","created_at":1,"step":"resolving_query","message":"Resolving query..."}

: ping

event: data
data: {"id":"e2","type":"data","created_at":2,"tickers":["AAPL"],"market_data":{"tickers":["AAPL"]}}

event: token
data: {"id":"e3","type":"token","created_at":3,"content":"Apple "}

event: token
data: {"id":"e4","type":"token","created_at":4,"content":"looks steady."}

event: sources
data: {"id":"e5","type":"sources","created_at":5,"sources":[{"source":"Reuters","title":"Apple earnings","link":"https://example.com/a"}]}

event: done
data: {"id":"e6","type":"done","created_at":6,"session_id":"sess-1","answer":"Apple looks steady.","tickers":["AAPL"]}

`

func TestStreamProcessor_CollectsFullTurn(t *testing.T) {
	var out bytes.Buffer
	proc := NewStreamProcessorWithWriter(&out, PersonalityMachine)

	result, err := proc.Process(strings.NewReader(sampleStream))
	require.NoError(t, err)

	assert.Equal(t, "Apple looks steady.", result.Answer)
	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, []string{"AAPL"}, result.Tickers)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "Reuters", result.Sources[0].Source)
	assert.Equal(t, "Apple earnings", result.Sources[0].Title)

	// Keepalive comments and event: lines are not events.
	assert.Len(t, result.Events, 6)
}

func TestStreamProcessor_MachineModeOutput(t *testing.T) {
	var out bytes.Buffer
	proc := NewStreamProcessorWithWriter(&out, PersonalityMachine)

	_, err := proc.Process(strings.NewReader(sampleStream))
	require.NoError(t, err)

	body := out.String()
	assert.Contains(t, body, "STATUS: Resolving query...")
	assert.Contains(t, body, "DATA: tickers=AAPL")
	assert.Contains(t, body, "ANSWER: Apple looks steady.")
}

func TestStreamProcessor_ErrorEventFailsProcess(t *testing.T) {
	stream := `data: {"id":"e1","type":"error","created_at":1,"error":"An error occurred while processing your request"}` + "\n\n"

	var out bytes.Buffer
	proc := NewStreamProcessorWithWriter(&out, PersonalityMachine)

	_, err := proc.Process(strings.NewReader(stream))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "An error occurred")
}

func TestStreamProcessor_TruncatedStreamKeepsPartialAnswer(t *testing.T) {
	stream := `data: {"id":"e1","type":"token","created_at":1,"content":"partial "}` + "\n\n"

	var out bytes.Buffer
	proc := NewStreamProcessorWithWriter(&out, PersonalityMachine)

	result, err := proc.Process(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, "partial ", result.Answer)
	assert.Empty(t, result.SessionID)
}

func TestStreamProcessor_SkipsMalformedLines(t *testing.T) {
	stream := "data: not json\n\n" +
		`data: {"id":"e1","type":"done","created_at":1,"session_id":"s","answer":""}` + "\n\n"

	var out bytes.Buffer
	proc := NewStreamProcessorWithWriter(&out, PersonalityMachine)

	result, err := proc.Process(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, "s", result.SessionID)
	assert.Len(t, result.Events, 1)
}

func TestStreamEvent_ParseSources(t *testing.T) {
	event := StreamEvent{Sources: []byte(`[{"source":"sec","certainty":0.91}]`)}
	sources := event.ParseSources()
	require.Len(t, sources, 1)
	assert.Equal(t, "sec", sources[0].Source)
	assert.InDelta(t, 0.91, sources[0].Certainty, 1e-9)

	assert.Nil(t, StreamEvent{}.ParseSources())
	assert.Nil(t, StreamEvent{Sources: []byte(`{`)}.ParseSources())
}
