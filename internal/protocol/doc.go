// Package protocol defines the line-delimited JSON event protocol spoken by
// the worker process and its translation into SSE wire frames.
//
// # Worker to bridge
//
// The worker writes one JSON object per line on stdout:
//
//	{"type":"agent_start","agentId":"caspar","data":{...}}
//	{"type":"agent_chunk","agentId":"caspar","data":{"text":"..."}}
//	{"type":"agent_complete","agentId":"caspar","data":{...}}
//
// Event types form a closed set: lifecycle (start, complete, error),
// per-participant (agent_start, agent_thinking, agent_chunk, agent_complete,
// agent_error) and arbiter (judge_start, judge_thinking, judge_chunk,
// judge_complete). Within one agent id the order is monotonic: a single
// *_start, any number of *_thinking/*_chunk, then exactly one terminal
// *_complete or *_error. Events across different agent ids interleave freely.
//
// Any line that does not decode is diagnostic output, logged and dropped;
// the stream continues.
//
// # Bridge to caller
//
// Each event becomes one SSE frame:
//
//	data: {"type":"agent_chunk","agentId":"caspar",...}\n\n
//
// No id: or retry: fields are used.
package protocol
