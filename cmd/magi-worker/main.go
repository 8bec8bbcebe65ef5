// ABOUTME: Mock MAGI worker for local development and E2E testing of the bridge.
// ABOUTME: Reads a request from stdin, emits the full sage/arbiter event sequence as NDJSON.

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/magi-system/magi-bridge/internal/protocol"
)

var sages = []string{"caspar", "balthasar", "melchior"}

func main() {
	delay := flag.Duration("delay", 20*time.Millisecond, "pause between emitted events")
	decision := flag.String("decision", "APPROVED", "final decision to report")
	flag.Parse()

	if err := run(*delay, protocol.Decision(*decision)); err != nil {
		log.Fatal(err)
	}
}

func run(delay time.Duration, decision protocol.Decision) error {
	var req protocol.WorkerRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return fmt.Errorf("reading request from stdin: %w", err)
	}
	fmt.Fprintf(os.Stderr, "mock worker: session=%s question=%q\n", req.SessionID, req.Question)

	// Line-buffered writer; every event is flushed as soon as its line is
	// complete so the bridge sees progress in real time.
	out := bufio.NewWriter(os.Stdout)

	emit := func(t protocol.EventType, agentID string, data any) error {
		if err := writeLine(out, protocol.NewEvent(t, agentID, data)); err != nil {
			return err
		}
		time.Sleep(delay)
		return nil
	}

	for _, sage := range sages {
		if err := emit(protocol.EventAgentStart, sage, nil); err != nil {
			return err
		}
		if err := emit(protocol.EventAgentThinking, sage, map[string]string{
			"text": "weighing the question",
		}); err != nil {
			return err
		}
		if err := emit(protocol.EventAgentChunk, sage, map[string]string{
			"text": "I lean toward " + string(decision) + ".",
		}); err != nil {
			return err
		}
		if err := emit(protocol.EventAgentComplete, sage, protocol.ParticipantResult{
			AgentID:   sage,
			Decision:  decision,
			Reasoning: "mock reasoning for " + req.Question,
		}); err != nil {
			return err
		}
	}

	if err := emit(protocol.EventJudgeStart, "solomon", nil); err != nil {
		return err
	}
	if err := emit(protocol.EventJudgeThinking, "solomon", map[string]string{
		"text": "tallying the votes",
	}); err != nil {
		return err
	}

	aggregate := protocol.AggregateDecision{
		FinalDecision: decision,
		VotingTally:   tally(decision),
		Scores:        scores(decision),
		Summary:       "all sages agree",
		Confidence:    0.92,
	}
	return emit(protocol.EventJudgeComplete, "solomon", aggregate)
}

func writeLine(out *bufio.Writer, ev *protocol.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := out.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return out.Flush()
}

func tally(decision protocol.Decision) protocol.VotingTally {
	t := protocol.VotingTally{}
	for range sages {
		if decision == protocol.DecisionApproved {
			t.Approved++
		} else {
			t.Rejected++
		}
	}
	return t
}

func scores(decision protocol.Decision) []protocol.AgentScore {
	out := make([]protocol.AgentScore, 0, len(sages))
	for _, sage := range sages {
		out = append(out, protocol.AgentScore{
			AgentID:   sage,
			Score:     90,
			Reasoning: "consistent with the " + string(decision) + " consensus",
		})
	}
	return out
}
