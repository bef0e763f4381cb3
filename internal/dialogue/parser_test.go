package dialogue

import (
	"errors"
	"strings"
	"testing"

	"github.com/loqalabs/learnpod/internal/failure"
)

func testRoster() Roster {
	return NewRoster(
		Speaker{Label: "Sakura", Aliases: SlotAliases("S1", 1)},
		Speaker{Label: "Taro", Aliases: SlotAliases("S2", 2)},
	)
}

func TestCheckValidScript(t *testing.T) {
	script := "Sakura: Welcome to the show.\nTaro: Thanks, glad to be here.\n\nSakura: Let's begin."
	res := Check(script, testRoster())
	if len(res.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(res.Turns))
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("expected no rejected lines, got %+v", res.Rejected)
	}
	if res.Blank != 1 {
		t.Fatalf("expected 1 blank line, got %d", res.Blank)
	}
	for i, turn := range res.Turns {
		if turn.Seq != i+1 {
			t.Fatalf("turn %d has seq %d", i, turn.Seq)
		}
	}
	if res.Turns[1].Speaker != "Taro" || res.Turns[1].Utterance != "Thanks, glad to be here." {
		t.Fatalf("unexpected turn %+v", res.Turns[1])
	}
}

func TestCheckCanonicalizesLabels(t *testing.T) {
	script := strings.Join([]string{
		"SAKURA: upper case label",
		"speaker 2: slot alias",
		"**S1:** bold alias",
		"- **Taro**: bullet and bold",
		"スピーカー2：全角コロン",
	}, "\n")
	res := Check(script, testRoster())
	want := []string{"Sakura", "Taro", "Sakura", "Taro", "Taro"}
	if len(res.Turns) != len(want) {
		t.Fatalf("expected %d turns, got %d (%+v)", len(want), len(res.Turns), res.Rejected)
	}
	for i, label := range want {
		if res.Turns[i].Speaker != label {
			t.Fatalf("turn %d: expected %s, got %s", i, label, res.Turns[i].Speaker)
		}
	}
	if res.Turns[2].Utterance != "bold alias" {
		t.Fatalf("emphasis not stripped: %q", res.Turns[2].Utterance)
	}
	if res.Turns[4].Utterance != "全角コロン" {
		t.Fatalf("unexpected utterance %q", res.Turns[4].Utterance)
	}
}

func TestCheckRejectsAndContinues(t *testing.T) {
	script := strings.Join([]string{
		"# Episode 1",
		"Sakura: First line",
		"that keeps going here.",
		"",
		"stray narration after a blank",
		"Narrator: not on the roster",
		"Taro: Second line",
		"---",
		"Taro:",
	}, "\n")
	res := Check(script, testRoster())
	if len(res.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %+v", res.Turns)
	}
	if res.Turns[0].Utterance != "First line that keeps going here." {
		t.Fatalf("continuation not joined: %q", res.Turns[0].Utterance)
	}
	reasons := map[string]int{}
	for _, r := range res.Rejected {
		reasons[r.Reason]++
	}
	if reasons[reasonNoSpeaker] != 3 {
		t.Fatalf("expected heading, narration and separator rejected, got %+v", res.Rejected)
	}
	if reasons[reasonUnknownSpeaker] != 1 {
		t.Fatalf("expected one unknown speaker, got %+v", res.Rejected)
	}
	if reasons[reasonEmptyUtterance] != 1 {
		t.Fatalf("expected one empty utterance, got %+v", res.Rejected)
	}
	if res.Rejected[0].Line != 1 {
		t.Fatalf("expected first rejection on line 1, got %d", res.Rejected[0].Line)
	}
}

func TestParseEmptyScript(t *testing.T) {
	_, res, err := Parse("just prose\nwith no speakers", testRoster())
	if !errors.Is(err, failure.ErrEmptyScript) {
		t.Fatalf("expected empty script error, got %v", err)
	}
	if len(res.Rejected) != 2 {
		t.Fatalf("expected both lines rejected, got %d", len(res.Rejected))
	}
}

func TestMissingSpeakers(t *testing.T) {
	res := Check("Sakura: solo\nSakura: still solo", testRoster())
	missing := res.Missing(testRoster())
	if len(missing) != 1 || missing[0] != "Taro" {
		t.Fatalf("expected Taro missing, got %v", missing)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	turns := []Turn{{Seq: 1, Speaker: "Sakura", Utterance: "a"}, {Seq: 2, Speaker: "Taro", Utterance: "b: c"}}
	out := Render(turns)
	if out != "Sakura: a\nTaro: b: c\n" {
		t.Fatalf("unexpected render %q", out)
	}
	back := Check(out, testRoster())
	if len(back.Turns) != 2 || back.Turns[1].Utterance != "b: c" {
		t.Fatalf("render did not round trip: %+v", back.Turns)
	}
}

func TestCheckAcceptsPunctuatedAndLongLabels(t *testing.T) {
	long := "Professor Hanako Yamamoto of the Kyoto Institute of Technology"
	roster := NewRoster(
		Speaker{Label: "Dr. Sakura", Aliases: SlotAliases("S1", 1)},
		Speaker{Label: "Taro, Jr.", Aliases: SlotAliases("S2", 2)},
		Speaker{Label: long, Aliases: SlotAliases("S3", 3)},
		Speaker{Label: "Yes!", Aliases: SlotAliases("S4", 4)},
	)
	script := strings.Join([]string{
		"Dr. Sakura: Welcome to the show.",
		"taro,   jr.: Thanks for having me.",
		long + ": Glad to join.",
		"**Yes!**: Indeed.",
		"Hanako: Not on the roster.",
	}, "\n")
	res := Check(script, roster)
	want := []string{"Dr. Sakura", "Taro, Jr.", long, "Yes!"}
	if len(res.Turns) != len(want) {
		t.Fatalf("expected %d turns, got %d (rejected %+v)", len(want), len(res.Turns), res.Rejected)
	}
	for i, label := range want {
		if res.Turns[i].Speaker != label {
			t.Fatalf("turn %d: expected %q, got %q", i, label, res.Turns[i].Speaker)
		}
	}
	if res.Turns[0].Utterance != "Welcome to the show." {
		t.Fatalf("unexpected utterance %q", res.Turns[0].Utterance)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Line != 5 {
		t.Fatalf("expected only the unknown speaker rejected, got %+v", res.Rejected)
	}
	if missing := res.Missing(roster); len(missing) != 0 {
		t.Fatalf("expected every speaker to speak, missing %v", missing)
	}
}

func TestRosterPrefersLongestLabel(t *testing.T) {
	roster := NewRoster(Speaker{Label: "Sakura"}, Speaker{Label: "Sakura Mori"})
	res := Check("Sakura Mori: hello\nSakura: hi", roster)
	if len(res.Turns) != 2 || res.Turns[0].Speaker != "Sakura Mori" || res.Turns[1].Speaker != "Sakura" {
		t.Fatalf("unexpected turns %+v", res.Turns)
	}
}
