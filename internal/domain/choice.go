package domain

import (
	"strconv"
	"strings"
)

// ChoiceID is the canonical identifier of a question choice. It is resolved
// once at snapshot ingestion, so answer validation is a plain equality check.
type ChoiceID string

// NormalizeChoiceID trims whitespace, case-folds, and strips a single "." so
// ids authored as "B." or " b " compare equal to "b".
func NormalizeChoiceID(raw string) ChoiceID {
	s := strings.TrimSpace(raw)
	s = strings.Replace(s, ".", "", 1)
	return ChoiceID(strings.ToLower(s))
}

// Matches reports whether a submitted raw id identifies this canonical id.
func (id ChoiceID) Matches(raw string) bool {
	return id != "" && NormalizeChoiceID(raw) == id
}

// ResolveCorrectChoice maps the authored correct-answer field onto one of the
// question's choices. It first tries normalized id equality, then falls back
// to reading the field as a 1-based ordinal into the choice list. The fallback
// tolerates banks whose correct field was authored as a position rather than
// a matching id.
func ResolveCorrectChoice(choices []Choice, authored string) (ChoiceID, error) {
	want := NormalizeChoiceID(authored)
	if want == "" {
		return "", ErrChoiceNotFound
	}
	for _, c := range choices {
		if NormalizeChoiceID(c.ID) == want {
			return want, nil
		}
	}
	if ord, err := strconv.Atoi(string(want)); err == nil && ord >= 1 && ord <= len(choices) {
		return NormalizeChoiceID(choices[ord-1].ID), nil
	}
	return "", ErrChoiceNotFound
}

// SnapshotQuestions copies authored bank questions into immutable snapshots,
// resolving each correct-answer field to a canonical ChoiceID. Questions whose
// correct field cannot be resolved are dropped rather than carried broken.
func SnapshotQuestions(bank QuestionBank) []QuestionSnapshot {
	snapshots := make([]QuestionSnapshot, 0, len(bank.Questions))
	for _, q := range bank.Questions {
		if len(q.Choices) == 0 {
			continue
		}
		correct, err := ResolveCorrectChoice(q.Choices, q.Correct)
		if err != nil {
			continue
		}
		choices := make([]Choice, len(q.Choices))
		copy(choices, q.Choices)
		snapshots = append(snapshots, QuestionSnapshot{
			Text:        q.Text,
			ImageRef:    q.ImageRef,
			Choices:     choices,
			Correct:     correct,
			Explanation: q.Explanation,
		})
	}
	return snapshots
}
