// Package dayplan ranks open tasks into a daily agenda and flags
// calendar conflicts. It is a pure annotation layer: nothing here
// mutates a task or an event.
package dayplan

import (
	"sort"
	"time"
)

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Priority      Priority   `json:"priority"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Done          bool       `json:"done"`
	ActionableNow bool       `json:"actionable_now"`
}

type Event struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

// ScoredTask is a task annotated with its computed rank.
type ScoredTask struct {
	Task  Task `json:"task"`
	Score int  `json:"score"`
}

type FocusBlock struct {
	TaskID  string    `json:"task_id"`
	Title   string    `json:"title"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

type ConflictKind string

const (
	ConflictOverlap ConflictKind = "overlap"
	ConflictOverdue ConflictKind = "overdue"
)

type Conflict struct {
	Kind    ConflictKind `json:"kind"`
	EventA  string       `json:"event_a,omitempty"`
	EventB  string       `json:"event_b,omitempty"`
	TaskID  string       `json:"task_id,omitempty"`
	Message string       `json:"message"`
}

type Result struct {
	TopNow      []ScoredTask `json:"top_now"`
	Next        []ScoredTask `json:"next"`
	Later       []ScoredTask `json:"later"`
	FocusBlocks []FocusBlock `json:"focus_blocks"`
	Conflicts   []Conflict   `json:"conflicts"`
}

const (
	topNowThreshold = 80
	nextThreshold   = 50

	topNowCap = 3
	nextCap   = 5
	laterCap  = 10

	focusBlockLength = 90 * time.Minute
	focusSlotBuffer  = 2 * time.Hour
)

// focusSlotHours are the candidate start hours for focus blocks.
var focusSlotHours = []int{9, 14, 16}

// Plan buckets open tasks by score, proposes focus blocks for the target
// day and reports calendar conflicts. Output ordering is deterministic
// for a given input.
func Plan(tasks []Task, events []Event, target time.Time, now time.Time) Result {
	scored := make([]ScoredTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Done {
			continue
		}
		scored = append(scored, ScoredTask{Task: t, Score: Score(t, now)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Task.ID < scored[j].Task.ID
	})

	res := Result{
		TopNow:      make([]ScoredTask, 0, topNowCap),
		Next:        make([]ScoredTask, 0, nextCap),
		Later:       make([]ScoredTask, 0, laterCap),
		FocusBlocks: []FocusBlock{},
		Conflicts:   []Conflict{},
	}
	for _, st := range scored {
		switch {
		case st.Score >= topNowThreshold:
			if len(res.TopNow) < topNowCap {
				res.TopNow = append(res.TopNow, st)
			}
		case st.Score >= nextThreshold:
			if len(res.Next) < nextCap {
				res.Next = append(res.Next, st)
			}
		default:
			if len(res.Later) < laterCap {
				res.Later = append(res.Later, st)
			}
		}
	}

	if sameDay(target, now) {
		res.FocusBlocks = focusBlocks(res.TopNow, events, target)
	}
	res.Conflicts = conflicts(tasks, events, now)
	return res
}

// Score rates a task 0-100. Priority and due-date urgency add up;
// a task that can be acted on today gets a further bonus.
func Score(t Task, now time.Time) int {
	score := 0
	switch t.Priority {
	case PriorityUrgent:
		score += 50
	case PriorityHigh:
		score += 30
	case PriorityMedium:
		score += 15
	case PriorityLow:
		score += 5
	}

	if t.DueDate != nil {
		untilDue := t.DueDate.Sub(now)
		switch {
		case untilDue < 0:
			score += 40
		case untilDue <= 2*time.Hour:
			score += 35
		case untilDue <= 6*time.Hour:
			score += 25
		case untilDue <= 24*time.Hour:
			score += 10
		}
	}

	if t.ActionableNow {
		score += 20
	}

	if score > 100 {
		score = 100
	}
	return score
}

// focusBlocks assigns top-ranked tasks to fixed daytime slots. A slot is
// skipped when an event starts within two hours of it; each task is used
// at most once.
func focusBlocks(topNow []ScoredTask, events []Event, target time.Time) []FocusBlock {
	blocks := make([]FocusBlock, 0, len(focusSlotHours))
	next := 0
	for _, hour := range focusSlotHours {
		if next >= len(topNow) {
			break
		}
		slot := time.Date(target.Year(), target.Month(), target.Day(),
			hour, 0, 0, 0, target.Location())
		if eventNear(events, slot) {
			continue
		}
		task := topNow[next].Task
		next++
		blocks = append(blocks, FocusBlock{
			TaskID:  task.ID,
			Title:   task.Title,
			StartAt: slot,
			EndAt:   slot.Add(focusBlockLength),
		})
	}
	return blocks
}

func eventNear(events []Event, slot time.Time) bool {
	for _, ev := range events {
		gap := ev.StartAt.Sub(slot)
		if gap < 0 {
			gap = -gap
		}
		if gap < focusSlotBuffer {
			return true
		}
	}
	return false
}

// conflicts runs the pairwise overlap test over event intervals and
// flags overdue open tasks. Quadratic on purpose; a day's calendar is
// small.
func conflicts(tasks []Task, events []Event, now time.Time) []Conflict {
	out := []Conflict{}
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			a, b := events[i], events[j]
			if a.StartAt.Before(b.EndAt) && b.StartAt.Before(a.EndAt) {
				out = append(out, Conflict{
					Kind:    ConflictOverlap,
					EventA:  a.ID,
					EventB:  b.ID,
					Message: a.Title + " overlaps " + b.Title,
				})
			}
		}
	}
	for _, t := range tasks {
		if t.Done || t.DueDate == nil {
			continue
		}
		if t.DueDate.Before(now) {
			out = append(out, Conflict{
				Kind:    ConflictOverdue,
				TaskID:  t.ID,
				Message: t.Title + " is overdue",
			})
		}
	}
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
