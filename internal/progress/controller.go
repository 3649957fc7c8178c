package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HemantKumar01/SoulScript/internal/questions"
	"github.com/HemantKumar01/SoulScript/pkg/live"
)

// GetQuestionTool is the function the avatar model calls to advance the
// interview.
const GetQuestionTool = "get_question"

// Refiner personalizes the next catalog question. Optional; on error the raw
// catalog text is used.
type Refiner interface {
	Refine(ctx context.Context, q questions.Question, previousAnswer string) (string, error)
}

// ControllerConfig carries the dependencies for [NewController].
type ControllerConfig struct {
	// Store persists per-user progress. Required.
	Store Store

	// Refiner personalizes questions. Optional.
	Refiner Refiner

	// WatchInterval is the polling interval for [Controller.Watch].
	// Defaults to 2s.
	WatchInterval time.Duration
}

// Controller derives avatar session behavior from interview progress: which
// system instruction to use, which question comes next, and how far along
// the progress indicator sits.
type Controller struct {
	store         Store
	refiner       Refiner
	watchInterval time.Duration
}

// NewController creates a controller.
func NewController(cfg ControllerConfig) *Controller {
	interval := cfg.WatchInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Controller{
		store:         cfg.Store,
		refiner:       cfg.Refiner,
		watchInterval: interval,
	}
}

// QuestionIndex returns the index of the next question to ask. A fetch
// failure is treated as a fresh user: the interview starts from the top
// rather than failing the session.
func (c *Controller) QuestionIndex(ctx context.Context, userID string) int {
	progress, err := c.store.Get(ctx, userID)
	if err != nil {
		slog.Warn("progress: fetch failed, starting from first question", "user", userID, "error", err)
		return 0
	}
	return progress + 1
}

// Fraction returns interview completion in [0, 1] for the progress
// indicator.
func (c *Controller) Fraction(ctx context.Context, userID string) float64 {
	progress, err := c.store.Get(ctx, userID)
	if err != nil || progress < 0 {
		return 0
	}
	return min(float64(progress)/float64(questions.Total()), 1)
}

// Instructions returns the system instruction for a new avatar session.
// While interview questions remain the companion runs in interview mode and
// is told to drive the get_question loop; once the interview is complete it
// switches to an open conversation instruction. The two modes are mutually
// exclusive.
func (c *Controller) Instructions(ctx context.Context, userID, userName string) string {
	if c.QuestionIndex(ctx, userID) < questions.Total() {
		return fmt.Sprintf(`You are a helpful and supportive friend named Cassidy. You talk in a soft and lovely tone and love talking to people. Start by saying hi to %s and be casual. Then introduce yourself and ask if they are ready to start. You are also their mental health support agent, here to help %s with their mental health. Once the user is ready, after every response call the %s function to get the next question and ask it. If a previous question was already asked, provide %s's complete response to the current main question as the argument (summarize into one response if multiple small follow-ups were asked). If no question is returned, talk about anything interesting with your friend.`,
			userName, userName, GetQuestionTool, userName)
	}
	return fmt.Sprintf(`You are a helpful and supportive friend named Cassidy. You talk in a soft and lovely tone and love talking to people. Start by saying hi to %s and be casual. %s has already completed their intake interview, so do not ask assessment questions. Be a warm companion: talk about anything interesting, listen, and support them.`,
		userName, userName)
}

// ToolDefinitions returns the function declarations offered to the avatar
// model.
func (c *Controller) ToolDefinitions() []live.ToolDefinition {
	return []live.ToolDefinition{
		{
			Name:        GetQuestionTool,
			Description: "Gets next question to be asked to the user",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_current_answer": map[string]any{
						"type":        "string",
						"description": "User response to current question, summarize the response if multiple follow ups are asked for the same main question. must be string not json.",
					},
				},
			},
		},
	}
}

// getQuestionArgs is the wire shape of a get_question tool call.
type getQuestionArgs struct {
	UserCurrentAnswer string `json:"user_current_answer"`
}

// HandleToolCall answers get_question invocations from the avatar model:
// advance to the next question, personalize it when a refiner is available,
// and record the completed turn. Unknown tools return an error.
func (c *Controller) HandleToolCall(ctx context.Context, userID string) live.ToolCallHandler {
	return func(name, argsJSON string) (string, error) {
		if name != GetQuestionTool {
			return "", fmt.Errorf("progress: unknown tool %q", name)
		}

		var args getQuestionArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			slog.Warn("progress: bad tool args", "user", userID, "error", err)
		}

		question, err := c.NextQuestion(ctx, userID, args.UserCurrentAnswer)
		if err != nil {
			return "", err
		}

		resp, err := json.Marshal(map[string]string{"question": question})
		if err != nil {
			return "", fmt.Errorf("progress: marshal tool response: %w", err)
		}
		return string(resp), nil
	}
}

// NextQuestion advances the interview by one turn and returns the question
// to ask. Past the end of the catalog it returns the exhausted fallback
// without touching progress.
func (c *Controller) NextQuestion(ctx context.Context, userID, previousAnswer string) (string, error) {
	idx := c.QuestionIndex(ctx, userID)
	q, ok := questions.Get(idx)
	if !ok {
		return questions.Exhausted, nil
	}

	text := q.Text
	if c.refiner != nil {
		refined, err := c.refiner.Refine(ctx, q, previousAnswer)
		if err != nil {
			slog.Warn("progress: refine failed, using catalog question", "user", userID, "question", q.ID, "error", err)
		} else {
			text = refined
		}
	}

	if _, err := c.store.Track(ctx, userID); err != nil {
		return "", fmt.Errorf("progress: track: %w", err)
	}
	return text, nil
}

// Watch emits the user's progress on every change until ctx is cancelled.
// The current value is emitted immediately; afterwards the store is polled.
func (c *Controller) Watch(ctx context.Context, userID string) <-chan int {
	out := make(chan int, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(c.watchInterval)
		defer ticker.Stop()

		last, emitted := 0, false
		emit := func() {
			progress, err := c.store.Get(ctx, userID)
			if err != nil {
				slog.Warn("progress: watch poll failed", "user", userID, "error", err)
				return
			}
			if emitted && progress == last {
				return
			}
			last, emitted = progress, true
			select {
			case out <- progress:
			case <-ctx.Done():
			}
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit()
			}
		}
	}()

	return out
}

// memoryStore is an in-process Store for tests and for running without a
// database.
type memoryStore struct {
	mu   sync.Mutex
	vals map[string]int
}

// NewMemoryStore returns an in-process Store. Progress is lost on restart.
func NewMemoryStore() Store {
	return &memoryStore{vals: make(map[string]int)}
}

func (m *memoryStore) Get(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vals[userID]; ok {
		return v, nil
	}
	return Unseen, nil
}

func (m *memoryStore) Track(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[userID]
	if !ok {
		v = Unseen
	}
	v++
	m.vals[userID] = v
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, userID string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[userID] = progress
	return nil
}
