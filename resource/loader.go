package resource

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Difficulty grades a quest and tags the collectibles that match it.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Kind categorizes a quest.
type Kind string

const (
	KindLocation  Kind = "location"
	KindQuiz      Kind = "quiz"
	KindTreasure  Kind = "treasure"
	KindChallenge Kind = "challenge"
)

// QuizQuestion is one question inside a quiz quest.
type QuizQuestion struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Points       int      `json:"points"` // 0 → counts as 1 toward the running score
}

// Quest is an immutable quest definition authored by the admin tooling.
type Quest struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	LocationLabel string         `json:"location_label"`
	Difficulty    Difficulty     `json:"difficulty"`
	RewardPoints  int            `json:"reward_points"`
	Kind          Kind           `json:"kind"`
	Lat           float64        `json:"lat"`
	Lng           float64        `json:"lng"`
	Questions     []QuizQuestion `json:"questions,omitempty"`
	Prerequisites []string       `json:"prerequisites,omitempty"`
	PassingScore  int            `json:"passing_score"` // percent; 0 → default applied at load
	AllowRetries  bool           `json:"allow_retries"`
}

// HasQuiz reports whether completing this quest involves the quiz sub-flow.
func (q *Quest) HasQuiz() bool {
	return len(q.Questions) > 0
}

// Collectible is a reference reward item. A copy is attached to the user's
// progress on award.
type Collectible struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IconURL     string `json:"icon_url"`
	Rarity      string `json:"rarity"`
	Difficulty  string `json:"difficulty"`
}

// DefaultPassingScore is applied to quest definitions that do not set one.
const DefaultPassingScore = 70

// Loader reads quest and collectible definitions from JSON files.
// Load may be called again at runtime (admin reload); readers must go through
// the accessor methods.
type Loader struct {
	questsPath       string
	collectiblesPath string
	passingDefault   int

	mu           sync.RWMutex
	quests       map[string]*Quest
	questOrder   []string
	collectibles []Collectible
}

// NewLoader creates a Loader for the given definition files. passingDefault
// is the quiz pass threshold applied to quests that do not set their own;
// zero or negative falls back to DefaultPassingScore.
func NewLoader(questsPath, collectiblesPath string, passingDefault int) *Loader {
	if passingDefault <= 0 {
		passingDefault = DefaultPassingScore
	}
	return &Loader{
		questsPath:       questsPath,
		collectiblesPath: collectiblesPath,
		passingDefault:   passingDefault,
		quests:           make(map[string]*Quest),
	}
}

// Load (re)reads both definition files. On error the previously loaded data
// is kept.
func (l *Loader) Load() error {
	quests, order, err := loadQuests(l.questsPath, l.passingDefault)
	if err != nil {
		return err
	}
	collectibles, err := loadCollectibles(l.collectiblesPath)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.quests = quests
	l.questOrder = order
	l.collectibles = collectibles
	l.mu.Unlock()
	return nil
}

func loadQuests(path string, passingDefault int) (map[string]*Quest, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("resource: read quests %q: %w", path, err)
	}
	var list []*Quest
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, nil, fmt.Errorf("resource: parse quests %q: %w", path, err)
	}

	quests := make(map[string]*Quest, len(list))
	order := make([]string, 0, len(list))
	for _, q := range list {
		if q.ID == "" {
			return nil, nil, fmt.Errorf("resource: quest with empty id in %q", path)
		}
		if _, dup := quests[q.ID]; dup {
			return nil, nil, fmt.Errorf("resource: duplicate quest id %q", q.ID)
		}
		if q.PassingScore <= 0 {
			q.PassingScore = passingDefault
		}
		q.Difficulty = Difficulty(strings.ToLower(string(q.Difficulty)))
		quests[q.ID] = q
		order = append(order, q.ID)
	}
	return quests, order, nil
}

func loadCollectibles(path string) ([]Collectible, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Collectibles are optional reference data.
			return nil, nil
		}
		return nil, fmt.Errorf("resource: read collectibles %q: %w", path, err)
	}
	var list []Collectible
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("resource: parse collectibles %q: %w", path, err)
	}
	return list, nil
}

// QuestByID returns the quest definition for id, or nil.
func (l *Loader) QuestByID(id string) *Quest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quests[id]
}

// Quests returns all quest definitions in file order.
func (l *Loader) Quests() []*Quest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Quest, 0, len(l.questOrder))
	for _, id := range l.questOrder {
		out = append(out, l.quests[id])
	}
	return out
}

// CollectiblesByDifficulty returns the collectibles whose difficulty tag
// matches (case-insensitive).
func (l *Loader) CollectiblesByDifficulty(d Difficulty) []Collectible {
	l.mu.RLock()
	defer l.mu.RUnlock()
	want := strings.ToLower(string(d))
	var out []Collectible
	for _, c := range l.collectibles {
		if strings.ToLower(c.Difficulty) == want {
			out = append(out, c)
		}
	}
	return out
}

// Collectibles returns all reference collectibles.
func (l *Loader) Collectibles() []Collectible {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Collectible, len(l.collectibles))
	copy(out, l.collectibles)
	return out
}
