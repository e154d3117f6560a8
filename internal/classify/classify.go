// Package classify picks out political campaign texts: messages that read
// like an opt-out footer and mention a campaign buzz word.
package classify

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"spamstop/internal/embedding"
	"spamstop/internal/logging"
	"spamstop/internal/messages"
)

// Defaults used when a Classifier field is left zero.
const (
	DefaultTargetPhrase = "Text STOP to quit"
	DefaultThreshold    = 0.6
	DefaultConcurrency  = 4
)

// DefaultBuzzWords are matched case-insensitively as substrings.
var DefaultBuzzWords = []string{"Democrats", "congressman", "campaign"}

// Verdict is the classification of one message.
type Verdict struct {
	Message    messages.Message
	Similarity float64
	BuzzWord   string // first buzz word found, "" if none
	Match      bool
}

// Classifier scores messages against a target phrase.
type Classifier struct {
	Engine       embedding.EmbeddingEngine
	TargetPhrase string
	BuzzWords    []string
	Threshold    float64
	Concurrency  int
}

// New returns a classifier with the default phrase, buzz words, threshold
// and concurrency.
func New(engine embedding.EmbeddingEngine) *Classifier {
	return &Classifier{
		Engine:       engine,
		TargetPhrase: DefaultTargetPhrase,
		BuzzWords:    DefaultBuzzWords,
		Threshold:    DefaultThreshold,
		Concurrency:  DefaultConcurrency,
	}
}

// Match embeds the target phrase once and every usable message
// concurrently. The returned verdicts keep the input order; messages with
// no text or no sender handle are left out.
func (c *Classifier) Match(ctx context.Context, msgs []messages.Message) ([]Verdict, error) {
	timer := logging.StartTimer(logging.CategoryClassify, "Match")
	defer timer.Stop()

	if c.Engine == nil {
		return nil, fmt.Errorf("classifier has no embedding engine")
	}

	target := c.TargetPhrase
	if target == "" {
		target = DefaultTargetPhrase
	}
	targetVec, err := c.Engine.Embed(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("embed target phrase: %w", err)
	}

	usable := make([]messages.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" || m.Handle == "" {
			continue
		}
		usable = append(usable, m)
	}
	logging.ClassifyDebug("classifying %d of %d messages with %s", len(usable), len(msgs), c.Engine.Name())

	verdicts := make([]Verdict, len(usable))
	limit := c.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, m := range usable {
		g.Go(func() error {
			vec, err := c.Engine.Embed(gctx, m.Text)
			if err != nil {
				return fmt.Errorf("embed message %d: %w", m.RowID, err)
			}
			sim, err := embedding.CosineSimilarity(vec, targetVec)
			if err != nil {
				return fmt.Errorf("message %d: %w", m.RowID, err)
			}
			verdicts[i] = c.verdict(m, sim)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matched := 0
	for _, v := range verdicts {
		if v.Match {
			matched++
		}
	}
	logging.Classify("classified %d messages, %d political", len(verdicts), matched)
	return verdicts, nil
}

func (c *Classifier) verdict(m messages.Message, sim float64) Verdict {
	v := Verdict{Message: m, Similarity: sim, BuzzWord: c.buzzWord(m.Text)}
	v.Match = sim >= c.Threshold && v.BuzzWord != ""
	logging.ClassifyDebug("row %d: similarity=%.3f buzz=%q match=%v", m.RowID, sim, v.BuzzWord, v.Match)
	return v
}

func (c *Classifier) buzzWord(text string) string {
	words := c.BuzzWords
	if words == nil {
		words = DefaultBuzzWords
	}
	lower := strings.ToLower(text)
	for _, w := range words {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return w
		}
	}
	return ""
}

// Matches filters verdicts down to the matching ones.
func Matches(verdicts []Verdict) []Verdict {
	var out []Verdict
	for _, v := range verdicts {
		if v.Match {
			out = append(out, v)
		}
	}
	return out
}
