// Package filter applies a query's black/whitelists and rule expression to
// novel listings before they are notified.
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/text/cases"

	"github.com/bakkerme/listing-notifier/internal/core"
)

// wordSeparators splits titles and descriptions into words for the *_words lists.
const wordSeparators = "\n\r \t,.!?\"§$%&/(){}[]\\;:'-+*#<>|"

// Filter is a compiled core.Filter. It is safe for concurrent use.
type Filter struct {
	blacklistWords []string
	blacklistTexts []string
	whitelistWords []string
	whitelistTexts []string
	rule           string
	program        *vm.Program
}

// Verdict is the outcome of matching one listing.
type Verdict struct {
	Keep   bool
	Reason string
}

var pass = Verdict{Keep: true}

func New(cfg core.Filter) (*Filter, error) {
	f := &Filter{
		blacklistWords: foldAll(cfg.BlacklistWords),
		blacklistTexts: foldAll(cfg.BlacklistTexts),
		whitelistWords: foldAll(cfg.WhitelistWords),
		whitelistTexts: foldAll(cfg.WhitelistTexts),
		rule:           strings.TrimSpace(cfg.Rule),
	}
	if f.rule != "" {
		program, err := expr.Compile(f.rule, expr.Env(ruleEnv(core.Listing{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile filter rule: %w", err)
		}
		f.program = program
	}
	return f, nil
}

// Match decides whether l should be notified. A rule that fails at runtime
// keeps the listing and returns the error alongside.
func (f *Filter) Match(l core.Listing) (Verdict, error) {
	if f == nil {
		return pass, nil
	}
	title := fold(l.Title)
	description := fold(l.Description)

	for _, text := range f.blacklistTexts {
		if strings.Contains(title, text) || strings.Contains(description, text) {
			return Verdict{Reason: fmt.Sprintf("blacklisted text %q", text)}, nil
		}
	}
	words := wordSet(title, description)
	for _, word := range f.blacklistWords {
		if _, ok := words[word]; ok {
			return Verdict{Reason: fmt.Sprintf("blacklisted word %q", word)}, nil
		}
	}
	if len(f.whitelistTexts) > 0 && !anyContains(f.whitelistTexts, title, description) {
		return Verdict{Reason: "no whitelisted text"}, nil
	}
	if len(f.whitelistWords) > 0 && !anyWord(f.whitelistWords, words) {
		return Verdict{Reason: "no whitelisted word"}, nil
	}

	if f.program == nil {
		return pass, nil
	}
	result, err := expr.Run(f.program, ruleEnv(l))
	if err != nil {
		return pass, fmt.Errorf("evaluate filter rule %q: %w", f.rule, err)
	}
	if keep, _ := result.(bool); !keep {
		return Verdict{Reason: "rule " + f.rule}, nil
	}
	return pass, nil
}

func ruleEnv(l core.Listing) map[string]interface{} {
	price := 0.0
	var cents int
	if l.Price.HasAmount() {
		cents = int(l.Price.Amount)
		price = float64(l.Price.Amount) / 100
	}
	return map[string]interface{}{
		"id":          l.ID,
		"title":       l.Title,
		"description": l.Description,
		"location":    l.Location,
		"url":         l.URL,
		"price":       price,
		"price_cents": cents,
		"has_price":   l.Price.HasAmount(),
		"free":        l.Price != nil && l.Price.Free,
		"negotiable":  l.Price != nil && l.Price.Negotiable,
		"posted_at":   l.PostedAt,
	}
}

func fold(s string) string {
	return cases.Fold().String(s)
}

func foldAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, fold(v))
	}
	return out
}

func wordSet(texts ...string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, text := range texts {
		for _, w := range strings.FieldsFunc(text, func(r rune) bool {
			return strings.ContainsRune(wordSeparators, r)
		}) {
			words[w] = struct{}{}
		}
	}
	return words
}

func anyContains(needles []string, haystacks ...string) bool {
	for _, n := range needles {
		for _, h := range haystacks {
			if strings.Contains(h, n) {
				return true
			}
		}
	}
	return false
}

func anyWord(needles []string, words map[string]struct{}) bool {
	for _, n := range needles {
		if _, ok := words[n]; ok {
			return true
		}
	}
	return false
}
