package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/bakkerme/listing-notifier/internal/core"
	"github.com/bakkerme/listing-notifier/internal/dedupe"
	"github.com/bakkerme/listing-notifier/internal/filter"
)

// MaxPagesLimit caps max_pages per job.
const MaxPagesLimit = 20

// JobsDocument is the list of searches to watch. It accepts a YAML or JSON
// list of jobs, a single job object, or a mapping with a "jobs" key.
type JobsDocument struct {
	Jobs []Job `yaml:"jobs" json:"jobs"`
}

// Job is one search as written in the jobs document.
type Job struct {
	JobID          string   `yaml:"job_id,omitempty" json:"job_id,omitempty"`
	Title          string   `yaml:"title" json:"title"`
	TrackingURL    string   `yaml:"tracking_url" json:"tracking_url"`
	Email          string   `yaml:"email" json:"email"`
	MaxPages       int      `yaml:"max_pages,omitempty" json:"max_pages,omitempty"`
	BlacklistWords []string `yaml:"blacklist_words,omitempty" json:"blacklist_words,omitempty"`
	BlacklistTexts []string `yaml:"blacklist_texts,omitempty" json:"blacklist_texts,omitempty"`
	WhitelistWords []string `yaml:"whitelist_words,omitempty" json:"whitelist_words,omitempty"`
	WhitelistTexts []string `yaml:"whitelist_texts,omitempty" json:"whitelist_texts,omitempty"`
	Rule           string   `yaml:"rule,omitempty" json:"rule,omitempty"`
	Note           string   `yaml:"note,omitempty" json:"note,omitempty"`
}

// ID returns the configured job id, or one derived from the tracking URL so
// that state survives restarts without rewriting the document.
func (j Job) ID() string {
	if id := strings.TrimSpace(j.JobID); id != "" {
		return id
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.TrimSpace(j.TrackingURL)))
}

// LoadJobs reads the first existing path. It fails when none exists.
func LoadJobs(paths ...string) (*JobsDocument, string, error) {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, path, fmt.Errorf("read jobs document: %w", err)
		}
		doc, err := ParseJobs(data, filepath.Ext(path))
		if err != nil {
			return nil, path, fmt.Errorf("%s: %w", path, err)
		}
		return doc, path, nil
	}
	return nil, "", fmt.Errorf("no jobs document found (tried %s)", strings.Join(paths, ", "))
}

// ParseJobs decodes a jobs document. ext selects JSON for ".json" and YAML otherwise.
func ParseJobs(data []byte, ext string) (*JobsDocument, error) {
	if strings.EqualFold(ext, ".json") {
		return parseJobsJSON(data)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse jobs document: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("jobs document is empty")
	}
	node := root.Content[0]
	doc := &JobsDocument{}
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&doc.Jobs); err != nil {
			return nil, fmt.Errorf("decode jobs: %w", err)
		}
	case yaml.MappingNode:
		if hasKey(node, "jobs") {
			if err := node.Decode(doc); err != nil {
				return nil, fmt.Errorf("decode jobs: %w", err)
			}
			break
		}
		var job Job
		if err := node.Decode(&job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		doc.Jobs = []Job{job}
	default:
		return nil, fmt.Errorf("jobs document must be a list of jobs or a mapping")
	}
	return doc, nil
}

func parseJobsJSON(data []byte) (*JobsDocument, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("jobs document is empty")
	}
	doc := &JobsDocument{}
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(data, &doc.Jobs); err != nil {
			return nil, fmt.Errorf("parse jobs document: %w", err)
		}
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("parse jobs document: %w", err)
		}
		if _, ok := probe["jobs"]; ok {
			if err := json.Unmarshal(data, doc); err != nil {
				return nil, fmt.Errorf("parse jobs document: %w", err)
			}
			break
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("parse jobs document: %w", err)
		}
		doc.Jobs = []Job{job}
	default:
		return nil, fmt.Errorf("jobs document must be a JSON array or object")
	}
	return doc, nil
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// Validate performs validation on the jobs document
func (d *JobsDocument) Validate() error {
	if d == nil || len(d.Jobs) == 0 {
		return fmt.Errorf("at least one job is required")
	}
	seen := make(map[string]int, len(d.Jobs))
	for i, job := range d.Jobs {
		label := fmt.Sprintf("job %d", i)
		if job.Title != "" {
			label = fmt.Sprintf("job %d (%s)", i, job.Title)
		}
		if strings.TrimSpace(job.Title) == "" {
			return fmt.Errorf("%s: title is required", label)
		}
		if err := validateTrackingURL(job.TrackingURL); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if strings.TrimSpace(job.Email) == "" {
			return fmt.Errorf("%s: email is required", label)
		}
		for _, addr := range strings.Split(job.Email, ",") {
			if _, err := mail.ParseAddress(strings.TrimSpace(addr)); err != nil {
				return fmt.Errorf("%s: invalid email %q", label, addr)
			}
		}
		if job.MaxPages < 0 || job.MaxPages > MaxPagesLimit {
			return fmt.Errorf("%s: max_pages must be between 0 and %d", label, MaxPagesLimit)
		}
		id := job.ID()
		if err := dedupe.ValidateQueryID(id); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("%s: job_id %q already used by job %d", label, id, prev)
		}
		seen[id] = i
		if _, err := filter.New(job.filter()); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
	}
	return nil
}

// Queries converts the validated jobs into search queries in document order.
func (d *JobsDocument) Queries() []core.SearchQuery {
	out := make([]core.SearchQuery, 0, len(d.Jobs))
	for _, job := range d.Jobs {
		out = append(out, core.SearchQuery{
			ID:        job.ID(),
			Label:     strings.TrimSpace(job.Title),
			URL:       strings.TrimSpace(job.TrackingURL),
			Recipient: strings.TrimSpace(job.Email),
			MaxPages:  job.MaxPages,
			Filter:    job.filter(),
			Note:      job.Note,
		})
	}
	return out
}

func (j Job) filter() core.Filter {
	return core.Filter{
		BlacklistWords: j.BlacklistWords,
		BlacklistTexts: j.BlacklistTexts,
		WhitelistWords: j.WhitelistWords,
		WhitelistTexts: j.WhitelistTexts,
		Rule:           j.Rule,
	}
}

func validateTrackingURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("tracking_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid tracking_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("tracking_url must be an http(s) URL")
	}
	if u.Host == "" {
		return fmt.Errorf("tracking_url must include a host")
	}
	return nil
}
