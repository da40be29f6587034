package remediation

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

const timeoutMinutesKey = "timeout-minutes"

// RaiseJobTimeouts sets timeout-minutes to at least minutes on every job of a
// GitHub Actions workflow. It returns the rewritten document and the names
// of the jobs that changed. Expression-valued timeouts are left alone.
func RaiseJobTimeouts(content string, minutes int) (string, []string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return "", nil, fmt.Errorf("parsing workflow: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return "", nil, errors.New("workflow is not a mapping")
	}
	jobs := mappingValue(doc.Content[0], "jobs")
	if jobs == nil || jobs.Kind != yaml.MappingNode {
		return "", nil, errors.New("workflow has no jobs")
	}

	want := strconv.Itoa(minutes)
	var changed []string
	for i := 0; i+1 < len(jobs.Content); i += 2 {
		name, job := jobs.Content[i].Value, jobs.Content[i+1]
		if job.Kind != yaml.MappingNode {
			continue
		}
		cur := mappingValue(job, timeoutMinutesKey)
		if cur == nil {
			job.Content = append(job.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: timeoutMinutesKey},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: want},
			)
			changed = append(changed, name)
			continue
		}
		n, err := strconv.Atoi(cur.Value)
		if err != nil || n >= minutes {
			continue
		}
		cur.Value, cur.Tag, cur.Style = want, "!!int", 0
		changed = append(changed, name)
	}
	if len(changed) == 0 {
		return content, nil, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", nil, fmt.Errorf("writing workflow: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", nil, fmt.Errorf("writing workflow: %w", err)
	}
	return buf.String(), changed, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
