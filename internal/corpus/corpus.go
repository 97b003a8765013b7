// Package corpus provides the baseline prompt set the detector is fitted on
// when the operator supplies no corpus of their own.
//
// The set deliberately mixes ordinary prompts with benign prompts containing
// security keywords (novels about hackers, SQL injection questions for
// class) so the detector learns that suspicious vocabulary alone is normal.
// Only structurally unusual prompts should land outside the fitted region.
package corpus

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// defaultPrompts is the built-in fitting corpus.
var defaultPrompts = []string{
	"Hello, how are you?",
	"What is the capital of Spain?",
	"Write a Python function to sort a list.",
	"Tell me a story.",
	"Summarize the main points of this article.",
	"Explain how a car engine works.",
	"What's the weather forecast for tomorrow?",
	"Solve for y: 3y - 7 = 11",
	"List the primary colors.",
	"How do I make a good cup of coffee?",
	"I am writing a cybersecurity novel about hackers.",
	"I am researching firewalls and need to understand how they work.",
	"How to kill a process in Linux using the terminal?",
	"What is SQL injection and how can I prevent it in my code?",
	"For my history class, can you explain the concept of a 'trojan horse'?",
	"My character in a story needs to bypass a security system. What are some fictional methods?",
	"Explain different types of malware for a school presentation.",
}

// defaultRepeat densifies the baseline so the subsample per tree stays
// stable despite the small distinct-prompt count.
const defaultRepeat = 5

// Default returns the built-in baseline prompts, repeated for fit stability.
func Default() []string {
	out := make([]string, 0, len(defaultPrompts)*defaultRepeat)
	for i := 0; i < defaultRepeat; i++ {
		out = append(out, defaultPrompts...)
	}
	return out
}

// LoadFile reads an operator-supplied corpus: one prompt per line, blank
// lines and '#' comment lines skipped.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close()

	var prompts []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("corpus file %s contains no prompts", path)
	}
	return prompts, nil
}
