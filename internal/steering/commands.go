package steering

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Steering command names accepted from users during the steering window.
const (
	CommandAddSource       = "add_source"
	CommandExcludeTopic    = "exclude_topic"
	CommandChangeDirection = "change_direction"
	CommandForceStop       = "force_stop"
	CommandContinue        = "continue"
)

// Command is a user instruction aimed at a running research session.
type Command struct {
	Command     string    `json:"command"`
	UserID      string    `json:"user_id"`
	Instruction string    `json:"instruction,omitempty"`
	Terms       []string  `json:"terms,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Terminal reports whether the command ends the steering wait.
func (c Command) Terminal() bool {
	return c.Command == CommandForceStop || c.Command == CommandContinue
}

// Validate checks the command name and its required payload fields.
func (c Command) Validate() error {
	switch c.Command {
	case CommandAddSource, CommandChangeDirection:
		if strings.TrimSpace(c.Instruction) == "" {
			return fmt.Errorf("%s requires an instruction", c.Command)
		}
	case CommandExcludeTopic:
		if len(c.Terms) == 0 {
			return fmt.Errorf("%s requires at least one term", c.Command)
		}
		for _, term := range c.Terms {
			if strings.TrimSpace(term) == "" {
				return fmt.Errorf("%s terms must be non-empty", c.Command)
			}
		}
	case CommandForceStop, CommandContinue:
		// No payload.
	default:
		return fmt.Errorf("unknown steering command %q", c.Command)
	}
	return nil
}

// Payload returns the command's JSON-serializable payload for persistence.
func (c Command) Payload() map[string]interface{} {
	p := map[string]interface{}{}
	if c.Instruction != "" {
		p["instruction"] = c.Instruction
	}
	if len(c.Terms) > 0 {
		p["terms"] = c.Terms
	}
	return p
}

// Encode serializes the command for queuing.
func (c Command) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode steering command: %w", err)
	}
	return string(raw), nil
}

// Decode parses a queued command back.
func Decode(raw string) (Command, error) {
	var c Command
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Command{}, fmt.Errorf("decode steering command: %w", err)
	}
	return c, nil
}

// Directives is the accumulated, order-preserving effect of the non-terminal
// commands applied during a steering wait. It travels into synthesis.
type Directives struct {
	AddedSources     []string `json:"added_sources,omitempty"`
	ExcludedTopics   []string `json:"excluded_topics,omitempty"`
	DirectionChanges []string `json:"direction_changes,omitempty"`
	ForceStopped     bool     `json:"force_stopped,omitempty"`
}

// Apply folds one command into the directives. Terminal commands other than
// force_stop have no payload effect.
func (d *Directives) Apply(c Command) {
	switch c.Command {
	case CommandAddSource:
		d.AddedSources = append(d.AddedSources, c.Instruction)
	case CommandExcludeTopic:
		d.ExcludedTopics = append(d.ExcludedTopics, c.Terms...)
	case CommandChangeDirection:
		d.DirectionChanges = append(d.DirectionChanges, c.Instruction)
	case CommandForceStop:
		d.ForceStopped = true
	}
}

// Empty reports whether no directive has been accumulated.
func (d *Directives) Empty() bool {
	return len(d.AddedSources) == 0 && len(d.ExcludedTopics) == 0 &&
		len(d.DirectionChanges) == 0 && !d.ForceStopped
}
